package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/webhook"
)

type createOrderRequest struct {
	TemplateID    string            `json:"template_id"`
	CustomerEmail string            `json:"customer_email"`
	FormData      map[string]string `json:"form_data"`
}

type createOrderResponse struct {
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.checkout.Create(r.Context(), req.TemplateID, req.CustomerEmail, req.FormData)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTemplateNotFound):
			writeError(w, http.StatusNotFound, "template not found")
		case errors.Is(err, domain.ErrTemplateRequired),
			errors.Is(err, domain.ErrEmailRequired),
			errors.Is(err, domain.ErrCurrencyRequired),
			errors.Is(err, domain.ErrAmountNegative):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.WithError(err).Error("create order failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     result.Order.ID,
		CheckoutURL: result.CheckoutURL,
		AmountMinor: result.Order.AmountMinor,
		Currency:    result.Order.Currency,
	})
}

// orderView — клиентское представление заказа; ключи артефактов наружу
// не отдаются, только факт готовности.
type orderView struct {
	OrderID        string `json:"order_id"`
	TemplateID     string `json:"template_id"`
	Status         string `json:"status"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ArtifactsReady bool   `json:"artifacts_ready"`
	DownloadExpiry string `json:"download_expiry,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetByIDAndEmail(r.PathValue("id"), r.URL.Query().Get("email"))
	if err != nil {
		if domain.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.WithError(err).Error("get order failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	view := orderView{
		OrderID:        order.ID,
		TemplateID:     order.TemplateID,
		Status:         string(order.Status),
		AmountMinor:    order.AmountMinor,
		Currency:       order.Currency,
		ArtifactsReady: order.ArtifactsComplete(),
		CreatedAt:      order.CreatedAt.Format(time.RFC3339),
	}
	if !order.DownloadExpiry.IsZero() {
		view.DownloadExpiry = order.DownloadExpiry.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, view)
}

type downloadResponse struct {
	PDFURL    string `json:"pdf_url"`
	DOCXURL   string `json:"docx_url"`
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	result, err := s.downloads.Get(r.PathValue("id"), r.URL.Query().Get("email"))
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrOrderNotPaid), errors.Is(err, domain.ErrOrderRefunded):
			writeError(w, http.StatusForbidden, "order is not paid")
		case errors.Is(err, domain.ErrDownloadExpired):
			writeError(w, http.StatusGone, "download window expired")
		case errors.Is(err, domain.ErrArtifactsNotReady):
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusServiceUnavailable, "documents are not ready yet")
		default:
			s.logger.WithError(err).Error("download failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	response := downloadResponse{ExpiresAt: result.ExpiresAt.Format(time.RFC3339)}
	for _, artifactURL := range result.URLs {
		switch artifactURL.Role {
		case domain.ArtifactRolePDF:
			response.PDFURL = artifactURL.URL
		case domain.ArtifactRoleDOCX:
			response.DOCXURL = artifactURL.URL
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body too large or unreadable")
		return
	}

	outcome, err := s.processor.Process(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		// Событие не зафиксировано: пусть провайдер доставит его повторно.
		s.logger.WithError(err).Error("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

type refundRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

type refundResponse struct {
	RefundID    string `json:"refund_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.refunds.Refund(r.Context(), r.PathValue("id"), req.Reason, req.ActorID)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrOrderNotPaid):
			writeError(w, http.StatusConflict, "order is not paid")
		case errors.Is(err, domain.ErrRefundGatewayFailure):
			writeError(w, http.StatusBadGateway, "payment gateway refund failed")
		default:
			s.logger.WithError(err).Error("refund failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, refundResponse{
		RefundID:    result.RefundID,
		AmountMinor: result.AmountMinor,
		Currency:    result.Currency,
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.PathValue("id"))
	if err != nil {
		if domain.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.WithError(err).Error("regenerate lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if order.Status != domain.OrderStatusPaid {
		writeError(w, http.StatusConflict, "order is not paid")
		return
	}

	if err := s.dispatcher.Enqueue(order.ID); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("regenerate enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "fulfillment queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// handleServeFile отдаёт объект из blob-хранилища по подписанной ссылке.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	query := r.URL.Query()

	if err := s.blobs.VerifySignedPath(key, query.Get("exp"), query.Get("sig"), time.Now().UTC()); err != nil {
		switch {
		case errors.Is(err, domain.ErrDownloadExpired):
			writeError(w, http.StatusGone, "link expired")
		default:
			writeError(w, http.StatusForbidden, "invalid signature")
		}
		return
	}

	data, err := s.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		s.logger.WithError(err).Error("serve file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", contentTypeForKey(key))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, "/pdf"):
		return "application/pdf"
	case strings.HasSuffix(key, "/docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

var _ webhook.FulfillmentDispatcher = (FulfillmentDispatcherFunc)(nil)

// FulfillmentDispatcherFunc адаптирует функцию к интерфейсу диспетчера.
type FulfillmentDispatcherFunc func(orderID string) error

func (f FulfillmentDispatcherFunc) Enqueue(orderID string) error { return f(orderID) }
