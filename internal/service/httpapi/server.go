package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/checkout"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/download"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/refund"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/webhook"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/blob"
)

// maxWebhookBodySize ограничивает размер тела webhook-запроса.
const maxWebhookBodySize = 1 << 20 // 1 MiB

// signatureHeader несёт подпись провайдера для webhook.
const signatureHeader = "X-Webhook-Signature"

// Server — HTTP-поверхность конвейера: клиентские заказы и скачивания,
// приём webhook, админские операции и выдача файлов из blob-хранилища.
type Server struct {
	checkout   *checkout.Service
	downloads  *download.Service
	processor  *webhook.Processor
	refunds    *refund.Coordinator
	dispatcher webhook.FulfillmentDispatcher
	orders     domain.OrderRepository
	blobs      *blob.Store
	adminToken string
	logger     *log.Entry
}

// NewServer создаёт HTTP API поверх сервисов конвейера.
func NewServer(
	checkoutSvc *checkout.Service,
	downloadSvc *download.Service,
	processor *webhook.Processor,
	refunds *refund.Coordinator,
	dispatcher webhook.FulfillmentDispatcher,
	orders domain.OrderRepository,
	blobs *blob.Store,
	adminToken string,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	return &Server{
		checkout:   checkoutSvc,
		downloads:  downloadSvc,
		processor:  processor,
		refunds:    refunds,
		dispatcher: dispatcher,
		orders:     orders,
		blobs:      blobs,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Routes собирает маршрутизатор API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /api/orders/{id}/download", s.handleDownload)
	mux.HandleFunc("POST /webhooks/payment", s.handleWebhook)
	mux.HandleFunc("POST /admin/orders/{id}/refund", s.requireAdmin(s.handleRefund))
	mux.HandleFunc("POST /admin/orders/{id}/regenerate", s.requireAdmin(s.handleRegenerate))
	if s.blobs != nil {
		mux.HandleFunc("GET /files/{key...}", s.handleServeFile)
	}

	return mux
}

// requireAdmin проверяет bearer-токен админских операций.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if s.adminToken == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
