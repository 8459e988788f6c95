package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

type webhookEventRepository struct {
	db *sql.DB
}

// NewWebhookEventRepository создаёт PostgreSQL-реализацию WebhookEventRepository.
func NewWebhookEventRepository(store *Store) domain.WebhookEventRepository {
	return &webhookEventRepository{db: store.DB()}
}

func (r *webhookEventRepository) CreateProcessing(eventID, provider, eventType, payloadHash string, ttlAt time.Time) (domain.WebhookEventRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.WebhookEventRecord{}, domain.ErrWebhookEventRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(72 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (
			event_id, provider, event_type, payload_hash, order_id, status, ttl_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,'',$5,$6,$7,$8)
	`,
		eventID,
		provider,
		eventType,
		payloadHash,
		string(domain.WebhookEventStatusProcessing),
		ttlAt,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Повторная доставка: возвращаем уже сохранённую запись.
			existing, getErr := r.Get(eventID)
			if getErr != nil {
				return domain.WebhookEventRecord{}, fmt.Errorf("load duplicate webhook event: %w", getErr)
			}
			return existing, domain.ErrDuplicateWebhookEvent
		}
		return domain.WebhookEventRecord{}, fmt.Errorf("create webhook event record: %w", err)
	}

	return domain.WebhookEventRecord{
		EventID:     eventID,
		Provider:    provider,
		Type:        eventType,
		PayloadHash: payloadHash,
		Status:      domain.WebhookEventStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *webhookEventRepository) Get(eventID string) (domain.WebhookEventRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.WebhookEventRecord{}, domain.ErrWebhookEventRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		record    domain.WebhookEventRecord
		statusRaw string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, provider, event_type, payload_hash, order_id, status, ttl_at, created_at, updated_at
		FROM webhook_events
		WHERE event_id = $1
	`, eventID).Scan(
		&record.EventID,
		&record.Provider,
		&record.Type,
		&record.PayloadHash,
		&record.OrderID,
		&statusRaw,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEventRecord{}, domain.ErrWebhookEventNotFound
		}
		return domain.WebhookEventRecord{}, fmt.Errorf("get webhook event record: %w", err)
	}

	record.Status = domain.WebhookEventStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.WebhookEventRecord{}, fmt.Errorf("invalid webhook event status %q for event %s", statusRaw, eventID)
	}

	return record, nil
}

func (r *webhookEventRepository) MarkDone(eventID, orderID string) error {
	return r.markStatus(eventID, orderID, domain.WebhookEventStatusDone)
}

func (r *webhookEventRepository) MarkFailed(eventID, orderID string) error {
	return r.markStatus(eventID, orderID, domain.WebhookEventStatusFailed)
}

func (r *webhookEventRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM webhook_events
			WHERE event_id IN (
				SELECT event_id
				FROM webhook_events
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM webhook_events
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired webhook events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("webhook events rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *webhookEventRepository) markStatus(eventID, orderID string, status domain.WebhookEventStatus) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.ErrWebhookEventRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1,
		    order_id = CASE WHEN $2 <> '' THEN $2 ELSE order_id END,
		    updated_at = $3
		WHERE event_id = $4
	`,
		string(status),
		orderID,
		time.Now().UTC(),
		eventID,
	)
	if err != nil {
		return fmt.Errorf("mark webhook event status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("webhook events rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWebhookEventNotFound
	}

	return nil
}

var _ domain.WebhookEventRepository = (*webhookEventRepository)(nil)
