package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

type webhookEventRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.WebhookEventRecord
}

// NewWebhookEventRepository создаёт in-memory реализацию WebhookEventRepository.
func NewWebhookEventRepository() domain.WebhookEventRepository {
	return &webhookEventRepositoryInMemory{
		items: make(map[string]domain.WebhookEventRecord),
	}
}

func (r *webhookEventRepositoryInMemory) CreateProcessing(eventID, provider, eventType, payloadHash string, ttlAt time.Time) (domain.WebhookEventRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.WebhookEventRecord{}, domain.ErrWebhookEventRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(72 * time.Hour)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[eventID]; ok {
		return existing, domain.ErrDuplicateWebhookEvent
	}

	record := domain.WebhookEventRecord{
		EventID:     eventID,
		Provider:    provider,
		Type:        eventType,
		PayloadHash: payloadHash,
		Status:      domain.WebhookEventStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.items[eventID] = record
	return record, nil
}

func (r *webhookEventRepositoryInMemory) Get(eventID string) (domain.WebhookEventRecord, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.WebhookEventRecord{}, domain.ErrWebhookEventRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[eventID]
	if !ok {
		return domain.WebhookEventRecord{}, domain.ErrWebhookEventNotFound
	}
	return record, nil
}

func (r *webhookEventRepositoryInMemory) MarkDone(eventID, orderID string) error {
	return r.markStatus(eventID, orderID, domain.WebhookEventStatusDone)
}

func (r *webhookEventRepositoryInMemory) MarkFailed(eventID, orderID string) error {
	return r.markStatus(eventID, orderID, domain.WebhookEventStatusFailed)
}

func (r *webhookEventRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, record := range r.items {
		if record.TTLAt.After(before) {
			continue
		}

		delete(r.items, id)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

func (r *webhookEventRepositoryInMemory) markStatus(eventID, orderID string, status domain.WebhookEventStatus) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.ErrWebhookEventRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[eventID]
	if !ok {
		return domain.ErrWebhookEventNotFound
	}

	record.Status = status
	if orderID != "" {
		record.OrderID = orderID
	}
	record.UpdatedAt = time.Now().UTC()
	r.items[eventID] = record

	return nil
}

var _ domain.WebhookEventRepository = (*webhookEventRepositoryInMemory)(nil)
