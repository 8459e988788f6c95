package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByIDAndEmail возвращает заказ только при совпадении e-mail.
// Несовпадение неотличимо от отсутствия заказа, чтобы исключить перебор.
func (r *orderRepositoryInMemory) GetByIDAndEmail(id, email string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok || !order.EmailMatches(email) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// ListExpired возвращает кандидатов для sweeper: оплаченные заказы с истёкшим
// окном и всё ещё записанными артефактами, в порядке истечения.
func (r *orderRepositoryInMemory) ListExpired(before time.Time, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.Status != domain.OrderStatusPaid {
			continue
		}
		if order.DownloadExpiry.IsZero() || !order.DownloadExpiry.Before(before) {
			continue
		}
		if len(order.Artifacts) == 0 {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DownloadExpiry.Before(result[j].DownloadExpiry)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// cloneOrder копирует заказ вместе со вложенными slice/map, чтобы избежать мутаций извне.
func cloneOrder(src domain.Order) domain.Order {
	dst := src
	if src.FormData != nil {
		dst.FormData = make(map[string]string, len(src.FormData))
		for k, v := range src.FormData {
			dst.FormData[k] = v
		}
	}
	if src.Artifacts != nil {
		dst.Artifacts = append([]domain.Artifact(nil), src.Artifacts...)
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
