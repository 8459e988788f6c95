package template

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

const defaultCacheTTL = 5 * time.Minute

// Cache — read-through кэш шаблонов с TTL. Рендеринг дёргает шаблон на
// каждый заказ, поэтому походы в источник на горячем пути нежелательны.
type Cache struct {
	source domain.TemplateSource
	ttl    time.Duration
	logger *log.Entry

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	template domain.Template
	loadedAt time.Time
}

// CacheOption настраивает кэш шаблонов.
type CacheOption func(*Cache)

// WithTTL задаёт время жизни записи в кэше.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger задаёт логгер кэша.
func WithLogger(logger *log.Entry) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache создаёт кэш поверх источника шаблонов.
func NewCache(source domain.TemplateSource, opts ...CacheOption) *Cache {
	c := &Cache{
		source:  source,
		ttl:     defaultCacheTTL,
		logger:  log.NewEntry(log.StandardLogger()),
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "template_cache")
	return c
}

// Load возвращает шаблон из кэша, при промахе или истечении TTL идёт в
// источник. Ошибки источника не кэшируются.
func (c *Cache) Load(ctx context.Context, templateID string) (domain.Template, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	entry, ok := c.entries[templateID]
	c.mu.Unlock()

	if ok && now.Sub(entry.loadedAt) < c.ttl {
		return cloneTemplate(entry.template), nil
	}

	tpl, err := c.source.Load(ctx, templateID)
	if err != nil {
		// Протухшая запись лучше, чем отказ рендеринга из-за недоступного
		// источника. Удалённый шаблон при этом не воскрешаем.
		if ok && !errors.Is(err, domain.ErrTemplateNotFound) {
			c.logger.WithField("template_id", templateID).WithError(err).
				Warn("template source failed, serving stale cache entry")
			return cloneTemplate(entry.template), nil
		}
		return domain.Template{}, err
	}

	c.mu.Lock()
	c.entries[templateID] = cacheEntry{template: cloneTemplate(tpl), loadedAt: now}
	c.mu.Unlock()

	return tpl, nil
}

// Invalidate удаляет запись из кэша, например после обновления шаблона.
func (c *Cache) Invalidate(templateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, templateID)
}

// InvalidateAll сбрасывает кэш целиком.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

var _ domain.TemplateSource = (*Cache)(nil)
