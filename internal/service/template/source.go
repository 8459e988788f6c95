package template

import (
	"context"
	"fmt"
	"sync"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

// MemorySource — in-memory источник шаблонов. Авторинг шаблонов живёт в
// отдельной системе, конвейеру достаточно каталога, загружаемого на старте.
type MemorySource struct {
	mu        sync.Mutex
	templates map[string]domain.Template

	LoadCalls int
}

// NewMemorySource создаёт источник с начальным набором шаблонов.
func NewMemorySource(templates ...domain.Template) *MemorySource {
	s := &MemorySource{templates: make(map[string]domain.Template)}
	for _, tpl := range templates {
		s.templates[tpl.ID] = tpl
	}
	return s
}

// Put добавляет или заменяет шаблон в каталоге.
func (s *MemorySource) Put(tpl domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
}

// Load возвращает шаблон по идентификатору.
func (s *MemorySource) Load(_ context.Context, templateID string) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LoadCalls++
	tpl, ok := s.templates[templateID]
	if !ok {
		return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, templateID)
	}
	return cloneTemplate(tpl), nil
}

func cloneTemplate(tpl domain.Template) domain.Template {
	clone := tpl
	if tpl.Body != nil {
		clone.Body = make([]byte, len(tpl.Body))
		copy(clone.Body, tpl.Body)
	}
	return clone
}

var _ domain.TemplateSource = (*MemorySource)(nil)
