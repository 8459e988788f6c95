package renderer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

// заголовки форматов, чтобы скачанные файлы распознавались клиентами
var roleHeaders = map[domain.ArtifactRole][]byte{
	domain.ArtifactRolePDF:  []byte("%PDF-1.7\n"),
	domain.ArtifactRoleDOCX: []byte("PK\x03\x04"),
}

// TemplateRenderer генерирует документ подстановкой данных формы в тело
// шаблона. Плейсхолдеры имеют вид {{имя_поля}}.
type TemplateRenderer struct{}

// NewTemplateRenderer создаёт рабочий рендерер документов.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render собирает байты документа для роли role.
func (r *TemplateRenderer) Render(_ context.Context, tpl domain.Template, formData map[string]string, role domain.ArtifactRole) ([]byte, error) {
	header, ok := roleHeaders[role]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported artifact role %q", domain.ErrRenderFailure, role)
	}
	if len(tpl.Body) == 0 {
		return nil, fmt.Errorf("%w: template %s has empty body", domain.ErrRenderFailure, tpl.ID)
	}

	body := tpl.Body
	for key, value := range formData {
		body = bytes.ReplaceAll(body, []byte("{{"+key+"}}"), []byte(value))
	}

	result := make([]byte, 0, len(header)+len(body))
	result = append(result, header...)
	result = append(result, body...)
	return result, nil
}

// MockRenderer — конфигурируемая заглушка DocumentRenderer для тестов.
// Вызовы защищены мьютексом: диспетчер рендерит из фоновых воркеров.
type MockRenderer struct {
	mu sync.Mutex

	RenderErr   error
	RenderCalls int
}

// NewMockRenderer возвращает mock с успешным сценарием по умолчанию.
func NewMockRenderer() *MockRenderer {
	return &MockRenderer{}
}

// Render возвращает детерминированные байты и считает вызовы.
func (m *MockRenderer) Render(_ context.Context, tpl domain.Template, _ map[string]string, role domain.ArtifactRole) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RenderCalls++
	if m.RenderErr != nil {
		return nil, m.RenderErr
	}
	return []byte(fmt.Sprintf("rendered:%s:%s", tpl.ID, role)), nil
}

// Calls возвращает счётчик вызовов, безопасен для чтения из других горутин.
func (m *MockRenderer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RenderCalls
}

var (
	_ domain.DocumentRenderer = (*TemplateRenderer)(nil)
	_ domain.DocumentRenderer = (*MockRenderer)(nil)
)
