package domain

import "time"

// Template — шаблон юридического документа. Для конвейера он read-only:
// авторинг и ценообразование живут за пределами этого ядра.
type Template struct {
	ID   string
	Name string
	// Body — непрозрачное содержимое шаблона, интерпретируется только рендерером.
	Body []byte
	// PriceMinor — цена в минимальных денежных единицах, фиксируется в заказе при создании.
	PriceMinor int64
	Currency   string
	Version    int64
	UpdatedAt  time.Time
}
