package dto

import "github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"

// PageRequest límite para listados.
type PageRequest struct {
	Limit int `query:"limit"`
}

// DefaultPage aplica valores por defecto si Limit es cero o excesivo.
func (p *PageRequest) DefaultPage() {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
}

// ErrorResponse cuerpo de error HTTP. Code es el tipo de error estable; ProviderCode el
// código del PAC o del SAT cuando existe.
type ErrorResponse struct {
	Code         string            `json:"code"`
	ProviderCode string            `json:"provider_code,omitempty"`
	Message      string            `json:"message"`
	Hint         string            `json:"hint,omitempty"`
	Fields       []cfdi.FieldError `json:"fields,omitempty"`
}
