package cfdi

import (
	"strings"

	"github.com/google/uuid"

	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// CancellationRequest solicitud de cancelación de un CFDI timbrado.
type CancellationRequest struct {
	UUID             string `json:"uuid"`
	Reason           string `json:"reason"`
	SubstitutionUUID string `json:"substitution_uuid,omitempty"`
}

// Validate se ejecuta antes de cualquier llamada de red.
// El motivo 01 exige folio de sustitución; los demás motivos no lo admiten.
func (r CancellationRequest) Validate() error {
	var fields []FieldError
	if !IsCanonicalUUID(r.UUID) {
		fields = append(fields, FieldError{Field: "uuid", Rule: "uuid", Message: "UUID inválido"})
	}
	if !sat.ValidCancelReasons[r.Reason] {
		fields = append(fields, FieldError{Field: "reason", Rule: "oneof", Message: "motivo de cancelación inválido (01, 02, 03, 04)"})
	}
	if len(fields) > 0 {
		return NewValidationError(fields, nil)
	}

	sub := strings.TrimSpace(r.SubstitutionUUID)
	if r.Reason == sat.CancelReasonReplaced {
		if sub == "" {
			return &Error{
				Kind:    KindValidation,
				Message: "el motivo 01 requiere el UUID que sustituye al comprobante",
				Hint:    HintFixInvoiceData,
				Fields:  []FieldError{{Field: "substitution_uuid", Rule: "required_if", Message: "requerido con motivo 01"}},
				Err:     ErrMissingSubstitution,
			}
		}
		if !IsCanonicalUUID(sub) {
			return NewValidationError([]FieldError{{Field: "substitution_uuid", Rule: "uuid", Message: "UUID inválido"}}, nil)
		}
		if strings.EqualFold(sub, r.UUID) {
			return NewValidationError([]FieldError{{Field: "substitution_uuid", Rule: "nefield", Message: "no puede ser el mismo UUID cancelado"}}, nil)
		}
	} else if sub != "" {
		return NewValidationError([]FieldError{{Field: "substitution_uuid", Rule: "excluded_unless", Message: "solo aplica con motivo 01"}}, nil)
	}
	return nil
}

// IsCanonicalUUID acepta solo la forma de 36 caracteres con guiones que usa el SAT.
func IsCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
