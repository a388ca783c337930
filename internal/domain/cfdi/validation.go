package cfdi

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// engine configura el validador una sola vez: nombres de campo desde la etiqueta json,
// decimal.Decimal comparado en exacto con dec_gt/dec_gte/dec_lte y reglas de catálogo SAT.
func engine() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})
		_ = v.RegisterValidation("dec_gt", decimalRule(func(c int) bool { return c > 0 }))
		_ = v.RegisterValidation("dec_gte", decimalRule(func(c int) bool { return c >= 0 }))
		_ = v.RegisterValidation("dec_lte", decimalRule(func(c int) bool { return c <= 0 }))
		_ = v.RegisterValidation("rfc", func(fl validator.FieldLevel) bool {
			return sat.ValidateRFC(fl.Field().String()) == nil
		})
		_ = v.RegisterValidation("regime", func(fl validator.FieldLevel) bool {
			return sat.ValidFiscalRegimes[fl.Field().String()]
		})
		_ = v.RegisterValidation("payment_form", func(fl validator.FieldLevel) bool {
			return sat.ValidPaymentForms[fl.Field().String()]
		})
		_ = v.RegisterValidation("sat_uuid", func(fl validator.FieldLevel) bool {
			return IsCanonicalUUID(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// decimalRule compara el campo contra el parámetro de la etiqueta con decimal.Cmp.
func decimalRule(ok func(cmp int) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		limit, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return ok(d.Cmp(limit))
	}
}

// ValidateDraft valida el borrador antes de construir el XML. Ninguna llamada al PAC
// se hace con un comprobante que no pueda ser válido.
func ValidateDraft(d InvoiceDraft) error {
	var fields []FieldError
	if len(d.Concepts) == 0 {
		fields = append(fields, FieldError{Field: "concepts", Rule: "min", Message: ErrNoConcepts.Error()})
	}
	fields = append(fields, structFields(d)...)
	fields = append(fields, draftRules(d)...)
	if len(fields) > 0 {
		var cause error
		if len(d.Concepts) == 0 {
			cause = ErrNoConcepts
		}
		return NewValidationError(fields, cause)
	}
	return nil
}

// ValidatePaymentComplement valida estructura y reconciliación de importes.
func ValidatePaymentComplement(pc PaymentComplement) error {
	fields := structFields(pc)
	if sat.NormalizeRFC(pc.Receiver.RFC) != sat.RFCGenericNational && pc.Receiver.CFDIUse != sat.UseParaPagos {
		fields = append(fields, FieldError{Field: "receiver.cfdi_use", Rule: "eq", Message: "el complemento de pagos usa CP01"})
	}
	if len(fields) > 0 {
		return NewValidationError(fields, nil)
	}
	if err := pc.Reconcile(); err != nil {
		return NewValidationError([]FieldError{{Field: "payments", Rule: "reconcile", Message: err.Error()}}, err)
	}
	return nil
}

func structFields(s any) []FieldError {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, FieldError{Field: fieldPath(e.Namespace()), Rule: ruleName(e.Tag()), Message: fieldMessage(e)})
	}
	return out
}

// fieldPath quita el nombre del struct raíz: "InvoiceDraft.concepts[0].quantity" → "concepts[0].quantity".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ruleName las reglas decimales se reportan como gt/gte/lte.
func ruleName(tag string) string { return strings.TrimPrefix(tag, "dec_") }

func fieldMessage(e validator.FieldError) string {
	switch ruleName(e.Tag()) {
	case "required":
		return "campo obligatorio"
	case "rfc":
		return "RFC inválido"
	case "regime":
		return "régimen fiscal fuera de catálogo"
	case "payment_form":
		return "forma de pago fuera de catálogo"
	case "sat_uuid":
		return "UUID inválido"
	case "len":
		return "debe tener exactamente " + e.Param() + " caracteres"
	case "max":
		return "máximo " + e.Param()
	case "min":
		return "mínimo " + e.Param()
	case "oneof":
		return "debe ser uno de: " + e.Param()
	case "gt":
		return "debe ser mayor que " + e.Param()
	case "gte":
		return "debe ser mayor o igual que " + e.Param()
	case "lte":
		return "debe ser menor o igual que " + e.Param()
	case "numeric":
		return "solo dígitos"
	case "uppercase":
		return "solo mayúsculas"
	default:
		return "valor inválido"
	}
}

// draftRules reglas del Anexo 20 que cruzan campos.
func draftRules(d InvoiceDraft) []FieldError {
	var out []FieldError
	add := func(field, rule, msg string) {
		out = append(out, FieldError{Field: field, Rule: rule, Message: msg})
	}

	switch d.Currency {
	case sat.CurrencyMXN:
		if d.ExchangeRate != nil && !d.ExchangeRate.Equal(decimal.NewFromInt(1)) {
			add("exchange_rate", "eq", "con MXN el tipo de cambio debe ser 1 u omitirse")
		}
	case sat.CurrencyXXX:
		if d.ExchangeRate != nil {
			add("exchange_rate", "excluded", "con XXX no se registra tipo de cambio")
		}
	default:
		if d.ExchangeRate == nil {
			add("exchange_rate", "required", "moneda extranjera requiere tipo de cambio")
		}
	}

	if d.DocumentType == sat.DocumentTypeIngreso || d.DocumentType == sat.DocumentTypeEgreso {
		if d.PaymentForm == "" {
			add("payment_form", "required", "campo obligatorio")
		}
		if d.PaymentMethod == "" {
			add("payment_method", "required", "campo obligatorio")
		}
	}
	if d.PaymentMethod == sat.PaymentMethodPPD && d.PaymentForm != "" && d.PaymentForm != sat.PaymentFormPorDefinir {
		add("payment_form", "eq", "con PPD la forma de pago es 99")
	}

	if sat.IsGenericRFC(d.Receiver.RFC) {
		if d.Receiver.FiscalRegime != "616" {
			add("receiver.fiscal_regime", "eq", "RFC genérico usa régimen 616")
		}
		if d.Receiver.CFDIUse != sat.UseSinEfectos {
			add("receiver.cfdi_use", "eq", "RFC genérico usa S01")
		}
		if sat.NormalizeRFC(d.Receiver.RFC) == sat.RFCGenericNational && d.Receiver.Name == "PUBLICO EN GENERAL" && d.GlobalInfo == nil {
			add("global_info", "required", "factura global requiere InformacionGlobal")
		}
	}

	for i, c := range d.Concepts {
		prefix := "concepts[" + strconv.Itoa(i) + "]"
		hasTaxes := len(c.Transfers)+len(c.Withholdings) > 0
		if c.TaxObject == sat.TaxObjectSi && !hasTaxes {
			add(prefix+".transfers", "required", "objeto de impuesto 02 requiere impuestos")
		}
		if c.TaxObject != sat.TaxObjectSi && hasTaxes {
			add(prefix+".tax_object", "eq", "solo el objeto de impuesto 02 desglosa impuestos")
		}
		for j, w := range c.Withholdings {
			if w.Factor == sat.FactorExento {
				add(prefix+".withholdings["+strconv.Itoa(j)+"].factor", "ne", "las retenciones no pueden ser exentas")
			}
		}
	}
	return out
}
