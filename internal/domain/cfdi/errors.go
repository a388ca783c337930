package cfdi

import (
	"errors"
	"fmt"
	"strings"
)

// Kind clasifica los errores del núcleo de timbrado en un conjunto estable,
// independiente del PAC que los originó.
type Kind string

const (
	KindConfig       Kind = "CONFIG_ERROR"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindCertificate  Kind = "CERTIFICATE_ERROR"
	KindSigning      Kind = "SIGNING_ERROR"
	KindAlreadyStamp Kind = "ALREADY_STAMPED"
	KindTransient    Kind = "TRANSIENT_NETWORK_ERROR"
	KindCancellation Kind = "CANCELLATION_ERROR"
	KindProvider     Kind = "UNKNOWN_PROVIDER_ERROR"
)

// Hint sugerencia de remediación en forma de código estable (no depende del idioma).
type Hint string

const (
	HintFixConfiguration Hint = "FIX_CONFIGURATION"
	HintFixInvoiceData   Hint = "FIX_INVOICE_DATA"
	HintUploadValidCSD   Hint = "UPLOAD_VALID_CSD"
	HintCheckPassphrase  Hint = "CHECK_KEY_PASSPHRASE"
	HintRegisterEmitter  Hint = "REGISTER_EMITTER_AT_PAC"
	HintRecoverStamp     Hint = "RECOVER_PREVIOUS_STAMP"
	HintRetryLater       Hint = "RETRY_LATER"
	HintReconcileStatus  Hint = "RECONCILE_WITH_STATUS"
	HintContactProvider  Hint = "CONTACT_PROVIDER"
	HintWaitAcceptance   Hint = "WAIT_RECEIVER_ACCEPTANCE"
)

// Errores centinela. Se comparan con errors.Is sobre cualquier *Error que los envuelva.
var (
	ErrCertificateExpired  = errors.New("certificado fuera de vigencia")
	ErrCertificateNotFound = errors.New("certificado no encontrado")
	ErrCertificateParse    = errors.New("certificado ilegible")
	ErrInvalidPassphrase   = errors.New("contraseña de la llave privada incorrecta")
	ErrKeyParse            = errors.New("llave privada ilegible")
	ErrKeyMismatch         = errors.New("la llave privada no corresponde al certificado")
	ErrSigning             = errors.New("no se pudo generar el sello digital")
	ErrMissingSubstitution = errors.New("el motivo 01 requiere folio de sustitución")
	ErrNoConcepts          = errors.New("el comprobante debe tener al menos un concepto")
	ErrTotalsMismatch      = errors.New("los totales no cuadran con las relaciones de pago")
	ErrBalanceExceeded     = errors.New("el importe pagado excede el saldo insoluto")
	ErrInvalidTransition   = errors.New("transición de estado inválida")
	ErrStampInFlight       = errors.New("el comprobante ya se está timbrando")
)

// FieldError describe un campo rechazado por la validación previa al timbrado.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error es el error tipado que el núcleo devuelve al llamador.
type Error struct {
	Kind    Kind
	Code    string // código del PAC o del SAT cuando existe
	Message string
	Hint    Hint
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if len(e.Fields) > 0 {
		names := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			names[i] = f.Field
		}
		b.WriteString(" (" + strings.Join(names, ", ") + ")")
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is permite errors.Is(err, cfdi.ErrValidation) y similares comparando solo el Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Centinelas por tipo: errors.Is(err, cfdi.ErrTransient).
var (
	ErrConfig       = &Error{Kind: KindConfig}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrCertificate  = &Error{Kind: KindCertificate}
	ErrSignature    = &Error{Kind: KindSigning}
	ErrAlreadyStamp = &Error{Kind: KindAlreadyStamp}
	ErrTransient    = &Error{Kind: KindTransient}
	ErrCancellation = &Error{Kind: KindCancellation}
	ErrProvider     = &Error{Kind: KindProvider}
)

// KindOf devuelve el Kind del primer *Error de la cadena, o "" si no hay ninguno.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError extrae el *Error de la cadena.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func NewConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...), Hint: HintFixConfiguration}
}

func NewValidationError(fields []FieldError, cause error) *Error {
	return &Error{Kind: KindValidation, Message: "datos del comprobante inválidos", Hint: HintFixInvoiceData, Fields: fields, Err: cause}
}

// NewCertificateError envuelve una causa centinela (ErrCertificateExpired, ErrInvalidPassphrase, ...).
func NewCertificateError(cause error, detail string) *Error {
	hint := HintUploadValidCSD
	if errors.Is(cause, ErrInvalidPassphrase) {
		hint = HintCheckPassphrase
	}
	return &Error{Kind: KindCertificate, Message: detail, Hint: hint, Err: cause}
}

func NewSigningError(detail string, cause error) *Error {
	return &Error{Kind: KindSigning, Message: detail, Hint: HintUploadValidCSD, Err: errors.Join(ErrSigning, cause)}
}

func NewTransientError(detail string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: detail, Hint: HintReconcileStatus, Err: cause}
}
