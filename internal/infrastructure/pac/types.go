// Package pac implementa el cliente del Proveedor Autorizado de Certificación (Finkok)
// sobre sus servicios SOAP: timbrado, cancelación, consulta de estatus en el SAT y
// administración de emisores (registration).
package pac

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
)

// ── Ambientes ────────────────────────────────────────────────────────────────

// Environment ambiente del PAC.
type Environment string

const (
	EnvDemo Environment = "demo"
	EnvProd Environment = "prod"
)

const (
	baseURLDemo = "https://demo-facturacion.finkok.com"
	baseURLProd = "https://facturacion.finkok.com"
)

// BaseURL URL base del ambiente; vacía si el ambiente no existe.
func (e Environment) BaseURL() string {
	switch e {
	case EnvDemo:
		return baseURLDemo
	case EnvProd:
		return baseURLProd
	default:
		return ""
	}
}

// Credentials usuario y contraseña de la cuenta en el PAC. La contraseña nunca se registra.
type Credentials struct {
	Username string
	Password string
}

// ── Timbrado ─────────────────────────────────────────────────────────────────

// Method operación SOAP que produjo el timbre.
type Method string

const (
	MethodQuickStamp Method = "quick_stamp"
	MethodStamp      Method = "stamp"
	MethodStamped    Method = "stamped"
	MethodSignStamp  Method = "sign_stamp"
)

// StampResult timbre devuelto por el PAC.
type StampResult struct {
	UUID                 string
	XML                  string
	StampedAt            time.Time
	PACSeal              string
	PACCertificateNumber string
	Method               Method
	Recovered            bool // true si el timbre se obtuvo con stamped tras un código 307
	Calls                int  // llamadas de red consumidas
}

// StampData datos del timbre en la forma del dominio.
func (r StampResult) StampData(cfdiSeal string) cfdi.StampData {
	return cfdi.StampData{
		UUID:                 r.UUID,
		StampedAt:            r.StampedAt,
		PACSeal:              r.PACSeal,
		PACCertificateNumber: r.PACCertificateNumber,
		CFDISeal:             cfdiSeal,
		XML:                  r.XML,
	}
}

// ── Cancelación ──────────────────────────────────────────────────────────────

// CancelParams datos de una cancelación. Credential firma la solicitud (XMLDSig).
type CancelParams struct {
	EmitterRFC string
	Request    cfdi.CancellationRequest
	Credential csd.Credential
}

// CancelOutcome resultado de negocio de la cancelación. Ninguno de estos valores es un error.
type CancelOutcome string

const (
	OutcomeCancelled           CancelOutcome = "CANCELLED"
	OutcomeAlreadyCancelled    CancelOutcome = "ALREADY_CANCELLED"
	OutcomePendingAcceptance   CancelOutcome = "PENDING_ACCEPTANCE"
	OutcomeCertificateMismatch CancelOutcome = "CERTIFICATE_MISMATCH"
	OutcomeNotFound            CancelOutcome = "NOT_FOUND"
	OutcomeNotCancelable       CancelOutcome = "NOT_CANCELABLE"
)

// Succeeded indica que el comprobante quedó cancelado.
func (o CancelOutcome) Succeeded() bool {
	return o == OutcomeCancelled || o == OutcomeAlreadyCancelled
}

// State estado local del comprobante que corresponde al resultado.
func (o CancelOutcome) State() cfdi.State {
	switch o {
	case OutcomeCancelled, OutcomeAlreadyCancelled:
		return cfdi.StateCancelled
	case OutcomePendingAcceptance:
		return cfdi.StateCancelPending
	default:
		return cfdi.StateCancelError
	}
}

// CancelResult respuesta de cancel_signature para un folio.
type CancelResult struct {
	UUID               string
	Outcome            CancelOutcome
	StatusCode         string // EstatusUUID
	CancellationStatus string // EstatusCancelacion
	Receipt            string // Acuse del SAT
	Date               string
}

// ── Estatus ──────────────────────────────────────────────────────────────────

// StatusQuery datos que exige la consulta de estatus del SAT.
type StatusQuery struct {
	UUID        string
	EmitterRFC  string
	ReceiverRFC string
	Total       decimal.Decimal
}

// Status estatus del comprobante en el SAT.
type Status string

const (
	StatusValid     Status = "VALID"
	StatusCancelled Status = "CANCELLED"
	StatusNotFound  Status = "NOT_FOUND"
)

// StatusResult respuesta de get_sat_status.
type StatusResult struct {
	Status             Status
	Code               string // CodigoEstatus
	Cancelable         string // EsCancelable
	CancellationStatus string // EstatusCancelacion
	EFOS               string // ValidacionEFOS
}

// IsCancelable indica si el SAT permite cancelar el comprobante.
func (s StatusResult) IsCancelable() bool {
	return s.Status == StatusValid && s.Cancelable != "" && s.Cancelable != "No cancelable"
}

// ── Registro de emisores ─────────────────────────────────────────────────────

// EmitterType tipo de cuenta del emisor en el PAC.
type EmitterType string

const (
	EmitterOnDemand EmitterType = "O" // timbres ilimitados (cuota mensual)
	EmitterPrepaid  EmitterType = "P" // paquete de timbres
)

// EmitterStatus estado de la cuenta del emisor.
type EmitterStatus string

const (
	EmitterActive    EmitterStatus = "A"
	EmitterSuspended EmitterStatus = "S"
)

// Emitter cuenta de un emisor en el PAC.
type Emitter struct {
	RFC     string
	Status  EmitterStatus
	Counter int
	Credit  int
}

// EmitterParams datos para alta o edición. Certificate y Key son el .cer y .key en DER.
type EmitterParams struct {
	RFC         string
	Type        EmitterType
	Status      EmitterStatus
	Certificate []byte
	Key         []byte
	Passphrase  string
}

// RegistrationResult respuesta de add y edit.
type RegistrationResult struct {
	Success bool
	Message string
}
