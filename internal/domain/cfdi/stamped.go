package cfdi

import (
	"fmt"
	"strings"
	"time"
)

// CadenaOriginal cadena canónica "||…||" que se firma con el CSD del emisor.
type CadenaOriginal string

func (c CadenaOriginal) String() string { return string(c) }

// Bytes devuelve los bytes UTF-8 exactos que se hashean.
func (c CadenaOriginal) Bytes() []byte { return []byte(c) }

// StampData datos que el PAC devuelve al timbrar (TimbreFiscalDigital).
type StampData struct {
	UUID                 string
	StampedAt            time.Time
	PACSeal              string // SelloSAT
	PACCertificateNumber string // NoCertificadoSAT
	CFDISeal             string // SelloCFD (sello del emisor)
	XML                  string // XML timbrado completo
}

// StampedInvoice comprobante timbrado. Inmutable: solo expone lectores.
type StampedInvoice struct {
	draft InvoiceDraft
	stamp StampData
}

// NewStampedInvoice crea el comprobante timbrado a partir del borrador y la respuesta del PAC.
func NewStampedInvoice(draft InvoiceDraft, stamp StampData) (StampedInvoice, error) {
	if !IsCanonicalUUID(stamp.UUID) {
		return StampedInvoice{}, fmt.Errorf("cfdi: UUID de timbre inválido %q", stamp.UUID)
	}
	if strings.TrimSpace(stamp.XML) == "" {
		return StampedInvoice{}, fmt.Errorf("cfdi: XML timbrado vacío")
	}
	stamp.UUID = strings.ToUpper(stamp.UUID)
	return StampedInvoice{draft: draft.Clone(), stamp: stamp}, nil
}

func (s StampedInvoice) Draft() InvoiceDraft          { return s.draft.Clone() }
func (s StampedInvoice) UUID() string                 { return s.stamp.UUID }
func (s StampedInvoice) StampedAt() time.Time         { return s.stamp.StampedAt }
func (s StampedInvoice) PACSeal() string              { return s.stamp.PACSeal }
func (s StampedInvoice) PACCertificateNumber() string { return s.stamp.PACCertificateNumber }
func (s StampedInvoice) CFDISeal() string             { return s.stamp.CFDISeal }
func (s StampedInvoice) XML() string                  { return s.stamp.XML }

// ── Máquina de estados por comprobante ───────────────────────────────────────

// State estado del ciclo de vida del comprobante frente al PAC.
type State string

const (
	StatePending       State = "PENDING"
	StateStamping      State = "STAMPING"
	StateStamped       State = "STAMPED"
	StateStampError    State = "STAMP_ERROR"
	StateCancelling    State = "CANCELLING"
	StateCancelled     State = "CANCELLED"
	StateCancelPending State = "CANCEL_PENDING" // en espera de aceptación del receptor
	StateCancelError   State = "CANCEL_ERROR"
)

var transitions = map[State][]State{
	StatePending:       {StateStamping},
	StateStamping:      {StateStamped, StateStampError, StatePending},
	StateStampError:    {StateStamping},
	StateStamped:       {StateCancelling},
	StateCancelling:    {StateCancelled, StateCancelPending, StateCancelError},
	StateCancelPending: {StateCancelling, StateCancelled, StateStamped},
	StateCancelError:   {StateCancelling, StateStamped},
}

// CanTransition indica si from → to es válida.
// Stamping → Pending se usa cuando el fallo es transitorio: el comprobante no queda a medias.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition devuelve el nuevo estado o ErrInvalidTransition.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// IsFinal indica estados sin transiciones automáticas posteriores.
func (s State) IsFinal() bool {
	return s == StateCancelled
}
