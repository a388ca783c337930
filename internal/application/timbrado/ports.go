// Package timbrado orquesta el ciclo del CFDI: validar → cadena original → sello →
// XML final → timbrado en el PAC, además de cancelación, estatus y complemento de pagos.
package timbrado

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
)

// PAC operaciones del proveedor de certificación que usa el pipeline.
type PAC interface {
	Stamp(ctx context.Context, signedXML string) (pac.StampResult, error)
	SignStamp(ctx context.Context, unsignedXML string) (pac.StampResult, error)
	Cancel(ctx context.Context, p pac.CancelParams) (pac.CancelResult, error)
	GetStatus(ctx context.Context, q pac.StatusQuery) (pac.StatusResult, error)
}

// Credentials fuente de CSD por RFC emisor (csd.Store).
type Credentials interface {
	Get(ctx context.Context, rfc string) (csd.Credential, error)
}

// Guard candado de timbrado en curso (cache.StampGuard).
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// JournalEntry transición de estado registrada para conciliación posterior.
type JournalEntry struct {
	ID          string
	DocumentKey string // digest de la cadena original
	UUID        string // vacío hasta que el PAC timbra
	EmitterRFC  string
	ReceiverRFC string
	Total       decimal.Decimal // datos que pide la consulta de estatus
	From        cfdi.State
	To          cfdi.State
	Method      string // método del PAC o de cancelación
	Code        string // código de error o de estatus
	Message     string
	At          time.Time
}

// Journal bitácora de transiciones (postgres.StampJournalRepository).
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
	// Last transición más reciente de un documento buscando por digest o por UUID.
	Last(ctx context.Context, key string) (JournalEntry, bool, error)
}
