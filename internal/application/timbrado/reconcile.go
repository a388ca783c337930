package timbrado

import (
	"context"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// PendingLister bitácoras que pueden listar documentos por conciliar.
type PendingLister interface {
	Pending(ctx context.Context, limit int) ([]JournalEntry, error)
}

// Pending documentos con resultado desconocido frente al PAC: timbrados que quedaron en
// Pending tras un fallo de red, o cancelaciones sin respuesta definitiva.
func (p *Pipeline) Pending(ctx context.Context, limit int) ([]JournalEntry, error) {
	lister, ok := p.journal.(PendingLister)
	if !ok {
		return nil, cfdi.NewConfigError("la bitácora configurada no lista pendientes")
	}
	return lister.Pending(ctx, limit)
}
