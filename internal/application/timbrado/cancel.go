package timbrado

import (
	"context"
	"errors"
	"strings"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	pkgsat "github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// Cancel firma y envía la solicitud de cancelación de un CFDI del emisor.
// Los resultados de negocio (pendiente de aceptación, no cancelable, ...) vienen en
// CancelResult; solo los fallos de red, certificado o proveedor son errores.
func (p *Pipeline) Cancel(ctx context.Context, emitterRFC string, req cfdi.CancellationRequest) (pac.CancelResult, error) {
	if err := req.Validate(); err != nil {
		return pac.CancelResult{}, err
	}
	id := strings.ToUpper(req.UUID)
	log := p.log.With().Str("uuid", id).Str("motivo", req.Reason).Logger()

	last, found, err := p.journal.Last(ctx, id)
	if err != nil {
		return pac.CancelResult{}, cfdi.NewTransientError("consultar bitácora de cancelación", err)
	}
	// timbrado fuera de este servicio: el UUID hace de llave del documento
	current := cfdi.StateStamped
	doc := document{Key: id, EmitterRFC: pkgsat.NormalizeRFC(emitterRFC)}
	if found {
		current = last.To
		doc = journalDocument(last)
	}
	if current == cfdi.StateCancelled {
		log.Info().Msg("CFDI ya cancelado según la bitácora")
		return pac.CancelResult{UUID: id, Outcome: pac.OutcomeAlreadyCancelled}, nil
	}
	if !cfdi.CanTransition(current, cfdi.StateCancelling) {
		return pac.CancelResult{}, &cfdi.Error{
			Kind:    cfdi.KindCancellation,
			Message: "el CFDI no puede cancelarse en estado " + string(current),
			Err:     cfdi.ErrInvalidTransition,
		}
	}

	cred, err := p.credential(ctx, emitterRFC)
	if err != nil {
		return pac.CancelResult{}, err
	}
	if err := p.journal.Record(ctx, p.entry(doc.entry(current, cfdi.StateCancelling,
		JournalEntry{UUID: id, Method: req.Reason}))); err != nil {
		return pac.CancelResult{}, cfdi.NewTransientError("registrar inicio de cancelación", err)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stampTimeout)
	defer cancel()
	res, err := p.pac.Cancel(callCtx, pac.CancelParams{EmitterRFC: emitterRFC, Request: req, Credential: cred})
	if err != nil {
		// sin respuesta no se sabe si el SAT recibió la solicitud: queda para conciliar
		to := cfdi.StateCancelError
		if errors.Is(err, cfdi.ErrTransient) {
			to = cfdi.StateCancelPending
		}
		p.record(ctx, doc.entry(cfdi.StateCancelling, to,
			JournalEntry{UUID: id, Code: errorCode(err), Message: err.Error()}))
		log.Error().Err(err).Str("kind", string(cfdi.KindOf(err))).Msg("cancelación fallida")
		return pac.CancelResult{}, err
	}

	p.record(ctx, doc.entry(cfdi.StateCancelling, res.Outcome.State(),
		JournalEntry{UUID: id, Code: res.StatusCode, Message: string(res.Outcome)}))
	log.Info().Str("resultado", string(res.Outcome)).Str("estatus", res.StatusCode).Msg("cancelación procesada")
	return res, nil
}

// Status consulta el estatus del CFDI en el SAT y concilia la bitácora cuando una
// cancelación pendiente ya se resolvió.
func (p *Pipeline) Status(ctx context.Context, q pac.StatusQuery) (pac.StatusResult, error) {
	res, err := p.pac.GetStatus(ctx, q)
	if err != nil {
		return pac.StatusResult{}, err
	}
	id := strings.ToUpper(q.UUID)
	last, found, err := p.journal.Last(ctx, id)
	if err != nil || !found {
		return res, nil
	}
	current := last.To

	var to cfdi.State
	switch {
	case res.Status == pac.StatusCancelled && current != cfdi.StateCancelled:
		to = cfdi.StateCancelled
	case res.Status == pac.StatusValid && current == cfdi.StateCancelPending:
		// el receptor rechazó la cancelación
		to = cfdi.StateStamped
	default:
		return res, nil
	}
	if !cfdi.CanTransition(current, to) {
		return res, nil
	}
	p.record(ctx, journalDocument(last).entry(current, to,
		JournalEntry{UUID: id, Method: "get_sat_status", Code: res.Code}))
	p.log.Info().Str("uuid", id).Str("de", string(current)).Str("a", string(to)).Msg("estado conciliado con el SAT")
	return res, nil
}
