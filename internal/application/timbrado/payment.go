package timbrado

import (
	"context"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
	pkgsat "github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// IssuePaymentComplement sella y timbra un comprobante tipo P (Pagos 2.0).
// Usa el mismo camino de timbrado que Issue: candado, bitácora y recuperación 307.
func (p *Pipeline) IssuePaymentComplement(ctx context.Context, pc cfdi.PaymentComplement) (cfdi.StampData, error) {
	if err := cfdi.ValidatePaymentComplement(pc); err != nil {
		return cfdi.StampData{}, err
	}
	cred, err := p.credential(ctx, pc.Emitter.RFC)
	if err != nil {
		return cfdi.StampData{}, err
	}
	cadena, err := sat.BuildPaymentCadena(pc, cred.Certificate.Number)
	if err != nil {
		return cfdi.StampData{}, err
	}
	seal, err := sat.Sign(cadena, cred.Key)
	if err != nil {
		return cfdi.StampData{}, err
	}
	signedXML, err := sat.BuildPaymentXML(pc, sat.ModeFinal, sat.SealInfo{
		Seal:              seal,
		CertificateNumber: cred.Certificate.Number,
		Certificate:       cred.Certificate.Base64(),
	})
	if err != nil {
		return cfdi.StampData{}, err
	}

	log := p.log.With().Str("tipo", "P").Str("folio", pc.Folio).Logger()
	doc := document{
		Key:         documentKey(cadena),
		EmitterRFC:  pkgsat.NormalizeRFC(pc.Emitter.RFC),
		ReceiverRFC: pkgsat.NormalizeRFC(pc.Receiver.RFC),
	}
	res, err := p.stamp(ctx, doc, log, func(ctx context.Context) (pac.StampResult, error) {
		return p.pac.Stamp(ctx, signedXML)
	})
	if err != nil {
		return cfdi.StampData{}, err
	}
	return res.StampData(seal), nil
}
