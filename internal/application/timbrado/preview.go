package timbrado

import (
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
)

// Preview XML con valores centinela de sello y la cadena original que se firmaría.
type Preview struct {
	XML    string              `json:"xml"`
	Cadena cfdi.CadenaOriginal `json:"cadena_original"`
	Totals cfdi.Totals         `json:"-"`
}

// Preview valida y construye el comprobante sin firmar ni llamar al PAC.
// La cadena usa el mismo NoCertificado centinela que el XML.
func (p *Pipeline) Preview(draft cfdi.InvoiceDraft) (Preview, error) {
	if err := cfdi.ValidateDraft(draft); err != nil {
		return Preview{}, err
	}
	xmlDoc, err := sat.BuildInvoiceXML(draft, sat.ModePlaceholder, sat.SealInfo{})
	if err != nil {
		return Preview{}, err
	}
	cadena, err := sat.BuildCadenaOriginal(draft, sat.PlaceholderCertificateNumber)
	if err != nil {
		return Preview{}, err
	}
	return Preview{XML: xmlDoc, Cadena: cadena, Totals: draft.ComputeTotals()}, nil
}
