// Package sat construye los documentos que exige el SAT: XML del CFDI 4.0 con atributos
// en el orden del esquema, cadena original (cadenaoriginal_4_0.xslt), sello digital,
// complemento de pagos 2.0 y la solicitud de cancelación firmada (XMLDSig).
package sat

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// Namespaces y ubicaciones de esquema del Anexo 20.
const (
	NsCFDI   = "http://www.sat.gob.mx/cfd/4"
	NsXsi    = "http://www.w3.org/2001/XMLSchema-instance"
	NsPagos  = "http://www.sat.gob.mx/Pagos20"
	NsTimbre = "http://www.sat.gob.mx/TimbreFiscalDigital"

	schemaLocationCFDI  = "http://www.sat.gob.mx/cfd/4 http://www.sat.gob.mx/sitio_internet/cfd/4/cfdv40.xsd"
	schemaLocationPagos = "http://www.sat.gob.mx/Pagos20 http://www.sat.gob.mx/sitio_internet/cfd/Pagos/Pagos20.xsd"
)

// Mode controla los atributos de sello del comprobante.
type Mode int

const (
	// ModeOmitSignature sin Sello, NoCertificado ni Certificado: el PAC sella con el CSD que custodia.
	ModeOmitSignature Mode = iota
	// ModePlaceholder valores centinela fijos. Solo para vista previa: el XML que se timbra
	// se emite una sola vez en ModeFinal, con el sello ya calculado.
	ModePlaceholder
	// ModeFinal valores reales.
	ModeFinal
)

func (m Mode) String() string {
	switch m {
	case ModeOmitSignature:
		return "omit-signature"
	case ModePlaceholder:
		return "placeholder"
	case ModeFinal:
		return "final"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Centinelas del modo placeholder.
const (
	PlaceholderSeal              = "@@SELLO@@"
	PlaceholderCertificateNumber = "@@NOCERTIFICADO@@"
	PlaceholderCertificate       = "@@CERTIFICADO@@"
)

// SealInfo valores de sello que se incrustan en modo final.
type SealInfo struct {
	Seal              string // Sello (Base64)
	CertificateNumber string // NoCertificado
	Certificate       string // Certificado (DER en Base64)
}

// BuildInvoiceXML serializa el borrador en XML CFDI 4.0. Misma entrada y modo producen
// los mismos bytes.
func BuildInvoiceXML(d cfdi.InvoiceDraft, mode Mode, seal SealInfo) (string, error) {
	doc, err := buildInvoiceDocument(d, mode, seal)
	if err != nil {
		return "", err
	}
	return writeDocument(doc)
}

func buildInvoiceDocument(d cfdi.InvoiceDraft, mode Mode, seal SealInfo) (*etree.Document, error) {
	if len(d.Concepts) == 0 {
		return nil, cfdi.NewValidationError(
			[]cfdi.FieldError{{Field: "concepts", Rule: "min", Message: cfdi.ErrNoConcepts.Error()}}, cfdi.ErrNoConcepts)
	}
	totals := d.ComputeTotals()

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("cfdi:Comprobante")
	root.CreateAttr("xmlns:cfdi", NsCFDI)
	root.CreateAttr("xmlns:xsi", NsXsi)
	root.CreateAttr("xsi:schemaLocation", schemaLocationCFDI)

	a := attrs{el: root}
	a.set("Version", sat.CFDIVersion)
	a.opt("Serie", text(d.Series))
	a.opt("Folio", text(d.Folio))
	a.set("Fecha", cfdi.FormatDateTime(d.IssuedAt))
	a.sealAttr("Sello", mode, PlaceholderSeal, seal.Seal)
	a.opt("FormaPago", d.PaymentForm)
	a.sealAttr("NoCertificado", mode, PlaceholderCertificateNumber, seal.CertificateNumber)
	a.sealAttr("Certificado", mode, PlaceholderCertificate, seal.Certificate)
	a.opt("CondicionesDePago", text(d.PaymentTerms))
	a.set("SubTotal", cfdi.FormatMoney(totals.SubTotal))
	if !totals.Discount.IsZero() {
		a.set("Descuento", cfdi.FormatMoney(totals.Discount))
	}
	a.set("Moneda", d.Currency)
	if d.ExchangeRate != nil && d.Currency != sat.CurrencyXXX {
		a.set("TipoCambio", cfdi.FormatExchangeRate(*d.ExchangeRate))
	}
	a.set("Total", cfdi.FormatMoney(totals.Total))
	a.set("TipoDeComprobante", d.DocumentType)
	a.set("Exportacion", d.Export)
	a.opt("MetodoPago", d.PaymentMethod)
	a.set("LugarExpedicion", d.PlaceOfIssue)

	if g := d.GlobalInfo; g != nil {
		el := root.CreateElement("cfdi:InformacionGlobal")
		el.CreateAttr("Periodicidad", g.Periodicity)
		el.CreateAttr("Meses", g.Months)
		el.CreateAttr("Año", fmt.Sprintf("%d", g.Year))
	}
	if r := d.Related; r != nil {
		el := root.CreateElement("cfdi:CfdiRelacionados")
		el.CreateAttr("TipoRelacion", r.RelationType)
		for _, u := range r.UUIDs {
			el.CreateElement("cfdi:CfdiRelacionado").CreateAttr("UUID", strings.ToUpper(u))
		}
	}
	addEmitter(root, d.Emitter)
	addReceiver(root, d.Receiver)

	concepts := root.CreateElement("cfdi:Conceptos")
	for i, c := range d.Concepts {
		addConcept(concepts, c, totals.Concepts[i])
	}
	addDocumentTaxes(root, totals)
	return doc, nil
}

func addEmitter(root *etree.Element, e cfdi.Emitter) {
	el := root.CreateElement("cfdi:Emisor")
	el.CreateAttr("Rfc", sat.NormalizeRFC(e.RFC))
	el.CreateAttr("Nombre", text(e.Name))
	el.CreateAttr("RegimenFiscal", e.FiscalRegime)
}

func addReceiver(root *etree.Element, r cfdi.Receiver) {
	el := root.CreateElement("cfdi:Receptor")
	el.CreateAttr("Rfc", sat.NormalizeRFC(r.RFC))
	el.CreateAttr("Nombre", text(r.Name))
	el.CreateAttr("DomicilioFiscalReceptor", r.PostalCode)
	el.CreateAttr("RegimenFiscalReceptor", r.FiscalRegime)
	el.CreateAttr("UsoCFDI", r.CFDIUse)
}

func addConcept(parent *etree.Element, c cfdi.Concept, ct cfdi.ConceptTotals) {
	el := parent.CreateElement("cfdi:Concepto")
	a := attrs{el: el}
	a.set("ClaveProdServ", c.ProductCode)
	a.opt("NoIdentificacion", text(c.SKU))
	a.set("Cantidad", cfdi.FormatQuantity(c.Quantity))
	a.set("ClaveUnidad", c.UnitCode)
	a.opt("Unidad", text(c.Unit))
	a.set("Descripcion", text(c.Description))
	a.set("ValorUnitario", cfdi.FormatQuantity(c.UnitPrice))
	a.set("Importe", cfdi.FormatMoney(ct.Amount))
	if !ct.Discount.IsZero() {
		a.set("Descuento", cfdi.FormatMoney(ct.Discount))
	}
	a.set("ObjetoImp", c.TaxObject)

	if len(ct.Transfers) == 0 && len(ct.Withholdings) == 0 {
		return
	}
	taxes := el.CreateElement("cfdi:Impuestos")
	if len(ct.Transfers) > 0 {
		tr := taxes.CreateElement("cfdi:Traslados")
		for _, t := range ct.Transfers {
			addTransfer(tr.CreateElement("cfdi:Traslado"), t)
		}
	}
	if len(ct.Withholdings) > 0 {
		wh := taxes.CreateElement("cfdi:Retenciones")
		for _, t := range ct.Withholdings {
			r := wh.CreateElement("cfdi:Retencion")
			r.CreateAttr("Base", cfdi.FormatMoney(t.Base))
			r.CreateAttr("Impuesto", t.Tax)
			r.CreateAttr("TipoFactor", t.Factor)
			r.CreateAttr("TasaOCuota", cfdi.FormatRate(t.Rate))
			r.CreateAttr("Importe", cfdi.FormatMoney(t.Amount))
		}
	}
}

// addTransfer Traslado de concepto o de comprobante. Exento no lleva tasa ni importe.
func addTransfer(el *etree.Element, t cfdi.TaxLine) {
	el.CreateAttr("Base", cfdi.FormatMoney(t.Base))
	el.CreateAttr("Impuesto", t.Tax)
	el.CreateAttr("TipoFactor", t.Factor)
	if !t.Exempt() {
		el.CreateAttr("TasaOCuota", cfdi.FormatRate(t.Rate))
		el.CreateAttr("Importe", cfdi.FormatMoney(t.Amount))
	}
}

func addDocumentTaxes(root *etree.Element, t cfdi.Totals) {
	if !t.HasTransfers() && !t.HasWithholdings() {
		return
	}
	el := root.CreateElement("cfdi:Impuestos")
	if t.HasWithholdings() {
		el.CreateAttr("TotalImpuestosRetenidos", cfdi.FormatMoney(t.TotalWithheld))
	}
	if t.HasTransferredAmount() {
		el.CreateAttr("TotalImpuestosTrasladados", cfdi.FormatMoney(t.TotalTransferred))
	}
	if t.HasWithholdings() {
		wh := el.CreateElement("cfdi:Retenciones")
		for _, w := range t.Withholdings {
			r := wh.CreateElement("cfdi:Retencion")
			r.CreateAttr("Impuesto", w.Tax)
			r.CreateAttr("Importe", cfdi.FormatMoney(w.Amount))
		}
	}
	if t.HasTransfers() {
		tr := el.CreateElement("cfdi:Traslados")
		for _, line := range t.Transfers {
			addTransfer(tr.CreateElement("cfdi:Traslado"), line)
		}
	}
}

// ── utilidades ───────────────────────────────────────────────────────────────

// attrs agrega atributos respetando el orden de inserción.
type attrs struct{ el *etree.Element }

func (a attrs) set(k, v string) { a.el.CreateAttr(k, v) }

// opt atributo opcional: se omite si está vacío.
func (a attrs) opt(k, v string) {
	if v != "" {
		a.el.CreateAttr(k, v)
	}
}

func (a attrs) sealAttr(k string, mode Mode, placeholder, value string) {
	switch mode {
	case ModePlaceholder:
		a.el.CreateAttr(k, placeholder)
	case ModeFinal:
		a.el.CreateAttr(k, value)
	}
}

// text normaliza texto libre a NFC y colapsa espacios; se aplica igual en XML y cadena.
func text(s string) string {
	return normalizeSpace(norm.NFC.String(s))
}

func writeDocument(doc *etree.Document) (string, error) {
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("sat: serializar XML: %w", err)
	}
	return s, nil
}
