package sat

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// Valores fijos del comprobante tipo P (Guía de llenado del complemento de pagos).
const (
	paymentProductCode = "84111506"
	paymentDescription = "Pago"
)

// BuildPaymentXML comprobante tipo P con el complemento Pagos 2.0.
// Exige que el complemento ya haya pasado cfdi.ValidatePaymentComplement.
func BuildPaymentXML(pc cfdi.PaymentComplement, mode Mode, seal SealInfo) (string, error) {
	doc := buildPaymentDocument(pc, mode, seal)
	return writeDocument(doc)
}

// BuildPaymentCadena cadena original del comprobante tipo P, complemento incluido.
func BuildPaymentCadena(pc cfdi.PaymentComplement, certificateNumber string) (cfdi.CadenaOriginal, error) {
	doc := buildPaymentDocument(pc, ModeFinal, SealInfo{CertificateNumber: certificateNumber})
	return cadenaFromDocument(doc)
}

func buildPaymentDocument(pc cfdi.PaymentComplement, mode Mode, seal SealInfo) *etree.Document {
	totals := pc.ComputeTotals()

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("cfdi:Comprobante")
	root.CreateAttr("xmlns:cfdi", NsCFDI)
	root.CreateAttr("xmlns:xsi", NsXsi)
	root.CreateAttr("xmlns:pago20", NsPagos)
	root.CreateAttr("xsi:schemaLocation", schemaLocationCFDI+" "+schemaLocationPagos)

	a := attrs{el: root}
	a.set("Version", sat.CFDIVersion)
	a.opt("Serie", text(pc.Series))
	a.opt("Folio", text(pc.Folio))
	a.set("Fecha", cfdi.FormatDateTime(pc.IssuedAt))
	a.sealAttr("Sello", mode, PlaceholderSeal, seal.Seal)
	a.sealAttr("NoCertificado", mode, PlaceholderCertificateNumber, seal.CertificateNumber)
	a.sealAttr("Certificado", mode, PlaceholderCertificate, seal.Certificate)
	a.set("SubTotal", "0")
	a.set("Moneda", sat.CurrencyXXX)
	a.set("Total", "0")
	a.set("TipoDeComprobante", sat.DocumentTypePago)
	a.set("Exportacion", sat.ExportNoAplica)
	a.set("LugarExpedicion", pc.PlaceOfIssue)

	addEmitter(root, pc.Emitter)
	addReceiver(root, pc.Receiver)

	c := root.CreateElement("cfdi:Conceptos").CreateElement("cfdi:Concepto")
	c.CreateAttr("ClaveProdServ", paymentProductCode)
	c.CreateAttr("Cantidad", "1")
	c.CreateAttr("ClaveUnidad", sat.UnitActividad)
	c.CreateAttr("Descripcion", paymentDescription)
	c.CreateAttr("ValorUnitario", "0")
	c.CreateAttr("Importe", "0")
	c.CreateAttr("ObjetoImp", sat.TaxObjectNo)

	pagos := root.CreateElement("cfdi:Complemento").CreateElement("pago20:Pagos")
	pagos.CreateAttr("Version", sat.PagosVersion)
	addPaymentTotals(pagos.CreateElement("pago20:Totales"), totals)
	for i, p := range pc.Payments {
		addPayment(pagos, p, totals.Payments[i])
	}
	return doc
}

func addPaymentTotals(el *etree.Element, t cfdi.PaymentTotals) {
	optMoney := func(k string, n decimal.NullDecimal) {
		if n.Valid {
			el.CreateAttr(k, cfdi.FormatMoney(n.Decimal))
		}
	}
	optMoney("TotalRetencionesIVA", t.WithheldIVA)
	optMoney("TotalRetencionesISR", t.WithheldISR)
	optMoney("TotalRetencionesIEPS", t.WithheldIEPS)
	optMoney("TotalTrasladosBaseIVA16", t.TransferBaseIVA16)
	optMoney("TotalTrasladosImpuestoIVA16", t.TransferTaxIVA16)
	optMoney("TotalTrasladosBaseIVA8", t.TransferBaseIVA8)
	optMoney("TotalTrasladosImpuestoIVA8", t.TransferTaxIVA8)
	optMoney("TotalTrasladosBaseIVA0", t.TransferBaseIVA0)
	optMoney("TotalTrasladosImpuestoIVA0", t.TransferTaxIVA0)
	optMoney("TotalTrasladosBaseIVAExento", t.TransferBaseIVAExempt)
	el.CreateAttr("MontoTotalPagos", cfdi.FormatMoney(t.TotalAmount))
}

func addPayment(parent *etree.Element, p cfdi.Payment, pt cfdi.PaymentTaxTotals) {
	el := parent.CreateElement("pago20:Pago")
	a := attrs{el: el}
	a.set("FechaPago", cfdi.FormatDateTime(p.PaidAt))
	a.set("FormaDePagoP", p.PaymentForm)
	a.set("MonedaP", p.Currency)
	switch {
	case p.ExchangeRate != nil:
		a.set("TipoCambioP", cfdi.FormatExchangeRate(*p.ExchangeRate))
	case p.Currency == sat.CurrencyMXN:
		a.set("TipoCambioP", "1")
	}
	a.set("Monto", cfdi.FormatMoney(p.Amount))
	a.opt("NumOperacion", text(p.OperationNumber))

	for _, d := range p.Documents {
		addDocumentRelation(el, d, p.Currency)
	}

	if len(pt.Transfers) == 0 && len(pt.Withholdings) == 0 {
		return
	}
	imp := el.CreateElement("pago20:ImpuestosP")
	if len(pt.Withholdings) > 0 {
		g := imp.CreateElement("pago20:RetencionesP")
		for _, w := range pt.Withholdings {
			r := g.CreateElement("pago20:RetencionP")
			r.CreateAttr("ImpuestoP", w.Tax)
			r.CreateAttr("ImporteP", cfdi.FormatMoney(w.Amount))
		}
	}
	if len(pt.Transfers) > 0 {
		g := imp.CreateElement("pago20:TrasladosP")
		for _, t := range pt.Transfers {
			tr := g.CreateElement("pago20:TrasladoP")
			tr.CreateAttr("BaseP", cfdi.FormatMoney(t.Base))
			tr.CreateAttr("ImpuestoP", t.Tax)
			tr.CreateAttr("TipoFactorP", t.Factor)
			if !t.Exempt() {
				tr.CreateAttr("TasaOCuotaP", cfdi.FormatRate(t.Rate))
				tr.CreateAttr("ImporteP", cfdi.FormatMoney(t.Amount))
			}
		}
	}
}

func addDocumentRelation(parent *etree.Element, d cfdi.DocumentRelation, paymentCurrency string) {
	el := parent.CreateElement("pago20:DoctoRelacionado")
	a := attrs{el: el}
	a.set("IdDocumento", strings.ToUpper(d.UUID))
	a.opt("Serie", text(d.Series))
	a.opt("Folio", text(d.Folio))
	a.set("MonedaDR", d.Currency)
	switch {
	case d.Equivalence != nil:
		a.set("EquivalenciaDR", d.Equivalence.Round(10).String())
	case d.Currency == paymentCurrency:
		a.set("EquivalenciaDR", "1")
	}
	a.set("NumParcialidad", strconv.Itoa(d.Installment))
	a.set("ImpSaldoAnt", cfdi.FormatMoney(d.PreviousBalance))
	a.set("ImpPagado", cfdi.FormatMoney(d.AmountPaid))
	a.set("ImpSaldoInsoluto", cfdi.FormatMoney(d.RemainingBalance()))
	a.set("ObjetoImpDR", d.TaxObject)

	if d.TaxObject != sat.TaxObjectSi || len(d.Transfers)+len(d.Withholdings) == 0 {
		return
	}
	imp := el.CreateElement("pago20:ImpuestosDR")
	if len(d.Withholdings) > 0 {
		g := imp.CreateElement("pago20:RetencionesDR")
		for _, w := range d.Withholdings {
			r := g.CreateElement("pago20:RetencionDR")
			r.CreateAttr("BaseDR", cfdi.FormatMoney(w.Base))
			r.CreateAttr("ImpuestoDR", w.Tax)
			r.CreateAttr("TipoFactorDR", w.Factor)
			r.CreateAttr("TasaOCuotaDR", cfdi.FormatRate(w.Rate))
			r.CreateAttr("ImporteDR", cfdi.FormatMoney(w.Amount))
		}
	}
	if len(d.Transfers) > 0 {
		g := imp.CreateElement("pago20:TrasladosDR")
		for _, t := range d.Transfers {
			tr := g.CreateElement("pago20:TrasladoDR")
			tr.CreateAttr("BaseDR", cfdi.FormatMoney(t.Base))
			tr.CreateAttr("ImpuestoDR", t.Tax)
			tr.CreateAttr("TipoFactorDR", t.Factor)
			if t.Factor != sat.FactorExento {
				tr.CreateAttr("TasaOCuotaDR", cfdi.FormatRate(t.Rate))
				tr.CreateAttr("ImporteDR", cfdi.FormatMoney(t.Amount))
			}
		}
	}
}
