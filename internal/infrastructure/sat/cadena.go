package sat

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// Reglas de cadenaoriginal_4_0.xslt y pagos20.xslt. Requerido siempre aporta "|valor"
// (vacío si falta); Opcional aporta "|valor" solo si el atributo existe, aunque esté vacío.
type field struct {
	name     string
	required bool
}

func req(n string) field { return field{n, true} }
func opt(n string) field { return field{n, false} }

var (
	comprobanteFields = []field{
		req("Version"), opt("Serie"), opt("Folio"), req("Fecha"), opt("FormaPago"), req("NoCertificado"),
		opt("CondicionesDePago"), req("SubTotal"), opt("Descuento"), req("Moneda"), opt("TipoCambio"),
		req("Total"), req("TipoDeComprobante"), req("Exportacion"), opt("MetodoPago"), req("LugarExpedicion"),
		opt("Confirmacion"),
	}
	informacionGlobalFields = []field{req("Periodicidad"), req("Meses"), req("Año")}
	emisorFields            = []field{req("Rfc"), req("Nombre"), req("RegimenFiscal"), opt("FacAtrAdquirente")}
	receptorFields          = []field{
		req("Rfc"), req("Nombre"), req("DomicilioFiscalReceptor"), opt("ResidenciaFiscal"),
		opt("NumRegIdTrib"), req("RegimenFiscalReceptor"), req("UsoCFDI"),
	}
	conceptoFields = []field{
		req("ClaveProdServ"), opt("NoIdentificacion"), req("Cantidad"), req("ClaveUnidad"), opt("Unidad"),
		req("Descripcion"), req("ValorUnitario"), req("Importe"), opt("Descuento"), req("ObjetoImp"),
	}
	conceptoTrasladoFields  = []field{req("Base"), req("Impuesto"), req("TipoFactor"), opt("TasaOCuota"), opt("Importe")}
	conceptoRetencionFields = []field{req("Base"), req("Impuesto"), req("TipoFactor"), req("TasaOCuota"), req("Importe")}
	retencionFields         = []field{req("Impuesto"), req("Importe")}
	trasladoFields          = []field{req("Base"), req("Impuesto"), req("TipoFactor"), opt("TasaOCuota"), opt("Importe")}

	// Pagos 2.0
	pagosTotalesFields = []field{
		opt("TotalRetencionesIVA"), opt("TotalRetencionesISR"), opt("TotalRetencionesIEPS"),
		opt("TotalTrasladosBaseIVA16"), opt("TotalTrasladosImpuestoIVA16"),
		opt("TotalTrasladosBaseIVA8"), opt("TotalTrasladosImpuestoIVA8"),
		opt("TotalTrasladosBaseIVA0"), opt("TotalTrasladosImpuestoIVA0"),
		opt("TotalTrasladosBaseIVAExento"), req("MontoTotalPagos"),
	}
	pagoFields = []field{
		req("FechaPago"), req("FormaDePagoP"), req("MonedaP"), opt("TipoCambioP"), req("Monto"),
		opt("NumOperacion"), opt("RfcEmisorCtaOrd"), opt("NomBancoOrdExt"), opt("CtaOrdenante"),
		opt("RfcEmisorCtaBen"), opt("CtaBeneficiario"), opt("TipoCadPago"), opt("CertPago"),
		opt("CadPago"), opt("SelloPago"),
	}
	doctoFields = []field{
		req("IdDocumento"), opt("Serie"), opt("Folio"), req("MonedaDR"), opt("EquivalenciaDR"),
		req("NumParcialidad"), req("ImpSaldoAnt"), req("ImpPagado"), req("ImpSaldoInsoluto"), req("ObjetoImpDR"),
	}
	retencionDRFields = []field{req("BaseDR"), req("ImpuestoDR"), req("TipoFactorDR"), req("TasaOCuotaDR"), req("ImporteDR")}
	trasladoDRFields  = []field{req("BaseDR"), req("ImpuestoDR"), req("TipoFactorDR"), opt("TasaOCuotaDR"), opt("ImporteDR")}
	retencionPFields  = []field{req("ImpuestoP"), req("ImporteP")}
	trasladoPFields   = []field{req("BaseP"), req("ImpuestoP"), req("TipoFactorP"), opt("TasaOCuotaP"), opt("ImporteP")}
)

// BuildCadenaOriginal cadena original del comprobante para el NoCertificado dado.
// Se deriva del mismo documento que produce BuildInvoiceXML, así XML y cadena no divergen.
func BuildCadenaOriginal(d cfdi.InvoiceDraft, certificateNumber string) (cfdi.CadenaOriginal, error) {
	doc, err := buildInvoiceDocument(d, ModeFinal, SealInfo{CertificateNumber: certificateNumber})
	if err != nil {
		return "", err
	}
	return cadenaFromDocument(doc)
}

// CadenaFromXML cadena original de un comprobante ya serializado (p. ej. para verificar su sello).
func CadenaFromXML(xmlDoc string) (cfdi.CadenaOriginal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlDoc); err != nil {
		return "", fmt.Errorf("sat: parsear XML: %w", err)
	}
	return cadenaFromDocument(doc)
}

func cadenaFromDocument(doc *etree.Document) (cfdi.CadenaOriginal, error) {
	root := doc.Root()
	if root == nil || root.Tag != "Comprobante" {
		return "", fmt.Errorf("sat: el documento no es un cfdi:Comprobante")
	}
	var b strings.Builder
	b.WriteString("|")

	write(&b, root, comprobanteFields)
	if el := root.SelectElement("InformacionGlobal"); el != nil {
		write(&b, el, informacionGlobalFields)
	}
	if rel := root.SelectElement("CfdiRelacionados"); rel != nil {
		write(&b, rel, []field{req("TipoRelacion")})
		for _, r := range rel.SelectElements("CfdiRelacionado") {
			write(&b, r, []field{req("UUID")})
		}
	}
	if el := root.SelectElement("Emisor"); el != nil {
		write(&b, el, emisorFields)
	}
	if el := root.SelectElement("Receptor"); el != nil {
		write(&b, el, receptorFields)
	}
	if cs := root.SelectElement("Conceptos"); cs != nil {
		for _, c := range cs.SelectElements("Concepto") {
			write(&b, c, conceptoFields)
			if imp := c.SelectElement("Impuestos"); imp != nil {
				writeEach(&b, imp, "Traslados", "Traslado", conceptoTrasladoFields)
				writeEach(&b, imp, "Retenciones", "Retencion", conceptoRetencionFields)
			}
		}
	}
	if imp := root.SelectElement("Impuestos"); imp != nil {
		writeEach(&b, imp, "Retenciones", "Retencion", retencionFields)
		write(&b, imp, []field{opt("TotalImpuestosRetenidos")})
		writeEach(&b, imp, "Traslados", "Traslado", trasladoFields)
		write(&b, imp, []field{opt("TotalImpuestosTrasladados")})
	}
	if comp := root.SelectElement("Complemento"); comp != nil {
		if pagos := comp.SelectElement("Pagos"); pagos != nil {
			writePagos(&b, pagos)
		}
	}

	b.WriteString("||")
	return cfdi.CadenaOriginal(b.String()), nil
}

func writePagos(b *strings.Builder, pagos *etree.Element) {
	write(b, pagos, []field{req("Version")})
	if t := pagos.SelectElement("Totales"); t != nil {
		write(b, t, pagosTotalesFields)
	}
	for _, p := range pagos.SelectElements("Pago") {
		write(b, p, pagoFields)
		for _, d := range p.SelectElements("DoctoRelacionado") {
			write(b, d, doctoFields)
			if imp := d.SelectElement("ImpuestosDR"); imp != nil {
				writeEach(b, imp, "RetencionesDR", "RetencionDR", retencionDRFields)
				writeEach(b, imp, "TrasladosDR", "TrasladoDR", trasladoDRFields)
			}
		}
		if imp := p.SelectElement("ImpuestosP"); imp != nil {
			writeEach(b, imp, "RetencionesP", "RetencionP", retencionPFields)
			writeEach(b, imp, "TrasladosP", "TrasladoP", trasladoPFields)
		}
	}
}

func writeEach(b *strings.Builder, parent *etree.Element, group, item string, fields []field) {
	g := parent.SelectElement(group)
	if g == nil {
		return
	}
	for _, el := range g.SelectElements(item) {
		write(b, el, fields)
	}
}

func write(b *strings.Builder, el *etree.Element, fields []field) {
	for _, f := range fields {
		a := el.SelectAttr(f.name)
		if a == nil && !f.required {
			continue
		}
		b.WriteByte('|')
		if a != nil {
			b.WriteString(normalizeSpace(a.Value))
		}
	}
}

// normalizeSpace colapsa solo el espacio en blanco de XML (espacio, tab, CR, LF);
// un espacio no separable u otro espacio Unicode es parte del valor.
func normalizeSpace(v string) string {
	return strings.Join(strings.FieldsFunc(v, isXMLSpace), " ")
}

func isXMLSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
