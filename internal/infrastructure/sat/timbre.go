package sat

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// MexicoCity zona del timbrado; si el sistema no tiene tzdata se usa UTC-6 fijo.
var MexicoCity = func() *time.Location {
	if loc, err := time.LoadLocation("America/Mexico_City"); err == nil {
		return loc
	}
	return time.FixedZone("CST", -6*60*60)
}()

// StampedDocument datos extraídos de un CFDI timbrado.
type StampedDocument struct {
	cfdi.StampData
	CertificateNumber string // NoCertificado del emisor
	ProviderRFC       string // RfcProvCertif
	Version           string // versión del TimbreFiscalDigital
}

// ParseStampedXML lee el TimbreFiscalDigital y el sello del comprobante.
func ParseStampedXML(xmlDoc string) (StampedDocument, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlDoc); err != nil {
		return StampedDocument{}, fmt.Errorf("sat: parsear CFDI timbrado: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Comprobante" {
		return StampedDocument{}, fmt.Errorf("sat: el documento no es un cfdi:Comprobante")
	}
	tfd := root.FindElement("./Complemento/TimbreFiscalDigital")
	if tfd == nil {
		return StampedDocument{}, fmt.Errorf("sat: el CFDI no contiene TimbreFiscalDigital")
	}

	out := StampedDocument{
		StampData: cfdi.StampData{
			UUID:                 strings.ToUpper(tfd.SelectAttrValue("UUID", "")),
			PACSeal:              tfd.SelectAttrValue("SelloSAT", ""),
			PACCertificateNumber: tfd.SelectAttrValue("NoCertificadoSAT", ""),
			CFDISeal:             tfd.SelectAttrValue("SelloCFD", root.SelectAttrValue("Sello", "")),
			XML:                  xmlDoc,
		},
		CertificateNumber: root.SelectAttrValue("NoCertificado", ""),
		ProviderRFC:       tfd.SelectAttrValue("RfcProvCertif", ""),
		Version:           tfd.SelectAttrValue("Version", ""),
	}
	if fecha := tfd.SelectAttrValue("FechaTimbrado", ""); fecha != "" {
		t, err := time.ParseInLocation("2006-01-02T15:04:05", fecha, MexicoCity)
		if err != nil {
			return StampedDocument{}, fmt.Errorf("sat: FechaTimbrado inválida %q: %w", fecha, err)
		}
		out.StampedAt = t
	}
	if !cfdi.IsCanonicalUUID(out.UUID) {
		return StampedDocument{}, fmt.Errorf("sat: UUID de timbre inválido %q", out.UUID)
	}
	return out, nil
}

// TimbreCadena cadena original del complemento de certificación digital del SAT
// (||Version|UUID|FechaTimbrado|RfcProvCertif|Leyenda|SelloCFD|NoCertificadoSAT||).
func TimbreCadena(xmlDoc string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlDoc); err != nil {
		return "", fmt.Errorf("sat: parsear CFDI timbrado: %w", err)
	}
	tfd := doc.FindElement("//TimbreFiscalDigital")
	if tfd == nil {
		return "", fmt.Errorf("sat: el CFDI no contiene TimbreFiscalDigital")
	}
	var b strings.Builder
	b.WriteString("|")
	write(&b, tfd, []field{
		req("Version"), req("UUID"), req("FechaTimbrado"), req("RfcProvCertif"),
		opt("Leyenda"), req("SelloCFD"), req("NoCertificadoSAT"),
	})
	b.WriteString("||")
	return b.String(), nil
}
