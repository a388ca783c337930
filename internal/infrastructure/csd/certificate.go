// Package csd carga el Certificado de Sello Digital (CSD) emitido por el SAT:
// certificado .cer (DER), llave privada .key (PKCS#8 cifrado) y paquetes .pfx.
package csd

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// CertificateNumberLength longitud del NoCertificado del SAT.
const CertificateNumberLength = 20

var (
	// oidUniqueIdentifier x500UniqueIdentifier: el SAT guarda aquí "RFC / RFC representante".
	oidUniqueIdentifier = asn1.ObjectIdentifier{2, 5, 4, 45}
	// oidSerialNumber serialNumber del sujeto: "CURP / CURP representante".
	oidSerialNumber = asn1.ObjectIdentifier{2, 5, 4, 5}

	// rfcInSubject exige separadores para no tomar los primeros 13 caracteres de una CURP.
	rfcInSubject = regexp.MustCompile(`(?:^|[^A-Z0-9Ñ&])([A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3})(?:$|[^A-Z0-9Ñ&])`)
)

// TaxCertificate certificado CSD ya validado. Inmutable tras la carga.
type TaxCertificate struct {
	Number    string // NoCertificado, 20 dígitos
	RFC       string
	Subject   string
	Issuer    string
	SerialHex string
	NotBefore time.Time
	NotAfter  time.Time
	Raw       []byte // DER
	PublicKey crypto.PublicKey
}

// Base64 certificado DER en Base64 (atributo Certificado del comprobante).
func (c TaxCertificate) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Raw)
}

// ValidAt indica si el certificado está vigente en el instante dado.
func (c TaxCertificate) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// LoadCertificate lee un .cer (DER o PEM) y lo valida contra la hora actual.
func LoadCertificate(path string) (TaxCertificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TaxCertificate{}, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, path)
		}
		return TaxCertificate{}, cfdi.NewCertificateError(cfdi.ErrCertificateParse, fmt.Sprintf("leer certificado: %v", err))
	}
	return ParseCertificate(data, time.Now())
}

// ParseCertificate interpreta el certificado y verifica su vigencia en now.
func ParseCertificate(data []byte, now time.Time) (TaxCertificate, error) {
	if block, _ := pem.Decode(data); block != nil && block.Type == "CERTIFICATE" {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return TaxCertificate{}, cfdi.NewCertificateError(cfdi.ErrCertificateParse, err.Error())
	}
	return fromX509(cert, now)
}

func fromX509(cert *x509.Certificate, now time.Time) (TaxCertificate, error) {
	tc := TaxCertificate{
		Number:    CertificateNumber(cert.SerialNumber.Bytes(), cert.SerialNumber.String()),
		RFC:       subjectRFC(cert),
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		SerialHex: cert.SerialNumber.Text(16),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Raw:       cert.Raw,
		PublicKey: cert.PublicKey,
	}
	if !tc.ValidAt(now) {
		return tc, cfdi.NewCertificateError(cfdi.ErrCertificateExpired,
			fmt.Sprintf("certificado %s vigente del %s al %s", tc.Number,
				tc.NotBefore.Format(time.DateOnly), tc.NotAfter.Format(time.DateOnly)))
	}
	return tc, nil
}

// CertificateNumber deriva el NoCertificado del número de serie.
// El SAT codifica el número como dígitos ASCII dentro del serial ("3330..." → "30...").
// Se quitan ceros a la izquierda y se ajusta a 20 dígitos.
func CertificateNumber(serial []byte, decimalFallback string) string {
	digits := string(serial)
	if len(serial) == 0 || !allDigits(serial) {
		digits = decimalFallback
	}
	digits = strings.TrimLeft(digits, "0")
	if len(digits) > CertificateNumberLength {
		return digits[:CertificateNumberLength]
	}
	return strings.Repeat("0", CertificateNumberLength-len(digits)) + digits
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// subjectRFC busca el RFC en x500UniqueIdentifier, luego en serialNumber y al final en todo el sujeto.
func subjectRFC(cert *x509.Certificate) string {
	for _, oid := range []asn1.ObjectIdentifier{oidUniqueIdentifier, oidSerialNumber} {
		for _, atv := range cert.Subject.Names {
			if !atv.Type.Equal(oid) {
				continue
			}
			if s, ok := atv.Value.(string); ok {
				if m := findRFC(s); m != "" {
					return m
				}
			}
		}
	}
	return findRFC(cert.Subject.String())
}

func findRFC(s string) string {
	if m := rfcInSubject.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		return m[1]
	}
	return ""
}
