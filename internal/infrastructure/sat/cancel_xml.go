// Solicitud de cancelación (esquema cancelacfd.sat.gob.mx) con firma XMLDSig enveloped.

package sat

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// Namespaces y algoritmos de la firma de cancelación.
const (
	NsCancelacion      = "http://cancelacfd.sat.gob.mx"
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// CancellationDocument folios a cancelar de un mismo emisor.
type CancellationDocument struct {
	EmitterRFC string
	IssuedAt   time.Time
	Folios     []cfdi.CancellationRequest
}

// BuildCancellationXML arma y firma la solicitud de cancelación con el CSD del emisor.
// Cancelacion no declara xsi/xsd: así el SignedInfo canonicalizado aislado coincide con
// el canonicalizado en contexto que verifica el SAT.
func BuildCancellationXML(d CancellationDocument, cred csd.Credential) (string, error) {
	if len(d.Folios) == 0 {
		return "", cfdi.NewValidationError([]cfdi.FieldError{{Field: "folios", Rule: "min", Message: "sin folios a cancelar"}}, nil)
	}
	for _, f := range d.Folios {
		if err := f.Validate(); err != nil {
			return "", err
		}
	}
	if cred.Key == nil {
		return "", cfdi.NewSigningError("credencial sin llave privada", nil)
	}

	doc := etree.NewDocument()
	root := doc.CreateElement("Cancelacion")
	root.CreateAttr("xmlns", NsCancelacion)
	root.CreateAttr("Fecha", cfdi.FormatDateTime(d.IssuedAt))
	root.CreateAttr("RfcEmisor", sat.NormalizeRFC(d.EmitterRFC))
	folios := root.CreateElement("Folios")
	for _, f := range d.Folios {
		el := folios.CreateElement("Folio")
		el.CreateAttr("UUID", strings.ToUpper(f.UUID))
		el.CreateAttr("Motivo", f.Reason)
		if f.SubstitutionUUID != "" {
			el.CreateAttr("FolioSustitucion", strings.ToUpper(strings.TrimSpace(f.SubstitutionUUID)))
		}
	}

	unsigned, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("sat: serializar cancelación: %w", err)
	}
	canonicalDoc, err := canonicalize([]byte(unsigned))
	if err != nil {
		return "", cfdi.NewSigningError("canonicalizar cancelación", err)
	}
	docDigest := sha1.Sum(canonicalDoc)

	signedInfo := buildSignedInfo(base64.StdEncoding.EncodeToString(docDigest[:]))
	canonicalSignedInfo, err := canonicalize([]byte(signedInfo))
	if err != nil {
		return "", cfdi.NewSigningError("canonicalizar SignedInfo", err)
	}
	siDigest := sha1.Sum(canonicalSignedInfo)
	sig, err := cred.Key.Sign(nil, siDigest[:], crypto.SHA1)
	if err != nil {
		return "", cfdi.NewSigningError("firmar SignedInfo", err)
	}

	signature := buildSignature(signedInfo, base64.StdEncoding.EncodeToString(sig), cred.Certificate)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signature); err != nil {
		return "", fmt.Errorf("sat: parsear Signature: %w", err)
	}
	root.AddChild(sigDoc.Root())

	out, err := writeDocument(doc)
	if err != nil {
		return "", err
	}
	return xmlDeclaration + out, nil
}

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"></CanonicalizationMethod>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA1 + `"></SignatureMethod>`)
	sb.WriteString(`<Reference URI="">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"></Transform></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA1 + `"></DigestMethod>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfo, signatureB64 string, cert csd.TaxCertificate) string {
	serial, _ := new(big.Int).SetString(cert.SerialHex, 16)
	if serial == nil {
		serial = new(big.Int)
	}
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfo)
	sb.WriteString(`<SignatureValue>` + signatureB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509IssuerSerial>`)
	sb.WriteString(`<X509IssuerName>` + escapeXML(cert.Issuer) + `</X509IssuerName>`)
	sb.WriteString(`<X509SerialNumber>` + serial.String() + `</X509SerialNumber>`)
	sb.WriteString(`</X509IssuerSerial>`)
	sb.WriteString(`<X509Certificate>` + cert.Base64() + `</X509Certificate>`)
	sb.WriteString(`</X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// VerifyCancellationXML comprueba digest y firma de una solicitud de cancelación
// usando el certificado incluido en KeyInfo.
func VerifyCancellationXML(signed string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signed); err != nil {
		return fmt.Errorf("sat: parsear cancelación: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("sat: documento sin raíz")
	}
	sigEl := root.SelectElement("Signature")
	if sigEl == nil {
		return fmt.Errorf("sat: la cancelación no está firmada")
	}
	digestB64 := elementText(sigEl, "SignedInfo/Reference/DigestValue")
	sigB64 := elementText(sigEl, "SignatureValue")
	certB64 := elementText(sigEl, "KeyInfo/X509Data/X509Certificate")

	// enveloped-signature: el digest se calcula sin el nodo Signature
	unsignedDoc := doc.Copy()
	unsignedRoot := unsignedDoc.Root()
	unsignedRoot.RemoveChild(unsignedRoot.SelectElement("Signature"))
	for _, t := range unsignedDoc.Child {
		if _, ok := t.(*etree.ProcInst); ok {
			unsignedDoc.RemoveChild(t)
		}
	}
	unsigned, err := unsignedDoc.WriteToString()
	if err != nil {
		return err
	}
	canonicalDoc, err := canonicalize([]byte(unsigned))
	if err != nil {
		return err
	}
	docDigest := sha1.Sum(canonicalDoc)
	if base64.StdEncoding.EncodeToString(docDigest[:]) != digestB64 {
		return fmt.Errorf("sat: DigestValue no coincide")
	}

	siDoc := etree.NewDocument()
	si := sigEl.SelectElement("SignedInfo").Copy()
	if si.SelectAttr("xmlns") == nil {
		si.CreateAttr("xmlns", NamespaceDS)
	}
	siDoc.SetRoot(si)
	siXML, err := siDoc.WriteToString()
	if err != nil {
		return err
	}
	canonicalSI, err := canonicalize([]byte(siXML))
	if err != nil {
		return err
	}

	der, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return fmt.Errorf("sat: X509Certificate inválido: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("sat: X509Certificate inválido: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("sat: el certificado no contiene una llave RSA")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("sat: SignatureValue inválido: %w", err)
	}
	siDigest := sha1.Sum(canonicalSI)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA1, siDigest[:], sig)
}

func elementText(el *etree.Element, path string) string {
	if found := el.FindElement(path); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}
