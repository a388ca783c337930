package sat

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
)

// Sign calcula el sello: SHA-256 de la cadena y firma RSASSA-PKCS1-v1.5, en Base64.
// PKCS#1 v1.5 es determinista: misma cadena y llave producen el mismo sello.
func Sign(cadena cfdi.CadenaOriginal, key crypto.Signer) (string, error) {
	// un *rsa.PrivateKey o *csd.PrivateKey nil también llega como interfaz no nil
	if key == nil || isNilPointer(key) {
		return "", cfdi.NewSigningError("llave privada ausente", nil)
	}
	pub := key.Public()
	if pub == nil || isNilPointer(pub) {
		return "", cfdi.NewSigningError("llave privada ausente", nil)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return "", cfdi.NewSigningError(fmt.Sprintf("la llave debe ser RSA, se recibió %T", pub), nil)
	}
	if rsaPub.N == nil {
		return "", cfdi.NewSigningError("llave RSA incompleta", nil)
	}
	digest := sha256.Sum256(cadena.Bytes())
	sig, err := key.Sign(nil, digest[:], crypto.SHA256)
	if err != nil {
		return "", cfdi.NewSigningError("firma RSA", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// ErrSealMismatch el sello no corresponde a la cadena y el certificado.
var ErrSealMismatch = errors.New("sat: el sello no corresponde a la cadena original")

// Verify comprueba el sello contra la cadena y la llave pública del certificado.
func Verify(cadena cfdi.CadenaOriginal, sealB64 string, cert csd.TaxCertificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return cfdi.NewCertificateError(cfdi.ErrCertificateParse, "el certificado no contiene una llave RSA")
	}
	sig, err := base64.StdEncoding.DecodeString(sealB64)
	if err != nil {
		return fmt.Errorf("%w: Base64 inválido: %v", ErrSealMismatch, err)
	}
	digest := sha256.Sum256(cadena.Bytes())
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrSealMismatch
	}
	return nil
}
