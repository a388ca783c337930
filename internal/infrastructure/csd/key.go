package csd

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

const redacted = "csd.PrivateKey{REDACTED}"

// PrivateKey llave RSA del CSD. No expone su contenido al formatearse ni al serializarse.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// NewPrivateKey envuelve una llave RSA ya decodificada.
func NewPrivateKey(k *rsa.PrivateKey) *PrivateKey { return &PrivateKey{key: k} }

// Public implementa crypto.Signer.
// Sin llave cargada devuelve nil.
func (k *PrivateKey) Public() crypto.PublicKey {
	if k == nil || k.key == nil {
		return nil
	}
	return &k.key.PublicKey
}

// Sign implementa crypto.Signer.
func (k *PrivateKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if k == nil || k.key == nil {
		return nil, errors.New("csd: llave privada no cargada")
	}
	return k.key.Sign(rand, digest, opts)
}

// RSA devuelve la llave subyacente; solo para las primitivas de firma.
func (k *PrivateKey) RSA() *rsa.PrivateKey { return k.key }

func (k *PrivateKey) String() string   { return redacted }
func (k *PrivateKey) GoString() string { return redacted }

func (k *PrivateKey) MarshalJSON() ([]byte, error) { return []byte(`"REDACTED"`), nil }

// LoadPrivateKey lee un .key del SAT y lo descifra con la contraseña.
func LoadPrivateKey(path, passphrase string) (*PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, "llave privada no encontrada")
		}
		return nil, cfdi.NewCertificateError(cfdi.ErrKeyParse, fmt.Sprintf("leer llave: %v", err))
	}
	return ParsePrivateKey(data, passphrase)
}

// ParsePrivateKey acepta el .key del SAT (PKCS#8 cifrado, DER) y también PEM
// ("ENCRYPTED PRIVATE KEY", "PRIVATE KEY" o "RSA PRIVATE KEY").
func ParsePrivateKey(data []byte, passphrase string) (*PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		switch block.Type {
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, cfdi.NewCertificateError(cfdi.ErrKeyParse, err.Error())
			}
			return &PrivateKey{key: k}, nil
		default:
			data = block.Bytes
		}
	}

	// PKCS#8 sin cifrar
	if k, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, cfdi.NewCertificateError(cfdi.ErrKeyParse, fmt.Sprintf("tipo de llave no soportado %T", k))
		}
		return &PrivateKey{key: rk}, nil
	}

	if passphrase == "" {
		return nil, cfdi.NewCertificateError(cfdi.ErrInvalidPassphrase, "la llave está cifrada y no se recibió contraseña")
	}
	k, err := pkcs8.ParsePKCS8PrivateKeyRSA(data, []byte(passphrase))
	if err != nil {
		if isPassphraseError(err) {
			return nil, cfdi.NewCertificateError(cfdi.ErrInvalidPassphrase, "no se pudo descifrar la llave privada")
		}
		return nil, cfdi.NewCertificateError(cfdi.ErrKeyParse, err.Error())
	}
	return &PrivateKey{key: k}, nil
}

// isPassphraseError pkcs8 no exporta centinelas; una contraseña errónea produce
// relleno inválido o un PKCS#8 descifrado ilegible.
func isPassphraseError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "padding") || strings.Contains(msg, "decrypt")
}

// ── Credencial completa ──────────────────────────────────────────────────────

// Credential certificado y llave del mismo CSD.
type Credential struct {
	Certificate TaxCertificate
	Key         *PrivateKey
}

// Validate comprueba que la llave corresponde a la llave pública del certificado.
func (c Credential) Validate() error {
	if c.Key == nil {
		return cfdi.NewCertificateError(cfdi.ErrKeyParse, "credencial sin llave privada")
	}
	pub, ok := c.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		return cfdi.NewCertificateError(cfdi.ErrCertificateParse, "el certificado no contiene una llave RSA")
	}
	if !pub.Equal(c.Key.Public()) {
		return cfdi.NewCertificateError(cfdi.ErrKeyMismatch, fmt.Sprintf("certificado %s", c.Certificate.Number))
	}
	return nil
}

// NewCredential parsea certificado y llave, y comprueba que formen pareja.
func NewCredential(cerDER, keyDER []byte, passphrase string, now time.Time) (Credential, error) {
	cert, err := ParseCertificate(cerDER, now)
	if err != nil {
		return Credential{}, err
	}
	key, err := ParsePrivateKey(keyDER, passphrase)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{Certificate: cert, Key: key}
	if err := cred.Validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// LoadPFX carga certificado y llave desde un paquete .pfx/.p12.
// El password puede ser vacío si el archivo no está protegido.
func LoadPFX(path, password string) (Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, path)
		}
		return Credential{}, cfdi.NewCertificateError(cfdi.ErrCertificateParse, fmt.Sprintf("leer pfx: %v", err))
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return Credential{}, cfdi.NewCertificateError(cfdi.ErrInvalidPassphrase, "contraseña del pfx incorrecta")
		}
		return Credential{}, cfdi.NewCertificateError(cfdi.ErrCertificateParse, fmt.Sprintf("decodificar pfx: %v", err))
	}
	rk, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return Credential{}, cfdi.NewCertificateError(cfdi.ErrKeyParse, fmt.Sprintf("tipo de llave no soportado %T", priv))
	}
	tc, err := fromX509(cert, time.Now())
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{Certificate: tc, Key: &PrivateKey{key: rk}}
	if err := cred.Validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}
