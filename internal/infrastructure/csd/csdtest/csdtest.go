// Package csdtest genera CSD de prueba en tiempo de ejecución: certificado con número
// de serie en dígitos ASCII, RFC en x500UniqueIdentifier y llave PKCS#8 cifrada.
package csdtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
)

const (
	// Number NoCertificado de los certificados generados.
	Number = "30001000000400002434"
	// Passphrase contraseña de la llave generada.
	Passphrase = "12345678a"
	// RFC emisor de prueba del SAT.
	RFC = "EKU9003173C9"
)

// Bundle material generado para un emisor de prueba.
type Bundle struct {
	CerDER     []byte
	KeyDER     []byte // PKCS#8 cifrado con Passphrase
	Key        *rsa.PrivateKey
	Credential csd.Credential
}

// Options personaliza el certificado generado.
type Options struct {
	RFC       string
	NotBefore time.Time
	NotAfter  time.Time
}

// New genera un CSD vigente para RFC.
func New(t testing.TB) Bundle {
	return NewWith(t, Options{})
}

// NewWith genera un CSD con las opciones dadas. Credential queda vacía si el
// certificado no está vigente hoy.
func NewWith(t testing.TB, opts Options) Bundle {
	t.Helper()
	if opts.RFC == "" {
		opts.RFC = RFC
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-24 * time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: new(big.Int).SetBytes([]byte(Number)),
		Subject: pkix.Name{
			CommonName:   "ESCUELA KEMPER URGATE",
			Organization: []string{"ESCUELA KEMPER URGATE"},
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: asn1.ObjectIdentifier{2, 5, 4, 45}, Value: opts.RFC + " / XIQB891116QE4"},
				{Type: asn1.ObjectIdentifier{2, 5, 4, 5}, Value: " / XIQB891116MGRMZR05"},
			},
		},
		NotBefore:          opts.NotBefore,
		NotAfter:           opts.NotAfter,
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	cer, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := pkcs8.MarshalPrivateKey(key, []byte(Passphrase), nil)
	require.NoError(t, err)

	b := Bundle{CerDER: cer, KeyDER: keyDER, Key: key}
	if now := time.Now(); now.After(opts.NotBefore) && now.Before(opts.NotAfter) {
		b.Credential, err = csd.NewCredential(cer, keyDER, Passphrase, now)
		require.NoError(t, err)
	}
	return b
}
