package csd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

const loadTimeout = 30 * time.Second

// Source origen de los archivos del CSD de un emisor.
type Source interface {
	// Fetch devuelve el .cer y el .key (DER) del RFC. Si no existen devuelve un error
	// que envuelve cfdi.ErrCertificateNotFound.
	Fetch(ctx context.Context, rfc string) (cer, key []byte, err error)
}

// PassphraseFunc resuelve la contraseña de la llave de un emisor.
type PassphraseFunc func(rfc string) (string, error)

// StaticPassphrase misma contraseña para todos los emisores (instalaciones de un solo RFC).
func StaticPassphrase(p string) PassphraseFunc {
	return func(string) (string, error) { return p, nil }
}

// Store caché de solo lectura de credenciales por RFC emisor. Cada RFC se carga una
// sola vez aunque varias peticiones lo pidan al mismo tiempo; los fallos no se cachean.
type Store struct {
	src        Source
	passphrase PassphraseFunc
	now        func() time.Time
	log        zerolog.Logger

	mu      sync.Mutex
	entries map[string]*storeEntry
}

type storeEntry struct {
	once sync.Once
	cred Credential
	err  error
}

// StoreOption opción funcional del Store.
type StoreOption func(*Store)

// WithClock reemplaza el reloj usado para validar vigencia.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger asigna el logger del componente.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore crea el almacén de credenciales.
func NewStore(src Source, passphrase PassphraseFunc, opts ...StoreOption) *Store {
	s := &Store{
		src:        src,
		passphrase: passphrase,
		now:        time.Now,
		log:        zerolog.Nop(),
		entries:    make(map[string]*storeEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get devuelve la credencial del emisor, cargándola la primera vez.
func (s *Store) Get(ctx context.Context, rfc string) (Credential, error) {
	rfc = sat.NormalizeRFC(rfc)

	s.mu.Lock()
	e, ok := s.entries[rfc]
	if !ok {
		e = &storeEntry{}
		s.entries[rfc] = e
	}
	s.mu.Unlock()

	// la carga sirve a todos los que esperan en once: no depende del contexto del primero
	e.once.Do(func() {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		e.cred, e.err = s.load(loadCtx, rfc)
	})
	if e.err != nil {
		s.mu.Lock()
		if s.entries[rfc] == e {
			delete(s.entries, rfc)
		}
		s.mu.Unlock()
		return Credential{}, e.err
	}
	// la vigencia se revisa en cada uso: un CSD cacheado puede vencer
	if !e.cred.Certificate.ValidAt(s.now()) {
		s.Invalidate(rfc)
		return Credential{}, cfdi.NewCertificateError(cfdi.ErrCertificateExpired, "certificado "+e.cred.Certificate.Number)
	}
	return e.cred, nil
}

// Invalidate descarta la credencial cacheada (renovación de CSD).
func (s *Store) Invalidate(rfc string) {
	s.mu.Lock()
	delete(s.entries, sat.NormalizeRFC(rfc))
	s.mu.Unlock()
}

func (s *Store) load(ctx context.Context, rfc string) (Credential, error) {
	cer, key, err := s.src.Fetch(ctx, rfc)
	if err != nil {
		var ce *cfdi.Error
		if errors.As(err, &ce) {
			return Credential{}, err
		}
		return Credential{}, cfdi.NewTransientError(fmt.Sprintf("leer CSD de %s", rfc), err)
	}
	pass, err := s.passphrase(rfc)
	if err != nil {
		return Credential{}, cfdi.NewConfigError("contraseña del CSD de %s: %v", rfc, err)
	}
	cred, err := NewCredential(cer, key, pass, s.now())
	if err != nil {
		s.log.Warn().Str("rfc", rfc).Err(err).Msg("CSD rechazado")
		return Credential{}, err
	}
	if cred.Certificate.RFC != "" && cred.Certificate.RFC != rfc {
		return Credential{}, cfdi.NewCertificateError(cfdi.ErrKeyMismatch,
			fmt.Sprintf("el certificado pertenece a %s, no a %s", cred.Certificate.RFC, rfc))
	}
	s.log.Info().Str("rfc", rfc).Str("no_certificado", cred.Certificate.Number).
		Time("vigencia", cred.Certificate.NotAfter).Msg("CSD cargado")
	return cred, nil
}

// ── Fuente en disco ──────────────────────────────────────────────────────────

// FileSource lee <Dir>/<RFC>.cer y <Dir>/<RFC>.key.
type FileSource struct {
	Dir string
}

func (f FileSource) Fetch(_ context.Context, rfc string) ([]byte, []byte, error) {
	cer, err := readCSDFile(filepath.Join(f.Dir, rfc+".cer"))
	if err != nil {
		return nil, nil, err
	}
	key, err := readCSDFile(filepath.Join(f.Dir, rfc+".key"))
	if err != nil {
		return nil, nil, err
	}
	return cer, key, nil
}

func readCSDFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("leer %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
