// Package cache implementa el candado de timbrado en curso: impide que el mismo
// comprobante se envíe dos veces al PAC de forma concurrente.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// StampGuard candado con expiración por clave de documento.
type StampGuard interface {
	// Acquire devuelve un token si la clave estaba libre, o cfdi.ErrStampInFlight.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Release libera la clave solo si el token coincide.
	Release(ctx context.Context, key, token string) error
}

func inFlight(key string) error {
	return fmt.Errorf("%w: %s", cfdi.ErrStampInFlight, key)
}

// ── Implementación en memoria ────────────────────────────────────────────────

type lease struct {
	token     string
	expiresAt time.Time
}

// MemoryGuard candado para una sola instancia y para pruebas.
type MemoryGuard struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryGuard crea el candado en memoria.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{leases: make(map[string]lease), now: time.Now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" || ttl <= 0 {
		return "", fmt.Errorf("cache: clave vacía o ttl no positivo")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if l, ok := g.leases[key]; ok && now.Before(l.expiresAt) {
		return "", inFlight(key)
	}
	// limpieza perezosa de expirados
	for k, l := range g.leases {
		if !now.Before(l.expiresAt) {
			delete(g.leases, k)
		}
	}
	token := uuid.NewString()
	g.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

func (g *MemoryGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.leases[key]; ok && l.token == token {
		delete(g.leases, key)
	}
	return nil
}
