package pac

import (
	"sync"
	"time"
)

// registryKey todo lo que distingue a un cliente salvo las contraseñas.
type registryKey struct {
	env      Environment
	username string
	baseURL  string
	reseller string
	timeout  time.Duration
}

func keyOf(c *Client) registryKey {
	return registryKey{
		env:      c.env,
		username: c.creds.Username,
		baseURL:  c.baseURL,
		reseller: c.reseller.Username,
		timeout:  c.timeout,
	}
}

// Registry caché de clientes por (ambiente, usuario, URL base, socio, plazo) con semántica get-or-create.
// La crea la raíz de composición y se inyecta; no hay instancias globales.
type Registry struct {
	mu      sync.Mutex
	clients map[registryKey]*Client
	opts    []Option
}

// NewRegistry opts se aplican a cada cliente creado.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{clients: make(map[registryKey]*Client), opts: opts}
}

// Client devuelve el cliente existente con la misma configuración efectiva o crea uno nuevo.
// Si alguna contraseña cambió se reemplaza el cliente.
func (r *Registry) Client(env Environment, creds Credentials, extra ...Option) (*Client, error) {
	// construir no hace red; la clave sale de la configuración ya aplicada
	candidate, err := NewClient(env, creds, append(append([]Option(nil), r.opts...), extra...)...)
	if err != nil {
		return nil, err
	}
	key := keyOf(candidate)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok &&
		c.creds.Password == creds.Password && c.reseller.Password == candidate.reseller.Password {
		return c, nil
	}
	r.clients[key] = candidate
	return candidate, nil
}

// Len número de clientes en caché.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
