package pac_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
)

func TestRegistry_MismaClaveMismoCliente(t *testing.T) {
	r := pac.NewRegistry()
	creds := pac.Credentials{Username: "demo@example.com", Password: "secreto"}

	a, err := r.Client(pac.EnvDemo, creds)
	require.NoError(t, err)
	b, err := r.Client(pac.EnvDemo, creds)
	require.NoError(t, err)
	assert.Same(t, a, b)

	prod, err := r.Client(pac.EnvProd, creds)
	require.NoError(t, err)
	assert.NotSame(t, a, prod)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_CambioDeContraseña(t *testing.T) {
	r := pac.NewRegistry()
	a, err := r.Client(pac.EnvDemo, pac.Credentials{Username: "demo@example.com", Password: "uno"})
	require.NoError(t, err)
	b, err := r.Client(pac.EnvDemo, pac.Credentials{Username: "demo@example.com", Password: "dos"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_URLBaseDistintaOtroCliente(t *testing.T) {
	r := pac.NewRegistry()
	creds := pac.Credentials{Username: "demo@example.com", Password: "secreto"}

	a, err := r.Client(pac.EnvDemo, creds, pac.WithBaseURL("http://127.0.0.1:9001"))
	require.NoError(t, err)
	b, err := r.Client(pac.EnvDemo, creds, pac.WithBaseURL("http://127.0.0.1:9002"))
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	// la barra final no cambia la URL efectiva
	c, err := r.Client(pac.EnvDemo, creds, pac.WithBaseURL("http://127.0.0.1:9001/"))
	require.NoError(t, err)
	assert.Same(t, a, c)

	socio, err := r.Client(pac.EnvDemo, creds, pac.WithBaseURL("http://127.0.0.1:9001"),
		pac.WithReseller(pac.Credentials{Username: "socio@example.com", Password: "s"}))
	require.NoError(t, err)
	assert.NotSame(t, a, socio)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_PresupuestoDeTimbrado(t *testing.T) {
	r := pac.NewRegistry(pac.WithTimeout(10 * time.Second))
	c, err := r.Client(pac.EnvDemo, pac.Credentials{Username: "demo@example.com", Password: "secreto"})
	require.NoError(t, err)
	assert.Equal(t, pac.MaxStampCalls*10*time.Second, c.StampBudget())

	otro, err := r.Client(pac.EnvDemo, pac.Credentials{Username: "demo@example.com", Password: "secreto"},
		pac.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.NotSame(t, c, otro)
}

func TestRegistry_Concurrente(t *testing.T) {
	r := pac.NewRegistry()
	creds := pac.Credentials{Username: "demo@example.com", Password: "secreto"}

	const n = 32
	clients := make([]*pac.Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Client(pac.EnvDemo, creds)
			if err == nil {
				clients[i] = c
			}
		}(i)
	}
	wg.Wait()

	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
	assert.Equal(t, 1, r.Len())
}

func TestNewClient_Configuracion(t *testing.T) {
	_, err := pac.NewClient("staging", pac.Credentials{Username: "u", Password: "p"})
	assert.ErrorIs(t, err, cfdi.ErrConfig)

	_, err = pac.NewClient(pac.EnvDemo, pac.Credentials{Username: "u"})
	assert.ErrorIs(t, err, cfdi.ErrConfig)

	c, err := pac.NewClient(pac.EnvProd, pac.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, pac.EnvProd, c.Environment())
	assert.Equal(t, "https://facturacion.finkok.com", pac.EnvProd.BaseURL())
}
