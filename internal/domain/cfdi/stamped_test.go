package cfdi_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

func TestNewStampedInvoice_NormalizaUUID(t *testing.T) {
	draft := sampleDraft()
	inv, err := cfdi.NewStampedInvoice(draft, cfdi.StampData{
		UUID: "a1b2c3d4-e5f6-4711-8899-aabbccddeeff",
		XML:  "<cfdi:Comprobante/>",
	})

	require.NoError(t, err)
	assert.Equal(t, stampedUUID, inv.UUID())
	assert.Len(t, inv.UUID(), 36)

	// el borrador interno no se ve afectado por cambios del llamador
	draft.Concepts[0].Description = "cambiado"
	assert.Equal(t, "Licencia de software", inv.Draft().Concepts[0].Description)
}

func TestNewStampedInvoice_Invalido(t *testing.T) {
	_, err := cfdi.NewStampedInvoice(sampleDraft(), cfdi.StampData{UUID: "123", XML: "<x/>"})
	assert.Error(t, err)

	_, err = cfdi.NewStampedInvoice(sampleDraft(), cfdi.StampData{UUID: stampedUUID})
	assert.Error(t, err)
}

func TestTransition(t *testing.T) {
	s, err := cfdi.Transition(cfdi.StatePending, cfdi.StateStamping)
	require.NoError(t, err)
	assert.Equal(t, cfdi.StateStamping, s)

	assert.True(t, cfdi.CanTransition(cfdi.StateStamping, cfdi.StatePending))
	assert.True(t, cfdi.CanTransition(cfdi.StateCancelling, cfdi.StateCancelPending))
	assert.True(t, cfdi.StateCancelled.IsFinal())

	s, err = cfdi.Transition(cfdi.StateCancelled, cfdi.StateStamped)
	assert.True(t, errors.Is(err, cfdi.ErrInvalidTransition))
	assert.Equal(t, cfdi.StateCancelled, s)

	_, err = cfdi.Transition(cfdi.StatePending, cfdi.StateCancelling)
	assert.Error(t, err)
}

func TestError_IsPorKind(t *testing.T) {
	wrapped := fmt.Errorf("timbrando: %w", cfdi.NewTransientError("sin respuesta", errors.New("timeout")))

	assert.True(t, errors.Is(wrapped, cfdi.ErrTransient))
	assert.False(t, errors.Is(wrapped, cfdi.ErrProvider))
	assert.Equal(t, cfdi.KindTransient, cfdi.KindOf(wrapped))

	certErr := cfdi.NewCertificateError(cfdi.ErrInvalidPassphrase, "no se pudo abrir la llave")
	assert.Equal(t, cfdi.HintCheckPassphrase, certErr.Hint)
	assert.True(t, errors.Is(certErr, cfdi.ErrInvalidPassphrase))

	signErr := cfdi.NewSigningError("rsa", errors.New("boom"))
	assert.True(t, errors.Is(signErr, cfdi.ErrSigning))
	assert.True(t, errors.Is(signErr, cfdi.ErrSignature))
}
