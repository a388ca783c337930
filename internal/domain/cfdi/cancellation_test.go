package cfdi_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

const (
	stampedUUID = "A1B2C3D4-E5F6-4711-8899-AABBCCDDEEFF"
	newUUID     = "0F1E2D3C-4B5A-4697-8877-665544332211"
)

func TestCancellationValidate_Motivo01SinSustitucion(t *testing.T) {
	req := cfdi.CancellationRequest{UUID: stampedUUID, Reason: sat.CancelReasonReplaced}

	err := req.Validate()

	require.Error(t, err)
	assert.True(t, errors.Is(err, cfdi.ErrMissingSubstitution))
	assert.True(t, errors.Is(err, cfdi.ErrValidation))
	assert.Equal(t, cfdi.KindValidation, cfdi.KindOf(err))
}

func TestCancellationValidate_Casos(t *testing.T) {
	cases := []struct {
		name    string
		req     cfdi.CancellationRequest
		wantErr bool
	}{
		{"motivo 01 con sustitución", cfdi.CancellationRequest{UUID: stampedUUID, Reason: "01", SubstitutionUUID: newUUID}, false},
		{"motivo 02", cfdi.CancellationRequest{UUID: stampedUUID, Reason: "02"}, false},
		{"motivo 03 en minúsculas", cfdi.CancellationRequest{UUID: "a1b2c3d4-e5f6-4711-8899-aabbccddeeff", Reason: "03"}, false},
		{"motivo desconocido", cfdi.CancellationRequest{UUID: stampedUUID, Reason: "05"}, true},
		{"UUID sin guiones", cfdi.CancellationRequest{UUID: "A1B2C3D4E5F647118899AABBCCDDEEFF", Reason: "02"}, true},
		{"sustitución con motivo 02", cfdi.CancellationRequest{UUID: stampedUUID, Reason: "02", SubstitutionUUID: newUUID}, true},
		{"sustitución igual al cancelado", cfdi.CancellationRequest{UUID: stampedUUID, Reason: "01", SubstitutionUUID: stampedUUID}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, cfdi.ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}
