package pac_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd/csdtest"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
)

func cancelResponse(estatusUUID, estatusCancelacion string) string {
	return envelope(fmt.Sprintf(
		`<tns:cancel_signatureResponse xmlns:tns="http://facturacion.finkok.com/cancel"><tns:cancel_signatureResult xmlns:s0="apps.services.soap.core.views">`+
			`<s0:Folios><s0:Folio><s0:EstatusCancelacion>%s</s0:EstatusCancelacion><s0:EstatusUUID>%s</s0:EstatusUUID><s0:UUID>%s</s0:UUID></s0:Folio></s0:Folios>`+
			`<s0:Acuse>&lt;Acuse/&gt;</s0:Acuse><s0:Fecha>2024-06-02T08:00:05</s0:Fecha><s0:RfcEmisor>EKU9003173C9</s0:RfcEmisor>`+
			`</tns:cancel_signatureResult></tns:cancel_signatureResponse>`,
		estatusCancelacion, estatusUUID, invoiceUUID))
}

func cancelParams(t *testing.T, reason, substitution string) pac.CancelParams {
	t.Helper()
	bundle := csdtest.New(t)
	return pac.CancelParams{
		EmitterRFC: csdtest.RFC,
		Request:    cfdi.CancellationRequest{UUID: invoiceUUID, Reason: reason, SubstitutionUUID: substitution},
		Credential: bundle.Credential,
	}
}

func TestCancel_MotivoSinSustitucionNoUsaLaRed(t *testing.T) {
	fake, srv := newFakePAC(t)
	c := newClient(t, srv)

	_, err := c.Cancel(context.Background(), cancelParams(t, "01", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, cfdi.ErrMissingSubstitution)
	assert.Equal(t, 0, fake.total())
}

func TestCancel_Resultados(t *testing.T) {
	cases := []struct {
		name               string
		estatusUUID        string
		estatusCancelacion string
		want               pac.CancelOutcome
	}{
		{"cancelado", "201", "Cancelado sin aceptación", pac.OutcomeCancelled},
		{"en proceso", "201", "En proceso", pac.OutcomePendingAcceptance},
		{"previamente cancelado", "202", "Cancelado sin aceptación", pac.OutcomeAlreadyCancelled},
		{"rfc no corresponde", "203", "", pac.OutcomeCertificateMismatch},
		{"uuid inexistente", "205", "", pac.OutcomeNotFound},
		{"no cancelable", "no_cancelable", "No cancelable", pac.OutcomeNotCancelable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake, srv := newFakePAC(t)
			fake.on("cancel_signature", respond(cancelResponse(tc.estatusUUID, tc.estatusCancelacion)))
			c := newClient(t, srv)

			res, err := c.Cancel(context.Background(), cancelParams(t, "02", ""))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome)
			assert.Equal(t, invoiceUUID, res.UUID)
			assert.Equal(t, "<Acuse/>", res.Receipt)
			assert.Equal(t, 1, fake.total())
		})
	}
}

func TestCancel_EnviaSolicitudFirmada(t *testing.T) {
	fake, srv := newFakePAC(t)
	fake.on("cancel_signature", respond(cancelResponse("201", "Cancelado sin aceptación")))
	now := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	c := newClient(t, srv, pac.WithClock(func() time.Time { return now }))

	_, err := c.Cancel(context.Background(), cancelParams(t, "01", "A1B2C3D4-E5F6-4789-9ABC-DEF012345678"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(requestField(t, fake.lastBody("cancel_signature"), "xml"))
	require.NoError(t, err)
	signed := string(raw)
	assert.Contains(t, signed, `FolioSustitucion="A1B2C3D4-E5F6-4789-9ABC-DEF012345678"`)
	assert.Contains(t, signed, `RfcEmisor="EKU9003173C9"`)
	assert.Contains(t, signed, `Fecha="`+now.In(sat.MexicoCity).Format("2006-01-02T15:04:05")+`"`)
	assert.NoError(t, sat.VerifyCancellationXML(signed))
}

func TestCancel_FalloDeTransporteNoSeReintenta(t *testing.T) {
	fake, srv := newFakePAC(t)
	fake.on("cancel_signature", reset)
	c := newClient(t, srv)

	_, err := c.Cancel(context.Background(), cancelParams(t, "02", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, cfdi.ErrTransient)

	e, ok := cfdi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, cfdi.HintReconcileStatus, e.Hint)
	assert.Equal(t, 1, fake.count("cancel_signature"))
}

func TestCancel_CodigoDesconocido(t *testing.T) {
	fake, srv := newFakePAC(t)
	fake.on("cancel_signature", respond(cancelResponse("206", "UUID no corresponde a un CFDI del sector primario")))
	c := newClient(t, srv)

	_, err := c.Cancel(context.Background(), cancelParams(t, "02", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, cfdi.ErrCancellation)
}

func TestCancel_SinCredencial(t *testing.T) {
	fake, srv := newFakePAC(t)
	c := newClient(t, srv)

	_, err := c.Cancel(context.Background(), pac.CancelParams{
		EmitterRFC: csdtest.RFC,
		Request:    cfdi.CancellationRequest{UUID: invoiceUUID, Reason: "02"},
	})
	assert.ErrorIs(t, err, cfdi.ErrCertificate)
	assert.Equal(t, 0, fake.total())
}

func TestCancelOutcome_Estado(t *testing.T) {
	assert.Equal(t, cfdi.StateCancelled, pac.OutcomeAlreadyCancelled.State())
	assert.Equal(t, cfdi.StateCancelPending, pac.OutcomePendingAcceptance.State())
	assert.Equal(t, cfdi.StateCancelError, pac.OutcomeCertificateMismatch.State())
	assert.True(t, pac.OutcomeCancelled.Succeeded())
	assert.False(t, pac.OutcomeNotCancelable.Succeeded())
}
