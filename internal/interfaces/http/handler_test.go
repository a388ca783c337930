package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/application/dto"
	"github.com/jhoicas/facturacion-cfdi/internal/application/timbrado"
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	apphttp "github.com/jhoicas/facturacion-cfdi/internal/interfaces/http"
)

const stampUUID = "6128396F-C09B-4EC6-8699-43C5A2E9A6B4"

const draftJSON = `{
  "series": "A", "folio": "1001", "issued_at": "2024-05-10T12:30:00Z",
  "document_type": "I", "export": "01", "payment_form": "03", "payment_method": "PUE",
  "currency": "MXN", "place_of_issue": "42501",
  "emitter": {"rfc": "EKU9003173C9", "name": "ESCUELA KEMPER URGATE", "fiscal_regime": "601"},
  "receiver": {"rfc": "URE180429TM6", "name": "UNIVERSIDAD ROBOTICA ESPAÑOLA", "postal_code": "65000",
               "fiscal_regime": "601", "cfdi_use": "G03"},
  "concepts": [{"product_code": "43232408", "quantity": "1", "unit_code": "H87",
                "description": "Licencia de software", "unit_price": "1000.00", "tax_object": "02",
                "transfers": [{"tax": "002", "factor": "Tasa", "rate": "0.16"}]}]
}`

// ── Dobles ───────────────────────────────────────────────────────────────────

type fakeStamping struct {
	err       error
	issued    []cfdi.InvoiceDraft
	pacSealed bool
	cancelReq cfdi.CancellationRequest
	cancelRFC string
	cancelRes pac.CancelResult
	statusQ   pac.StatusQuery
}

func (f *fakeStamping) stamped(d cfdi.InvoiceDraft) (cfdi.StampedInvoice, error) {
	if f.err != nil {
		return cfdi.StampedInvoice{}, f.err
	}
	f.issued = append(f.issued, d)
	return cfdi.NewStampedInvoice(d, cfdi.StampData{
		UUID: stampUUID, StampedAt: time.Date(2024, 5, 10, 12, 31, 5, 0, time.UTC),
		PACSeal: "U0FU", PACCertificateNumber: "30001000000400002495", CFDISeal: "U0VMTE8=", XML: "<cfdi:Comprobante/>",
	})
}

func (f *fakeStamping) Issue(_ context.Context, d cfdi.InvoiceDraft) (cfdi.StampedInvoice, error) {
	return f.stamped(d)
}

func (f *fakeStamping) IssueWithPACSeal(_ context.Context, d cfdi.InvoiceDraft) (cfdi.StampedInvoice, error) {
	f.pacSealed = true
	return f.stamped(d)
}

func (f *fakeStamping) IssuePaymentComplement(_ context.Context, pc cfdi.PaymentComplement) (cfdi.StampData, error) {
	if f.err != nil {
		return cfdi.StampData{}, f.err
	}
	return cfdi.StampData{UUID: stampUUID, XML: "<cfdi:Comprobante/>"}, nil
}

func (f *fakeStamping) Cancel(_ context.Context, rfc string, req cfdi.CancellationRequest) (pac.CancelResult, error) {
	f.cancelRFC, f.cancelReq = rfc, req
	if f.err != nil {
		return pac.CancelResult{}, f.err
	}
	return f.cancelRes, nil
}

func (f *fakeStamping) Status(_ context.Context, q pac.StatusQuery) (pac.StatusResult, error) {
	f.statusQ = q
	if f.err != nil {
		return pac.StatusResult{}, f.err
	}
	return pac.StatusResult{Status: pac.StatusValid, Code: "S", Cancelable: "Cancelable sin aceptación"}, nil
}

func (f *fakeStamping) Preview(d cfdi.InvoiceDraft) (timbrado.Preview, error) {
	if f.err != nil {
		return timbrado.Preview{}, f.err
	}
	return timbrado.Preview{XML: "<cfdi:Comprobante/>", Cadena: "||4.0|A|1001||", Totals: d.ComputeTotals()}, nil
}

func (f *fakeStamping) Pending(_ context.Context, limit int) ([]timbrado.JournalEntry, error) {
	return []timbrado.JournalEntry{{DocumentKey: "abc", EmitterRFC: "EKU9003173C9", To: cfdi.StatePending}}, nil
}

type fakeRegistrar struct {
	added  pac.EmitterParams
	edited pac.EmitterParams
	getErr error
}

func (f *fakeRegistrar) AddEmitter(_ context.Context, p pac.EmitterParams) (pac.RegistrationResult, error) {
	f.added = p
	return pac.RegistrationResult{Success: true, Message: "Account Created successfully"}, nil
}

func (f *fakeRegistrar) EditEmitter(_ context.Context, p pac.EmitterParams) (pac.RegistrationResult, error) {
	f.edited = p
	return pac.RegistrationResult{Success: true, Message: "Account Updated successfully"}, nil
}

func (f *fakeRegistrar) GetEmitter(_ context.Context, rfc string) (pac.Emitter, error) {
	if f.getErr != nil {
		return pac.Emitter{}, f.getErr
	}
	return pac.Emitter{RFC: rfc, Status: pac.EmitterActive, Counter: 12}, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func buildTestApp(svc *fakeStamping, reg apphttp.Registrar, pacHeldCSD bool) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apphttp.ErrorHandler})
	apphttp.Router(app, apphttp.RouterDeps{Stamping: svc, Registrar: reg, PACHeldCSD: pacHeldCSD})
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func decodeError(t *testing.T, b []byte) dto.ErrorResponse {
	t.Helper()
	var e dto.ErrorResponse
	require.NoError(t, json.Unmarshal(b, &e), string(b))
	return e
}

// ── Timbrado ─────────────────────────────────────────────────────────────────

func TestIssue_Creado(t *testing.T) {
	svc := &fakeStamping{}
	app := buildTestApp(svc, nil, false)

	resp, b := do(t, app, http.MethodPost, "/api/cfdi/invoices", draftJSON)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(b))

	var out dto.StampedResponse
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, stampUUID, out.UUID)
	assert.Equal(t, "U0FU", out.PACSeal)

	require.Len(t, svc.issued, 1)
	d := svc.issued[0]
	assert.Equal(t, "1000.00", cfdi.FormatMoney(d.Concepts[0].UnitPrice))
	assert.Equal(t, "1160.00", cfdi.FormatMoney(d.ComputeTotals().Total))
	assert.False(t, svc.pacSealed)
}

func TestIssue_ConCSDEnElPAC(t *testing.T) {
	svc := &fakeStamping{}
	app := buildTestApp(svc, nil, true)

	resp, _ := do(t, app, http.MethodPost, "/api/cfdi/invoices", draftJSON)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, svc.pacSealed)
}

func TestIssue_CuerpoInvalido(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	resp, b := do(t, app, http.MethodPost, "/api/cfdi/invoices", `{"concepts": "no"`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(cfdi.KindValidation), decodeError(t, b).Code)
}

func TestIssue_MapeoDeErrores(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validación", cfdi.NewValidationError([]cfdi.FieldError{{Field: "concepts", Rule: "min"}}, cfdi.ErrNoConcepts),
			fiber.StatusBadRequest, string(cfdi.KindValidation)},
		{"configuración", cfdi.NewConfigError("sin cuenta PAC"), fiber.StatusInternalServerError, string(cfdi.KindConfig)},
		{"certificado", cfdi.NewCertificateError(cfdi.ErrCertificateExpired, "vencido"),
			fiber.StatusUnprocessableEntity, string(cfdi.KindCertificate)},
		{"red", cfdi.NewTransientError("sin respuesta", errors.New("timeout")),
			fiber.StatusServiceUnavailable, string(cfdi.KindTransient)},
		{"proveedor", pac.Translate("999", "desconocido"), fiber.StatusBadGateway, string(cfdi.KindProvider)},
		{"en curso", fmt.Errorf("%w: abc", cfdi.ErrStampInFlight), fiber.StatusConflict, "STAMP_IN_FLIGHT"},
		{"sin tipo", errors.New("panic controlado"), fiber.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := buildTestApp(&fakeStamping{err: tc.err}, nil, false)
			resp, b := do(t, app, http.MethodPost, "/api/cfdi/invoices", draftJSON)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, b).Code)
		})
	}
}

func TestIssue_ValidacionIncluyeCampos(t *testing.T) {
	err := cfdi.NewValidationError([]cfdi.FieldError{{Field: "receiver.rfc", Rule: "rfc", Message: "RFC inválido"}}, nil)
	app := buildTestApp(&fakeStamping{err: err}, nil, false)

	_, b := do(t, app, http.MethodPost, "/api/cfdi/invoices", draftJSON)
	e := decodeError(t, b)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "receiver.rfc", e.Fields[0].Field)
	assert.Equal(t, string(cfdi.HintFixInvoiceData), e.Hint)
}

func TestIssue_CodigoDelPAC(t *testing.T) {
	app := buildTestApp(&fakeStamping{err: pac.Translate("702", "No se encontró el RFC del emisor")}, nil, false)
	resp, b := do(t, app, http.MethodPost, "/api/cfdi/invoices", draftJSON)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	e := decodeError(t, b)
	assert.Equal(t, "702", e.ProviderCode)
	assert.Equal(t, string(cfdi.HintRegisterEmitter), e.Hint)
}

func TestIssuePayment(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	body := `{"folio": "P-1", "issued_at": "2024-06-01T09:00:00Z", "place_of_issue": "42501",
	  "emitter": {"rfc": "EKU9003173C9"}, "receiver": {"rfc": "URE180429TM6"}, "payments": []}`
	resp, b := do(t, app, http.MethodPost, "/api/cfdi/payments", body)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode, string(b))
}

func TestPreview(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	resp, b := do(t, app, http.MethodPost, "/api/cfdi/preview", draftJSON)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out dto.PreviewResponse
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "1000.00", out.SubTotal)
	assert.Equal(t, "160.00", out.TotalTransferred)
	assert.Equal(t, "1160.00", out.Total)
	assert.Equal(t, "||4.0|A|1001||", out.CadenaOriginal)
}

// ── Cancelación y estatus ────────────────────────────────────────────────────

func TestCancel(t *testing.T) {
	svc := &fakeStamping{cancelRes: pac.CancelResult{UUID: stampUUID, Outcome: pac.OutcomeCancelled, StatusCode: "201"}}
	app := buildTestApp(svc, nil, false)

	resp, b := do(t, app, http.MethodPost, "/api/cfdi/"+stampUUID+"/cancel", `{"emitter_rfc": "EKU9003173C9", "reason": "02"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(b))
	var out dto.CancelResponse
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, out.Cancelled)
	assert.Equal(t, "CANCELLED", out.Outcome)
	assert.Equal(t, stampUUID, svc.cancelReq.UUID)
	assert.Equal(t, "02", svc.cancelReq.Reason)
	assert.Equal(t, "EKU9003173C9", svc.cancelRFC)
}

func TestCancel_PendienteDeAceptacionEs202(t *testing.T) {
	svc := &fakeStamping{cancelRes: pac.CancelResult{UUID: stampUUID, Outcome: pac.OutcomePendingAcceptance}}
	app := buildTestApp(svc, nil, false)
	resp, _ := do(t, app, http.MethodPost, "/api/cfdi/"+stampUUID+"/cancel", `{"emitter_rfc": "EKU9003173C9", "reason": "02"}`)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestCancel_SinEmisor(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	resp, b := do(t, app, http.MethodPost, "/api/cfdi/"+stampUUID+"/cancel", `{"reason": "02"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "emitter_rfc", decodeError(t, b).Fields[0].Field)
}

func TestStatus(t *testing.T) {
	svc := &fakeStamping{}
	app := buildTestApp(svc, nil, false)

	resp, b := do(t, app, http.MethodGet, "/api/cfdi/"+stampUUID+"/status?emitter=EKU9003173C9&receiver=URE180429TM6&total=1160.00", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(b))
	var out dto.StatusResponse
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "VALID", out.Status)
	assert.True(t, out.IsCancelable)
	assert.Equal(t, "1160.00", cfdi.FormatMoney(svc.statusQ.Total))
}

func TestStatus_TotalInvalido(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	resp, _ := do(t, app, http.MethodGet, "/api/cfdi/"+stampUUID+"/status?emitter=EKU9003173C9&receiver=URE180429TM6&total=mil", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPending(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	resp, b := do(t, app, http.MethodGet, "/api/cfdi/pending", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out []dto.PendingResponse
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "PENDING", out[0].State)
}

// ── Emisores en el PAC ───────────────────────────────────────────────────────

func TestPACClients_SinCuentaDeSocioNoHayRutas(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, nil, false)
	resp, _ := do(t, app, http.MethodGet, "/api/pac/clients/EKU9003173C9", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPACClients_Alta(t *testing.T) {
	reg := &fakeRegistrar{}
	app := buildTestApp(&fakeStamping{}, reg, false)

	body := `{"rfc": "EKU9003173C9", "type": "O", "certificate": "MIIB", "key": "MIIE", "passphrase": "12345678a"}`
	resp, b := do(t, app, http.MethodPost, "/api/pac/clients", body)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(b))
	assert.Equal(t, "EKU9003173C9", reg.added.RFC)
	assert.Equal(t, pac.EmitterOnDemand, reg.added.Type)
	assert.NotEmpty(t, reg.added.Certificate)
}

func TestPACClients_Base64Invalido(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, &fakeRegistrar{}, false)
	resp, b := do(t, app, http.MethodPost, "/api/pac/clients", `{"rfc": "EKU9003173C9", "certificate": "%%%"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "certificate", decodeError(t, b).Fields[0].Field)
}

func TestPACClients_Consulta(t *testing.T) {
	app := buildTestApp(&fakeStamping{}, &fakeRegistrar{}, false)
	resp, b := do(t, app, http.MethodGet, "/api/pac/clients/EKU9003173C9", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out dto.EmitterResponse
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "A", out.Status)
	assert.Equal(t, 12, out.Counter)
}

func TestPACClients_NoRegistradoEs404(t *testing.T) {
	reg := &fakeRegistrar{getErr: &cfdi.Error{Kind: cfdi.KindConfig, Hint: cfdi.HintRegisterEmitter, Err: cfdi.ErrCertificateNotFound}}
	app := buildTestApp(&fakeStamping{}, reg, false)
	resp, _ := do(t, app, http.MethodGet, "/api/pac/clients/EKU9003173C9", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPACClients_Edicion(t *testing.T) {
	reg := &fakeRegistrar{}
	app := buildTestApp(&fakeStamping{}, reg, false)
	resp, _ := do(t, app, http.MethodPut, "/api/pac/clients/EKU9003173C9", `{"status": "S"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "EKU9003173C9", reg.edited.RFC)
	assert.Equal(t, pac.EmitterSuspended, reg.edited.Status)
}
