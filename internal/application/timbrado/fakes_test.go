package timbrado_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
	pkgsat "github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

const (
	stampUUID   = "6128396F-C09B-4EC6-8699-43C5A2E9A6B4"
	relatedUUID = "5FB2822E-396D-4725-8521-CDC4BDD20CCF"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleDraft() cfdi.InvoiceDraft {
	return cfdi.InvoiceDraft{
		Series:        "A",
		Folio:         "1001",
		IssuedAt:      time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC),
		DocumentType:  pkgsat.DocumentTypeIngreso,
		Export:        pkgsat.ExportNoAplica,
		PaymentForm:   pkgsat.PaymentFormTransferencia,
		PaymentMethod: pkgsat.PaymentMethodPUE,
		Currency:      pkgsat.CurrencyMXN,
		PlaceOfIssue:  "42501",
		Emitter:       cfdi.Emitter{RFC: "EKU9003173C9", Name: "ESCUELA KEMPER URGATE", FiscalRegime: "601"},
		Receiver: cfdi.Receiver{
			RFC: "URE180429TM6", Name: "UNIVERSIDAD ROBOTICA ESPAÑOLA", PostalCode: "65000",
			FiscalRegime: "601", CFDIUse: pkgsat.UseGastosGenerales,
		},
		Concepts: []cfdi.Concept{{
			ProductCode: "43232408",
			Quantity:    decimal.NewFromInt(1),
			UnitCode:    pkgsat.UnitPieza,
			Description: "Licencia de software",
			UnitPrice:   dec("1000.00"),
			TaxObject:   pkgsat.TaxObjectSi,
			Transfers:   []cfdi.ConceptTax{{Tax: pkgsat.TaxIVA, Factor: pkgsat.FactorTasa, Rate: dec("0.16")}},
		}},
	}
}

func samplePayment() cfdi.PaymentComplement {
	return cfdi.PaymentComplement{
		Folio:        "P-1",
		IssuedAt:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		PlaceOfIssue: "42501",
		Emitter:      cfdi.Emitter{RFC: "EKU9003173C9", Name: "ESCUELA KEMPER URGATE", FiscalRegime: "601"},
		Receiver: cfdi.Receiver{
			RFC: "URE180429TM6", Name: "UNIVERSIDAD ROBOTICA ESPAÑOLA", PostalCode: "65000",
			FiscalRegime: "601", CFDIUse: pkgsat.UseParaPagos,
		},
		Payments: []cfdi.Payment{{
			PaidAt:      time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC),
			PaymentForm: pkgsat.PaymentFormTransferencia,
			Currency:    pkgsat.CurrencyMXN,
			Amount:      dec("580.00"),
			Documents: []cfdi.DocumentRelation{{
				UUID:            relatedUUID,
				Currency:        pkgsat.CurrencyMXN,
				Installment:     1,
				PreviousBalance: dec("1160.00"),
				AmountPaid:      dec("580.00"),
				TaxObject:       pkgsat.TaxObjectSi,
				Transfers: []cfdi.DocumentTax{{
					Base: dec("500.00"), Tax: pkgsat.TaxIVA, Factor: pkgsat.FactorTasa, Rate: dec("0.16"), Amount: dec("80.00"),
				}},
			}},
		}},
	}
}

// ── Credenciales ─────────────────────────────────────────────────────────────

type fakeCreds map[string]csd.Credential

func (f fakeCreds) Get(_ context.Context, rfc string) (csd.Credential, error) {
	c, ok := f[pkgsat.NormalizeRFC(rfc)]
	if !ok {
		return csd.Credential{}, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, rfc)
	}
	return c, nil
}

// ── PAC ──────────────────────────────────────────────────────────────────────

// fakePAC registra lo enviado y responde con las funciones configuradas.
type fakePAC struct {
	mu        sync.Mutex
	stamped   []string
	cancelled []pac.CancelParams
	calls     int

	stamp     func(ctx context.Context, xml string) (pac.StampResult, error)
	signStamp func(ctx context.Context, xml string) (pac.StampResult, error)
	cancel    func(ctx context.Context, p pac.CancelParams) (pac.CancelResult, error)
	status    func(ctx context.Context, q pac.StatusQuery) (pac.StatusResult, error)
}

func newFakePAC(t *testing.T) *fakePAC {
	f := &fakePAC{}
	f.stamp = func(_ context.Context, xml string) (pac.StampResult, error) {
		out, _ := addTimbre(t, xml)
		return pac.StampResult{
			UUID: stampUUID, XML: out, StampedAt: time.Date(2024, 5, 10, 12, 31, 5, 0, sat.MexicoCity),
			PACSeal: "U0FU", PACCertificateNumber: "30001000000400002495", Method: pac.MethodQuickStamp, Calls: 1,
		}, nil
	}
	f.signStamp = f.stamp
	f.cancel = func(_ context.Context, p pac.CancelParams) (pac.CancelResult, error) {
		return pac.CancelResult{UUID: p.Request.UUID, Outcome: pac.OutcomeCancelled, StatusCode: "201"}, nil
	}
	f.status = func(_ context.Context, q pac.StatusQuery) (pac.StatusResult, error) {
		return pac.StatusResult{Status: pac.StatusValid, Code: "S - Comprobante obtenido satisfactoriamente."}, nil
	}
	return f
}

func (f *fakePAC) Stamp(ctx context.Context, xml string) (pac.StampResult, error) {
	f.mu.Lock()
	f.calls++
	f.stamped = append(f.stamped, xml)
	fn := f.stamp
	f.mu.Unlock()
	return fn(ctx, xml)
}

func (f *fakePAC) SignStamp(ctx context.Context, xml string) (pac.StampResult, error) {
	f.mu.Lock()
	f.calls++
	f.stamped = append(f.stamped, xml)
	fn := f.signStamp
	f.mu.Unlock()
	return fn(ctx, xml)
}

func (f *fakePAC) Cancel(ctx context.Context, p pac.CancelParams) (pac.CancelResult, error) {
	f.mu.Lock()
	f.calls++
	f.cancelled = append(f.cancelled, p)
	fn := f.cancel
	f.mu.Unlock()
	return fn(ctx, p)
}

func (f *fakePAC) GetStatus(ctx context.Context, q pac.StatusQuery) (pac.StatusResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.status
	f.mu.Unlock()
	return fn(ctx, q)
}

func (f *fakePAC) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePAC) lastStamped() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stamped) == 0 {
		return ""
	}
	return f.stamped[len(f.stamped)-1]
}

// addTimbre agrega el TimbreFiscalDigital como lo haría el PAC. SelloCFD es el Sello
// del comprobante, o uno fijo si el XML llegó sin sellar.
func addTimbre(t *testing.T, xml string) (string, string) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	root := doc.Root()
	seal := root.SelectAttrValue("Sello", "")
	if seal == "" {
		seal = "U0VMTE9QQUM="
		root.CreateAttr("Sello", seal)
	}
	tfd := root.CreateElement("cfdi:Complemento").CreateElement("tfd:TimbreFiscalDigital")
	tfd.CreateAttr("xmlns:tfd", sat.NsTimbre)
	tfd.CreateAttr("Version", "1.1")
	tfd.CreateAttr("UUID", stampUUID)
	tfd.CreateAttr("FechaTimbrado", "2024-05-10T12:31:05")
	tfd.CreateAttr("RfcProvCertif", "SPR190613I52")
	tfd.CreateAttr("SelloCFD", seal)
	tfd.CreateAttr("NoCertificadoSAT", "30001000000400002495")
	tfd.CreateAttr("SelloSAT", "U0FU")
	out, err := doc.WriteToString()
	require.NoError(t, err)
	return out, seal
}
