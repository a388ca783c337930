package cfdi_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

const relatedUUID = "5FB2822E-396D-4725-8521-CDC4BDD20CCF"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func samplePayment() cfdi.PaymentComplement {
	return cfdi.PaymentComplement{
		Folio:        "P-1",
		IssuedAt:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		PlaceOfIssue: "42501",
		Emitter:      cfdi.Emitter{RFC: "EKU9003173C9", Name: "ESCUELA KEMPER URGATE", FiscalRegime: "601"},
		Receiver: cfdi.Receiver{
			RFC: "URE180429TM6", Name: "UNIVERSIDAD ROBOTICA ESPAÑOLA", PostalCode: "65000",
			FiscalRegime: "601", CFDIUse: sat.UseParaPagos,
		},
		Payments: []cfdi.Payment{{
			PaidAt:      time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC),
			PaymentForm: sat.PaymentFormTransferencia,
			Currency:    sat.CurrencyMXN,
			Amount:      dec("580.00"),
			Documents: []cfdi.DocumentRelation{{
				UUID:            relatedUUID,
				Currency:        sat.CurrencyMXN,
				Installment:     1,
				PreviousBalance: dec("1160.00"),
				AmountPaid:      dec("580.00"),
				TaxObject:       sat.TaxObjectSi,
				Transfers: []cfdi.DocumentTax{{
					Base: dec("500.00"), Tax: sat.TaxIVA, Factor: sat.FactorTasa, Rate: dec("0.16"), Amount: dec("80.00"),
				}},
			}},
		}},
	}
}

func TestReconcile_PagoParcialCuadra(t *testing.T) {
	pc := samplePayment()

	require.NoError(t, pc.Reconcile())
	assert.Equal(t, "580.00", cfdi.FormatMoney(pc.Payments[0].Documents[0].RemainingBalance()))
	require.NoError(t, cfdi.ValidatePaymentComplement(pc))
}

func TestReconcile_MontoNoCuadra(t *testing.T) {
	pc := samplePayment()
	pc.Payments[0].Amount = dec("600.00")

	err := pc.Reconcile()

	assert.True(t, errors.Is(err, cfdi.ErrTotalsMismatch))
}

func TestReconcile_ExcedeSaldo(t *testing.T) {
	pc := samplePayment()
	pc.Payments[0].Documents[0].AmountPaid = dec("1200.00")
	pc.Payments[0].Amount = dec("1200.00")

	err := cfdi.ValidatePaymentComplement(pc)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cfdi.ErrValidation))
	assert.True(t, errors.Is(err, cfdi.ErrBalanceExceeded))
}

func TestReconcile_SaldoEncadenado(t *testing.T) {
	pc := samplePayment()
	second := pc.Payments[0]
	second.Documents = []cfdi.DocumentRelation{pc.Payments[0].Documents[0]}
	second.Documents[0].Installment = 2
	second.Documents[0].PreviousBalance = dec("1160.00") // debería ser 580.00
	pc.Payments = append(pc.Payments, second)

	require.Error(t, pc.Reconcile())

	pc.Payments[1].Documents[0].PreviousBalance = dec("580.00")
	assert.NoError(t, pc.Reconcile())
}

func TestReconcile_EquivalenciaEntreMonedas(t *testing.T) {
	pc := samplePayment()
	eq := dec("0.058")
	p := &pc.Payments[0]
	p.Documents[0].Currency = sat.CurrencyUSD
	p.Documents[0].Equivalence = &eq
	p.Documents[0].PreviousBalance = dec("100.00")
	p.Documents[0].AmountPaid = dec("58.00")
	p.Amount = dec("1000.00")

	assert.NoError(t, pc.Reconcile())
}

func TestPaymentComputeTotals_IVA16(t *testing.T) {
	totals := samplePayment().ComputeTotals()

	require.Len(t, totals.Payments, 1)
	require.Len(t, totals.Payments[0].Transfers, 1)
	assert.Equal(t, "500.00", cfdi.FormatMoney(totals.Payments[0].Transfers[0].Base))
	assert.True(t, totals.TransferBaseIVA16.Valid)
	assert.Equal(t, "80.00", cfdi.FormatMoney(totals.TransferTaxIVA16.Decimal))
	assert.False(t, totals.TransferBaseIVA8.Valid)
	assert.False(t, totals.WithheldISR.Valid)
	assert.Equal(t, "580.00", cfdi.FormatMoney(totals.TotalAmount))
}

func TestPaymentComputeTotals_TipoDeCambio(t *testing.T) {
	pc := samplePayment()
	fx := dec("17.00")
	pc.Payments[0].Currency = sat.CurrencyUSD
	pc.Payments[0].ExchangeRate = &fx

	totals := pc.ComputeTotals()

	assert.Equal(t, "9860.00", cfdi.FormatMoney(totals.TotalAmount))
	assert.Equal(t, "1360.00", cfdi.FormatMoney(totals.TransferTaxIVA16.Decimal))
}

func TestValidatePaymentComplement_UsoCP01(t *testing.T) {
	pc := samplePayment()
	pc.Receiver.CFDIUse = sat.UseGastosGenerales

	err := cfdi.ValidatePaymentComplement(pc)

	e, ok := cfdi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "receiver.cfdi_use", e.Fields[0].Field)
}
