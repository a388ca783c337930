package sat_test

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

const relatedUUID = "5FB2822E-396D-4725-8521-CDC4BDD20CCF"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// sampleDraft 1 × 1000.00 con IVA 16%.
func sampleDraft() cfdi.InvoiceDraft {
	return cfdi.InvoiceDraft{
		Series:        "A",
		Folio:         "1001",
		IssuedAt:      time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC),
		DocumentType:  sat.DocumentTypeIngreso,
		Export:        sat.ExportNoAplica,
		PaymentForm:   sat.PaymentFormTransferencia,
		PaymentMethod: sat.PaymentMethodPUE,
		Currency:      sat.CurrencyMXN,
		PlaceOfIssue:  "42501",
		Emitter:       cfdi.Emitter{RFC: "EKU9003173C9", Name: "ESCUELA KEMPER URGATE", FiscalRegime: "601"},
		Receiver: cfdi.Receiver{
			RFC: "URE180429TM6", Name: "UNIVERSIDAD ROBOTICA ESPAÑOLA", PostalCode: "65000",
			FiscalRegime: "601", CFDIUse: sat.UseGastosGenerales,
		},
		Concepts: []cfdi.Concept{{
			ProductCode: "43232408",
			Quantity:    decimal.NewFromInt(1),
			UnitCode:    sat.UnitPieza,
			Description: "Licencia de software",
			UnitPrice:   dec("1000.00"),
			TaxObject:   sat.TaxObjectSi,
			Transfers:   []cfdi.ConceptTax{{Tax: sat.TaxIVA, Factor: sat.FactorTasa, Rate: dec("0.16")}},
		}},
	}
}

// samplePayment pago de 580.00 contra una factura de 1160.00.
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

func parseRoot(t *testing.T, xmlDoc string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xmlDoc))
	require.NotNil(t, doc.Root())
	return doc.Root()
}

func attrKeys(el *etree.Element) []string {
	keys := make([]string, 0, len(el.Attr))
	for _, a := range el.Attr {
		keys = append(keys, a.FullKey())
	}
	return keys
}
