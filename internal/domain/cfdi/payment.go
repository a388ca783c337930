package cfdi

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// DocumentTax impuesto trasladado o retenido del documento relacionado (TrasladoDR / RetencionDR).
// Base y Amount son proporcionales al importe pagado y los entrega el llamador.
type DocumentTax struct {
	Base   decimal.Decimal `json:"base" validate:"dec_gte=0"`
	Tax    string          `json:"tax" validate:"required,oneof=001 002 003"`
	Factor string          `json:"factor" validate:"required,oneof=Tasa Cuota Exento"`
	Rate   decimal.Decimal `json:"rate" validate:"dec_gte=0"`
	Amount decimal.Decimal `json:"amount" validate:"dec_gte=0"`
}

// DocumentRelation relación de un pago con un CFDI timbrado previamente (DoctoRelacionado).
type DocumentRelation struct {
	UUID            string           `json:"uuid" validate:"required,sat_uuid"`
	Series          string           `json:"series,omitempty" validate:"max=25"`
	Folio           string           `json:"folio,omitempty" validate:"max=40"`
	Currency        string           `json:"currency" validate:"required,len=3,uppercase"`
	Equivalence     *decimal.Decimal `json:"equivalence,omitempty" validate:"omitempty,dec_gt=0"`
	Installment     int              `json:"installment" validate:"gte=1"`
	PreviousBalance decimal.Decimal  `json:"previous_balance" validate:"dec_gt=0"`
	AmountPaid      decimal.Decimal  `json:"amount_paid" validate:"dec_gt=0"`
	TaxObject       string           `json:"tax_object" validate:"required,oneof=01 02 03 04"`
	Transfers       []DocumentTax    `json:"transfers,omitempty" validate:"dive"`
	Withholdings    []DocumentTax    `json:"withholdings,omitempty" validate:"dive"`
}

// RemainingBalance saldo insoluto tras aplicar el pago.
func (r DocumentRelation) RemainingBalance() decimal.Decimal {
	return Round2(r.PreviousBalance.Sub(r.AmountPaid))
}

// equivalence EquivalenciaDR; 1 cuando la moneda del documento es la del pago.
func (r DocumentRelation) equivalence() decimal.Decimal {
	if r.Equivalence == nil {
		return decimal.NewFromInt(1)
	}
	return *r.Equivalence
}

// Payment un pago recibido (nodo Pago).
type Payment struct {
	PaidAt          time.Time          `json:"paid_at" validate:"required"`
	PaymentForm     string             `json:"payment_form" validate:"required,payment_form"`
	Currency        string             `json:"currency" validate:"required,len=3,uppercase"`
	ExchangeRate    *decimal.Decimal   `json:"exchange_rate,omitempty" validate:"omitempty,dec_gt=0"`
	Amount          decimal.Decimal    `json:"amount" validate:"dec_gt=0"`
	OperationNumber string             `json:"operation_number,omitempty" validate:"max=100"`
	Documents       []DocumentRelation `json:"documents" validate:"required,min=1,dive"`
}

func (p Payment) exchangeRate() decimal.Decimal {
	if p.ExchangeRate == nil {
		return decimal.NewFromInt(1)
	}
	return *p.ExchangeRate
}

// PaymentComplement comprobante tipo P con complemento de recepción de pagos 2.0.
type PaymentComplement struct {
	Series       string    `json:"series,omitempty" validate:"max=25"`
	Folio        string    `json:"folio,omitempty" validate:"max=40"`
	IssuedAt     time.Time `json:"issued_at" validate:"required"`
	PlaceOfIssue string    `json:"place_of_issue" validate:"required,len=5,numeric"`
	Emitter      Emitter   `json:"emitter"`
	Receiver     Receiver  `json:"receiver"`
	Payments     []Payment `json:"payments" validate:"required,min=1,dive"`
}

// PaymentTaxTotals importes agregados por pago (TrasladosP / RetencionesP).
type PaymentTaxTotals struct {
	Transfers    []TaxLine
	Withholdings []TaxLine
}

// PaymentTotals nodo Totales del complemento (montos en MXN).
type PaymentTotals struct {
	Payments              []PaymentTaxTotals
	WithheldIVA           decimal.NullDecimal
	WithheldISR           decimal.NullDecimal
	WithheldIEPS          decimal.NullDecimal
	TransferBaseIVA16     decimal.NullDecimal
	TransferTaxIVA16      decimal.NullDecimal
	TransferBaseIVA8      decimal.NullDecimal
	TransferTaxIVA8       decimal.NullDecimal
	TransferBaseIVA0      decimal.NullDecimal
	TransferTaxIVA0       decimal.NullDecimal
	TransferBaseIVAExempt decimal.NullDecimal
	TotalAmount           decimal.Decimal
}

var (
	rate16 = decimal.RequireFromString("0.16")
	rate8  = decimal.RequireFromString("0.08")
)

// Reconcile verifica los invariantes del complemento:
//   - el importe pagado de cada documento no excede su saldo anterior, y para un mismo
//     UUID la suma de pagos no excede el saldo de la primera relación;
//   - el saldo anterior de una relación repetida es el saldo insoluto de la anterior;
//   - el monto de cada pago es exactamente la suma de importes pagados (convertidos por equivalencia).
func (pc PaymentComplement) Reconcile() error {
	var errs []error
	outstanding := map[string]decimal.Decimal{}

	for i, p := range pc.Payments {
		sum := decimal.Zero
		for j, d := range p.Documents {
			if prev, seen := outstanding[d.UUID]; seen && !prev.Equal(Round2(d.PreviousBalance)) {
				errs = append(errs, fmt.Errorf("pagos[%d].documentos[%d]: saldo anterior %s no coincide con saldo insoluto previo %s",
					i, j, FormatMoney(d.PreviousBalance), FormatMoney(prev)))
			}
			if d.AmountPaid.GreaterThan(d.PreviousBalance) {
				errs = append(errs, fmt.Errorf("%w: pagos[%d].documentos[%d] %s pagado contra saldo %s",
					ErrBalanceExceeded, i, j, FormatMoney(d.AmountPaid), FormatMoney(d.PreviousBalance)))
			}
			outstanding[d.UUID] = d.RemainingBalance()
			sum = sum.Add(d.AmountPaid.Div(d.equivalence()))
		}
		if !Round2(sum).Equal(Round2(p.Amount)) {
			errs = append(errs, fmt.Errorf("%w: pagos[%d] monto %s, suma de documentos %s",
				ErrTotalsMismatch, i, FormatMoney(p.Amount), FormatMoney(sum)))
		}
	}
	return errors.Join(errs...)
}

// ComputeTotals agrega los impuestos por pago y el nodo Totales.
func (pc PaymentComplement) ComputeTotals() PaymentTotals {
	var out PaymentTotals
	add := func(n *decimal.NullDecimal, v decimal.Decimal) {
		n.Decimal = n.Decimal.Add(v)
		n.Valid = true
	}

	for _, p := range pc.Payments {
		type key struct{ tax, factor, rate string }
		var pt PaymentTaxTotals
		tIdx := map[key]int{}
		wIdx := map[string]int{}

		for _, d := range p.Documents {
			eq := d.equivalence()
			for _, tx := range d.Transfers {
				base := tx.Base.Div(eq)
				amount := tx.Amount.Div(eq)
				k := key{tx.Tax, tx.Factor, FormatRate(tx.Rate)}
				if i, ok := tIdx[k]; ok {
					pt.Transfers[i].Base = pt.Transfers[i].Base.Add(base)
					pt.Transfers[i].Amount = pt.Transfers[i].Amount.Add(amount)
				} else {
					tIdx[k] = len(pt.Transfers)
					pt.Transfers = append(pt.Transfers, TaxLine{Base: base, Tax: tx.Tax, Factor: tx.Factor, Rate: tx.Rate, Amount: amount})
				}
			}
			for _, tx := range d.Withholdings {
				amount := tx.Amount.Div(eq)
				if i, ok := wIdx[tx.Tax]; ok {
					pt.Withholdings[i].Amount = pt.Withholdings[i].Amount.Add(amount)
				} else {
					wIdx[tx.Tax] = len(pt.Withholdings)
					pt.Withholdings = append(pt.Withholdings, TaxLine{Tax: tx.Tax, Amount: amount})
				}
			}
		}
		for i := range pt.Transfers {
			pt.Transfers[i].Base = Round2(pt.Transfers[i].Base)
			pt.Transfers[i].Amount = Round2(pt.Transfers[i].Amount)
		}
		for i := range pt.Withholdings {
			pt.Withholdings[i].Amount = Round2(pt.Withholdings[i].Amount)
		}
		out.Payments = append(out.Payments, pt)

		fx := p.exchangeRate()
		for _, tr := range pt.Transfers {
			if tr.Tax != sat.TaxIVA {
				continue
			}
			base := Round2(tr.Base.Mul(fx))
			amount := Round2(tr.Amount.Mul(fx))
			switch {
			case tr.Exempt():
				add(&out.TransferBaseIVAExempt, base)
			case tr.Rate.Equal(rate16):
				add(&out.TransferBaseIVA16, base)
				add(&out.TransferTaxIVA16, amount)
			case tr.Rate.Equal(rate8):
				add(&out.TransferBaseIVA8, base)
				add(&out.TransferTaxIVA8, amount)
			case tr.Rate.IsZero():
				add(&out.TransferBaseIVA0, base)
				add(&out.TransferTaxIVA0, amount)
			}
		}
		for _, w := range pt.Withholdings {
			amount := Round2(w.Amount.Mul(fx))
			switch w.Tax {
			case sat.TaxIVA:
				add(&out.WithheldIVA, amount)
			case sat.TaxISR:
				add(&out.WithheldISR, amount)
			case sat.TaxIEPS:
				add(&out.WithheldIEPS, amount)
			}
		}
		out.TotalAmount = out.TotalAmount.Add(Round2(p.Amount.Mul(fx)))
	}
	return out
}
