// Package cfdi contiene el modelo de dominio del comprobante fiscal digital (CFDI 4.0):
// borrador de factura, comprobante timbrado, complemento de pagos y solicitud de cancelación.
// No depende de infraestructura; la aritmética monetaria usa shopspring/decimal.
package cfdi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

// Emitter datos fiscales del emisor.
type Emitter struct {
	RFC          string `json:"rfc" validate:"required,rfc"`
	Name         string `json:"name" validate:"required,max=254"`
	FiscalRegime string `json:"fiscal_regime" validate:"required,regime"`
}

// Receiver datos fiscales del receptor (CFDI 4.0 exige domicilio fiscal y régimen).
type Receiver struct {
	RFC          string `json:"rfc" validate:"required,rfc"`
	Name         string `json:"name" validate:"required,max=254"`
	PostalCode   string `json:"postal_code" validate:"required,len=5,numeric"`
	FiscalRegime string `json:"fiscal_regime" validate:"required,regime"`
	CFDIUse      string `json:"cfdi_use" validate:"required,max=4"`
}

// ConceptTax impuesto aplicable a un concepto. Rate es la TasaOCuota (0.160000 = 16%).
type ConceptTax struct {
	Tax    string          `json:"tax" validate:"required,oneof=001 002 003"`
	Factor string          `json:"factor" validate:"required,oneof=Tasa Cuota Exento"`
	Rate   decimal.Decimal `json:"rate" validate:"dec_gte=0"`
}

// Concept línea de la factura con catálogos ya resueltos.
type Concept struct {
	ProductCode     string          `json:"product_code" validate:"required,len=8,numeric"`
	SKU             string          `json:"sku,omitempty" validate:"max=100"`
	Quantity        decimal.Decimal `json:"quantity" validate:"dec_gt=0"`
	UnitCode        string          `json:"unit_code" validate:"required,max=3"`
	Unit            string          `json:"unit,omitempty" validate:"max=20"`
	Description     string          `json:"description" validate:"required,max=1000"`
	UnitPrice       decimal.Decimal `json:"unit_price" validate:"dec_gte=0"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"dec_gte=0,dec_lte=100"`
	TaxObject       string          `json:"tax_object" validate:"required,oneof=01 02 03 04"`
	Transfers       []ConceptTax    `json:"transfers,omitempty" validate:"dive"`
	Withholdings    []ConceptTax    `json:"withholdings,omitempty" validate:"dive"`
}

// Related CFDI relacionados (p. ej. sustitución de un comprobante cancelado).
type Related struct {
	RelationType string   `json:"relation_type" validate:"required,len=2,numeric"`
	UUIDs        []string `json:"uuids" validate:"required,min=1,dive,sat_uuid"`
}

// GlobalInfo información de factura global (receptor público en general).
type GlobalInfo struct {
	Periodicity string `json:"periodicity" validate:"required,len=2,numeric"`
	Months      string `json:"months" validate:"required,len=2,numeric"`
	Year        int    `json:"year" validate:"required,gte=2021"`
}

// InvoiceDraft factura lista para sellar: todos los catálogos resueltos por el llamador.
// Una vez entregada al pipeline se trabaja sobre una copia (Clone) y no se modifica.
type InvoiceDraft struct {
	Series        string           `json:"series,omitempty" validate:"max=25"`
	Folio         string           `json:"folio,omitempty" validate:"max=40"`
	IssuedAt      time.Time        `json:"issued_at" validate:"required"`
	DocumentType  string           `json:"document_type" validate:"required,oneof=I E T P"`
	Export        string           `json:"export" validate:"required,oneof=01 02 03 04"`
	PaymentForm   string           `json:"payment_form,omitempty" validate:"omitempty,payment_form"`
	PaymentMethod string           `json:"payment_method,omitempty" validate:"omitempty,oneof=PUE PPD"`
	PaymentTerms  string           `json:"payment_terms,omitempty" validate:"max=1000"`
	Currency      string           `json:"currency" validate:"required,len=3,uppercase"`
	ExchangeRate  *decimal.Decimal `json:"exchange_rate,omitempty" validate:"omitempty,dec_gt=0"`
	PlaceOfIssue  string           `json:"place_of_issue" validate:"required,len=5,numeric"`
	GlobalInfo    *GlobalInfo      `json:"global_info,omitempty"`
	Related       *Related         `json:"related,omitempty"`
	Emitter       Emitter          `json:"emitter"`
	Receiver      Receiver         `json:"receiver"`
	Concepts      []Concept        `json:"concepts" validate:"dive"`
}

// Clone copia profunda del borrador.
func (d InvoiceDraft) Clone() InvoiceDraft {
	c := d
	if d.ExchangeRate != nil {
		r := *d.ExchangeRate
		c.ExchangeRate = &r
	}
	if d.GlobalInfo != nil {
		g := *d.GlobalInfo
		c.GlobalInfo = &g
	}
	if d.Related != nil {
		r := *d.Related
		r.UUIDs = append([]string(nil), d.Related.UUIDs...)
		c.Related = &r
	}
	c.Concepts = make([]Concept, len(d.Concepts))
	for i, cp := range d.Concepts {
		cp.Transfers = append([]ConceptTax(nil), cp.Transfers...)
		cp.Withholdings = append([]ConceptTax(nil), cp.Withholdings...)
		c.Concepts[i] = cp
	}
	return c
}

// ── Totales ──────────────────────────────────────────────────────────────────

// TaxLine impuesto calculado. Exempt indica TipoFactor Exento (sin tasa ni importe).
type TaxLine struct {
	Base   decimal.Decimal
	Tax    string
	Factor string
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// Exempt indica si el traslado es exento.
func (t TaxLine) Exempt() bool { return t.Factor == sat.FactorExento }

// ConceptTotals importes calculados de un concepto.
type ConceptTotals struct {
	Amount       decimal.Decimal // Importe = Cantidad × ValorUnitario
	Discount     decimal.Decimal
	Base         decimal.Decimal // Importe − Descuento
	Transfers    []TaxLine
	Withholdings []TaxLine
}

// Totals importes del comprobante, siempre derivados de los conceptos.
type Totals struct {
	SubTotal         decimal.Decimal
	Discount         decimal.Decimal
	TaxBase          decimal.Decimal
	TotalTransferred decimal.Decimal
	TotalWithheld    decimal.Decimal
	Total            decimal.Decimal
	Concepts         []ConceptTotals
	Transfers        []TaxLine // agrupados por Impuesto+TipoFactor+TasaOCuota
	Withholdings     []TaxLine // agrupados por Impuesto
}

// HasTransfers indica si se debe emitir el nodo Traslados del comprobante.
func (t Totals) HasTransfers() bool { return len(t.Transfers) > 0 }

// HasWithholdings indica si se debe emitir el nodo Retenciones del comprobante.
func (t Totals) HasWithholdings() bool { return len(t.Withholdings) > 0 }

// HasTransferredAmount indica si algún traslado no es exento (TotalImpuestosTrasladados aplica).
func (t Totals) HasTransferredAmount() bool {
	for _, tr := range t.Transfers {
		if !tr.Exempt() {
			return true
		}
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals calcula importes por concepto y del comprobante.
// base = cantidad × valor unitario − descuento; impuesto = base × tasa; montos a 2 decimales.
func (d InvoiceDraft) ComputeTotals() Totals {
	var t Totals
	type key struct{ tax, factor, rate string }
	transferIdx := map[key]int{}
	withholdIdx := map[string]int{}

	for _, c := range d.Concepts {
		var ct ConceptTotals
		ct.Amount = Round2(c.Quantity.Mul(c.UnitPrice))
		ct.Discount = Round2(ct.Amount.Mul(c.DiscountPercent).Div(hundred))
		ct.Base = ct.Amount.Sub(ct.Discount)

		if c.TaxObject == sat.TaxObjectSi {
			for _, tx := range c.Transfers {
				line := TaxLine{Base: ct.Base, Tax: tx.Tax, Factor: tx.Factor, Rate: tx.Rate}
				if !line.Exempt() {
					line.Amount = Round2(ct.Base.Mul(tx.Rate))
				}
				ct.Transfers = append(ct.Transfers, line)

				k := key{tx.Tax, tx.Factor, FormatRate(tx.Rate)}
				if i, ok := transferIdx[k]; ok {
					t.Transfers[i].Base = t.Transfers[i].Base.Add(line.Base)
					t.Transfers[i].Amount = t.Transfers[i].Amount.Add(line.Amount)
				} else {
					transferIdx[k] = len(t.Transfers)
					t.Transfers = append(t.Transfers, line)
				}
				t.TotalTransferred = t.TotalTransferred.Add(line.Amount)
			}
			for _, tx := range c.Withholdings {
				line := TaxLine{Base: ct.Base, Tax: tx.Tax, Factor: tx.Factor, Rate: tx.Rate, Amount: Round2(ct.Base.Mul(tx.Rate))}
				ct.Withholdings = append(ct.Withholdings, line)
				if i, ok := withholdIdx[tx.Tax]; ok {
					t.Withholdings[i].Amount = t.Withholdings[i].Amount.Add(line.Amount)
				} else {
					withholdIdx[tx.Tax] = len(t.Withholdings)
					t.Withholdings = append(t.Withholdings, TaxLine{Tax: tx.Tax, Amount: line.Amount})
				}
				t.TotalWithheld = t.TotalWithheld.Add(line.Amount)
			}
		}

		t.SubTotal = t.SubTotal.Add(ct.Amount)
		t.Discount = t.Discount.Add(ct.Discount)
		t.TaxBase = t.TaxBase.Add(ct.Base)
		t.Concepts = append(t.Concepts, ct)
	}
	t.Total = t.SubTotal.Sub(t.Discount).Add(t.TotalTransferred).Sub(t.TotalWithheld)
	return t
}

// ── Formato numérico ─────────────────────────────────────────────────────────

// Round2 redondea a centavos.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// FormatMoney importes: 2 decimales fijos, sin notación científica.
func FormatMoney(d decimal.Decimal) string { return d.Round(2).StringFixed(2) }

// FormatQuantity cantidades y valores unitarios: 6 decimales fijos.
func FormatQuantity(d decimal.Decimal) string { return d.Round(6).StringFixed(6) }

// FormatRate TasaOCuota: 6 decimales fijos (0.160000).
func FormatRate(d decimal.Decimal) string { return d.Round(6).StringFixed(6) }

// FormatExchangeRate TipoCambio: hasta 6 decimales, sin ceros sobrantes.
func FormatExchangeRate(d decimal.Decimal) string { return d.Round(6).String() }

// FormatDateTime fecha de emisión sin zona horaria (hora local del lugar de expedición).
func FormatDateTime(t time.Time) string { return t.Format("2006-01-02T15:04:05") }
