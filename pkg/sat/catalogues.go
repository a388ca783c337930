// Package sat contiene catálogos y validaciones alineados al Anexo 20 del SAT
// (CFDI versión 4.0) y al complemento de recepción de pagos 2.0.
package sat

// Versiones de los documentos emitidos.
const (
	CFDIVersion   = "4.0"
	PagosVersion  = "2.0"
	TimbreVersion = "1.1"
)

// =============================================================================
// c_TipoDeComprobante
// =============================================================================

const (
	DocumentTypeIngreso  = "I"
	DocumentTypeEgreso   = "E"
	DocumentTypeTraslado = "T"
	DocumentTypePago     = "P"
)

// =============================================================================
// c_Exportacion
// =============================================================================

const (
	ExportNoAplica   = "01"
	ExportDefinitiva = "02"
	ExportTemporal   = "03"
)

// =============================================================================
// c_FormaPago (códigos de uso frecuente)
// =============================================================================

const (
	PaymentFormEfectivo       = "01"
	PaymentFormCheque         = "02"
	PaymentFormTransferencia  = "03"
	PaymentFormTarjetaCredito = "04"
	PaymentFormTarjetaDebito  = "28"
	PaymentFormPorDefinir     = "99"
)

// ValidPaymentForms formas de pago aceptadas por el catálogo c_FormaPago.
var ValidPaymentForms = map[string]bool{
	"01": true, "02": true, "03": true, "04": true, "05": true, "06": true,
	"08": true, "12": true, "13": true, "14": true, "15": true, "17": true,
	"23": true, "24": true, "25": true, "26": true, "27": true, "28": true,
	"29": true, "30": true, "31": true, "99": true,
}

// =============================================================================
// c_MetodoPago
// =============================================================================

const (
	PaymentMethodPUE = "PUE" // Pago en una sola exhibición
	PaymentMethodPPD = "PPD" // Pago en parcialidades o diferido
)

// =============================================================================
// c_Impuesto, c_TipoFactor y c_ObjetoImp
// =============================================================================

const (
	TaxISR  = "001"
	TaxIVA  = "002"
	TaxIEPS = "003"
)

const (
	FactorTasa   = "Tasa"
	FactorCuota  = "Cuota"
	FactorExento = "Exento"
)

const (
	TaxObjectNo           = "01" // No objeto de impuesto
	TaxObjectSi           = "02" // Sí objeto de impuesto
	TaxObjectSiNoDesglose = "03" // Sí objeto, no obligado al desglose
	TaxObjectSiNoCausa    = "04" // Sí objeto, no causa impuesto
)

// ValidTaxCodes impuestos válidos en traslados y retenciones.
var ValidTaxCodes = map[string]bool{TaxISR: true, TaxIVA: true, TaxIEPS: true}

// =============================================================================
// c_Moneda
// =============================================================================

const (
	CurrencyMXN = "MXN"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyXXX = "XXX" // Sin moneda; obligatoria en complemento de pagos
)

// =============================================================================
// c_UsoCFDI (códigos de uso frecuente)
// =============================================================================

const (
	UseGastosGenerales = "G03"
	UseSinEfectos      = "S01"
	UseParaPagos       = "CP01"
)

// =============================================================================
// c_TipoRelacion
// =============================================================================

const (
	RelationNotaCredito = "01"
	RelationSustitucion = "04"
	RelationAnticipo    = "07"
)

// =============================================================================
// Motivos de cancelación (Anexo 20, cancelación 2022)
// =============================================================================

const (
	CancelReasonReplaced     = "01" // Comprobante emitido con errores con relación
	CancelReasonErrors       = "02" // Comprobante emitido con errores sin relación
	CancelReasonNotPerformed = "03" // No se llevó a cabo la operación
	CancelReasonGlobal       = "04" // Operación nominativa relacionada en una factura global
)

// ValidCancelReasons motivos de cancelación aceptados por el SAT.
var ValidCancelReasons = map[string]bool{
	CancelReasonReplaced:     true,
	CancelReasonErrors:       true,
	CancelReasonNotPerformed: true,
	CancelReasonGlobal:       true,
}

// =============================================================================
// c_RegimenFiscal
// =============================================================================

// ValidFiscalRegimes regímenes fiscales vigentes para emisor y receptor.
var ValidFiscalRegimes = map[string]bool{
	"601": true, "603": true, "605": true, "606": true, "607": true, "608": true,
	"610": true, "611": true, "612": true, "614": true, "615": true, "616": true,
	"620": true, "621": true, "622": true, "623": true, "624": true, "625": true,
	"626": true,
}

// Unidades de medida (c_ClaveUnidad) de uso frecuente.
const (
	UnitPieza     = "H87"
	UnitServicio  = "E48"
	UnitActividad = "ACT"
	UnitKilogram  = "KGM"
)

// RFC genéricos (Anexo 20, Guía de llenado).
const (
	RFCGenericNational = "XAXX010101000"
	RFCGenericForeign  = "XEXX010101000"
)
