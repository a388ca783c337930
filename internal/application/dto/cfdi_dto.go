package dto

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/internal/application/timbrado"
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
)

// StampedResponse comprobante timbrado.
type StampedResponse struct {
	UUID                 string    `json:"uuid"`
	StampedAt            time.Time `json:"stamped_at"`
	PACSeal              string    `json:"sello_sat"`
	PACCertificateNumber string    `json:"no_certificado_sat"`
	CFDISeal             string    `json:"sello_cfd"`
	XML                  string    `json:"xml"`
}

// FromStampedInvoice convierte el comprobante del dominio.
func FromStampedInvoice(s cfdi.StampedInvoice) StampedResponse {
	return StampedResponse{
		UUID: s.UUID(), StampedAt: s.StampedAt(), PACSeal: s.PACSeal(),
		PACCertificateNumber: s.PACCertificateNumber(), CFDISeal: s.CFDISeal(), XML: s.XML(),
	}
}

// FromStampData convierte los datos de timbre (complemento de pagos).
func FromStampData(s cfdi.StampData) StampedResponse {
	return StampedResponse{
		UUID: s.UUID, StampedAt: s.StampedAt, PACSeal: s.PACSeal,
		PACCertificateNumber: s.PACCertificateNumber, CFDISeal: s.CFDISeal, XML: s.XML,
	}
}

// PreviewResponse vista previa sin sello.
type PreviewResponse struct {
	XML              string `json:"xml"`
	CadenaOriginal   string `json:"cadena_original"`
	SubTotal         string `json:"subtotal"`
	Discount         string `json:"descuento"`
	TotalTransferred string `json:"total_impuestos_trasladados"`
	TotalWithheld    string `json:"total_impuestos_retenidos"`
	Total            string `json:"total"`
}

func FromPreview(p timbrado.Preview) PreviewResponse {
	return PreviewResponse{
		XML:              p.XML,
		CadenaOriginal:   p.Cadena.String(),
		SubTotal:         cfdi.FormatMoney(p.Totals.SubTotal),
		Discount:         cfdi.FormatMoney(p.Totals.Discount),
		TotalTransferred: cfdi.FormatMoney(p.Totals.TotalTransferred),
		TotalWithheld:    cfdi.FormatMoney(p.Totals.TotalWithheld),
		Total:            cfdi.FormatMoney(p.Totals.Total),
	}
}

// CancelRequest cuerpo de POST /api/cfdi/:uuid/cancel.
type CancelRequest struct {
	EmitterRFC       string `json:"emitter_rfc"`
	Reason           string `json:"reason"`
	SubstitutionUUID string `json:"substitution_uuid,omitempty"`
}

// CancelResponse resultado de negocio de la cancelación.
type CancelResponse struct {
	UUID               string `json:"uuid"`
	Outcome            string `json:"outcome"`
	Cancelled          bool   `json:"cancelled"`
	StatusCode         string `json:"status_code,omitempty"`
	CancellationStatus string `json:"cancellation_status,omitempty"`
	Receipt            string `json:"receipt,omitempty"`
	Date               string `json:"date,omitempty"`
}

func FromCancelResult(r pac.CancelResult) CancelResponse {
	return CancelResponse{
		UUID: r.UUID, Outcome: string(r.Outcome), Cancelled: r.Outcome.Succeeded(),
		StatusCode: r.StatusCode, CancellationStatus: r.CancellationStatus, Receipt: r.Receipt, Date: r.Date,
	}
}

// StatusQuery parámetros de GET /api/cfdi/:uuid/status.
type StatusQuery struct {
	Emitter  string `query:"emitter"`
	Receiver string `query:"receiver"`
	Total    string `query:"total"`
}

// ToQuery valida el total y arma la consulta del PAC.
func (q StatusQuery) ToQuery(uuid string) (pac.StatusQuery, error) {
	var fields []cfdi.FieldError
	if q.Emitter == "" {
		fields = append(fields, cfdi.FieldError{Field: "emitter", Rule: "required", Message: "RFC emisor requerido"})
	}
	if q.Receiver == "" {
		fields = append(fields, cfdi.FieldError{Field: "receiver", Rule: "required", Message: "RFC receptor requerido"})
	}
	total, err := decimal.NewFromString(strings.TrimSpace(q.Total))
	if err != nil {
		fields = append(fields, cfdi.FieldError{Field: "total", Rule: "decimal", Message: "total inválido"})
	}
	if len(fields) > 0 {
		return pac.StatusQuery{}, cfdi.NewValidationError(fields, nil)
	}
	return pac.StatusQuery{UUID: uuid, EmitterRFC: q.Emitter, ReceiverRFC: q.Receiver, Total: total}, nil
}

// StatusResponse estatus del SAT.
type StatusResponse struct {
	Status             string `json:"status"`
	Code               string `json:"code"`
	Cancelable         string `json:"cancelable,omitempty"`
	IsCancelable       bool   `json:"is_cancelable"`
	CancellationStatus string `json:"cancellation_status,omitempty"`
	EFOS               string `json:"efos,omitempty"`
}

func FromStatusResult(r pac.StatusResult) StatusResponse {
	return StatusResponse{
		Status: string(r.Status), Code: r.Code, Cancelable: r.Cancelable, IsCancelable: r.IsCancelable(),
		CancellationStatus: r.CancellationStatus, EFOS: r.EFOS,
	}
}

// PendingResponse documento por conciliar.
type PendingResponse struct {
	DocumentKey string    `json:"document_key"`
	UUID        string    `json:"uuid,omitempty"`
	EmitterRFC  string    `json:"emitter_rfc"`
	ReceiverRFC string    `json:"receiver_rfc,omitempty"`
	Total       string    `json:"total"`
	State       string    `json:"state"`
	Since       time.Time `json:"since"`
}

func FromJournalEntries(entries []timbrado.JournalEntry) []PendingResponse {
	out := make([]PendingResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, PendingResponse{
			DocumentKey: e.DocumentKey, UUID: e.UUID, EmitterRFC: e.EmitterRFC, ReceiverRFC: e.ReceiverRFC,
			Total: cfdi.FormatMoney(e.Total), State: string(e.To), Since: e.At,
		})
	}
	return out
}

// ── Emisores en el PAC ───────────────────────────────────────────────────────

// EmitterRequest alta o edición de emisor. Certificado y llave en Base64 (DER).
type EmitterRequest struct {
	RFC         string `json:"rfc"`
	Type        string `json:"type,omitempty"`   // O | P
	Status      string `json:"status,omitempty"` // A | S
	Certificate string `json:"certificate,omitempty"`
	Key         string `json:"key,omitempty"`
	Passphrase  string `json:"passphrase,omitempty"`
}

// ToParams decodifica los archivos del CSD.
func (r EmitterRequest) ToParams() (pac.EmitterParams, error) {
	p := pac.EmitterParams{
		RFC: r.RFC, Type: pac.EmitterType(r.Type), Status: pac.EmitterStatus(r.Status), Passphrase: r.Passphrase,
	}
	var fields []cfdi.FieldError
	decode := func(field, s string) []byte {
		if s == "" {
			return nil
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			fields = append(fields, cfdi.FieldError{Field: field, Rule: "base64", Message: fmt.Sprintf("%s no es Base64 válido", field)})
		}
		return b
	}
	p.Certificate = decode("certificate", r.Certificate)
	p.Key = decode("key", r.Key)
	if len(fields) > 0 {
		return pac.EmitterParams{}, cfdi.NewValidationError(fields, nil)
	}
	return p, nil
}

// EmitterResponse cuenta del emisor.
type EmitterResponse struct {
	RFC     string `json:"rfc"`
	Status  string `json:"status"`
	Counter int    `json:"counter"`
	Credit  int    `json:"credit"`
}

func FromEmitter(e pac.Emitter) EmitterResponse {
	return EmitterResponse{RFC: e.RFC, Status: string(e.Status), Counter: e.Counter, Credit: e.Credit}
}
