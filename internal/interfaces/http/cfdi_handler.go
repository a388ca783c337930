package http

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturacion-cfdi/internal/application/dto"
	"github.com/jhoicas/facturacion-cfdi/internal/application/timbrado"
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
)

// Stamping operaciones del pipeline que expone la API (timbrado.Pipeline).
type Stamping interface {
	Issue(ctx context.Context, draft cfdi.InvoiceDraft) (cfdi.StampedInvoice, error)
	IssueWithPACSeal(ctx context.Context, draft cfdi.InvoiceDraft) (cfdi.StampedInvoice, error)
	IssuePaymentComplement(ctx context.Context, pc cfdi.PaymentComplement) (cfdi.StampData, error)
	Cancel(ctx context.Context, emitterRFC string, req cfdi.CancellationRequest) (pac.CancelResult, error)
	Status(ctx context.Context, q pac.StatusQuery) (pac.StatusResult, error)
	Preview(draft cfdi.InvoiceDraft) (timbrado.Preview, error)
	Pending(ctx context.Context, limit int) ([]timbrado.JournalEntry, error)
}

// CFDIHandler timbrado, cancelación y consulta de CFDI.
type CFDIHandler struct {
	svc        Stamping
	pacHeldCSD bool
}

// NewCFDIHandler construye el handler. Con pacHeldCSD las facturas se envían sin sello
// y las sella el PAC.
func NewCFDIHandler(svc Stamping, pacHeldCSD bool) *CFDIHandler {
	return &CFDIHandler{svc: svc, pacHeldCSD: pacHeldCSD}
}

// Issue sella y timbra una factura.
// POST /api/cfdi/invoices
func (h *CFDIHandler) Issue(c *fiber.Ctx) error {
	var draft cfdi.InvoiceDraft
	if err := c.BodyParser(&draft); err != nil {
		return badBody(c, err)
	}
	issue := h.svc.Issue
	if h.pacHeldCSD {
		issue = h.svc.IssueWithPACSeal
	}
	stamped, err := issue(c.UserContext(), draft)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromStampedInvoice(stamped))
}

// IssuePayment timbra un complemento de pagos.
// POST /api/cfdi/payments
func (h *CFDIHandler) IssuePayment(c *fiber.Ctx) error {
	var pc cfdi.PaymentComplement
	if err := c.BodyParser(&pc); err != nil {
		return badBody(c, err)
	}
	stamp, err := h.svc.IssuePaymentComplement(c.UserContext(), pc)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromStampData(stamp))
}

// Preview XML y cadena original sin firmar ni timbrar.
// POST /api/cfdi/preview
func (h *CFDIHandler) Preview(c *fiber.Ctx) error {
	var draft cfdi.InvoiceDraft
	if err := c.BodyParser(&draft); err != nil {
		return badBody(c, err)
	}
	p, err := h.svc.Preview(draft)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromPreview(p))
}

// Cancel solicita la cancelación.
// POST /api/cfdi/:uuid/cancel
func (h *CFDIHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c, err)
	}
	if strings.TrimSpace(in.EmitterRFC) == "" {
		return writeError(c, cfdi.NewValidationError([]cfdi.FieldError{
			{Field: "emitter_rfc", Rule: "required", Message: "RFC emisor requerido"}}, nil))
	}
	req := cfdi.CancellationRequest{UUID: c.Params("uuid"), Reason: in.Reason, SubstitutionUUID: in.SubstitutionUUID}
	res, err := h.svc.Cancel(c.UserContext(), in.EmitterRFC, req)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if res.Outcome == pac.OutcomePendingAcceptance {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(dto.FromCancelResult(res))
}

// Status estatus del CFDI en el SAT.
// GET /api/cfdi/:uuid/status?emitter=&receiver=&total=
func (h *CFDIHandler) Status(c *fiber.Ctx) error {
	var in dto.StatusQuery
	if err := c.QueryParser(&in); err != nil {
		return badBody(c, err)
	}
	q, err := in.ToQuery(c.Params("uuid"))
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.svc.Status(c.UserContext(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromStatusResult(res))
}

// Pending documentos por conciliar con el PAC.
// GET /api/cfdi/pending?limit=
func (h *CFDIHandler) Pending(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badBody(c, err)
	}
	page.DefaultPage()
	entries, err := h.svc.Pending(c.UserContext(), page.Limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.FromJournalEntries(entries))
}
