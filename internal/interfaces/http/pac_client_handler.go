package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturacion-cfdi/internal/application/dto"
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
)

// Registrar alta y consulta de emisores en el PAC (pac.Client).
type Registrar interface {
	AddEmitter(ctx context.Context, p pac.EmitterParams) (pac.RegistrationResult, error)
	EditEmitter(ctx context.Context, p pac.EmitterParams) (pac.RegistrationResult, error)
	GetEmitter(ctx context.Context, rfc string) (pac.Emitter, error)
}

// PACClientHandler administra las cuentas de emisores en el PAC.
type PACClientHandler struct {
	reg Registrar
}

func NewPACClientHandler(reg Registrar) *PACClientHandler {
	return &PACClientHandler{reg: reg}
}

// Create da de alta un emisor.
// POST /api/pac/clients
func (h *PACClientHandler) Create(c *fiber.Ctx) error {
	p, ok, err := h.params(c)
	if !ok {
		return err
	}
	res, err := h.reg.AddEmitter(c.UserContext(), p)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(registration(res))
}

// Get consulta la cuenta del emisor.
// GET /api/pac/clients/:rfc
func (h *PACClientHandler) Get(c *fiber.Ctx) error {
	e, err := h.reg.GetEmitter(c.UserContext(), c.Params("rfc"))
	if err != nil {
		if e, ok := cfdi.AsError(err); ok && e.Hint == cfdi.HintRegisterEmitter {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Code: string(cfdi.KindConfig), Message: "emisor no registrado en el PAC", Hint: string(cfdi.HintRegisterEmitter),
			})
		}
		return writeError(c, err)
	}
	return c.JSON(dto.FromEmitter(e))
}

// Update edita estado o CSD del emisor.
// PUT /api/pac/clients/:rfc
func (h *PACClientHandler) Update(c *fiber.Ctx) error {
	p, ok, err := h.params(c)
	if !ok {
		return err
	}
	p.RFC = c.Params("rfc")
	res, err := h.reg.EditEmitter(c.UserContext(), p)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(registration(res))
}

// params decodifica el cuerpo. Con ok=false la respuesta de error ya se escribió.
func (h *PACClientHandler) params(c *fiber.Ctx) (pac.EmitterParams, bool, error) {
	var in dto.EmitterRequest
	if err := c.BodyParser(&in); err != nil {
		return pac.EmitterParams{}, false, badBody(c, err)
	}
	p, err := in.ToParams()
	if err != nil {
		return pac.EmitterParams{}, false, writeError(c, err)
	}
	return p, true, nil
}

func registration(r pac.RegistrationResult) fiber.Map {
	return fiber.Map{"success": r.Success, "message": r.Message}
}
