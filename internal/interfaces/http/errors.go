package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturacion-cfdi/internal/application/dto"
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// statusByKind código HTTP por tipo de error del núcleo.
var statusByKind = map[cfdi.Kind]int{
	cfdi.KindValidation:   fiber.StatusBadRequest,
	cfdi.KindConfig:       fiber.StatusInternalServerError,
	cfdi.KindCertificate:  fiber.StatusUnprocessableEntity,
	cfdi.KindSigning:      fiber.StatusUnprocessableEntity,
	cfdi.KindCancellation: fiber.StatusUnprocessableEntity,
	cfdi.KindTransient:    fiber.StatusServiceUnavailable,
	cfdi.KindAlreadyStamp: fiber.StatusConflict,
	cfdi.KindProvider:     fiber.StatusBadGateway,
}

// writeError traduce err a respuesta JSON. Un error sin tipo es 500 y no expone detalle.
func writeError(c *fiber.Ctx, err error) error {
	if errors.Is(err, cfdi.ErrStampInFlight) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Code: "STAMP_IN_FLIGHT", Message: "el comprobante ya se está timbrando", Hint: string(cfdi.HintRetryLater),
		})
	}
	e, ok := cfdi.AsError(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
	}
	status, ok := statusByKind[e.Kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}
	return c.Status(status).JSON(dto.ErrorResponse{
		Code: string(e.Kind), ProviderCode: e.Code, Message: msg, Hint: string(e.Hint), Fields: e.Fields,
	})
}

func badBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Code: string(cfdi.KindValidation), Message: "cuerpo inválido: " + err.Error(), Hint: string(cfdi.HintFixInvoiceData),
	})
}

// ErrorHandler respuesta de Fiber para errores no atendidos por los handlers.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(dto.ErrorResponse{Code: "HTTP_ERROR", Message: fe.Message})
	}
	return writeError(c, err)
}
