package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RouterDeps dependencias para el router. Registrar es opcional: sin cuenta de socio
// en el PAC no se exponen las rutas de emisores.
type RouterDeps struct {
	Stamping   Stamping
	Registrar  Registrar
	PACHeldCSD bool
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	cfdiGroup := api.Group("/cfdi")
	h := NewCFDIHandler(deps.Stamping, deps.PACHeldCSD)
	cfdiGroup.Post("/invoices", h.Issue)
	cfdiGroup.Post("/payments", h.IssuePayment)
	cfdiGroup.Post("/preview", h.Preview)
	cfdiGroup.Get("/pending", h.Pending)
	cfdiGroup.Post("/:uuid/cancel", h.Cancel)
	cfdiGroup.Get("/:uuid/status", h.Status)

	if deps.Registrar != nil {
		clients := api.Group("/pac/clients")
		ch := NewPACClientHandler(deps.Registrar)
		clients.Post("/", ch.Create)
		clients.Get("/:rfc", ch.Get)
		clients.Put("/:rfc", ch.Update)
	}
}

// RequestLogger registra método, ruta, estado y duración de cada petición.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		ev := log.Info()
		if status >= fiber.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Method()).Str("path", c.Path()).Int("status", status).
			Dur("duracion", time.Since(start)).Msg("http")
		return err
	}
}
