package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vtuplug/vtuplug/internal/purchase"
)

// RegisterPurchaseRoutes wires purchase submission and history endpoints.
func RegisterPurchaseRoutes(r fiber.Router, h *purchase.Handler) {
	group := r.Group("/purchases")
	group.Post("", h.Submit)
	group.Get("", h.List)
	group.Get("/:id", h.Get)
}
