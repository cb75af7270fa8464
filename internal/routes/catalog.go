package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vtuplug/vtuplug/internal/provider"
)

// RegisterCatalogRoutes wires the aggregator catalog pass-through and the
// float balance endpoint.
func RegisterCatalogRoutes(r fiber.Router, h *provider.Handler) {
	group := r.Group("/catalog")
	group.Get("/networks", h.Networks)
	group.Get("/plans", h.DataPlans)

	r.Get("/provider/balance", h.Balance)
}
