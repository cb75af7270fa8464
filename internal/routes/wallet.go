package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vtuplug/vtuplug/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints for the authenticated user.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	group := r.Group("/wallet")
	group.Get("", h.Me)
	group.Post("/topup", h.TopUp)
}
