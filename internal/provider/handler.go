package provider

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the aggregator catalog and float balance.
type Handler struct {
	client Client
}

// NewHandler builds a provider HTTP handler.
func NewHandler(client Client) *Handler {
	return &Handler{client: client}
}

// Networks lists the mobile networks the aggregator serves.
func (h *Handler) Networks(c *fiber.Ctx) error {
	networks, err := h.client.Networks(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"networks": networks})
}

// DataPlans lists purchasable data plans, optionally filtered by network.
func (h *Handler) DataPlans(c *fiber.Ctx) error {
	plans, err := h.client.DataPlans(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	if networkID := c.QueryInt("network_id"); networkID > 0 {
		filtered := plans[:0]
		for _, plan := range plans {
			if plan.NetworkID == networkID {
				filtered = append(filtered, plan)
			}
		}
		plans = filtered
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"plans": plans})
}

// Balance reports the platform's float balance with the aggregator.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.client.AccountBalance(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": balance})
}
