package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vtuplug/vtuplug/internal/ledger"
)

// Handler exposes wallet HTTP endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type topUpRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	Method    string `json:"payment_method"`
}

// Me returns the caller's wallet with its current balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	w, err := h.service.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	}
	balance, err := h.service.Balance(c.UserContext(), w.ID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"id":         w.ID,
		"currency":   w.Currency,
		"status":     w.Status,
		"balance":    balance.Amount,
		"as_of":      balance.AsOf,
		"created_at": w.CreatedAt,
	})
}

// TopUp credits the caller's wallet from a completed gateway payment.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	entry, err := h.service.TopUp(c.UserContext(), TopUpInput{
		OwnerID:   uid,
		Amount:    req.Amount,
		Reference: req.Reference,
		Method:    req.Method,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"entry_id":  entry.ID,
		"wallet_id": entry.WalletID,
		"reference": entry.Reference,
		"amount":    entry.Delta,
		"balance":   entry.ResultingBalance,
	})
}
