package purchase

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vtuplug/vtuplug/internal/ledger"
	"github.com/vtuplug/vtuplug/internal/wallet"
)

// Handler exposes purchase endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a purchase handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type submitRequest struct {
	ProductType    string `json:"product_type"`
	Amount         int64  `json:"amount"`
	Target         string `json:"target"`
	NetworkID      int    `json:"network_id"`
	PlanID         int    `json:"plan_id"`
	BillerCode     string `json:"biller_code"`
	IdempotencyKey string `json:"idempotency_key"`
}

type requestResponse struct {
	RequestID         string `json:"request_id"`
	ProductType       string `json:"product_type"`
	Amount            int64  `json:"amount"`
	Target            string `json:"target"`
	State             string `json:"state"`
	ProviderReference string `json:"provider_reference,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// Submit creates (or replays) a purchase request.
func (h *Handler) Submit(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Submit(c.UserContext(), SubmitInput{
		UserID:         uid,
		ProductType:    ProductType(req.ProductType),
		Amount:         req.Amount,
		Target:         req.Target,
		NetworkID:      req.NetworkID,
		PlanID:         req.PlanID,
		BillerCode:     req.BillerCode,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusBadRequest, "insufficient funds")
		case errors.Is(err, ledger.ErrConcurrencyConflict):
			return fiber.NewError(http.StatusConflict, "wallet busy, try again")
		case errors.Is(err, wallet.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		case result.ID != "":
			// The request exists; surface its state rather than a bare error.
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	status := http.StatusCreated
	if result.State == StateAmbiguous {
		// Not final yet; the client polls until reconciliation settles it.
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(toResponse(result))
}

// Get returns the current state of one purchase request.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	req, err := h.service.Get(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotOwner):
			return fiber.NewError(http.StatusForbidden, "not your purchase")
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "purchase not found")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusOK).JSON(toResponse(req))
}

// List returns the caller's purchase history newest-first.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	requests, err := h.service.List(c.UserContext(), uid, c.QueryInt("limit", 50))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toResponse(req))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"purchases": out})
}

func toResponse(req Request) requestResponse {
	return requestResponse{
		RequestID:         req.ID,
		ProductType:       string(req.ProductType),
		Amount:            req.Amount,
		Target:            req.Target,
		State:             string(req.State),
		ProviderReference: req.ProviderReference,
		FailureReason:     req.FailureReason,
		CreatedAt:         req.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         req.UpdatedAt.Format(time.RFC3339Nano),
	}
}
