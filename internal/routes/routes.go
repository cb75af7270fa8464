package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vtuplug/vtuplug/internal/audit"
	"github.com/vtuplug/vtuplug/internal/auth"
	"github.com/vtuplug/vtuplug/internal/config"
	"github.com/vtuplug/vtuplug/internal/identity"
	"github.com/vtuplug/vtuplug/internal/ledger"
	"github.com/vtuplug/vtuplug/internal/middleware"
	"github.com/vtuplug/vtuplug/internal/notification"
	"github.com/vtuplug/vtuplug/internal/provider"
	"github.com/vtuplug/vtuplug/internal/purchase"
	"github.com/vtuplug/vtuplug/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. It returns the
// purchase service so main can hand it to the reconciliation sweeper.
func Setup(app *fiber.App, d Deps) (*purchase.Service, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))

	RegisterHealthRoutes(app, d)

	// Persistence backends fall back to in-memory stores in dev mode.
	var (
		ledgerBackend ledger.Ledger
		walletRepo    wallet.Repository
		identityRepo  identity.Repository
		purchaseRepo  purchase.Repository
		trail         audit.Trail
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		purchaseRepo = purchase.NewPostgresRepository(d.DB)
		trail = audit.NewPostgresTrail(d.DB, d.Logger)
	} else {
		ledgerBackend = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
		purchaseRepo = purchase.NewMemoryRepository()
		trail = audit.NewLogTrail(d.Logger)
	}

	walletSvc := wallet.NewService(walletRepo, ledgerBackend)
	identitySvc := identity.NewService(identityRepo, func(ctx context.Context, ownerID string) error {
		_, err := walletSvc.Create(ctx, wallet.CreateInput{OwnerID: ownerID})
		return err
	})
	authSvc := auth.NewService(d.Cfg, identityRepo)
	authHandler := auth.NewHandler(identitySvc, authSvc, walletSvc)

	// Dev mode without an API key runs against the scriptable stub so the
	// whole flow works offline.
	var providerClient provider.Client
	if d.Cfg.Provider.APIKey != "" {
		providerClient = provider.NewSMEPlug(d.Cfg.Provider)
	} else {
		providerClient = provider.NewStatic()
	}

	purchaseSvc := purchase.NewService(purchase.Deps{
		Repo:                 purchaseRepo,
		Wallets:              walletSvc,
		Ledger:               ledgerBackend,
		Provider:             providerClient,
		Trail:                trail,
		Notifier:             notification.NewLoggerNotifier(d.Logger),
		Logger:               d.Logger,
		MaxReconcileAttempts: d.Cfg.Reconcile.MaxAttempts,
		ReconcileWindow:      d.Cfg.Reconcile.Window,
		StaleAfter:           d.Cfg.Reconcile.StaleAfter,
	})

	walletHandler := wallet.NewHandler(walletSvc)
	purchaseHandler := purchase.NewHandler(purchaseSvc)
	providerHandler := provider.NewHandler(providerClient)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, 5))

	// Protected routes. Idempotency runs after JWTAuth so its cache keys are
	// scoped to the authenticated user.
	protected := api.Group("", middleware.JWTAuth(authSvc))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	protected.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		user, err := identitySvc.Get(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		return c.JSON(fiber.Map{
			"user_id":    user.ID,
			"phone":      user.Phone,
			"tier":       user.Tier,
			"device_id":  user.DeviceID,
			"created_at": user.CreatedAt,
		})
	})
	RegisterWalletRoutes(protected, walletHandler)
	RegisterPurchaseRoutes(protected, purchaseHandler)
	RegisterCatalogRoutes(protected, providerHandler)

	return purchaseSvc, nil
}
