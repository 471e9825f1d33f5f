package http

import (
	"time"

	"github.com/custody-ledger/backend/internal/http/handlers"
	"github.com/custody-ledger/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	JWTSecret          string
	AllowDirectFunding bool
	RateLimitPerMinute int
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// SetupRouter mounts every route. rdb and wsHub may be nil, which disables
// rate limiting and the event stream.
func SetupRouter(
	app *fiber.App,
	cfg RouterConfig,
	log *zap.Logger,
	rdb *redis.Client,
	escrowHandler *handlers.EscrowHandler,
	rentalHandler *handlers.RentalHandler,
	ledgerHandler *handlers.LedgerHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1", middleware.AuthMiddleware(cfg.JWTSecret, log))
	if rdb != nil && cfg.RateLimitPerMinute > 0 {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	}
	funding := middleware.DirectFundingMiddleware(cfg.AllowDirectFunding)

	// Escrows
	api.Post("/escrows", escrowHandler.CreateEscrow)
	api.Get("/escrows/:id", escrowHandler.GetEscrow)
	api.Get("/escrows/:id/balance", escrowHandler.GetBalance)
	api.Post("/escrows/:id/deposit", funding, escrowHandler.Deposit)
	api.Post("/escrows/:id/confirm", escrowHandler.ConfirmDelivery)
	api.Post("/escrows/:id/release", escrowHandler.ReleaseFunds)
	api.Post("/escrows/:id/dispute", escrowHandler.InitiateDispute)
	api.Get("/escrows/:id/events", escrowHandler.GetEvents)

	// Rental systems
	api.Post("/rentals", rentalHandler.CreateRentalSystem)
	api.Get("/rentals/:id", rentalHandler.GetRentalSystem)
	api.Get("/rentals/:id/books", rentalHandler.ListBooks)
	api.Post("/rentals/:id/books", rentalHandler.AddBook)
	api.Get("/rentals/:id/books/:bookId", rentalHandler.GetBook)
	api.Post("/rentals/:id/books/:bookId/rent", funding, rentalHandler.RentBook)
	api.Post("/rentals/:id/books/:bookId/return", rentalHandler.ReturnBook)
	api.Post("/rentals/:id/books/:bookId/damage", rentalHandler.ReportDamage)
	api.Get("/rentals/:id/books/:bookId/agreement", rentalHandler.GetAgreement)
	api.Get("/rentals/:id/books/:bookId/history", rentalHandler.GetHistory)
	api.Post("/rentals/:id/withdraw", rentalHandler.WithdrawRetained)
	api.Get("/rentals/:id/events", rentalHandler.GetEvents)

	// Any ledger
	api.Get("/ledgers/:id/payouts", ledgerHandler.ListPayouts)
	api.Get("/ledgers/:id/audit", ledgerHandler.AuditTrail)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}
