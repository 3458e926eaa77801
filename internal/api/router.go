// Package api provides the HTTP API for TransitPay.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api/handler"
	"github.com/transitpay/transitpay/internal/api/middleware"
	"github.com/transitpay/transitpay/internal/auth"
	"github.com/transitpay/transitpay/internal/events"
	"github.com/transitpay/transitpay/internal/ledger"
	"github.com/transitpay/transitpay/internal/realtime"
	"github.com/transitpay/transitpay/internal/resilience"
	"github.com/transitpay/transitpay/internal/tracker"
	"github.com/transitpay/transitpay/internal/transit"
	"github.com/transitpay/transitpay/internal/trip"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	JWTService    *auth.JWTService
	LedgerService *ledger.Service
	TripService   *trip.Service
	TransitRepo   transit.Repository
	Tracker       tracker.Tracker
	Hub           *realtime.Hub
	Sink          events.Sink
	Registry      *resilience.Registry

	// Checks are subsystem pings surfaced by readiness and status.
	Checks map[string]handler.DependencyCheck
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "transitpay-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry)
	for name, check := range cfg.Checks {
		opsHandler.AddCheck(name, check)
	}
	tapHandler := handler.NewTapHandler(cfg.TripService, cfg.Logger)
	walletHandler := handler.NewWalletHandler(cfg.LedgerService, cfg.Hub, cfg.Logger)
	routeHandler := handler.NewRouteHandler(cfg.TransitRepo, cfg.Logger)
	locationHandler := handler.NewLocationHandler(cfg.Tracker, cfg.TransitRepo, cfg.Sink, cfg.Logger)
	wsHandler := handler.NewWSHandler(cfg.Hub, cfg.JWTService, cfg.LedgerService, cfg.Logger)

	// Create auth middleware
	authMiddleware := middleware.Auth(cfg.JWTService)

	// Create rate limit middleware for different endpoint categories
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status endpoint requires authentication
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Realtime event stream. Authenticates inside the handler so
		// browser clients can pass the token as a query parameter.
		r.Get("/ws", wsHandler.Serve)

		// Route and stop read model (public) - standard rate limiting
		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(standardRateLimit)
			r.Get("/routes", routeHandler.ListRoutes)
			r.Get("/routes/{routeId}", routeHandler.GetRoute)
			r.Get("/stops/{stopId}", routeHandler.GetStop)
			r.Get("/vehicles/nearby", locationHandler.NearbyVehicles)
			r.Get("/vehicles/active", locationHandler.ActiveVehicles)
			r.Get("/vehicles/{vehicleId}/location", locationHandler.GetVehicleLocation)
		})

		// Vehicle position reports (authenticated)
		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit))
			r.Put("/vehicles/{vehicleId}/location", locationHandler.SetVehicleLocation)
		})

		// Taps (authenticated) - these move money, strict rate limiting
		r.Route("/taps", func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.ExpensiveRateLimit)) // 30 req/min per user
			r.Post("/", tapHandler.Tap)
			r.Post("/board", tapHandler.Board)
			r.Post("/exit", tapHandler.Exit)
		})

		// Trips (authenticated)
		r.With(middleware.ContentTypeJSON, authMiddleware, middleware.RateLimitByUser(middleware.StandardRateLimit)).
			Get("/trips/{tripId}", tapHandler.GetTrip)

		// Me endpoints (authenticated) - user-based rate limiting
		r.Route("/me", func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit)) // 100 req/min per user
			r.Get("/legs", tapHandler.ListMyLegs)
		})

		// Wallets (authenticated) - user-based rate limiting
		r.Route("/wallets", func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit))
			r.Post("/", walletHandler.CreateWallet)
			r.Get("/me", walletHandler.GetMyWallet)

			r.Route("/{walletId}", func(r chi.Router) {
				r.Get("/", walletHandler.GetWallet)
				r.Get("/transactions", walletHandler.ListTransactions)
				r.Get("/transactions/{transactionId}", walletHandler.GetTransaction)
				r.Get("/history", walletHandler.ListHistory)

				// Money movement - strict rate limiting
				r.Group(func(r chi.Router) {
					r.Use(expensiveRateLimit)
					r.Post("/topups", walletHandler.InitiateTopUp)
					r.Post("/topups/{transactionId}/confirm", walletHandler.ConfirmTopUp)
					r.Post("/preauths", walletHandler.Preauthorize)
					r.Post("/preauths/{transactionId}/capture", walletHandler.CapturePreauth)
					r.Post("/preauths/{transactionId}/release", walletHandler.ReleasePreauth)
				})
			})
		})
	})

	return r
}
