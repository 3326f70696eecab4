package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"sellerhub/internal/aggregate"
	"sellerhub/internal/api/handlers"
	"sellerhub/internal/api/middleware"
	"sellerhub/internal/auth/token"
	"sellerhub/internal/config"
	"sellerhub/internal/db"
	"sellerhub/internal/db/models"
	"sellerhub/internal/marketplace"
	"sellerhub/internal/store"
	"sellerhub/internal/version"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfgPath := os.Getenv("SELLERHUB_CONFIG")
	if cfgPath == "" {
		cfgPath = "sellerhub.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	accounts := store.New(database)

	// Marketplace clients
	oauthClient := marketplace.NewOAuthClient()
	resourceClient := marketplace.NewResourceClient()

	// Token lifecycle: manager plus proactive refresh scheduler
	tokenManager := token.NewManager(accounts, oauthClient)
	scheduler := token.NewScheduler(tokenManager, accounts, token.SchedulerConfig{
		Interval:        cfg.Refresh.Interval.Std(),
		InitialDelay:    cfg.Refresh.InitialDelay.Std(),
		BetweenAccounts: cfg.Refresh.BetweenAccounts.Std(),
	})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start refresh scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Cross-account aggregation
	aggregator := aggregate.New(accounts, tokenManager, cfg.Fanout.Width)

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)

	// OAuth link flow
	r.Get("/auth/meli/login", handlers.LinkLoginHandler(cfg, oauthClient))
	r.Get("/auth/meli/callback", handlers.LinkCallbackHandler(cfg, oauthClient, accounts))

	// API routes (admin API key required)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))

		// Account management
		r.Get("/accounts", handlers.AccountsHandler(accounts))
		r.Post("/accounts/{id}/promote", handlers.PromoteAccountHandler(accounts))
		r.Post("/accounts/{id}/pause", handlers.SetAccountStatusHandler(accounts, models.StatusPaused))
		r.Post("/accounts/{id}/resume", handlers.SetAccountStatusHandler(accounts, models.StatusActive))
		r.Post("/accounts/{id}/disconnect", handlers.DisconnectAccountHandler(accounts))
		r.Post("/accounts/{id}/refresh", handlers.RefreshAccountHandler(tokenManager))

		// Aggregated queries across all linked accounts
		r.Get("/orders", handlers.OrdersHandler(aggregator, resourceClient))
		r.Get("/questions", handlers.QuestionsHandler(aggregator, resourceClient))

		// Refresh tokens
		r.Post("/refresh", handlers.RefreshHandler(scheduler))

		// API Key management
		r.Get("/config/apikey", handlers.GetAPIKeyHandler(database))
		r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(database))
	})

	log.Printf("🚀 SellerHub %s starting on http://%s", version.Version, cfg.Addr())
	if err := http.ListenAndServe(cfg.Addr(), r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
