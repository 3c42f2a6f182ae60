package main

import (
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/handlers"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/scheduler"
	"github.com/username/cryptofolio/backend/src/security"
	"github.com/username/cryptofolio/backend/src/services"
	"golang.org/x/time/rate"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Cryptofolio backend server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		stdlog.Fatal("JWT_SECRET configuration invalid: must be at least 32 characters.")
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)

	priceCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AppPasswordHash, config.Cfg.AccessTokenExpiry)
	priceService := services.NewPriceService(database.DB, priceCache)

	balanceProcessor := processors.NewBalanceProcessor(database.DB, config.Cfg.EventPageSize)
	tradeProcessor := processors.NewTradeProcessor(database.DB)
	networthProcessor := processors.NewNetworthProcessor(database.DB, priceService)

	broker := scheduler.NewBroker()
	registry, err := scheduler.NewRegistry(database.DB, broker, config.Cfg.JobGracePeriod)
	if err != nil {
		stdlog.Fatalf("Failed to initialize job scheduler: %v", err)
	}

	ledgerService := services.NewLedgerService(database.DB, registry, balanceProcessor, tradeProcessor, networthProcessor)

	authHandler := handlers.NewAuthHandler(authService)
	accountHandler := handlers.NewAccountHandler(database.DB, ledgerService)
	ledgerHandler := handlers.NewLedgerHandler(database.DB, ledgerService)
	jobHandler := handlers.NewJobHandler(database.DB, registry, ledgerService)
	priceHandler := handlers.NewPriceHandler(priceService)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Cryptofolio Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.HandleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware(authService))

			r.Get("/accounts", accountHandler.HandleListAccounts)
			r.Post("/accounts", accountHandler.HandleCreateAccount)
			r.Delete("/accounts/{accountID}", accountHandler.HandleDeleteAccount)
			r.Put("/prices", priceHandler.HandleUpsertDailyPrice)

			r.Route("/accounts/{accountID}", func(r chi.Router) {
				r.Get("/summary", accountHandler.HandleGetAccountSummary)
				r.Post("/entries", ledgerHandler.HandleAppendEntries)
				r.Get("/entries", ledgerHandler.HandleGetEntries)
				r.Post("/transactions", ledgerHandler.HandleAddTransaction)
				r.Get("/transactions", ledgerHandler.HandleGetTransactions)
				r.Get("/balances", ledgerHandler.HandleGetBalances)
				r.Get("/trades", ledgerHandler.HandleGetTrades)
				r.Get("/networth", ledgerHandler.HandleGetNetworth)

				r.Get("/jobs", jobHandler.HandleListJobs)
				r.Post("/jobs/compute", jobHandler.HandleCompute)
				r.Delete("/jobs/{jobID}", jobHandler.HandleCancelJob)
				r.Get("/jobs/{jobID}/logs", jobHandler.HandleGetJobLogs)
				r.Get("/jobs/events", jobHandler.HandleEvents)
			})
		})
	})

	r.NotFound(handlers.NotFoundHandler)

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams must outlive any write deadline
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
