package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/coinpitch/wager-engine/internal/audit"
	"github.com/coinpitch/wager-engine/internal/metrics"
	"github.com/coinpitch/wager-engine/internal/policy"
	"github.com/coinpitch/wager-engine/internal/risk"
	"github.com/coinpitch/wager-engine/internal/store"
	"github.com/coinpitch/wager-engine/internal/wager"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Stake limits ---
	maxStake := decimal.NewFromInt(1_000_000)
	maxOpenStake := decimal.NewFromInt(5_000_000)
	limiter := risk.NewStakeLimiter(maxStake, maxOpenStake)

	// --- WebSocket hub ---
	wsHub := wager.NewWSHub()
	go wsHub.Run()

	// --- Wager service ---
	resolver := policy.NewResolver()
	sink := audit.NewLogSink()
	wagerSvc := wager.NewService(st, resolver, limiter, sink, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the live wager event feed.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/accounts", wagerSvc.CreateAccount)
		r.Get("/accounts/{userID}", wagerSvc.GetAccount)
		r.Post("/accounts/{userID}/deposit", wagerSvc.Deposit)
		r.Get("/accounts/{userID}/wagers", wagerSvc.ListUserWagers)

		// Wagers.
		r.Get("/periods", wagerSvc.ListPeriods)
		r.Post("/wagers", wagerSvc.PlaceWager)
		r.Get("/wagers/{wagerID}", wagerSvc.GetWager)
		r.Post("/wagers/{wagerID}/settle", wagerSvc.SettleWager)

		// Policy administration (authorization enforced upstream).
		r.Get("/admin/policy", wagerSvc.GetPolicy)
		r.Put("/admin/policy", wagerSvc.UpdatePolicy)
		r.Put("/admin/users/{userID}/override", wagerSvc.SetUserOverride)
		r.Put("/admin/users/{userID}/streak", wagerSvc.SetWinStreak)
		r.Put("/admin/wagers/{wagerID}/force", wagerSvc.ForceWagerResult)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wager-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wager-engine stopped")
}
