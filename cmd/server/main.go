package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/paper-engine/internal/api"
	"github.com/atmx/paper-engine/internal/config"
	"github.com/atmx/paper-engine/internal/correlation"
	"github.com/atmx/paper-engine/internal/ledger"
	"github.com/atmx/paper-engine/internal/logging"
	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/narrative"
	"github.com/atmx/paper-engine/internal/store"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logger, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Narratives ---
	catalogue := narrative.DefaultCatalogue()
	if cfg.Narratives.File != "" {
		catalogue, err = narrative.LoadCatalogue(cfg.Narratives.File)
		if err != nil {
			slog.Error("narrative catalogue load failed", "file", cfg.Narratives.File, "err", err)
			os.Exit(1)
		}
	}
	registry, err := narrative.NewRegistry(ctx, catalogue, st)
	if err != nil {
		slog.Error("narrative registry init failed", "err", err)
		os.Exit(1)
	}
	slog.Info("narratives loaded", "count", len(catalogue), "overrides", len(registry.Overrides()))

	// --- Ledger and gate ---
	trades := ledger.New(st, cfg.Ledger.Balance())
	gate := correlation.NewGate(registry, correlation.Sources{trades, correlation.StoredPositions{Repo: st}})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	svc := api.NewService(registry, gate, trades, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
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
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// The request timeout stays off the WebSocket route.
	r.Group(func(r chi.Router) {
		r.Use(timeoutExceptWS(30 * time.Second))
		svc.Mount(r)
	})

	// --- Server ---
	port := strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}

// openStore builds the configured backend, optionally wrapped with the Redis
// read-through cache. cleanup runs in reverse order on exit.
func openStore(ctx context.Context, cfg config.Config) (store.Store, []func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)

	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()

	case config.DriverFile:
		st = store.NewFileStore(cfg.Store.DataDir)
		slog.Info("using file store", "dir", cfg.Store.DataDir)

	case config.DriverBadger:
		bs, err := store.OpenBadgerStore(cfg.Store.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { bs.Close() })
		st = bs
		slog.Info("opened Badger store", "path", cfg.Store.BadgerPath)

	case config.DriverSQLite:
		ss, err := store.OpenSQLiteStore(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { ss.Close() })
		st = ss
		slog.Info("opened SQLite store", "path", cfg.Store.SQLitePath)

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		ps := store.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		st = ps
		slog.Info("connected to PostgreSQL")

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			for _, fn := range cleanup {
				fn()
			}
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
	}

	return st, cleanup, nil
}

// timeoutExceptWS applies middleware.Timeout to every request except
// WebSocket upgrades, which outlive any request deadline.
func timeoutExceptWS(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timed := middleware.Timeout(d)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	}
}
