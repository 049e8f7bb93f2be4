// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/config"
	"bookhold/internal/guard"
	"bookhold/internal/httpapi"
	"bookhold/internal/lock"
	"bookhold/internal/membership"
	"bookhold/internal/store/memory"
	"bookhold/internal/store/postgres"
	"bookhold/internal/telemetry"
	"bookhold/pkg/eventstore"

	"github.com/redis/go-redis/v9"
)

type repository interface {
	catalog.Repository
	membership.Repository
	circulation.Repository
	guard.Repository
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "bookhold", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Error("telemetry shutdown", "error", err)
		}
	}()

	var (
		repo    repository
		journal eventstore.Journal
	)
	switch cfg.Store {
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		repo, journal = store, eventstore.NewEventStore(store.DB())
	default:
		repo, journal = memory.NewStore(), eventstore.NewMemoryStore()
	}

	var locker lock.Locker = lock.NewKeyed()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		locker = lock.NewRedis(rdb, "bookhold:", log)
	}

	if cfg.JWTSecret == config.DevJWTSecret {
		log.Warn("JWT_SECRET not set, signing tokens with the development secret")
	}
	tokens := membership.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	holds := circulation.NewService(repo, journal, log, circulation.Options{})
	router := httpapi.NewRouter(httpapi.Services{
		Catalog: catalog.NewService(repo, journal, log),
		Membership: membership.NewService(repo, journal, log, membership.Options{
			AdminUsernames: cfg.AdminUsernames,
		}),
		Circulation: holds,
		Guard:       guard.New(repo, journal, log),
		Tokens:      tokens,
		Log:         log,
	})

	if cfg.ReaperInterval > 0 {
		go circulation.NewReaper(holds, locker, cfg.ReaperInterval, log).Run(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("bookhold listening", "port", cfg.Port, "store", cfg.Store)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
