package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poyrazK/cardgate/internal/adapters/api"
	"github.com/poyrazK/cardgate/internal/adapters/events"
	"github.com/poyrazK/cardgate/internal/adapters/repository"
	"github.com/poyrazK/cardgate/internal/config"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/poyrazK/cardgate/internal/core/services"
	"github.com/poyrazK/cardgate/internal/infrastructure/listener"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardgate: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("cardgate stopped with error", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. ready, when set, receives the bound
// address once the listener is open.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(net.Addr)) error {
	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	opts, closeEvents, err := openEvents(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	svc := services.NewCardService(repo, cfg.Policy(), logger, opts...)

	apiHandler := api.NewAPIHandler(svc, api.Options{
		AdminToken:        cfg.Admin.Token,
		ValidateRateLimit: cfg.Server.RateLimit,
		RateWindow:        time.Minute,
		Location:          loc,
	}, logger)
	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	srv := &http.Server{
		Handler:      api.Chain(mux, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ln, err := listener.Listen(ctx, cfg.Server.Addr, cfg.Server.ReusePort)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	sweeper := services.NewSweeper(svc, cfg.Sweep.Interval, logger)
	go sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("cardgate API listening", "addr", ln.Addr().String(), "store", cfg.Store.Driver, "events", cfg.Events.Backend)
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.CardRepository, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("using in-memory card store, cards are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.Store.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Store.MaxOpenConn)
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}

	repo := repository.NewPostgresRepository(db)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		logger.Warn("could not ping database", "error", err)
	}

	if cfg.Store.Migrate {
		if err := repo.Migrate(ctx); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return repo, closeDB, nil
}

func openEvents(cfg *config.Config, logger *slog.Logger) ([]services.Option, func(), error) {
	switch cfg.Events.Backend {
	case "redis":
		pub := events.NewRedisPublisher(cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB)
		opts := []services.Option{
			services.WithPublisher(pub),
			services.WithHealthCheck("events", pub.Ping),
		}
		closeFn := func() {
			if err := pub.Close(); err != nil {
				logger.Error("failed to close redis publisher", "error", err)
			}
		}
		return opts, closeFn, nil

	case "nats":
		conn, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.NATSToken)
		if err != nil {
			return nil, nil, err
		}
		pub := events.NewNATSPublisher(conn)
		check := func(context.Context) error {
			if !conn.IsConnected() {
				return fmt.Errorf("nats connection %s", conn.Status())
			}
			return nil
		}
		opts := []services.Option{
			services.WithPublisher(pub),
			services.WithHealthCheck("events", check),
		}
		closeFn := func() {
			if err := pub.Close(); err != nil {
				logger.Error("failed to drain nats connection", "error", err)
			}
		}
		return opts, closeFn, nil
	}
	return nil, func() {}, nil
}
