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

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/migrations"
	"escrowflow/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("escrowflow exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := newLogger(os.Stderr, cfg.LogFormat, level)
	slog.SetDefault(logger)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		ApplicationName: "escrowflow-api",
	})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.Files); err != nil {
		return err
	}

	ledgerRepo := ledger.NewRepository(pool)
	if err := openHolder(ctx, pool, ledgerRepo, cfg.HolderAccountID); err != nil {
		return err
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret).
		WithOperators(cfg.OperatorEmails).
		WithTokenTTL(cfg.TokenTTL)
	escrowService := escrow.NewService(pool, escrow.NewRepository(), ledgerRepo, escrow.AccountID(cfg.HolderAccountID)).
		WithLogger(logger)

	server := &Server{
		authService:    authService,
		accountService: ledger.NewService(ledgerRepo),
		escrowService:  escrowService,
		logger:         logger,
	}

	var publisher outbox.Publisher = outbox.NewLogPublisher(logger)
	if cfg.Outbox.WebhookURL != "" {
		publisher = outbox.NewWebhookPublisher(cfg.Outbox.WebhookURL)
	}
	relay := outbox.NewRelay(pool, nil, publisher, outbox.RelayOptions{
		Interval:    cfg.Outbox.PollInterval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openHolder(ctx context.Context, pool *pgxpool.Pool, repo *ledger.Repository, holder string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("open holder account: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := repo.Open(ctx, tx, holder); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("open holder account: %w", err)
	}
	return nil
}
