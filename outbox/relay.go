package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner begins transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store claims and settles outbox rows.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, dead bool) error
}

// RelayOptions tunes a Relay. Zero values fall back to defaults.
type RelayOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Logger      *slog.Logger
}

// Relay moves pending outbox rows to a Publisher.
type Relay struct {
	pool        TxBeginner
	store       Store
	publisher   Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// DeliveryStats summarises one relay pass.
type DeliveryStats struct {
	Processed int
	Retried   int
	Dead      int
}

// NewRelay wires a relay. A nil store uses the PostgreSQL store.
func NewRelay(pool TxBeginner, store Store, publisher Publisher, opts RelayOptions) *Relay {
	if store == nil {
		store = NewStore()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		pool:        pool,
		store:       store,
		publisher:   publisher,
		logger:      opts.Logger,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
	}
}

// Run polls until ctx is cancelled. A failed pass is logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "outbox relay started", slog.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "outbox relay pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce delivers one batch inside a single transaction.
func (r *Relay) RunOnce(ctx context.Context) (DeliveryStats, error) {
	var stats DeliveryStats

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimPending(ctx, tx, r.batchSize)
	if err != nil {
		return stats, err
	}
	if len(msgs) == 0 {
		return stats, nil
	}

	for _, msg := range msgs {
		pubErr := r.publisher.Publish(ctx, msg)
		if pubErr == nil {
			if err := r.store.MarkProcessed(ctx, tx, msg.ID); err != nil {
				return DeliveryStats{}, err
			}
			stats.Processed++
			continue
		}

		dead := msg.Attempts+1 >= r.maxAttempts
		if err := r.store.MarkFailed(ctx, tx, msg.ID, pubErr.Error(), dead); err != nil {
			return DeliveryStats{}, err
		}
		if dead {
			stats.Dead++
			r.logger.ErrorContext(ctx, "outbox message dead",
				slog.String("id", msg.ID),
				slog.String("topic", msg.Topic),
				slog.Int("attempts", msg.Attempts+1),
				slog.Any("error", pubErr),
			)
			continue
		}
		stats.Retried++
		r.logger.WarnContext(ctx, "outbox delivery failed",
			slog.String("id", msg.ID),
			slog.String("topic", msg.Topic),
			slog.Int("attempts", msg.Attempts+1),
			slog.Any("error", pubErr),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeliveryStats{}, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return stats, nil
}
