package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvalidMessageID rejects settling a message whose id is not a UUID.
var ErrInvalidMessageID = errors.New("outbox: invalid message id")

// PGStore reads and settles outbox rows inside a caller-owned transaction.
type PGStore struct{}

// NewStore creates a PostgreSQL-backed outbox store.
func NewStore() *PGStore {
	return &PGStore{}
}

// ClaimPending locks up to limit pending rows, oldest first. Rows locked by
// another relay are skipped.
func (s *PGStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const claimSQL = `
		SELECT id::text, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, claimSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate messages: %w", err)
	}
	return out, nil
}

// MarkProcessed settles a delivered message.
func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	const updateSQL = `
		UPDATE outbox
		SET status = 'processed', attempts = attempts + 1, last_attempt = now(), last_error = NULL
		WHERE id = $1::uuid
	`
	if _, err := tx.Exec(ctx, updateSQL, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery. A dead message is never retried.
func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, dead bool) error {
	if err := validID(id); err != nil {
		return err
	}
	status := StatusPending
	if dead {
		status = StatusDead
	}
	const updateSQL = `
		UPDATE outbox
		SET status = $2, attempts = attempts + 1, last_attempt = now(), last_error = $3
		WHERE id = $1::uuid
	`
	if _, err := tx.Exec(ctx, updateSQL, id, status, cause); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidMessageID, id)
	}
	return nil
}
