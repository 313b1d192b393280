package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const agreementColumns = `id, buyer_id::text, seller_id::text, total_amount, conditions, status::text, created_at, updated_at`

// PGRepository implements Repository against the agreements, timeline_events,
// outbox and idempotency tables. Every method runs inside the caller's
// transaction.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// InsertIdempotencyKey reserves key for the request described by fingerprint
// inside the active transaction. A key held by the same request yields
// ErrDuplicateIdempotencyKey; one held by a different request yields
// ErrIdempotencyKeyReused.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key, fingerprint string) error {
	if key == "" {
		return fmt.Errorf("escrow: empty idempotency key")
	}

	tag, err := tx.Exec(ctx, `INSERT INTO idempotency (key, fingerprint) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, fingerprint)
	if err != nil {
		return fmt.Errorf("escrow: insert idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var stored string
	if err := tx.QueryRow(ctx, `SELECT fingerprint FROM idempotency WHERE key = $1`, key).Scan(&stored); err != nil {
		return fmt.Errorf("escrow: read idempotency key: %w", err)
	}
	return matchFingerprint(stored, fingerprint)
}

func matchFingerprint(stored, requested string) error {
	if stored != requested {
		return fmt.Errorf("%w: key was first used for %q", ErrIdempotencyKeyReused, stored)
	}
	return ErrDuplicateIdempotencyKey
}

// Insert stores a new agreement. An existing id yields ErrAgreementExists.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	conditions, err := json.Marshal(a.Conditions)
	if err != nil {
		return Agreement{}, fmt.Errorf("escrow: marshal conditions: %w", err)
	}

	const insertSQL = `
INSERT INTO agreements (id, buyer_id, seller_id, total_amount, conditions, status)
VALUES ($1, $2::uuid, $3::uuid, $4, $5::jsonb, $6::agreement_status)
RETURNING ` + agreementColumns

	rec, err := scanAgreement(tx.QueryRow(ctx, insertSQL,
		int64(a.ID),
		string(a.Buyer),
		string(a.Seller),
		a.TotalAmount,
		conditions,
		string(a.Status),
	))
	if err != nil {
		return Agreement{}, insertError(err)
	}
	return rec, nil
}

// insertError maps constraint failures of an agreement insert onto sentinels.
// A party id that is not a UUID (22P02) or names no account (23503) is
// ErrUnknownParty.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAgreementExists
		case "22P02", "23503":
			return fmt.Errorf("%w: %s", ErrUnknownParty, pgErr.Message)
		}
	}
	return fmt.Errorf("escrow: insert agreement: %w", err)
}

// Get reads an agreement without locking it.
func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id AgreementID) (Agreement, error) {
	return r.get(ctx, tx, id, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`)
}

// GetForUpdate reads an agreement and holds its row lock until the transaction ends.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id AgreementID) (Agreement, error) {
	return r.get(ctx, tx, id, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1 FOR UPDATE`)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, id AgreementID, query string) (Agreement, error) {
	rec, err := scanAgreement(tx.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrAgreementNotFound
		}
		return Agreement{}, fmt.Errorf("escrow: get agreement: %w", err)
	}
	return rec, nil
}

// Update persists the mutable parts of an agreement: status and condition
// flags. Parties, amount and condition names are never rewritten. A row that
// is already finalized is left untouched and reported as ErrAlreadyFinalized.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	conditions, err := json.Marshal(a.Conditions)
	if err != nil {
		return Agreement{}, fmt.Errorf("escrow: marshal conditions: %w", err)
	}

	const updateSQL = `
UPDATE agreements
SET status = $2::agreement_status,
    conditions = $3::jsonb,
    updated_at = now()
WHERE id = $1
  AND status <> 'finalized'
RETURNING ` + agreementColumns

	rec, err := scanAgreement(tx.QueryRow(ctx, updateSQL, int64(a.ID), string(a.Status), conditions))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrAlreadyFinalized
		}
		return Agreement{}, fmt.Errorf("escrow: update agreement: %w", err)
	}
	return rec, nil
}

// List returns agreements where the party is buyer or seller, newest first.
func (r *PGRepository) List(ctx context.Context, tx pgx.Tx, filters ListFilters) ([]Agreement, int, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE (buyer_id = $1::uuid OR seller_id = $1::uuid)`
	countQuery := `SELECT COUNT(*) FROM agreements WHERE (buyer_id = $1::uuid OR seller_id = $1::uuid)`
	args := []any{string(filters.Party)}
	if filters.Status != "" {
		query += ` AND status = $2::agreement_status`
		countQuery += ` AND status = $2::agreement_status`
		args = append(args, string(filters.Status))
	}

	var total int
	if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("escrow: count agreements: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("escrow: list agreements: %w", err)
	}
	defer rows.Close()

	records := []Agreement{}
	for rows.Next() {
		rec, err := scanAgreement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("escrow: scan agreement: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("escrow: iterate agreements: %w", err)
	}

	return records, total, nil
}

// AppendTimeline records an immutable business event for the agreement.
func (r *PGRepository) AppendTimeline(ctx context.Context, tx pgx.Tx, id AgreementID, eventType string, actor AccountID, payload map[string]any) error {
	return insertTimelineEvent(ctx, tx, id, eventType, actor, payload)
}

// EnqueueOutbox writes a pending outbox message for downstream delivery.
func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return enqueueOutbox(ctx, tx, topic, payload)
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var (
		rec        Agreement
		id         int64
		buyer      string
		seller     string
		conditions []byte
		status     string
	)
	if err := row.Scan(&id, &buyer, &seller, &rec.TotalAmount, &conditions, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Agreement{}, err
	}
	if err := json.Unmarshal(conditions, &rec.Conditions); err != nil {
		return Agreement{}, fmt.Errorf("escrow: decode conditions: %w", err)
	}
	rec.ID = AgreementID(id)
	rec.Buyer = AccountID(buyer)
	rec.Seller = AccountID(seller)
	rec.Status = Status(status)
	return rec, nil
}
