package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested account does not exist.
	ErrNotFound = errors.New("ledger: account not found")
	// ErrInsufficientFunds signals the source balance cannot cover the transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidAmount rejects zero and negative movements.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrSameAccount rejects transfers from an account to itself.
	ErrSameAccount = errors.New("ledger: source and destination are the same account")
)

// Repository provides access to account balances and transfers.
type Repository struct {
	pool  *pgxpool.Pool
	newID func() string
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, newID: uuid.NewString}
}

// GetByID fetches an account by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Account{}, ErrNotFound
	}

	const query = `
		SELECT id::text, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var acct Account
	err := r.pool.QueryRow(ctx, query, id).Scan(&acct.ID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("ledger: query by id: %w", err)
	}

	return acct, nil
}

// List fetches up to limit accounts ordered by creation time.
func (r *Repository) List(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id::text, balance, created_at, updated_at
		FROM accounts
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0, limit)
	for rows.Next() {
		var acct Account
		if err := rows.Scan(&acct.ID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate accounts: %w", err)
	}

	return accounts, nil
}

// Open makes sure an account row exists for id. Existing balances are kept.
func (r *Repository) Open(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("ledger: invalid account id %q", id)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1::uuid) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return fmt.Errorf("ledger: open account: %w", err)
	}
	return nil
}

// Credit adds funds to an account from outside the ledger.
func (r *Repository) Credit(ctx context.Context, id string, amount int64, reference string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	if _, err := uuid.Parse(id); err != nil {
		return Account{}, ErrNotFound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var acct Account
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING id::text, balance, created_at, updated_at
	`, id, amount).Scan(&acct.ID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("ledger: credit: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_transfers (id, from_account_id, to_account_id, amount, reference)
		VALUES ($1, NULL, $2, $3, $4)
	`, r.newID(), id, amount, reference); err != nil {
		return Account{}, fmt.Errorf("ledger: record credit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("ledger: commit credit: %w", err)
	}
	return acct, nil
}

// Transfer moves amount between two accounts inside the caller's transaction.
// Both rows are locked in id order so concurrent transfers cannot deadlock.
func (r *Repository) Transfer(ctx context.Context, tx pgx.Tx, params TransferParams) (Transfer, error) {
	if params.Amount <= 0 {
		return Transfer{}, ErrInvalidAmount
	}
	if params.From == params.To {
		return Transfer{}, ErrSameAccount
	}
	for _, id := range []string{params.From, params.To} {
		if _, err := uuid.Parse(id); err != nil {
			return Transfer{}, ErrNotFound
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT id::text, balance
		FROM accounts
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, []string{params.From, params.To})
	if err != nil {
		return Transfer{}, fmt.Errorf("ledger: lock accounts: %w", err)
	}
	balances := make(map[string]int64, 2)
	for rows.Next() {
		var (
			id      string
			balance int64
		)
		if err := rows.Scan(&id, &balance); err != nil {
			rows.Close()
			return Transfer{}, fmt.Errorf("ledger: scan balance: %w", err)
		}
		balances[id] = balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Transfer{}, fmt.Errorf("ledger: iterate balances: %w", err)
	}

	fromBalance, ok := balances[params.From]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	if _, ok := balances[params.To]; !ok {
		return Transfer{}, ErrNotFound
	}
	if fromBalance < params.Amount {
		return Transfer{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, fromBalance, params.Amount)
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE id = $2`, params.Amount, params.From); err != nil {
		return Transfer{}, fmt.Errorf("ledger: debit: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2`, params.Amount, params.To); err != nil {
		return Transfer{}, fmt.Errorf("ledger: credit: %w", err)
	}

	out := Transfer{
		ID:        r.newID(),
		From:      params.From,
		To:        params.To,
		Amount:    params.Amount,
		Reference: params.Reference,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO ledger_transfers (id, from_account_id, to_account_id, amount, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, out.ID, out.From, out.To, out.Amount, out.Reference).Scan(&out.CreatedAt); err != nil {
		return Transfer{}, fmt.Errorf("ledger: record transfer: %w", err)
	}

	return out, nil
}
