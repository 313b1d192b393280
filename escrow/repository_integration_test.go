package escrow

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

// TestEscrowLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL
// and drives create → deposit → confirmations → release through the real
// repository and ledger.
func TestEscrowLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"agreements", "accounts", "ledger_transfers", "timeline_events", "outbox", "idempotency"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply migrations/*.sql to $DATABASE_URL first")
		}
	}

	holderID := uuid.NewString()
	buyerID := uuid.NewString()
	sellerID := uuid.NewString()
	for _, id := range []string{holderID, buyerID, sellerID} {
		if _, err := pool.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1)`, id); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	if _, err := pool.Exec(ctx, `UPDATE accounts SET balance = 500 WHERE id = $1`, buyerID); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}

	id := AgreementID(rand.Uint32())

	svc := NewService(pool, NewRepository(), ledger.NewRepository(pool), AccountID(holderID))
	b, s := AccountID(buyerID), AccountID(sellerID)

	if _, err := svc.Create(ctx, b, CreateParams{ID: id, Buyer: b, Seller: s, TotalAmount: 200, Conditions: []string{"inspection", "title"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, b, CreateParams{ID: id, Buyer: b, Seller: s, TotalAmount: 1, Conditions: []string{"x"}}); !errors.Is(err, ErrAgreementExists) {
		t.Fatalf("duplicate create: expected ErrAgreementExists, got %v", err)
	}

	for _, stranger := range []AccountID{"bob", AccountID(uuid.NewString())} {
		_, err := svc.Create(ctx, b, CreateParams{ID: id + 1, Buyer: b, Seller: stranger, TotalAmount: 1, Conditions: []string{"x"}})
		if !errors.Is(err, ErrUnknownParty) {
			t.Fatalf("seller %q: expected ErrUnknownParty, got %v", stranger, err)
		}
	}

	if _, err := svc.Deposit(ctx, b, DepositParams{AgreementID: id, Attached: 200, IdempotencyKey: "itest"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Deposit(ctx, b, DepositParams{AgreementID: id, Attached: 200, IdempotencyKey: "itest"}); err != nil {
		t.Fatalf("deposit replay: %v", err)
	}
	if _, err := svc.Deposit(ctx, b, DepositParams{AgreementID: id, Attached: 250, IdempotencyKey: "itest"}); !errors.Is(err, ErrIdempotencyKeyReused) {
		t.Fatalf("deposit with reused key: expected ErrIdempotencyKeyReused, got %v", err)
	}
	if got := balance(ctx, t, pool, buyerID); got != 300 {
		t.Fatalf("expected buyer balance 300, got %d", got)
	}

	for _, step := range []struct {
		caller    AccountID
		condition string
	}{{b, "inspection"}, {s, "inspection"}, {b, "title"}} {
		if _, err := svc.CheckCondition(ctx, step.caller, CheckParams{AgreementID: id, Condition: step.condition}); err != nil {
			t.Fatalf("check %s: %v", step.condition, err)
		}
	}

	// Drain the holder so the final release fails and the whole call rolls back.
	if _, err := pool.Exec(ctx, `UPDATE accounts SET balance = 0 WHERE id = $1`, holderID); err != nil {
		t.Fatalf("drain holder: %v", err)
	}
	if _, err := svc.CheckCondition(ctx, s, CheckParams{AgreementID: id, Condition: "title"}); !errors.Is(err, ErrCanNotTransfer) {
		t.Fatalf("expected ErrCanNotTransfer, got %v", err)
	}
	rec, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusChecking || rec.Conditions[1].ConfirmedBySeller {
		t.Fatalf("expected rolled back confirmation, got %+v", rec)
	}

	if _, err := pool.Exec(ctx, `UPDATE accounts SET balance = 200 WHERE id = $1`, holderID); err != nil {
		t.Fatalf("refill holder: %v", err)
	}
	rec, err = svc.CheckCondition(ctx, s, CheckParams{AgreementID: id, Condition: "title"})
	if err != nil {
		t.Fatalf("final check: %v", err)
	}
	if rec.Status != StatusFinalized {
		t.Fatalf("expected finalized, got %s", rec.Status)
	}
	if got := balance(ctx, t, pool, sellerID); got != 200 {
		t.Fatalf("expected seller balance 200, got %d", got)
	}

	var releases int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transfers WHERE to_account_id = $1`, sellerID).Scan(&releases); err != nil {
		t.Fatalf("count releases: %v", err)
	}
	if releases != 1 {
		t.Fatalf("expected exactly one release, got %d", releases)
	}

	var events int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_events WHERE agreement_id = $1`, int64(id)).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	// created, deposited, three committed confirmations, final confirmation, finalized
	if events != 7 {
		t.Fatalf("expected 7 timeline events, got %d", events)
	}

	if _, err := pool.Exec(ctx, `UPDATE agreements SET status = 'checking' WHERE id = $1`, int64(id)); err == nil {
		t.Fatal("expected the schema guard to reject a backward transition")
	}

	page, total, err := svc.List(ctx, ListFilters{Party: s, Status: StatusFinalized})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total < 1 || len(page) < 1 {
		t.Fatalf("expected finalized agreement in seller list, got %d/%d", len(page), total)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

func balance(ctx context.Context, t *testing.T, pool *pgxpool.Pool, id string) int64 {
	t.Helper()
	var b int64
	if err := pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			t.Fatalf("account %s missing", id)
		}
		t.Fatalf("balance %s: %v", id, err)
	}
	return b
}
