package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/ledger"
)

// fakeStore keeps committed agreements; fakeTx stages writes until Commit so
// rollback behaviour matches the database.
type fakeStore struct {
	records  map[AgreementID]Agreement
	keys     map[string]string
	timeline []fakeEvent
	outbox   []string
	// accounts, when set, lists the ids a new agreement may name as parties.
	accounts map[AccountID]bool
}

type fakeEvent struct {
	agreementID AgreementID
	eventType   string
	actor       AccountID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[AgreementID]Agreement),
		keys:    make(map[string]string),
	}
}

func copyAgreement(a Agreement) Agreement {
	out := a
	out.Conditions = append([]Condition(nil), a.Conditions...)
	return out
}

func stagedTx(tx pgx.Tx) *fakeTx {
	ftx, ok := tx.(*fakeTx)
	if !ok {
		panic(fmt.Sprintf("unexpected tx type %T", tx))
	}
	return ftx
}

func (f *fakeStore) InsertIdempotencyKey(_ context.Context, tx pgx.Tx, key, fingerprint string) error {
	ftx := stagedTx(tx)
	if stored, ok := f.keys[key]; ok {
		return matchFingerprint(stored, fingerprint)
	}
	if stored, ok := ftx.keys[key]; ok {
		return matchFingerprint(stored, fingerprint)
	}
	ftx.keys[key] = fingerprint
	return nil
}

func (f *fakeStore) Insert(_ context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	ftx := stagedTx(tx)
	if f.accounts != nil && (!f.accounts[a.Buyer] || !f.accounts[a.Seller]) {
		return Agreement{}, ErrUnknownParty
	}
	if _, ok := f.records[a.ID]; ok {
		return Agreement{}, ErrAgreementExists
	}
	if _, ok := ftx.records[a.ID]; ok {
		return Agreement{}, ErrAgreementExists
	}
	ftx.records[a.ID] = copyAgreement(a)
	return copyAgreement(a), nil
}

func (f *fakeStore) Get(_ context.Context, tx pgx.Tx, id AgreementID) (Agreement, error) {
	ftx := stagedTx(tx)
	if rec, ok := ftx.records[id]; ok {
		return copyAgreement(rec), nil
	}
	rec, ok := f.records[id]
	if !ok {
		return Agreement{}, ErrAgreementNotFound
	}
	return copyAgreement(rec), nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id AgreementID) (Agreement, error) {
	return f.Get(ctx, tx, id)
}

func (f *fakeStore) Update(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	current, err := f.Get(ctx, tx, a.ID)
	if err != nil {
		return Agreement{}, err
	}
	if current.Status == StatusFinalized {
		return Agreement{}, ErrAlreadyFinalized
	}
	stagedTx(tx).records[a.ID] = copyAgreement(a)
	return copyAgreement(a), nil
}

func (f *fakeStore) List(_ context.Context, _ pgx.Tx, filters ListFilters) ([]Agreement, int, error) {
	out := []Agreement{}
	for _, rec := range f.records {
		if rec.Buyer != filters.Party && rec.Seller != filters.Party {
			continue
		}
		if filters.Status != "" && rec.Status != filters.Status {
			continue
		}
		out = append(out, copyAgreement(rec))
	}
	return out, len(out), nil
}

func (f *fakeStore) AppendTimeline(_ context.Context, tx pgx.Tx, id AgreementID, eventType string, actor AccountID, _ map[string]any) error {
	ftx := stagedTx(tx)
	ftx.timeline = append(ftx.timeline, fakeEvent{agreementID: id, eventType: eventType, actor: actor})
	return nil
}

func (f *fakeStore) EnqueueOutbox(_ context.Context, tx pgx.Tx, topic string, _ map[string]any) error {
	ftx := stagedTx(tx)
	ftx.outbox = append(ftx.outbox, topic)
	return nil
}

// fakeLedger tracks committed balances and transfers.
type fakeLedger struct {
	balances  map[string]int64
	transfers []ledger.TransferParams
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (l *fakeLedger) Transfer(_ context.Context, tx pgx.Tx, params ledger.TransferParams) (ledger.Transfer, error) {
	ftx := stagedTx(tx)
	if params.Amount <= 0 {
		return ledger.Transfer{}, ledger.ErrInvalidAmount
	}
	available := l.balances[params.From] + ftx.deltas[params.From]
	if available < params.Amount {
		return ledger.Transfer{}, ledger.ErrInsufficientFunds
	}
	ftx.deltas[params.From] -= params.Amount
	ftx.deltas[params.To] += params.Amount
	ftx.transfers = append(ftx.transfers, params)
	return ledger.Transfer{
		ID:        fmt.Sprintf("transfer-%d", len(l.transfers)+len(ftx.transfers)),
		From:      params.From,
		To:        params.To,
		Amount:    params.Amount,
		Reference: params.Reference,
	}, nil
}

func (l *fakeLedger) releases(seller string) int {
	n := 0
	for _, t := range l.transfers {
		if t.To == seller {
			n++
		}
	}
	return n
}

type fakePool struct {
	store  *fakeStore
	ledger *fakeLedger
	txs    []*fakeTx
	err    error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx := &fakeTx{
		store:   f.store,
		ledger:  f.ledger,
		records: make(map[AgreementID]Agreement),
		keys:    make(map[string]string),
		deltas:  make(map[string]int64),
	}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	store  *fakeStore
	ledger *fakeLedger

	records   map[AgreementID]Agreement
	keys      map[string]string
	timeline  []fakeEvent
	outbox    []string
	deltas    map[string]int64
	transfers []ledger.TransferParams

	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	if f.committed || f.rolled {
		return pgx.ErrTxClosed
	}
	f.committed = true
	for id, rec := range f.records {
		f.store.records[id] = rec
	}
	for k, fingerprint := range f.keys {
		f.store.keys[k] = fingerprint
	}
	f.store.timeline = append(f.store.timeline, f.timeline...)
	f.store.outbox = append(f.store.outbox, f.outbox...)
	if f.ledger != nil {
		for acct, delta := range f.deltas {
			f.ledger.balances[acct] += delta
		}
		f.ledger.transfers = append(f.ledger.transfers, f.transfers...)
	}
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed || f.rolled {
		return pgx.ErrTxClosed
	}
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
