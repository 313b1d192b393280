package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"escrowflow/ledger"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service. All methods run
// inside the transaction opened by the service.
type Repository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key, fingerprint string) error
	Insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error)
	Get(ctx context.Context, tx pgx.Tx, id AgreementID) (Agreement, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id AgreementID) (Agreement, error)
	Update(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error)
	List(ctx context.Context, tx pgx.Tx, filters ListFilters) ([]Agreement, int, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, id AgreementID, eventType string, actor AccountID, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Ledger is the value transfer capability. A transfer either commits with the
// surrounding transaction or fails before returning.
type Ledger interface {
	Transfer(ctx context.Context, tx pgx.Tx, params ledger.TransferParams) (ledger.Transfer, error)
}

// CreateParams carries the arguments of create_agreement.
type CreateParams struct {
	ID          AgreementID
	Buyer       AccountID
	Seller      AccountID
	TotalAmount int64
	Conditions  []string
}

// DepositParams carries the agreement and the value attached by the buyer.
type DepositParams struct {
	AgreementID    AgreementID
	Attached       int64
	IdempotencyKey string
}

// CheckParams names the condition the caller confirms.
type CheckParams struct {
	AgreementID    AgreementID
	Condition      string
	IdempotencyKey string
}

// ListFilters narrows List to one party's agreements.
type ListFilters struct {
	Party    AccountID
	Status   Status
	Page     int
	PageSize int
}

// Service runs the agreement state machine. Each operation is one database
// transaction: any error discards every write made by the call.
type Service struct {
	pool   TxBeginner
	repo   Repository
	ledger Ledger
	holder AccountID
	logger *slog.Logger
}

func NewService(pool TxBeginner, repo Repository, ledger Ledger, holder AccountID) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		ledger: ledger,
		holder: holder,
		logger: slog.Default(),
	}
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Holder returns the account custodying deposits.
func (s *Service) Holder() AccountID {
	return s.holder
}

// Create stores a new agreement in status initialized. The caller must be one
// of the two parties.
func (s *Service) Create(ctx context.Context, caller AccountID, params CreateParams) (Agreement, error) {
	conditions, err := newConditions(params.Conditions)
	if err != nil {
		return Agreement{}, err
	}
	if params.TotalAmount <= 0 {
		return Agreement{}, ErrInvalidAmount
	}
	if params.Buyer == "" || params.Seller == "" {
		return Agreement{}, ErrMissingParty
	}
	if params.Buyer == params.Seller {
		return Agreement{}, ErrSameParty
	}
	if params.Buyer == s.holder || params.Seller == s.holder {
		return Agreement{}, ErrHolderParty
	}

	draft := Agreement{
		ID:          params.ID,
		Buyer:       params.Buyer,
		Seller:      params.Seller,
		TotalAmount: params.TotalAmount,
		Conditions:  conditions,
		Status:      StatusInitialized,
	}
	if RoleOf(draft, caller) == RoleNone {
		return Agreement{}, ErrUnknownCaller
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.Insert(ctx, tx, draft)
	if err != nil {
		return Agreement{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventAgreementCreated, caller, map[string]any{
		"buyer":        rec.Buyer,
		"seller":       rec.Seller,
		"total_amount": rec.TotalAmount,
		"conditions":   conditionNames(rec.Conditions),
	}); err != nil {
		return Agreement{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicCreated, map[string]any{
		"agreement_id": rec.ID,
		"buyer":        rec.Buyer,
		"seller":       rec.Seller,
		"total_amount": rec.TotalAmount,
	}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return rec, nil
}

// Deposit records the buyer's commitment and moves the attached value to the
// holder account.
func (s *Service) Deposit(ctx context.Context, caller AccountID, params DepositParams) (Agreement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.AgreementID)
	if err != nil {
		return Agreement{}, err
	}
	if err := requireBuyer(rec, caller); err != nil {
		return Agreement{}, err
	}

	replayed, err := s.reserveKey(ctx, tx, "deposit", rec.ID, caller, params.IdempotencyKey, fmt.Sprintf("attached=%d", params.Attached))
	if err != nil {
		return Agreement{}, err
	}
	if replayed {
		return rec, nil
	}

	switch rec.Status {
	case StatusFinalized:
		return Agreement{}, ErrAlreadyFinalized
	case StatusDeposited, StatusChecking:
		return Agreement{}, fmt.Errorf("%w: agreement is %s", ErrCanNotDeposit, rec.Status)
	}
	if params.Attached < rec.TotalAmount {
		return Agreement{}, fmt.Errorf("%w: attached %d, required %d", ErrCanNotDeposit, params.Attached, rec.TotalAmount)
	}

	if _, err := s.ledger.Transfer(ctx, tx, ledger.TransferParams{
		From:      string(rec.Buyer),
		To:        string(s.holder),
		Amount:    params.Attached,
		Reference: fmt.Sprintf("escrow:%d:deposit", rec.ID),
	}); err != nil {
		return Agreement{}, fmt.Errorf("%w: %w", ErrCanNotDeposit, err)
	}

	if err := transition(&rec, StatusDeposited); err != nil {
		return Agreement{}, err
	}
	rec, err = s.repo.Update(ctx, tx, rec)
	if err != nil {
		return Agreement{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventFundsDeposited, caller, map[string]any{
		"attached":     params.Attached,
		"total_amount": rec.TotalAmount,
		"holder":       s.holder,
	}); err != nil {
		return Agreement{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicDeposited, map[string]any{
		"agreement_id": rec.ID,
		"attached":     params.Attached,
	}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("escrow: commit deposit: %w", err)
	}
	return rec, nil
}

// CheckCondition records the caller's confirmation of one named condition
// and finalizes the agreement once every condition is doubly confirmed. The
// confirmation, the release transfer and the finalized write share one
// transaction.
func (s *Service) CheckCondition(ctx context.Context, caller AccountID, params CheckParams) (Agreement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.AgreementID)
	if err != nil {
		return Agreement{}, err
	}

	role, err := requireParty(rec, caller)
	if err != nil {
		return Agreement{}, err
	}

	replayed, err := s.reserveKey(ctx, tx, "check", rec.ID, caller, params.IdempotencyKey, "condition="+params.Condition)
	if err != nil {
		return Agreement{}, err
	}
	if replayed {
		return rec, nil
	}
	if rec.Status.Terminal() {
		return Agreement{}, ErrAlreadyFinalized
	}
	if rec.Status == StatusInitialized {
		return Agreement{}, ErrNotDeposited
	}

	if !confirm(&rec, role, params.Condition) {
		return Agreement{}, fmt.Errorf("%w: %q", ErrCanNotCheck, params.Condition)
	}
	if err := transition(&rec, StatusChecking); err != nil {
		return Agreement{}, err
	}
	rec, err = s.repo.Update(ctx, tx, rec)
	if err != nil {
		return Agreement{}, err
	}

	if err := s.repo.AppendTimeline(ctx, tx, rec.ID, EventConditionConfirmed, caller, map[string]any{
		"condition": params.Condition,
		"role":      role,
	}); err != nil {
		return Agreement{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicConditionConfirmed, map[string]any{
		"agreement_id": rec.ID,
		"condition":    params.Condition,
		"role":         role,
	}); err != nil {
		return Agreement{}, err
	}

	if err := s.finalize(ctx, tx, &rec, caller); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("escrow: commit check: %w", err)
	}
	return rec, nil
}

// Get returns the stored agreement. It never writes.
func (s *Service) Get(ctx context.Context, id AgreementID) (Agreement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return s.repo.Get(ctx, tx, id)
}

// List returns the agreements where filters.Party is buyer or seller.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	if filters.Party == "" {
		return nil, 0, ErrUnknownCaller
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, fmt.Errorf("%w filter %q", ErrInvalidStatus, filters.Status)
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return s.repo.List(ctx, tx, filters)
}

func newConditions(names []string) ([]Condition, error) {
	if len(names) == 0 {
		return nil, ErrNoConditions
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]Condition, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, ErrInvalidCondition
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCondition, name)
		}
		seen[name] = struct{}{}
		out = append(out, Condition{Name: name})
	}
	return out, nil
}

// confirm sets the caller's flag on every condition named name and reports
// whether any matched.
func confirm(a *Agreement, role Role, name string) bool {
	found := false
	for i := range a.Conditions {
		if a.Conditions[i].Name != name {
			continue
		}
		found = true
		if role == RoleBuyer {
			a.Conditions[i].ConfirmedByBuyer = true
		} else {
			a.Conditions[i].ConfirmedBySeller = true
		}
	}
	return found
}

func conditionNames(conditions []Condition) []string {
	out := make([]string, len(conditions))
	for i, c := range conditions {
		out[i] = c.Name
	}
	return out
}

// reserveKey records an idempotency key for the caller's request inside tx.
// It reports true when the same caller already committed the same request
// under key. A key reused for a different request is ErrIdempotencyKeyReused.
func (s *Service) reserveKey(ctx context.Context, tx pgx.Tx, op string, id AgreementID, caller AccountID, key, fingerprint string) (bool, error) {
	if key == "" {
		return false, nil
	}
	err := s.repo.InsertIdempotencyKey(ctx, tx, scopedKey(op, id, caller, key), fingerprint)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return true, nil
	default:
		return false, err
	}
}

func scopedKey(op string, id AgreementID, caller AccountID, key string) string {
	return fmt.Sprintf("%s:%d:%s:%s", op, id, caller, key)
}
