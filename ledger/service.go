package ledger

import "context"

// AccountStore abstracts repository operations for the service.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (Account, error)
	List(ctx context.Context, limit int) ([]Account, error)
	Credit(ctx context.Context, id string, amount int64, reference string) (Account, error)
}

// Service exposes business-level account operations.
type Service struct {
	repo AccountStore
}

// NewService builds a Service using the provided repository.
func NewService(repo AccountStore) *Service {
	return &Service{repo: repo}
}

// GetByID returns the account for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit accounts.
func (s *Service) List(ctx context.Context, limit int) ([]Account, error) {
	return s.repo.List(ctx, limit)
}

// Credit funds an account from outside the ledger.
func (s *Service) Credit(ctx context.Context, id string, amount int64, reference string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	return s.repo.Credit(ctx, id, amount, reference)
}
