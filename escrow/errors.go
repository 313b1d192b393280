package escrow

import "errors"

var (
	// ErrAgreementNotFound is returned when no agreement row exists for the provided identifier.
	ErrAgreementNotFound = errors.New("escrow: agreement not found")
	// ErrUnknownCaller signals the caller is not a party allowed to perform the operation.
	ErrUnknownCaller = errors.New("escrow: unknown caller")
	// ErrCanNotDeposit covers a repeated deposit and an insufficient attached value.
	ErrCanNotDeposit = errors.New("escrow: can not deposit")
	// ErrCanNotCheck signals the named condition does not exist on the agreement.
	ErrCanNotCheck = errors.New("escrow: can not check condition")
	// ErrCanNotTransfer signals the release transfer to the seller failed.
	ErrCanNotTransfer = errors.New("escrow: can not transfer")
	// ErrAlreadyFinalized is returned for any mutation of a finalized agreement.
	ErrAlreadyFinalized = errors.New("escrow: agreement already finalized")
	// ErrNoConditions rejects agreements created without conditions.
	ErrNoConditions = errors.New("escrow: no conditions")

	ErrAgreementExists    = errors.New("escrow: agreement already exists")
	ErrNotDeposited       = errors.New("escrow: agreement has no deposit")
	ErrInvalidAmount      = errors.New("escrow: total amount must be positive")
	ErrInvalidCondition   = errors.New("escrow: condition name required")
	ErrDuplicateCondition = errors.New("escrow: duplicate condition name")
	ErrSameParty          = errors.New("escrow: buyer and seller must differ")
	ErrMissingParty       = errors.New("escrow: buyer and seller required")
	ErrInvalidStatus      = errors.New("escrow: invalid status")

	// ErrUnknownParty signals a buyer or seller with no ledger account.
	ErrUnknownParty = errors.New("escrow: party has no account")
	// ErrHolderParty rejects agreements naming the holder account as a party.
	ErrHolderParty  = errors.New("escrow: holder account can not be a party")

	// ErrDuplicateIdempotencyKey signals the idempotency insert hit an existing key.
	ErrDuplicateIdempotencyKey = errors.New("escrow: duplicate idempotency key")
	// ErrIdempotencyKeyReused signals a key already bound to a different request.
	ErrIdempotencyKeyReused    = errors.New("escrow: idempotency key reused for a different request")
)
