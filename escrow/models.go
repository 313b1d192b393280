package escrow

import "time"

// AgreementID is the caller-supplied key of an agreement.
type AgreementID uint32

// AccountID identifies a ledger account. The engine treats it as opaque.
type AccountID string

// Condition is a named criterion both parties confirm independently.
type Condition struct {
	Name              string `json:"name"`
	ConfirmedByBuyer  bool   `json:"confirmed_by_buyer"`
	ConfirmedBySeller bool   `json:"confirmed_by_seller"`
}

// Confirmed reports whether both parties acknowledged the condition.
func (c Condition) Confirmed() bool {
	return c.ConfirmedByBuyer && c.ConfirmedBySeller
}

// Agreement mirrors the agreements table. Conditions are stored as a JSONB
// document in their original order.
type Agreement struct {
	ID          AgreementID
	Buyer       AccountID
	Seller      AccountID
	TotalAmount int64
	Conditions  []Condition
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AllConfirmed reports whether every condition carries both flags.
func (a Agreement) AllConfirmed() bool {
	if len(a.Conditions) == 0 {
		return false
	}
	for _, c := range a.Conditions {
		if !c.Confirmed() {
			return false
		}
	}
	return true
}

// TimelineEvent captures an immutable business event for an agreement.
type TimelineEvent struct {
	ID          int64
	AgreementID AgreementID
	Type        string
	ActorID     *AccountID
	CreatedAt   time.Time
	Payload     []byte
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

const (
	EventAgreementCreated   = "AGREEMENT_CREATED"
	EventFundsDeposited     = "FUNDS_DEPOSITED"
	EventConditionConfirmed = "CONDITION_CONFIRMED"
	EventAgreementFinalized = "AGREEMENT_FINALIZED"
)

const (
	OutboxTopicCreated            = "escrow.created"
	OutboxTopicDeposited          = "escrow.deposited"
	OutboxTopicConditionConfirmed = "escrow.condition_confirmed"
	// OutboxTopicFinalized is published once, when funds are released to the seller.
	OutboxTopicFinalized = "escrow.finalized"
)
