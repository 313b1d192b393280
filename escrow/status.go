package escrow

import "fmt"

// Status is the lifecycle tag of an agreement.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusDeposited   Status = "deposited"
	StatusChecking    Status = "checking"
	StatusFinalized   Status = "finalized"
)

// Rank orders statuses along initialized → deposited → checking → finalized.
// Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusInitialized:
		return 0
	case StatusDeposited:
		return 1
	case StatusChecking:
		return 2
	case StatusFinalized:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusFinalized
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// CanAdvance reports whether from → to respects the forward-only progression.
// Staying in checking is allowed so repeated confirmations keep the status.
func CanAdvance(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if from == to {
		return from == StatusChecking
	}
	return to.Rank() > from.Rank()
}

func transition(a *Agreement, next Status) error {
	if !CanAdvance(a.Status, next) {
		return fmt.Errorf("escrow: invalid transition %s -> %s", a.Status, next)
	}
	a.Status = next
	return nil
}
