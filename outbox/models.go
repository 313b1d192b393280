package outbox

import (
	"encoding/json"
	"time"
)

// Status values stored in outbox.status.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Message is one domain event waiting in the outbox.
type Message struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}
