package ledger

import "time"

// Account is a balance holder: a registered party or the escrow holder.
type Account struct {
	ID        string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransferParams describes a single balance movement.
type TransferParams struct {
	From      string
	To        string
	Amount    int64
	Reference string
}

// Transfer mirrors the ledger_transfers table. From is empty for credits.
type Transfer struct {
	ID        string
	From      string
	To        string
	Amount    int64
	Reference string
	CreatedAt time.Time
}
