package outbox

import (
	"context"
	"errors"
	"testing"
)

func TestPGStore_RejectsNonUUID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.MarkProcessed(ctx, nil, "msg-1"); !errors.Is(err, ErrInvalidMessageID) {
		t.Fatalf("mark processed: expected ErrInvalidMessageID, got %v", err)
	}
	if err := store.MarkFailed(ctx, nil, "msg-1", "boom", false); !errors.Is(err, ErrInvalidMessageID) {
		t.Fatalf("mark failed: expected ErrInvalidMessageID, got %v", err)
	}
}
