package escrow

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestInsertError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"23505", ErrAgreementExists},
		{"22P02", ErrUnknownParty},
		{"23503", ErrUnknownParty},
	}
	for _, tt := range tests {
		if err := insertError(&pgconn.PgError{Code: tt.code}); !errors.Is(err, tt.want) {
			t.Fatalf("code %s: expected %v, got %v", tt.code, tt.want, err)
		}
	}

	cause := errors.New("connection reset")
	err := insertError(cause)
	if !errors.Is(err, cause) || errors.Is(err, ErrUnknownParty) {
		t.Fatalf("expected infrastructure error to pass through, got %v", err)
	}
}

func TestMatchFingerprint(t *testing.T) {
	if err := matchFingerprint("condition=inspection", "condition=inspection"); !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("same request: expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	if err := matchFingerprint("condition=inspection", "condition=title"); !errors.Is(err, ErrIdempotencyKeyReused) {
		t.Fatalf("different request: expected ErrIdempotencyKeyReused, got %v", err)
	}
}
