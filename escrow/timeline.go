package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func insertTimelineEvent(ctx context.Context, tx pgx.Tx, id AgreementID, eventType string, actor AccountID, payload map[string]any) error {
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["agreement_id"] = id

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal timeline payload: %w", err)
	}
	var actorID any
	if actor != "" {
		actorID = string(actor)
	}
	const q = `
INSERT INTO timeline_events (agreement_id, type, payload, actor_id)
VALUES ($1, $2::event_type, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, int64(id), eventType, body, actorID); err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("escrow: enqueue outbox: %w", err)
	}
	return nil
}
