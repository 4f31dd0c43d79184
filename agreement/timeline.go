package agreement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Timeline event types appended by the agreement and signature workflows.
const (
	EventAgreementCreated       = "AGREEMENT_CREATED"
	EventAgreementStatusChanged = "AGREEMENT_STATUS_CHANGED"
	EventDocumentAttached       = "DOCUMENT_ATTACHED"
	EventNotesUpdated           = "NOTES_UPDATED"
	EventSignatureRequested     = "SIGNATURE_REQUESTED"
	EventSignatureSigned        = "SIGNATURE_SIGNED"
	EventSignatureRejected      = "SIGNATURE_REJECTED"
	EventSignatureCancelled     = "SIGNATURE_CANCELLED"
	EventSignatureResent        = "SIGNATURE_RESENT"
)

// AppendTimeline records an immutable business event for the agreement inside
// the caller's transaction.
func AppendTimeline(ctx context.Context, tx pgx.Tx, agreementID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
INSERT INTO timeline_events (agreement_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, agreementID, eventType, body, actor); err != nil {
		return fmt.Errorf("agreement: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox writes a transactional outbox entry for downstream delivery.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("agreement: enqueue outbox: %w", err)
	}
	return nil
}
