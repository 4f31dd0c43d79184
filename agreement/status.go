package agreement

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michelevens/ClinicLink-sub000/authz"
)

// transitions is the closed lifecycle table. Each edge names the capability
// an actor needs to traverse it. terminated has no outgoing edge; expired is
// recoverable, modeling a lapsed-but-renewable contract.
var transitions = map[Status]map[Status]func(authz.Role) bool{
	StatusDraft: {
		StatusPendingReview: authz.CanCreate,
	},
	StatusPendingReview: {
		StatusActive: authz.CanManage,
		StatusDraft:  authz.CanCreate,
	},
	StatusActive: {
		StatusExpired:    authz.CanManage,
		StatusTerminated: authz.CanManage,
	},
	StatusExpired: {
		StatusActive: authz.CanManage,
	},
}

// CanTransition reports whether an edge from one status to another exists,
// ignoring authorization.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// StatusService handles status transitions on agreements ensuring timeline
// and outbox writes are captured in the same transaction.
type StatusService struct {
	pool *pgxpool.Pool
}

func NewStatusService(pool *pgxpool.Pool) *StatusService {
	return &StatusService{pool: pool}
}

type TransitionParams struct {
	AgreementID string
	Actor       authz.Identity
	NextStatus  Status
}

// Transition moves the agreement along one lifecycle edge. The current status
// is re-read under a row lock, so a second writer whose precondition no
// longer holds fails with ErrInvalidTransition instead of overwriting.
func (s *StatusService) Transition(ctx context.Context, params TransitionParams) (Agreement, error) {
	if params.AgreementID == "" {
		return Agreement{}, fmt.Errorf("agreement: missing agreement id: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getForUpdate(ctx, tx, params.AgreementID)
	if err != nil {
		return Agreement{}, err
	}

	allowed, ok := transitions[current.Status][params.NextStatus]
	if !ok {
		return Agreement{}, fmt.Errorf("agreement: %s -> %s: %w", current.Status, params.NextStatus, ErrInvalidTransition)
	}
	if !allowed(params.Actor.Role) {
		return Agreement{}, authz.ErrPermissionDenied
	}

	query := `
UPDATE agreements
SET status = $1,
    updated_at = now()
WHERE id = $2
RETURNING ` + agreementColumns
	updated, err := scanAgreement(tx.QueryRow(ctx, query, params.NextStatus, params.AgreementID))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: update status: %w", err)
	}

	payload := map[string]any{
		"previous_status": current.Status,
		"next_status":     params.NextStatus,
	}
	if err := AppendTimeline(ctx, tx, params.AgreementID, EventAgreementStatusChanged, params.Actor.UserID, payload); err != nil {
		return Agreement{}, err
	}

	outboxPayload := map[string]any{
		"agreement_id": params.AgreementID,
		"previous":     current.Status,
		"next":         params.NextStatus,
	}
	if err := EnqueueOutbox(ctx, tx, "agreement.status_changed", outboxPayload); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit transition: %w", err)
	}

	return updated, nil
}
