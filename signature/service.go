package signature

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michelevens/ClinicLink-sub000/agreement"
	"github.com/michelevens/ClinicLink-sub000/authz"
	"github.com/michelevens/ClinicLink-sub000/notify"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, agreementID, eventType, actorID string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type timelineWriter struct{}

func (timelineWriter) Append(ctx context.Context, tx pgx.Tx, agreementID, eventType, actorID string, payload map[string]any) error {
	return agreement.AppendTimeline(ctx, tx, agreementID, eventType, actorID, payload)
}

type outboxWriter struct{}

func (outboxWriter) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return agreement.EnqueueOutbox(ctx, tx, topic, payload)
}

// Service coordinates the per-signer state machine and keeps the agreement's
// aggregate signature status consistent with every record write.
type Service struct {
	pool        TxBeginner
	repo        Repository
	timeline    TimelineWriter
	outbox      OutboxWriter
	notifier    notify.Dispatcher
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, timeline TimelineWriter, outbox OutboxWriter, notifier notify.Dispatcher) *Service {
	if repo == nil {
		if p, ok := pool.(*pgxpool.Pool); ok {
			repo = NewRepository(p)
		}
	}
	if timeline == nil {
		timeline = timelineWriter{}
	}
	if outbox == nil {
		outbox = outboxWriter{}
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		timeline:    timeline,
		outbox:      outbox,
		notifier:    notifier,
		logger:      slog.Default(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RequestParams struct {
	AgreementID string
	SignerName  string
	SignerEmail string
	SignerRole  SignerRole
	Message     string
}

// RequestResult reports the created record together with the dispatch
// outcome, so callers can tell "created but the email failed" apart from a
// rejected request.
type RequestResult struct {
	Record    Record
	Delivered bool
}

// Request invites a signer. The record commits first; notification dispatch
// is attempted afterward and its outcome only lands in the delivered flag.
func (s *Service) Request(ctx context.Context, actor authz.Identity, params RequestParams) (RequestResult, error) {
	if !authz.CanCreate(actor.Role) {
		return RequestResult{}, authz.ErrPermissionDenied
	}
	name := strings.TrimSpace(params.SignerName)
	email := strings.TrimSpace(params.SignerEmail)
	if name == "" || email == "" {
		return RequestResult{}, fmt.Errorf("signature: signer name and email required: %w", ErrValidation)
	}
	if !params.SignerRole.Valid() {
		return RequestResult{}, fmt.Errorf("signature: unknown signer role %q: %w", params.SignerRole, ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RequestResult{}, fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.LockAgreement(ctx, tx, params.AgreementID); err != nil {
		return RequestResult{}, err
	}

	signerID, err := s.repo.ResolveSignerID(ctx, tx, email)
	if err != nil {
		return RequestResult{}, err
	}

	var message *string
	if trimmed := strings.TrimSpace(params.Message); trimmed != "" {
		message = &trimmed
	}

	rec, err := s.repo.Create(ctx, tx, Record{
		ID:          s.idGenerator(),
		AgreementID: params.AgreementID,
		SignerName:  name,
		SignerEmail: email,
		SignerRole:  params.SignerRole,
		SignerID:    signerID,
		Message:     message,
	})
	if err != nil {
		return RequestResult{}, err
	}

	if err := s.recomputeAggregate(ctx, tx, params.AgreementID); err != nil {
		return RequestResult{}, err
	}

	payload := map[string]any{
		"signature_id": rec.ID,
		"signer_email": email,
		"signer_role":  params.SignerRole,
	}
	if err := s.timeline.Append(ctx, tx, params.AgreementID, agreement.EventSignatureRequested, actor.UserID, payload); err != nil {
		return RequestResult{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "signature.requested", map[string]any{
		"agreement_id": params.AgreementID,
		"signature_id": rec.ID,
	}); err != nil {
		return RequestResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RequestResult{}, fmt.Errorf("signature: commit request: %w", err)
	}

	delivery := s.dispatch(ctx, rec)
	rec.Delivered = &delivery.Delivered

	return RequestResult{Record: rec, Delivered: delivery.Delivered}, nil
}

// Sign stores the artifact for the invited signer. Only the identity matching
// the record's email or resolved user id may sign; management rights grant no
// override.
func (s *Service) Sign(ctx context.Context, identity authz.Identity, signatureID string, artifact []byte) (Record, error) {
	if len(artifact) == 0 {
		return Record{}, fmt.Errorf("signature: empty artifact: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.lockRecord(ctx, tx, signatureID)
	if err != nil {
		return Record{}, err
	}
	if !authz.CanSign(identity, rec.SignerEmail, rec.SignerID) {
		return Record{}, authz.ErrPermissionDenied
	}
	if rec.Status != StatusRequested {
		return Record{}, fmt.Errorf("signature: sign from %s: %w", rec.Status, ErrInvalidTransition)
	}

	var signerID *string
	if identity.UserID != "" {
		signerID = &identity.UserID
	}

	updated, err := s.repo.MarkSigned(ctx, tx, signatureID, artifact, signerID, s.now())
	if err != nil {
		return Record{}, err
	}

	agg, err := s.recomputeAggregateValue(ctx, tx, rec.AgreementID)
	if err != nil {
		return Record{}, err
	}

	if err := s.timeline.Append(ctx, tx, rec.AgreementID, agreement.EventSignatureSigned, identity.UserID, map[string]any{
		"signature_id": signatureID,
		"signer_email": rec.SignerEmail,
	}); err != nil {
		return Record{}, err
	}
	if agg == agreement.SignatureFullySigned {
		if err := s.outbox.Enqueue(ctx, tx, "signature.completed", map[string]any{
			"agreement_id": rec.AgreementID,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("signature: commit sign: %w", err)
	}

	return updated, nil
}

// Reject declines the request, recording the optional reason.
func (s *Service) Reject(ctx context.Context, identity authz.Identity, signatureID string, reason *string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.lockRecord(ctx, tx, signatureID)
	if err != nil {
		return Record{}, err
	}
	if !authz.CanSign(identity, rec.SignerEmail, rec.SignerID) {
		return Record{}, authz.ErrPermissionDenied
	}
	if rec.Status != StatusRequested {
		return Record{}, fmt.Errorf("signature: reject from %s: %w", rec.Status, ErrInvalidTransition)
	}

	var trimmed *string
	if reason != nil {
		if t := strings.TrimSpace(*reason); t != "" {
			trimmed = &t
		}
	}

	updated, err := s.repo.MarkRejected(ctx, tx, signatureID, trimmed, s.now())
	if err != nil {
		return Record{}, err
	}

	if err := s.recomputeAggregate(ctx, tx, rec.AgreementID); err != nil {
		return Record{}, err
	}

	payload := map[string]any{
		"signature_id": signatureID,
		"signer_email": rec.SignerEmail,
	}
	if trimmed != nil {
		payload["reason"] = *trimmed
	}
	if err := s.timeline.Append(ctx, tx, rec.AgreementID, agreement.EventSignatureRejected, identity.UserID, payload); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("signature: commit reject: %w", err)
	}

	return updated, nil
}

// Cancel retires a pending request. Requester-side action: creation rights on
// the agreement suffice, and a cancelled record is never reused.
func (s *Service) Cancel(ctx context.Context, actor authz.Identity, signatureID string) (Record, error) {
	if !authz.CanCreate(actor.Role) {
		return Record{}, authz.ErrPermissionDenied
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.lockRecord(ctx, tx, signatureID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusRequested {
		return Record{}, fmt.Errorf("signature: cancel from %s: %w", rec.Status, ErrInvalidTransition)
	}

	updated, err := s.repo.MarkCancelled(ctx, tx, signatureID)
	if err != nil {
		return Record{}, err
	}

	if err := s.recomputeAggregate(ctx, tx, rec.AgreementID); err != nil {
		return Record{}, err
	}

	if err := s.timeline.Append(ctx, tx, rec.AgreementID, agreement.EventSignatureCancelled, actor.UserID, map[string]any{
		"signature_id": signatureID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("signature: commit cancel: %w", err)
	}

	return updated, nil
}

// Resend re-triggers notification dispatch for a still-pending request. It is
// not a state change: status, timestamps, and the artifact stay untouched.
func (s *Service) Resend(ctx context.Context, actor authz.Identity, signatureID string) (notify.Delivery, error) {
	if !authz.CanCreate(actor.Role) {
		return notify.Delivery{}, authz.ErrPermissionDenied
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return notify.Delivery{}, fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Same agreement-first lock order as the state changes, so the timeline
	// append serializes with concurrent signs and rejects.
	rec, err := s.lockRecord(ctx, tx, signatureID)
	if err != nil {
		return notify.Delivery{}, err
	}
	if rec.Status != StatusRequested {
		return notify.Delivery{}, fmt.Errorf("signature: resend from %s: %w", rec.Status, ErrInvalidTransition)
	}

	if err := s.timeline.Append(ctx, tx, rec.AgreementID, agreement.EventSignatureResent, actor.UserID, map[string]any{
		"signature_id": signatureID,
	}); err != nil {
		return notify.Delivery{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return notify.Delivery{}, fmt.Errorf("signature: commit resend: %w", err)
	}

	return s.dispatch(ctx, rec), nil
}

// List returns the agreement's records in insertion order.
func (s *Service) List(ctx context.Context, agreementID string) ([]Record, error) {
	return s.repo.ListByAgreement(ctx, agreementID)
}

// lockRecord acquires the agreement lock before the record lock, so all
// signature mutations for one agreement serialize in a fixed order.
func (s *Service) lockRecord(ctx context.Context, tx pgx.Tx, signatureID string) (Record, error) {
	agreementID, err := s.repo.AgreementIDOf(ctx, tx, signatureID)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.repo.LockAgreement(ctx, tx, agreementID); err != nil {
		return Record{}, err
	}
	return s.repo.GetForUpdate(ctx, tx, signatureID)
}

func (s *Service) recomputeAggregate(ctx context.Context, tx pgx.Tx, agreementID string) error {
	_, err := s.recomputeAggregateValue(ctx, tx, agreementID)
	return err
}

func (s *Service) recomputeAggregateValue(ctx context.Context, tx pgx.Tx, agreementID string) (agreement.SignatureStatus, error) {
	statuses, err := s.repo.Statuses(ctx, tx, agreementID)
	if err != nil {
		return "", err
	}
	agg := Aggregate(statuses)
	if err := s.repo.SetAggregate(ctx, tx, agreementID, agg); err != nil {
		return "", err
	}
	return agg, nil
}

// dispatch attempts delivery after the state change has committed and records
// the outcome. A missing dispatcher is treated as a failed delivery.
func (s *Service) dispatch(ctx context.Context, rec Record) notify.Delivery {
	if s.notifier == nil {
		return notify.Delivery{Delivered: false, Reason: "no dispatcher configured"}
	}

	var message string
	if rec.Message != nil {
		message = *rec.Message
	}
	delivery := s.notifier.SendSignatureRequest(ctx, notify.Request{
		SignatureID:    rec.ID,
		RecipientName:  rec.SignerName,
		RecipientEmail: rec.SignerEmail,
		AgreementID:    rec.AgreementID,
		Message:        message,
	})
	if err := s.repo.SetDelivered(ctx, rec.ID, delivery.Delivered); err != nil {
		s.logger.Warn("record delivery outcome", "signature_id", rec.ID, "delivered", delivery.Delivered, "error", err)
	}
	return delivery
}
