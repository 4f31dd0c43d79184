package signature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michelevens/ClinicLink-sub000/agreement"
)

// Repository defines the data access required by the signature workflow. Tx
// methods run inside the caller's transaction; the agreement row lock must be
// held before any record is mutated.
type Repository interface {
	LockAgreement(ctx context.Context, tx pgx.Tx, agreementID string) (agreement.Agreement, error)
	Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	AgreementIDOf(ctx context.Context, tx pgx.Tx, signatureID string) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, signatureID string) (Record, error)
	Get(ctx context.Context, signatureID string) (Record, error)
	MarkSigned(ctx context.Context, tx pgx.Tx, signatureID string, artifact []byte, signerID *string, at time.Time) (Record, error)
	MarkRejected(ctx context.Context, tx pgx.Tx, signatureID string, reason *string, at time.Time) (Record, error)
	MarkCancelled(ctx context.Context, tx pgx.Tx, signatureID string) (Record, error)
	Statuses(ctx context.Context, tx pgx.Tx, agreementID string) ([]Status, error)
	SetAggregate(ctx context.Context, tx pgx.Tx, agreementID string, status agreement.SignatureStatus) error
	ResolveSignerID(ctx context.Context, tx pgx.Tx, email string) (*string, error)
	ListByAgreement(ctx context.Context, agreementID string) ([]Record, error)
	SetDelivered(ctx context.Context, signatureID string, delivered bool) error
}

const recordColumns = `id, agreement_id, signer_name, signer_email, signer_role, signer_id,
       status, signature_data, signed_at, rejected_at, rejection_reason, message, delivered,
       created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed signature repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.AgreementID,
		&rec.SignerName,
		&rec.SignerEmail,
		&rec.SignerRole,
		&rec.SignerID,
		&rec.Status,
		&rec.SignatureData,
		&rec.SignedAt,
		&rec.RejectedAt,
		&rec.RejectionReason,
		&rec.Message,
		&rec.Delivered,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LockAgreement acquires the owning agreement's row lock, serializing every
// signature mutation for that agreement.
func (r *PGRepository) LockAgreement(ctx context.Context, tx pgx.Tx, agreementID string) (agreement.Agreement, error) {
	return agreement.GetForUpdate(ctx, tx, agreementID)
}

// Create inserts a fresh request record.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	query := `
INSERT INTO signatures (id, agreement_id, signer_name, signer_email, signer_role, signer_id, status, message)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, 'requested', $7)
RETURNING ` + recordColumns
	created, err := scanRecord(tx.QueryRow(ctx, query,
		rec.ID,
		rec.AgreementID,
		rec.SignerName,
		rec.SignerEmail,
		rec.SignerRole,
		rec.SignerID,
		rec.Message,
	))
	if err != nil {
		return Record{}, fmt.Errorf("signature: insert request: %w", err)
	}
	return created, nil
}

// AgreementIDOf resolves the owning agreement without taking a record lock,
// so the agreement lock can always be acquired first.
func (r *PGRepository) AgreementIDOf(ctx context.Context, tx pgx.Tx, signatureID string) (string, error) {
	var agreementID string
	err := tx.QueryRow(ctx, `SELECT agreement_id FROM signatures WHERE id = $1`, signatureID).Scan(&agreementID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("signature: resolve agreement id: %w", err)
	}
	return agreementID, nil
}

// GetForUpdate loads a record under a row lock.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, signatureID string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM signatures WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, signatureID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("signature: lock record: %w", err)
	}
	return rec, nil
}

// Get loads a record without locking.
func (r *PGRepository) Get(ctx context.Context, signatureID string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM signatures WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, signatureID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("signature: get record: %w", err)
	}
	return rec, nil
}

// MarkSigned stores the artifact and stamps signed_at exactly once. The
// signer id is filled in when the record was matched by email only.
func (r *PGRepository) MarkSigned(ctx context.Context, tx pgx.Tx, signatureID string, artifact []byte, signerID *string, at time.Time) (Record, error) {
	query := `
UPDATE signatures
SET status = 'signed',
    signature_data = $1,
    signer_id = COALESCE(signer_id, $2::uuid),
    signed_at = $3,
    updated_at = now()
WHERE id = $4
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, query, artifact, signerID, at, signatureID))
	if err != nil {
		return Record{}, fmt.Errorf("signature: mark signed: %w", err)
	}
	return rec, nil
}

// MarkRejected stamps rejected_at and the optional reason.
func (r *PGRepository) MarkRejected(ctx context.Context, tx pgx.Tx, signatureID string, reason *string, at time.Time) (Record, error) {
	query := `
UPDATE signatures
SET status = 'rejected',
    rejection_reason = $1,
    rejected_at = $2,
    updated_at = now()
WHERE id = $3
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, query, reason, at, signatureID))
	if err != nil {
		return Record{}, fmt.Errorf("signature: mark rejected: %w", err)
	}
	return rec, nil
}

// MarkCancelled retires the request with no side data.
func (r *PGRepository) MarkCancelled(ctx context.Context, tx pgx.Tx, signatureID string) (Record, error) {
	query := `
UPDATE signatures
SET status = 'cancelled',
    updated_at = now()
WHERE id = $1
RETURNING ` + recordColumns
	rec, err := scanRecord(tx.QueryRow(ctx, query, signatureID))
	if err != nil {
		return Record{}, fmt.Errorf("signature: mark cancelled: %w", err)
	}
	return rec, nil
}

// Statuses returns the status multiset for the agreement's records.
func (r *PGRepository) Statuses(ctx context.Context, tx pgx.Tx, agreementID string) ([]Status, error) {
	rows, err := tx.Query(ctx, `SELECT status FROM signatures WHERE agreement_id = $1`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("signature: query statuses: %w", err)
	}
	defer rows.Close()

	var statuses []Status
	for rows.Next() {
		var s Status
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("signature: scan status: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signature: iterate statuses: %w", err)
	}
	return statuses, nil
}

// SetAggregate persists the recomputed projection on the agreement row.
func (r *PGRepository) SetAggregate(ctx context.Context, tx pgx.Tx, agreementID string, status agreement.SignatureStatus) error {
	return agreement.UpdateSignatureStatus(ctx, tx, agreementID, status)
}

// ResolveSignerID finds an existing platform user for the invited email, if
// one exists yet.
func (r *PGRepository) ResolveSignerID(ctx context.Context, tx pgx.Tx, email string) (*string, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE LOWER(email) = LOWER($1)`, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("signature: resolve signer: %w", err)
	}
	return &id, nil
}

// ListByAgreement returns the agreement's records in insertion order.
func (r *PGRepository) ListByAgreement(ctx context.Context, agreementID string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM signatures WHERE agreement_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("signature: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("signature: scan list row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signature: iterate list: %w", err)
	}
	return records, nil
}

// SetDelivered records the outcome of a dispatch attempt. It runs outside the
// state transaction: delivery is bookkeeping, never part of the state change.
func (r *PGRepository) SetDelivered(ctx context.Context, signatureID string, delivered bool) error {
	if _, err := r.pool.Exec(ctx, `UPDATE signatures SET delivered = $1, updated_at = now() WHERE id = $2`, delivered, signatureID); err != nil {
		return fmt.Errorf("signature: set delivered: %w", err)
	}
	return nil
}
