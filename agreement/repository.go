package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const agreementColumns = `id, university_id, site_id, status, signature_status,
       start_date, end_date, notes,
       document_name, document_size, document_ref,
       created_by, created_at, updated_at`

func scanAgreement(row pgx.Row) (Agreement, error) {
	var (
		a       Agreement
		docName *string
		docSize *int64
		docRef  *string
	)
	err := row.Scan(
		&a.ID,
		&a.UniversityID,
		&a.SiteID,
		&a.Status,
		&a.SignatureStatus,
		&a.StartDate,
		&a.EndDate,
		&a.Notes,
		&docName,
		&docSize,
		&docRef,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agreement{}, err
	}
	if docName != nil && docRef != nil {
		var size int64
		if docSize != nil {
			size = *docSize
		}
		a.Document = &DocumentMeta{FileName: *docName, FileSize: size, StorageRef: *docRef}
	}
	return a, nil
}

// getForUpdate loads the agreement row under a row-level lock. Every
// signature and status mutation for one agreement serializes on this lock, so
// the aggregate signature status can never go stale under concurrent writers.
func getForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1 FOR UPDATE`
	a, err := scanAgreement(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: lock row: %w", err)
	}
	return a, nil
}

// GetForUpdate exposes the locked load for sibling workflows that mutate
// signature records and must hold the agreement lock while doing so.
func GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Agreement, error) {
	return getForUpdate(ctx, tx, id)
}

// UpdateSignatureStatus persists a freshly recomputed aggregate inside the
// caller's transaction. Callers must hold the agreement row lock.
func UpdateSignatureStatus(ctx context.Context, tx pgx.Tx, id string, status SignatureStatus) error {
	tag, err := tx.Exec(ctx, `
UPDATE agreements
SET signature_status = $1,
    updated_at = now()
WHERE id = $2
`, status, id)
	if err != nil {
		return fmt.Errorf("agreement: update signature status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
