package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michelevens/ClinicLink-sub000/authz"
)

type CreateParams struct {
	UniversityID string
	SiteID       string
	StartDate    *time.Time
	EndDate      *time.Time
	Notes        string
}

type ListFilters struct {
	UniversityID string
	SiteID       string
	Status       Status
	Page         int
	PageSize     int
}

type CRUDService struct {
	pool *pgxpool.Pool
}

func NewCRUDService(pool *pgxpool.Pool) *CRUDService {
	return &CRUDService{pool: pool}
}

// Create opens a draft agreement between one university and one site. Both
// parties must exist and the optional date range must be ordered.
func (s *CRUDService) Create(ctx context.Context, actor authz.Identity, params CreateParams) (Agreement, error) {
	if !authz.CanCreate(actor.Role) {
		return Agreement{}, authz.ErrPermissionDenied
	}
	if params.UniversityID == "" || params.SiteID == "" {
		return Agreement{}, fmt.Errorf("agreement: university and site ids required: %w", ErrValidation)
	}
	if params.StartDate != nil && params.EndDate != nil && params.EndDate.Before(*params.StartDate) {
		return Agreement{}, fmt.Errorf("agreement: end date precedes start date: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM universities WHERE id = $1)`, params.UniversityID).Scan(&exists); err != nil {
		return Agreement{}, fmt.Errorf("agreement: check university: %w", err)
	}
	if !exists {
		return Agreement{}, fmt.Errorf("agreement: university %s: %w", params.UniversityID, ErrNotFound)
	}
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sites WHERE id = $1)`, params.SiteID).Scan(&exists); err != nil {
		return Agreement{}, fmt.Errorf("agreement: check site: %w", err)
	}
	if !exists {
		return Agreement{}, fmt.Errorf("agreement: site %s: %w", params.SiteID, ErrNotFound)
	}

	var notes *string
	if trimmed := strings.TrimSpace(params.Notes); trimmed != "" {
		notes = &trimmed
	}

	insertSQL := `
INSERT INTO agreements (university_id, site_id, status, signature_status, start_date, end_date, notes, created_by)
VALUES ($1, $2, 'draft', 'none', $3, $4, $5, $6)
RETURNING ` + agreementColumns
	rec, err := scanAgreement(tx.QueryRow(ctx, insertSQL,
		params.UniversityID,
		params.SiteID,
		params.StartDate,
		params.EndDate,
		notes,
		actor.UserID,
	))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: insert: %w", err)
	}

	payload := map[string]any{
		"university_id": params.UniversityID,
		"site_id":       params.SiteID,
	}
	if err := AppendTimeline(ctx, tx, rec.ID, EventAgreementCreated, actor.UserID, payload); err != nil {
		return Agreement{}, err
	}

	outboxPayload := map[string]any{
		"agreement_id":  rec.ID,
		"university_id": rec.UniversityID,
		"site_id":       rec.SiteID,
	}
	if err := EnqueueOutbox(ctx, tx, "agreement.created", outboxPayload); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit: %w", err)
	}

	return rec, nil
}

// Get fetches a single agreement by id.
func (s *CRUDService) Get(ctx context.Context, id string) (Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE id = $1`
	rec, err := scanAgreement(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	return rec, nil
}

// List fetches agreements matching the filters, newest first.
func (s *CRUDService) List(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.UniversityID != "" {
		args = append(args, filters.UniversityID)
		where = append(where, fmt.Sprintf("university_id=$%d", len(args)))
	}
	if filters.SiteID != "" {
		args = append(args, filters.SiteID)
		where = append(where, fmt.Sprintf("site_id=$%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM agreements WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		agreementColumns, strings.Join(where, " AND "), len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}
	defer rows.Close()

	records := []Agreement{}
	for rows.Next() {
		rec, err := scanAgreement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("agreement: scan list row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agreement: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM agreements WHERE %s`, strings.Join(where, " AND "))
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agreement: count: %w", err)
	}

	return records, total, nil
}

// AttachDocument overwrites the document metadata at any status. The bytes
// must already be in the document store; only the reference lands here.
func (s *CRUDService) AttachDocument(ctx context.Context, actor authz.Identity, agreementID string, doc DocumentMeta) (Agreement, error) {
	if !authz.CanCreate(actor.Role) {
		return Agreement{}, authz.ErrPermissionDenied
	}
	if doc.FileName == "" || doc.StorageRef == "" {
		return Agreement{}, fmt.Errorf("agreement: document name and reference required: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := getForUpdate(ctx, tx, agreementID); err != nil {
		return Agreement{}, err
	}

	query := `
UPDATE agreements
SET document_name = $1,
    document_size = $2,
    document_ref = $3,
    updated_at = now()
WHERE id = $4
RETURNING ` + agreementColumns
	updated, err := scanAgreement(tx.QueryRow(ctx, query, doc.FileName, doc.FileSize, doc.StorageRef, agreementID))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: attach document: %w", err)
	}

	payload := map[string]any{
		"file_name": doc.FileName,
		"file_size": doc.FileSize,
	}
	if err := AppendTimeline(ctx, tx, agreementID, EventDocumentAttached, actor.UserID, payload); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit document attach: %w", err)
	}

	return updated, nil
}

// UpdateNotes replaces the free-text notes. Unrestricted by status.
func (s *CRUDService) UpdateNotes(ctx context.Context, actor authz.Identity, agreementID string, notes string) (Agreement, error) {
	if !authz.CanCreate(actor.Role) {
		return Agreement{}, authz.ErrPermissionDenied
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := getForUpdate(ctx, tx, agreementID); err != nil {
		return Agreement{}, err
	}

	var value *string
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		value = &trimmed
	}

	query := `
UPDATE agreements
SET notes = $1,
    updated_at = now()
WHERE id = $2
RETURNING ` + agreementColumns
	updated, err := scanAgreement(tx.QueryRow(ctx, query, value, agreementID))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: update notes: %w", err)
	}

	if err := AppendTimeline(ctx, tx, agreementID, EventNotesUpdated, actor.UserID, nil); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit notes: %w", err)
	}

	return updated, nil
}
