package party

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUniversityNotFound signals the requested university does not exist.
	ErrUniversityNotFound = errors.New("party: university not found")
	// ErrSiteNotFound signals the requested site does not exist.
	ErrSiteNotFound = errors.New("party: site not found")
)

// Repository provides read access to the party directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUniversity fetches a university by its primary key.
func (r *Repository) GetUniversity(ctx context.Context, id string) (University, error) {
	const query = `
		SELECT id, name, city, accredited, created_at
		FROM universities
		WHERE id = $1
	`

	var u University
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.City, &u.Accredited, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return University{}, ErrUniversityNotFound
		}
		return University{}, fmt.Errorf("party: query university: %w", err)
	}

	return u, nil
}

// GetSite fetches a clinical site by its primary key.
func (r *Repository) GetSite(ctx context.Context, id string) (Site, error) {
	const query = `
		SELECT id, name, city, capacity, created_at
		FROM sites
		WHERE id = $1
	`

	var s Site
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.Name, &s.City, &s.Capacity, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, ErrSiteNotFound
		}
		return Site{}, fmt.Errorf("party: query site: %w", err)
	}

	return s, nil
}

// ListSites fetches up to limit sites ordered by name.
func (r *Repository) ListSites(ctx context.Context, limit int) ([]Site, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, city, capacity, created_at
		FROM sites
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("party: list sites: %w", err)
	}
	defer rows.Close()

	sites := make([]Site, 0, limit)
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.Name, &s.City, &s.Capacity, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("party: scan site: %w", err)
		}
		sites = append(sites, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("party: iterate sites: %w", err)
	}

	return sites, nil
}
