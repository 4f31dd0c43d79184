// Package document stores the uploaded agreement files. Agreements reference
// stored files by opaque metadata only; retrieval goes through this boundary.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no stored document exists for the reference.
var ErrNotFound = errors.New("document: not found")

// Store is the storage boundary consumed by the agreement workflow.
type Store interface {
	Store(ctx context.Context, fileName string, data []byte) (string, error)
	Retrieve(ctx context.Context, ref string) ([]byte, error)
}

// PGStore keeps document bytes in Postgres alongside the rest of the state.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Store persists the bytes and returns the opaque storage reference.
func (s *PGStore) Store(ctx context.Context, fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("document: empty payload")
	}

	var ref string
	err := s.pool.QueryRow(ctx, `
INSERT INTO documents (file_name, data)
VALUES ($1, $2)
RETURNING id
`, fileName, data).Scan(&ref)
	if err != nil {
		return "", fmt.Errorf("document: store: %w", err)
	}
	return ref, nil
}

// Retrieve loads the bytes for a storage reference.
func (s *PGStore) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE id = $1`, ref).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("document: retrieve: %w", err)
	}
	return data, nil
}
