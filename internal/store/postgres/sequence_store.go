package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceStore implements domain.SequenceRepository.
type SequenceStore struct {
	pool *pgxpool.Pool
}

// NewSequenceStore creates a SequenceStore backed by pool.
func NewSequenceStore(pool *pgxpool.Pool) *SequenceStore {
	return &SequenceStore{pool: pool}
}

// Load returns the stored value of name, seeding it with initial on first use.
func (s *SequenceStore) Load(ctx context.Context, name string, initial uint64) (uint64, error) {
	const seed = `INSERT INTO sequences (name, value) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`
	if _, err := s.pool.Exec(ctx, seed, name, int64(initial)); err != nil {
		return 0, fmt.Errorf("postgres: seed sequence %s: %w", name, err)
	}
	var v int64
	if err := s.pool.QueryRow(ctx, `SELECT value FROM sequences WHERE name = $1`, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("postgres: load sequence %s: %w", name, notFound(err))
	}
	return uint64(v), nil
}

// Store overwrites the value of name.
func (s *SequenceStore) Store(ctx context.Context, name string, value uint64) error {
	const query = `
		INSERT INTO sequences (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
	if _, err := s.pool.Exec(ctx, query, name, int64(value)); err != nil {
		return fmt.Errorf("postgres: store sequence %s: %w", name, err)
	}
	return nil
}
