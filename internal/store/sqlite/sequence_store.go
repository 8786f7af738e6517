package sqlite

import (
	"context"
	"fmt"
)

// SequenceStore implements domain.SequenceRepository.
type SequenceStore struct {
	db *DB
}

// NewSequenceStore creates a SequenceStore on db.
func NewSequenceStore(db *DB) *SequenceStore {
	return &SequenceStore{db: db}
}

// Load returns the stored value of name, seeding it with initial on first use.
func (s *SequenceStore) Load(ctx context.Context, name string, initial uint64) (uint64, error) {
	if _, err := s.db.db.ExecContext(ctx,
		`INSERT INTO sequences (name, value) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, int64(initial),
	); err != nil {
		return 0, fmt.Errorf("sqlite: seed sequence %s: %w", name, err)
	}
	var v int64
	if err := s.db.db.QueryRowContext(ctx, `SELECT value FROM sequences WHERE name = ?`, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: load sequence %s: %w", name, notFound(err))
	}
	return uint64(v), nil
}

// Store overwrites the value of name.
func (s *SequenceStore) Store(ctx context.Context, name string, value uint64) error {
	if _, err := s.db.db.ExecContext(ctx,
		`INSERT INTO sequences (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, int64(value),
	); err != nil {
		return fmt.Errorf("sqlite: store sequence %s: %w", name, err)
	}
	return nil
}
