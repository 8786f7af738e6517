package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// SettlementStore implements domain.SettlementRepository.
type SettlementStore struct {
	db *DB
}

// NewSettlementStore creates a SettlementStore on db.
func NewSettlementStore(db *DB) *SettlementStore {
	return &SettlementStore{db: db}
}

// MarkBetPending records that a resolution is being submitted for betID. A
// bet already present is left alone.
func (s *SettlementStore) MarkBetPending(ctx context.Context, betID uint64) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO bet_settlements (bet_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(bet_id) DO NOTHING`,
		int64(betID), string(domain.BetSettlementPending), toUnix(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark bet %d pending: %w", betID, err)
	}
	return nil
}

// MarkBetSettled records that every participant of betID is terminal.
func (s *SettlementStore) MarkBetSettled(ctx context.Context, betID uint64) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO bet_settlements (bet_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(bet_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		int64(betID), string(domain.BetSettlementSettled), toUnix(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark bet %d settled: %w", betID, err)
	}
	return nil
}

// PendingBets returns bets still awaiting participant settlement.
func (s *SettlementStore) PendingBets(ctx context.Context) ([]domain.BetSettlement, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT bet_id, state, updated_at FROM bet_settlements WHERE state = ? ORDER BY bet_id`,
		string(domain.BetSettlementPending),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending bets: %w", err)
	}
	defer rows.Close()

	var out []domain.BetSettlement
	for rows.Next() {
		var (
			id, updated int64
			state       string
		)
		if err := rows.Scan(&id, &state, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan bet settlement: %w", err)
		}
		out = append(out, domain.BetSettlement{
			BetID:     uint64(id),
			State:     domain.BetSettlementState(state),
			UpdatedAt: fromUnix(updated),
		})
	}
	return out, rows.Err()
}

const attemptColumns = `bet_id, participant, user_id, outcome, claim_state, reward_wei,
	mint_sequence, mint_failed, notified, error, updated_at`

// GetAttempt returns the journal entry for (betID, participant).
func (s *SettlementStore) GetAttempt(ctx context.Context, betID uint64, participant string) (domain.SettlementAttempt, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE bet_id = ? AND participant = ?`,
		int64(betID), participant,
	)
	a, err := scanAttempt(row)
	if err != nil {
		return domain.SettlementAttempt{}, fmt.Errorf("sqlite: get attempt %d/%s: %w", betID, participant, notFound(err))
	}
	return a, nil
}

// SaveAttempt upserts a journal entry.
func (s *SettlementStore) SaveAttempt(ctx context.Context, a domain.SettlementAttempt) error {
	var reward sql.NullString
	if a.Reward != nil {
		reward = sql.NullString{String: a.Reward.String(), Valid: true}
	}
	var seq sql.NullInt64
	if a.MintSequence != nil {
		seq = sql.NullInt64{Int64: int64(*a.MintSequence), Valid: true}
	}

	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO settlement_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bet_id, participant) DO UPDATE SET
			user_id = excluded.user_id,
			outcome = excluded.outcome,
			claim_state = excluded.claim_state,
			reward_wei = excluded.reward_wei,
			mint_sequence = excluded.mint_sequence,
			mint_failed = excluded.mint_failed,
			notified = excluded.notified,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		int64(a.BetID), a.Participant, a.UserID, string(a.Outcome), string(a.ClaimState),
		reward, seq, a.MintFailed, a.Notified, a.Error, toUnix(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save attempt %d/%s: %w", a.BetID, a.Participant, err)
	}
	return nil
}

// ListFailed returns failed claims and failed mints, newest first.
func (s *SettlementStore) ListFailed(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM settlement_attempts
		WHERE (claim_state = 'failed' OR mint_failed = 1)`
	args := []any{}
	if opts.Since != nil {
		query += " AND updated_at >= ?"
		args = append(args, toUnix(*opts.Since))
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list failed attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (domain.SettlementAttempt, error) {
	var (
		a              domain.SettlementAttempt
		betID, updated int64
		outcome, claim string
		reward         sql.NullString
		seq            sql.NullInt64
	)
	if err := row.Scan(&betID, &a.Participant, &a.UserID, &outcome, &claim, &reward,
		&seq, &a.MintFailed, &a.Notified, &a.Error, &updated); err != nil {
		return domain.SettlementAttempt{}, err
	}
	a.BetID = uint64(betID)
	a.Outcome = domain.Outcome(outcome)
	a.ClaimState = domain.ClaimState(claim)
	a.UpdatedAt = fromUnix(updated)
	if reward.Valid {
		if v, ok := new(big.Int).SetString(reward.String, 10); ok {
			a.Reward = v
		}
	}
	if seq.Valid {
		v := uint64(seq.Int64)
		a.MintSequence = &v
	}
	return a, nil
}
