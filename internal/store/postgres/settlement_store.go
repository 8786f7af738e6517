package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// SettlementStore implements domain.SettlementRepository.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// MarkBetPending records that a resolution is being submitted for betID.
// A bet already marked settled is left alone.
func (s *SettlementStore) MarkBetPending(ctx context.Context, betID uint64) error {
	const query = `
		INSERT INTO bet_settlements (bet_id, state, updated_at)
		VALUES ($1, 'pending', NOW())
		ON CONFLICT (bet_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, int64(betID)); err != nil {
		return fmt.Errorf("postgres: mark bet %d pending: %w", betID, err)
	}
	return nil
}

// MarkBetSettled records that every participant of betID is terminal.
func (s *SettlementStore) MarkBetSettled(ctx context.Context, betID uint64) error {
	const query = `
		INSERT INTO bet_settlements (bet_id, state, updated_at)
		VALUES ($1, 'settled', NOW())
		ON CONFLICT (bet_id) DO UPDATE SET state = 'settled', updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, int64(betID)); err != nil {
		return fmt.Errorf("postgres: mark bet %d settled: %w", betID, err)
	}
	return nil
}

// PendingBets returns bets still awaiting participant settlement, oldest id
// first.
func (s *SettlementStore) PendingBets(ctx context.Context) ([]domain.BetSettlement, error) {
	const query = `
		SELECT bet_id, state, updated_at FROM bet_settlements
		WHERE state = 'pending' ORDER BY bet_id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending bets: %w", err)
	}
	defer rows.Close()

	var out []domain.BetSettlement
	for rows.Next() {
		var (
			id    int64
			state string
			bs    domain.BetSettlement
		)
		if err := rows.Scan(&id, &state, &bs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet settlement: %w", err)
		}
		bs.BetID = uint64(id)
		bs.State = domain.BetSettlementState(state)
		out = append(out, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: pending bets rows: %w", err)
	}
	return out, nil
}

const attemptColumns = `bet_id, participant, user_id, outcome, claim_state, reward_wei,
	mint_sequence, mint_failed, notified, error, updated_at`

// GetAttempt returns the journal entry for (betID, participant).
func (s *SettlementStore) GetAttempt(ctx context.Context, betID uint64, participant string) (domain.SettlementAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM settlement_attempts WHERE bet_id = $1 AND participant = $2`
	a, err := scanAttempt(s.pool.QueryRow(ctx, query, int64(betID), participant))
	if err != nil {
		return domain.SettlementAttempt{}, fmt.Errorf("postgres: get attempt %d/%s: %w", betID, participant, notFound(err))
	}
	return a, nil
}

// SaveAttempt upserts a journal entry.
func (s *SettlementStore) SaveAttempt(ctx context.Context, a domain.SettlementAttempt) error {
	const query = `
		INSERT INTO settlement_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (bet_id, participant) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			outcome = EXCLUDED.outcome,
			claim_state = EXCLUDED.claim_state,
			reward_wei = EXCLUDED.reward_wei,
			mint_sequence = EXCLUDED.mint_sequence,
			mint_failed = EXCLUDED.mint_failed,
			notified = EXCLUDED.notified,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`

	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		int64(a.BetID), a.Participant, a.UserID, string(a.Outcome), string(a.ClaimState),
		bigString(a.Reward), seqParam(a.MintSequence), a.MintFailed, a.Notified, a.Error, updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: save attempt %d/%s: %w", a.BetID, a.Participant, err)
	}
	return nil
}

// ListFailed returns attempts that need manual follow-up: failed claims and
// failed mints, newest first.
func (s *SettlementStore) ListFailed(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM settlement_attempts
		WHERE (claim_state = 'failed' OR mint_failed)`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list failed attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list failed attempts rows: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (domain.SettlementAttempt, error) {
	var (
		a              domain.SettlementAttempt
		betID          int64
		outcome, claim string
		reward         *string
		seq            *int64
	)
	if err := row.Scan(&betID, &a.Participant, &a.UserID, &outcome, &claim, &reward,
		&seq, &a.MintFailed, &a.Notified, &a.Error, &a.UpdatedAt); err != nil {
		return domain.SettlementAttempt{}, err
	}
	a.BetID = uint64(betID)
	a.Outcome = domain.Outcome(outcome)
	a.ClaimState = domain.ClaimState(claim)
	if reward != nil {
		if v, ok := new(big.Int).SetString(*reward, 10); ok {
			a.Reward = v
		}
	}
	if seq != nil {
		v := uint64(*seq)
		a.MintSequence = &v
	}
	return a, nil
}

func bigString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func seqParam(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
