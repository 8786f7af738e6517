package sqlite_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/store/sqlite"
)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWalletStore_CreateIsIdempotentPerUser(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewWalletStore(openDB(t))

	first := domain.UserWallet{
		UserID:     "42",
		Address:    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		PrivateKey: "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
		CreatedAt:  time.Now().UTC(),
	}
	stored, created, err := store.Create(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.Address, stored.Address)

	second := first
	second.Address = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	second.PrivateKey = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
	stored, created, err = store.Create(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Address, stored.Address)
	assert.Equal(t, first.PrivateKey, stored.PrivateKey)

	byAddr, err := store.GetByAddress(ctx, first.Address)
	require.NoError(t, err)
	assert.Equal(t, "42", byAddr.UserID)
}

func TestWalletStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewWalletStore(openDB(t))

	_, err := store.GetByUserID(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetByAddress(ctx, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementStore_BetMarkers(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewSettlementStore(openDB(t))

	require.NoError(t, store.MarkBetPending(ctx, 3))
	require.NoError(t, store.MarkBetPending(ctx, 1))
	require.NoError(t, store.MarkBetPending(ctx, 1))

	pending, err := store.PendingBets(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(1), pending[0].BetID)
	assert.Equal(t, uint64(3), pending[1].BetID)

	require.NoError(t, store.MarkBetSettled(ctx, 1))
	// Settled bets stay settled.
	require.NoError(t, store.MarkBetPending(ctx, 1))

	pending, err = store.PendingBets(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(3), pending[0].BetID)
}

func TestSettlementStore_AttemptRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewSettlementStore(openDB(t))

	_, err := store.GetAttempt(ctx, 1, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	seq := uint64(17)
	a := domain.SettlementAttempt{
		BetID:       1,
		Participant: "0xabc",
		UserID:      "42",
		Outcome:     domain.OutcomeWon,
		ClaimState:  domain.ClaimPending,
		Reward:      big.NewInt(1_500_000_000_000_000_000),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveAttempt(ctx, a))

	got, err := store.GetAttempt(ctx, 1, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimPending, got.ClaimState)
	assert.Equal(t, 0, a.Reward.Cmp(got.Reward))
	assert.Nil(t, got.MintSequence)

	a.ClaimState = domain.ClaimClaimed
	a.MintSequence = &seq
	a.Notified = true
	require.NoError(t, store.SaveAttempt(ctx, a))

	got, err = store.GetAttempt(ctx, 1, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimClaimed, got.ClaimState)
	require.NotNil(t, got.MintSequence)
	assert.Equal(t, seq, *got.MintSequence)
	assert.True(t, got.Notified)
	assert.True(t, got.Terminal())
}

func TestSettlementStore_ListFailed(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewSettlementStore(openDB(t))
	now := time.Now().UTC()

	require.NoError(t, store.SaveAttempt(ctx, domain.SettlementAttempt{
		BetID: 1, Participant: "0xa", UserID: "1", Outcome: domain.OutcomeWon,
		ClaimState: domain.ClaimFailed, Error: "reverted", UpdatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.SaveAttempt(ctx, domain.SettlementAttempt{
		BetID: 1, Participant: "0xb", UserID: "2", Outcome: domain.OutcomeWon,
		ClaimState: domain.ClaimClaimed, MintFailed: true, UpdatedAt: now,
	}))
	require.NoError(t, store.SaveAttempt(ctx, domain.SettlementAttempt{
		BetID: 1, Participant: "0xc", UserID: "3", Outcome: domain.OutcomeLost,
		ClaimState: domain.ClaimNone, Notified: true, UpdatedAt: now,
	}))

	failed, err := store.ListFailed(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "0xb", failed[0].Participant)
	assert.Equal(t, "0xa", failed[1].Participant)
	assert.Equal(t, "reverted", failed[1].Error)

	limited, err := store.ListFailed(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSequenceStore_LoadSeedsOnce(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewSequenceStore(openDB(t))

	v, err := store.Load(ctx, "mint", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	require.NoError(t, store.Store(ctx, "mint", 105))

	v, err = store.Load(ctx, "mint", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), v)
}

func TestAuditStore_LogAndList(t *testing.T) {
	ctx := context.Background()
	store := sqlite.NewAuditStore(openDB(t))

	require.NoError(t, store.Log(ctx, "bet_resolved", map[string]any{"bet_id": 1}))
	require.NoError(t, store.Log(ctx, "claim_failed", map[string]any{"bet_id": 2}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "claim_failed", entries[0].Event)
	assert.Equal(t, float64(2), entries[0].Detail["bet_id"])
}
