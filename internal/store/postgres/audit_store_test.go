package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

func TestAuditListQuery(t *testing.T) {
	query, args := auditListQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC", query)
	assert.Empty(t, args)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	query, args = auditListQuery(domain.ListOpts{Since: &since, Until: &until, Limit: 50, Offset: 100})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1"+
		" AND created_at >= $1 AND created_at <= $2"+
		" ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4", query)
	assert.Equal(t, []any{since, until, 50, 100}, args)

	query, args = auditListQuery(domain.ListOpts{Offset: 10})
	assert.Contains(t, query, "OFFSET $1")
	assert.Equal(t, []any{10}, args)
}

func TestAuditKeys(t *testing.T) {
	betID, participant := auditKeys(map[string]any{
		"bet_id":      uint64(12),
		"participant": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"error":       "reverted",
	})
	require.NotNil(t, betID)
	assert.Equal(t, int64(12), *betID)
	require.NotNil(t, participant)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", *participant)

	// Decoded JSON numbers arrive as float64.
	betID, participant = auditKeys(map[string]any{"bet_id": float64(7)})
	require.NotNil(t, betID)
	assert.Equal(t, int64(7), *betID)
	assert.Nil(t, participant)

	betID, participant = auditKeys(map[string]any{"bet_id": "seven", "participant": ""})
	assert.Nil(t, betID)
	assert.Nil(t, participant)

	betID, participant = auditKeys(nil)
	assert.Nil(t, betID)
	assert.Nil(t, participant)
}
