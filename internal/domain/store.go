package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// WalletRepository persists custodial wallets. Implementations must make
// Create atomic on UserID: when a row already exists it is returned unchanged
// with created=false.
type WalletRepository interface {
	Create(ctx context.Context, w UserWallet) (stored UserWallet, created bool, err error)
	GetByUserID(ctx context.Context, userID string) (UserWallet, error)
	GetByAddress(ctx context.Context, address string) (UserWallet, error)
}

// SettlementRepository is the durable settlement journal.
type SettlementRepository interface {
	MarkBetPending(ctx context.Context, betID uint64) error
	MarkBetSettled(ctx context.Context, betID uint64) error
	PendingBets(ctx context.Context) ([]BetSettlement, error)

	GetAttempt(ctx context.Context, betID uint64, participant string) (SettlementAttempt, error)
	SaveAttempt(ctx context.Context, a SettlementAttempt) error
	ListFailed(ctx context.Context, opts ListOpts) ([]SettlementAttempt, error)
}

// SequenceRepository persists named monotonically increasing counters.
type SequenceRepository interface {
	// Load returns the stored value, or initial if the counter does not exist
	// yet (in which case it is created with that value).
	Load(ctx context.Context, name string, initial uint64) (uint64, error)
	Store(ctx context.Context, name string, value uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
