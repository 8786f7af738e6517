package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// WalletStore implements domain.WalletRepository. Keys are stored as
// plaintext hex.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a WalletStore backed by pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Create inserts w unless a wallet for w.UserID exists, then returns the row
// that won.
func (s *WalletStore) Create(ctx context.Context, w domain.UserWallet) (domain.UserWallet, bool, error) {
	const query = `
		INSERT INTO wallets (user_id, address, private_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, w.UserID, w.Address, w.PrivateKey, w.CreatedAt)
	if err != nil {
		return domain.UserWallet{}, false, fmt.Errorf("postgres: create wallet %s: %w", w.UserID, err)
	}
	stored, err := s.GetByUserID(ctx, w.UserID)
	if err != nil {
		return domain.UserWallet{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// GetByUserID returns the wallet owned by userID.
func (s *WalletStore) GetByUserID(ctx context.Context, userID string) (domain.UserWallet, error) {
	const query = `SELECT user_id, address, private_key, created_at FROM wallets WHERE user_id = $1`
	var w domain.UserWallet
	err := s.pool.QueryRow(ctx, query, userID).Scan(&w.UserID, &w.Address, &w.PrivateKey, &w.CreatedAt)
	if err != nil {
		return domain.UserWallet{}, fmt.Errorf("postgres: get wallet %s: %w", userID, notFound(err))
	}
	return w, nil
}

// GetByAddress returns the wallet with the given checksummed address.
func (s *WalletStore) GetByAddress(ctx context.Context, address string) (domain.UserWallet, error) {
	const query = `SELECT user_id, address, private_key, created_at FROM wallets WHERE address = $1`
	var w domain.UserWallet
	err := s.pool.QueryRow(ctx, query, address).Scan(&w.UserID, &w.Address, &w.PrivateKey, &w.CreatedAt)
	if err != nil {
		return domain.UserWallet{}, fmt.Errorf("postgres: get wallet by address %s: %w", address, notFound(err))
	}
	return w, nil
}
