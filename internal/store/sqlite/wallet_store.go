package sqlite

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// WalletStore implements domain.WalletRepository. Keys are stored as
// plaintext hex.
type WalletStore struct {
	db *DB
}

// NewWalletStore creates a WalletStore on db.
func NewWalletStore(db *DB) *WalletStore {
	return &WalletStore{db: db}
}

// Create inserts w unless a wallet for w.UserID exists, then returns the row
// that won.
func (s *WalletStore) Create(ctx context.Context, w domain.UserWallet) (domain.UserWallet, bool, error) {
	res, err := s.db.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, address, private_key, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		w.UserID, w.Address, w.PrivateKey, toUnix(w.CreatedAt),
	)
	if err != nil {
		return domain.UserWallet{}, false, fmt.Errorf("sqlite: create wallet %s: %w", w.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.UserWallet{}, false, fmt.Errorf("sqlite: create wallet %s: %w", w.UserID, err)
	}
	stored, err := s.GetByUserID(ctx, w.UserID)
	if err != nil {
		return domain.UserWallet{}, false, err
	}
	return stored, n == 1, nil
}

// GetByUserID returns the wallet owned by userID.
func (s *WalletStore) GetByUserID(ctx context.Context, userID string) (domain.UserWallet, error) {
	w, err := s.get(ctx, `SELECT user_id, address, private_key, created_at FROM wallets WHERE user_id = ?`, userID)
	if err != nil {
		return domain.UserWallet{}, fmt.Errorf("sqlite: get wallet %s: %w", userID, err)
	}
	return w, nil
}

// GetByAddress returns the wallet with the given checksummed address.
func (s *WalletStore) GetByAddress(ctx context.Context, address string) (domain.UserWallet, error) {
	w, err := s.get(ctx, `SELECT user_id, address, private_key, created_at FROM wallets WHERE address = ?`, address)
	if err != nil {
		return domain.UserWallet{}, fmt.Errorf("sqlite: get wallet by address %s: %w", address, err)
	}
	return w, nil
}

func (s *WalletStore) get(ctx context.Context, query string, arg string) (domain.UserWallet, error) {
	var (
		w       domain.UserWallet
		created int64
	)
	err := s.db.db.QueryRowContext(ctx, query, arg).Scan(&w.UserID, &w.Address, &w.PrivateKey, &created)
	if err != nil {
		return domain.UserWallet{}, notFound(err)
	}
	w.CreatedAt = fromUnix(created)
	return w, nil
}
