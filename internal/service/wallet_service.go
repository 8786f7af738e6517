package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
)

// WalletService manages the custodial keypair held for each chat user.
type WalletService struct {
	repo    domain.WalletRepository
	chainID int64
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

// NewWalletService creates a WalletService. chainID is used for the signers
// it hands out.
func NewWalletService(repo domain.WalletRepository, chainID int64, logger *slog.Logger) *WalletService {
	return &WalletService{
		repo:    repo,
		chainID: chainID,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "wallet_service")),
	}
}

// GetOrCreate returns the wallet for userID, generating and persisting a new
// keypair on first use. Concurrent calls for one user in this process share a
// single generation; across processes the repository insert decides.
func (s *WalletService) GetOrCreate(ctx context.Context, userID string) (domain.UserWallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserWallet{}, errors.New("wallet: empty user id")
	}

	w, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.UserWallet{}, fmt.Errorf("wallet: lookup %s: %w", userID, err)
	}

	v, err, _ := s.group.Do(userID, func() (any, error) {
		key, addr, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("wallet: generate key: %w", err)
		}
		stored, created, err := s.repo.Create(ctx, domain.UserWallet{
			UserID:     userID,
			Address:    addr,
			PrivateKey: key,
			CreatedAt:  s.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("wallet: create %s: %w", userID, err)
		}
		if created {
			s.logger.InfoContext(ctx, "custodial wallet created",
				slog.String("user_id", userID),
				slog.String("address", stored.Address),
			)
		}
		return stored, nil
	})
	if err != nil {
		return domain.UserWallet{}, err
	}
	return v.(domain.UserWallet), nil
}

// Find returns the wallet for userID or domain.ErrNotFound.
func (s *WalletService) Find(ctx context.Context, userID string) (domain.UserWallet, error) {
	return s.repo.GetByUserID(ctx, strings.TrimSpace(userID))
}

// FindByAddress maps an on-chain address back to its custodial wallet. Any
// address form is accepted; lookups use the checksummed form.
func (s *WalletService) FindByAddress(ctx context.Context, address string) (domain.UserWallet, error) {
	addr, err := crypto.NormalizeAddress(address)
	if err != nil {
		return domain.UserWallet{}, fmt.Errorf("wallet: %w: %v", domain.ErrNotFound, err)
	}
	return s.repo.GetByAddress(ctx, addr)
}

// Signer builds a transaction signer from the wallet's key.
func (s *WalletService) Signer(w domain.UserWallet) (*crypto.Signer, error) {
	signer, err := crypto.NewSigner(w.PrivateKey, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("wallet: signer for %s: %w", w.UserID, err)
	}
	return signer, nil
}
