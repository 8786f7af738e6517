package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/platform/contract"
)

// BetServiceConfig controls which feeds users may open bets on and the
// smallest stake the service will submit.
type BetServiceConfig struct {
	Tokens   []string
	MinStake *big.Int
}

// ActiveBet is an open bet with its feed metadata.
type ActiveBet struct {
	Bet      domain.BetRecord
	Token    domain.TokenInfo
	TimeLeft time.Duration
}

// UserBet is a user's stake in an open bet.
type UserBet struct {
	Bet   domain.BetRecord
	Token domain.TokenInfo
	Stake domain.ParticipantBet
}

// WalletInfo is a user's custodial wallet and its current balance.
type WalletInfo struct {
	Wallet  domain.UserWallet
	Balance *big.Int
	Created bool
}

// BetService backs the chat commands: wallet lookup, bet creation, staking
// and listing.
type BetService struct {
	ledger   domain.Ledger
	wallets  *WalletService
	tokens   []string
	minStake *big.Int
	now      func() time.Time
	logger   *slog.Logger
}

// NewBetService creates a BetService.
func NewBetService(ledger domain.Ledger, wallets *WalletService, cfg BetServiceConfig, logger *slog.Logger) *BetService {
	tokens := make([]string, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, strings.ToUpper(strings.TrimSpace(t)))
	}
	minStake := cfg.MinStake
	if minStake == nil {
		minStake = big.NewInt(0)
	}
	return &BetService{
		ledger:   ledger,
		wallets:  wallets,
		tokens:   tokens,
		minStake: minStake,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "bet_service")),
	}
}

// Tokens lists the feed symbols bets can be created on.
func (s *BetService) Tokens() []string {
	return slices.Clone(s.tokens)
}

// MinStake returns the minimum stake in wei.
func (s *BetService) MinStake() *big.Int {
	return new(big.Int).Set(s.minStake)
}

// Wallet returns the user's wallet, creating it on first use, with its
// balance.
func (s *BetService) Wallet(ctx context.Context, userID string) (WalletInfo, error) {
	info := WalletInfo{}
	w, err := s.wallets.Find(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		w, err = s.wallets.GetOrCreate(ctx, userID)
		if err != nil {
			return WalletInfo{}, err
		}
		info.Created = true
	case err != nil:
		return WalletInfo{}, err
	}
	info.Wallet = w

	bal, err := s.ledger.Balance(ctx, w.Address)
	if err != nil {
		s.logger.WarnContext(ctx, "balance lookup failed",
			slog.String("address", w.Address),
			slog.String("error", err.Error()),
		)
		return info, nil
	}
	info.Balance = bal
	return info, nil
}

// CreateBet opens a bet on symbol and returns its id.
func (s *BetService) CreateBet(ctx context.Context, symbol string) (uint64, domain.Receipt, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !slices.Contains(s.tokens, symbol) {
		return 0, domain.Receipt{}, fmt.Errorf("bet: %w: %s is not supported", domain.ErrTokenInactive, symbol)
	}
	tokenID := contract.TokenID(symbol)

	info, err := s.ledger.Token(ctx, tokenID)
	if err != nil {
		return 0, domain.Receipt{}, fmt.Errorf("bet: read token %s: %w", symbol, err)
	}
	if !info.IsActive {
		return 0, domain.Receipt{}, fmt.Errorf("bet: %w: %s", domain.ErrTokenInactive, symbol)
	}

	receipt, err := s.ledger.CreateBet(ctx, tokenID)
	if err != nil {
		return 0, receipt, fmt.Errorf("bet: create on %s: %w", symbol, err)
	}
	if !receipt.Succeeded() {
		return 0, receipt, fmt.Errorf("bet: create on %s: %w", symbol, domain.ErrTxFailed)
	}

	id, err := s.ledger.CurrentBetID(ctx)
	if err != nil {
		return 0, receipt, fmt.Errorf("bet: read new bet id: %w", err)
	}
	s.logger.InfoContext(ctx, "bet created",
		slog.Uint64("bet_id", id),
		slog.String("token", symbol),
		slog.String("tx", receipt.TxHash),
	)
	return id, receipt, nil
}

// PlaceBet stakes amountETH on direction in betID from the user's wallet.
func (s *BetService) PlaceBet(ctx context.Context, userID string, betID uint64, direction, amountETH string) (domain.Receipt, error) {
	w, err := s.wallets.Find(ctx, userID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("bet: wallet for %s: %w", userID, err)
	}
	dir, err := domain.ParseDirection(direction)
	if err != nil {
		return domain.Receipt{}, err
	}
	stake, err := ParseEther(amountETH)
	if err != nil {
		return domain.Receipt{}, err
	}
	if stake.Cmp(s.minStake) < 0 {
		return domain.Receipt{}, fmt.Errorf("%w: minimum stake is %s ETH", domain.ErrInvalidAmount, FormatEther(s.minStake))
	}

	bet, err := s.ledger.Bet(ctx, betID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("bet: read %d: %w", betID, err)
	}
	if bet.ID == 0 || bet.Status != domain.BetActive || bet.Expired(s.now()) {
		return domain.Receipt{}, fmt.Errorf("bet %d: %w", betID, domain.ErrBetNotActive)
	}

	signer, err := s.wallets.Signer(w)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.ledger.PlaceBet(ctx, betID, dir, stake, signer)
	if err != nil {
		return receipt, fmt.Errorf("bet: place on %d: %w", betID, err)
	}
	if !receipt.Succeeded() {
		return receipt, fmt.Errorf("bet: place on %d: %w", betID, domain.ErrTxFailed)
	}
	s.logger.InfoContext(ctx, "bet placed",
		slog.Uint64("bet_id", betID),
		slog.String("user_id", userID),
		slog.String("direction", string(dir)),
		slog.String("stake_eth", FormatEther(stake)),
		slog.String("tx", receipt.TxHash),
	)
	return receipt, nil
}

// ActiveBets lists every bet still open for staking.
func (s *BetService) ActiveBets(ctx context.Context) ([]ActiveBet, error) {
	var out []ActiveBet
	now := s.now()
	err := s.eachActive(ctx, func(bet domain.BetRecord, token domain.TokenInfo) error {
		left := bet.EndTime.Sub(now)
		if left < 0 {
			left = 0
		}
		out = append(out, ActiveBet{Bet: bet, Token: token, TimeLeft: left})
		return nil
	})
	return out, err
}

// UserBets lists the user's stakes in bets that are still active.
func (s *BetService) UserBets(ctx context.Context, userID string) ([]UserBet, error) {
	w, err := s.wallets.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("bet: wallet for %s: %w", userID, err)
	}
	var out []UserBet
	err = s.eachActive(ctx, func(bet domain.BetRecord, token domain.TokenInfo) error {
		stake, err := s.ledger.ParticipantBet(ctx, bet.ID, w.Address)
		if err != nil {
			return err
		}
		if stake.Amount == nil || stake.Amount.Sign() == 0 {
			return nil
		}
		out = append(out, UserBet{Bet: bet, Token: token, Stake: stake})
		return nil
	})
	return out, err
}

func (s *BetService) eachActive(ctx context.Context, fn func(domain.BetRecord, domain.TokenInfo) error) error {
	current, err := s.ledger.CurrentBetID(ctx)
	if err != nil {
		return fmt.Errorf("bet: read current bet id: %w", err)
	}
	tokens := make(map[[32]byte]domain.TokenInfo)
	for id := uint64(1); id <= current; id++ {
		bet, err := s.ledger.Bet(ctx, id)
		if err != nil {
			return fmt.Errorf("bet: read %d: %w", id, err)
		}
		if bet.Status != domain.BetActive {
			continue
		}
		token, ok := tokens[bet.TokenID]
		if !ok {
			token, err = s.ledger.Token(ctx, bet.TokenID)
			if err != nil {
				return fmt.Errorf("bet: read token for %d: %w", id, err)
			}
			tokens[bet.TokenID] = token
		}
		if err := fn(bet, token); err != nil {
			return err
		}
	}
	return nil
}
