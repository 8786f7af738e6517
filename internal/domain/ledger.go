package domain

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/pricebet/internal/crypto"
)

// Ledger is the typed façade over the betting and participation-token
// contracts. Write methods return a confirmed Receipt; a reverted
// transaction is a Receipt with Status ReceiptFailed and a nil error. A
// transaction sent but not confirmed in time returns an error wrapping
// ErrTxUnconfirmed together with the Receipt's TxHash.
type Ledger interface {
	Token(ctx context.Context, tokenID [32]byte) (TokenInfo, error)
	Bet(ctx context.Context, betID uint64) (BetRecord, error)
	CurrentBetID(ctx context.Context) (uint64, error)
	Participants(ctx context.Context, betID uint64) ([]string, error)
	ParticipantBet(ctx context.Context, betID uint64, participant string) (ParticipantBet, error)
	PotentialReward(ctx context.Context, betID uint64, participant string) (*big.Int, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	// TokenOwner returns the holder of participation token sequence, or ""
	// when it has not been minted.
	TokenOwner(ctx context.Context, sequence uint64) (string, error)

	CreateBet(ctx context.Context, tokenID [32]byte) (Receipt, error)
	ResolveBet(ctx context.Context, betID uint64) (Receipt, error)
	PlaceBet(ctx context.Context, betID uint64, dir Direction, stake *big.Int, signer *crypto.Signer) (Receipt, error)
	ClaimReward(ctx context.Context, betID uint64, signer *crypto.Signer) (Receipt, error)
	MintParticipationToken(ctx context.Context, recipient string, sequence uint64) (Receipt, error)
}

// UserNotifier delivers a message to a user identity. Delivery is best
// effort; callers log failures and carry on.
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID, text string) error
}
