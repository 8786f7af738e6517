// Package contract is the ledger gateway: typed reads and confirmed writes
// against the price-betting contract and the participation NFT, over any
// go-ethereum compatible JSON-RPC backend.
package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
)

const (
	defaultGasLimit       = uint64(5_000_000)
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
)

// Backend is the slice of *ethclient.Client the gateway needs.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config holds contract addresses and transaction tuning.
type Config struct {
	BettingAddress string
	NFTAddress     string
	GasLimit       uint64
	CreateGasLimit uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client implements domain.Ledger.
type Client struct {
	backend  Backend
	betting  common.Address
	nft      common.Address
	operator *crypto.Signer
	cfg      Config
	logger   *slog.Logger

	mu        sync.Mutex
	sendLocks map[common.Address]*sync.Mutex
}

// Dial connects to a JSON-RPC endpoint (http, ws or ipc).
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("contract: dial rpc: %w", err)
	}
	return c, nil
}

// New creates a gateway. operator signs administrative writes (create,
// resolve, mint).
func New(backend Backend, cfg Config, operator *crypto.Signer, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.BettingAddress) {
		return nil, fmt.Errorf("contract: invalid betting contract address %q", cfg.BettingAddress)
	}
	if !common.IsHexAddress(cfg.NFTAddress) {
		return nil, fmt.Errorf("contract: invalid nft contract address %q", cfg.NFTAddress)
	}
	if operator == nil {
		return nil, errors.New("contract: operator signer is required")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	if cfg.CreateGasLimit == 0 {
		cfg.CreateGasLimit = cfg.GasLimit
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Client{
		backend:   backend,
		betting:   common.HexToAddress(cfg.BettingAddress),
		nft:       common.HexToAddress(cfg.NFTAddress),
		operator:  operator,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "ledger")),
		sendLocks: make(map[common.Address]*sync.Mutex),
	}, nil
}

// TokenID is the contract's key for a price feed: keccak256(symbol).
func TokenID(symbol string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(symbol))
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

type tokenOutput struct {
	Symbol   string
	Decimals uint8
	IsActive bool
}

// Token reads the price feed registered under tokenID.
func (c *Client) Token(ctx context.Context, tokenID [32]byte) (domain.TokenInfo, error) {
	var out tokenOutput
	if err := c.call(ctx, c.betting, bettingABI, &out, "tokens", tokenID); err != nil {
		return domain.TokenInfo{}, err
	}
	return domain.TokenInfo{Symbol: out.Symbol, Decimals: out.Decimals, IsActive: out.IsActive}, nil
}

type betOutput struct {
	Id              *big.Int
	TokenId         [32]byte
	StartPrice      *big.Int
	EndPrice        *big.Int
	StartTime       *big.Int
	EndTime         *big.Int
	TotalPoolHigher *big.Int
	TotalPoolLower  *big.Int
	Status          uint8
}

// Bet reads bet betID.
func (c *Client) Bet(ctx context.Context, betID uint64) (domain.BetRecord, error) {
	var out betOutput
	if err := c.call(ctx, c.betting, bettingABI, &out, "bets", new(big.Int).SetUint64(betID)); err != nil {
		return domain.BetRecord{}, err
	}
	status, err := statusFromCode(out.Status)
	if err != nil {
		return domain.BetRecord{}, fmt.Errorf("contract: bet %d: %w", betID, err)
	}
	return domain.BetRecord{
		ID:              out.Id.Uint64(),
		TokenID:         out.TokenId,
		Status:          status,
		StartPrice:      out.StartPrice,
		EndPrice:        out.EndPrice,
		StartTime:       time.Unix(out.StartTime.Int64(), 0).UTC(),
		EndTime:         time.Unix(out.EndTime.Int64(), 0).UTC(),
		TotalPoolHigher: out.TotalPoolHigher,
		TotalPoolLower:  out.TotalPoolLower,
	}, nil
}

// CurrentBetID returns the highest assigned bet id; 0 means none.
func (c *Client) CurrentBetID(ctx context.Context) (uint64, error) {
	var out *big.Int
	if err := c.call(ctx, c.betting, bettingABI, &out, "currentBetId"); err != nil {
		return 0, err
	}
	if !out.IsUint64() {
		return 0, fmt.Errorf("contract: currentBetId %s overflows uint64", out)
	}
	return out.Uint64(), nil
}

// Participants returns every address with a stake in betID, in contract order.
func (c *Client) Participants(ctx context.Context, betID uint64) ([]string, error) {
	var out []common.Address
	if err := c.call(ctx, c.betting, bettingABI, &out, "getBetParticipants", new(big.Int).SetUint64(betID)); err != nil {
		return nil, err
	}
	addrs := make([]string, len(out))
	for i, a := range out {
		addrs[i] = a.Hex()
	}
	return addrs, nil
}

type userBetOutput struct {
	Amount    *big.Int
	Direction uint8
	Claimed   bool
}

// ParticipantBet reads participant's stake in betID.
func (c *Client) ParticipantBet(ctx context.Context, betID uint64, participant string) (domain.ParticipantBet, error) {
	addr, err := parseAddress(participant)
	if err != nil {
		return domain.ParticipantBet{}, err
	}
	var out userBetOutput
	if err := c.call(ctx, c.betting, bettingABI, &out, "userBets", new(big.Int).SetUint64(betID), addr); err != nil {
		return domain.ParticipantBet{}, err
	}
	dir, err := directionFromCode(out.Direction)
	if err != nil {
		return domain.ParticipantBet{}, fmt.Errorf("contract: bet %d participant %s: %w", betID, addr.Hex(), err)
	}
	return domain.ParticipantBet{
		BetID:       betID,
		Participant: addr.Hex(),
		Amount:      out.Amount,
		Direction:   dir,
		Claimed:     out.Claimed,
	}, nil
}

// PotentialReward returns what participant would receive by claiming betID.
func (c *Client) PotentialReward(ctx context.Context, betID uint64, participant string) (*big.Int, error) {
	addr, err := parseAddress(participant)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	if err := c.call(ctx, c.betting, bettingABI, &out, "calculatePotentialReward", new(big.Int).SetUint64(betID), addr); err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the native balance of address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("contract: balance %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// TokenOwner returns the holder of participation token sequence, or "" when
// ownerOf reverts because the token does not exist.
func (c *Client) TokenOwner(ctx context.Context, sequence uint64) (string, error) {
	var owner common.Address
	err := c.call(ctx, c.nft, nftABI, &owner, "ownerOf", new(big.Int).SetUint64(sequence))
	if err != nil {
		if isRevert(err) {
			return "", nil
		}
		return "", err
	}
	if owner == (common.Address{}) {
		return "", nil
	}
	return owner.Hex(), nil
}

func (c *Client) call(ctx context.Context, to common.Address, a abi.ABI, out any, method string, args ...any) error {
	data, err := a.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("contract: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("contract: call %s: %w", method, err)
	}
	if err := a.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("contract: unpack %s: %w", method, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// CreateBet opens a new bet on tokenID, signed by the operator.
func (c *Client) CreateBet(ctx context.Context, tokenID [32]byte) (domain.Receipt, error) {
	data, err := bettingABI.Pack("createBet", tokenID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("contract: pack createBet: %w", err)
	}
	return c.transact(ctx, c.operator, c.betting, nil, c.cfg.CreateGasLimit, data, "createBet")
}

// ResolveBet fixes the closing price of betID, signed by the operator. The
// contract reverts when the bet is not expired or already resolved.
func (c *Client) ResolveBet(ctx context.Context, betID uint64) (domain.Receipt, error) {
	data, err := bettingABI.Pack("resolveBet", new(big.Int).SetUint64(betID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("contract: pack resolveBet: %w", err)
	}
	return c.transact(ctx, c.operator, c.betting, nil, c.cfg.GasLimit, data, "resolveBet")
}

// PlaceBet stakes stake wei on dir in betID from the user's custodial key.
func (c *Client) PlaceBet(ctx context.Context, betID uint64, dir domain.Direction, stake *big.Int, signer *crypto.Signer) (domain.Receipt, error) {
	code, err := directionCode(dir)
	if err != nil {
		return domain.Receipt{}, err
	}
	if stake == nil || stake.Sign() <= 0 {
		return domain.Receipt{}, domain.ErrInvalidAmount
	}
	data, err := bettingABI.Pack("placeBet", new(big.Int).SetUint64(betID), code)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("contract: pack placeBet: %w", err)
	}
	return c.transact(ctx, signer, c.betting, stake, c.cfg.GasLimit, data, "placeBet")
}

// ClaimReward claims the signer's winnings from betID. The contract reverts
// when the signer lost or already claimed.
func (c *Client) ClaimReward(ctx context.Context, betID uint64, signer *crypto.Signer) (domain.Receipt, error) {
	data, err := bettingABI.Pack("claimReward", new(big.Int).SetUint64(betID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("contract: pack claimReward: %w", err)
	}
	return c.transact(ctx, signer, c.betting, nil, c.cfg.GasLimit, data, "claimReward")
}

// MintParticipationToken mints NFT number sequence to recipient.
func (c *Client) MintParticipationToken(ctx context.Context, recipient string, sequence uint64) (domain.Receipt, error) {
	to, err := parseAddress(recipient)
	if err != nil {
		return domain.Receipt{}, err
	}
	data, err := nftABI.Pack("mint", to, new(big.Int).SetUint64(sequence))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("contract: pack mint: %w", err)
	}
	return c.transact(ctx, c.operator, c.nft, nil, c.cfg.GasLimit, data, "mint")
}

// transact signs, submits and waits for the receipt. Nonce lookup and
// submission are serialised per sender; confirmation is not.
func (c *Client) transact(ctx context.Context, signer *crypto.Signer, to common.Address, value *big.Int, gasLimit uint64, data []byte, op string) (domain.Receipt, error) {
	if signer == nil {
		return domain.Receipt{}, fmt.Errorf("contract: %s: signer is required", op)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	from := signer.Address()

	signed, err := func() (*types.Transaction, error) {
		lock := c.sendLock(from)
		lock.Lock()
		defer lock.Unlock()

		nonce, err := c.backend.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("contract: %s: nonce: %w", op, err)
		}
		gasPrice, err := c.gasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("contract: %s: gas price: %w", op, err)
		}
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
		signed, err := signer.SignTx(tx)
		if err != nil {
			return nil, fmt.Errorf("contract: %s: %w", op, err)
		}
		if err := c.backend.SendTransaction(ctx, signed); err != nil {
			return nil, fmt.Errorf("contract: %s: send: %w", op, err)
		}
		return signed, nil
	}()
	if err != nil {
		return domain.Receipt{}, err
	}

	c.logger.DebugContext(ctx, "transaction sent",
		slog.String("op", op),
		slog.String("from", from.Hex()),
		slog.String("tx", signed.Hash().Hex()),
	)

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return domain.Receipt{TxHash: signed.Hash().Hex()},
			fmt.Errorf("contract: %s: %w: %w", op, domain.ErrTxUnconfirmed, err)
	}

	out := domain.Receipt{
		TxHash:  signed.Hash().Hex(),
		Status:  domain.ReceiptFailed,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = domain.ReceiptSuccess
	} else {
		c.logger.WarnContext(ctx, "transaction reverted",
			slog.String("op", op),
			slog.String("tx", out.TxHash),
		)
	}
	return out, nil
}

// waitMined polls for the receipt until it is available or ConfirmTimeout
// elapses.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// gasPrice returns the node's suggestion plus 10% for faster inclusion.
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	return buffered.Div(buffered, big.NewInt(10)), nil
}

func (c *Client) sendLock(addr common.Address) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sendLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		c.sendLocks[addr] = l
	}
	return l
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

// isRevert reports whether a call failed inside the EVM rather than in
// transport. Nodes return reverts as JSON-RPC errors carrying revert data or
// the "execution reverted" message.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("contract: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func directionCode(d domain.Direction) (uint8, error) {
	switch d {
	case domain.DirectionHigher:
		return 0, nil
	case domain.DirectionLower:
		return 1, nil
	default:
		return 0, domain.ErrInvalidDirection
	}
}

func directionFromCode(code uint8) (domain.Direction, error) {
	switch code {
	case 0:
		return domain.DirectionHigher, nil
	case 1:
		return domain.DirectionLower, nil
	default:
		return "", fmt.Errorf("unknown direction code %d", code)
	}
}

func statusFromCode(code uint8) (domain.BetStatus, error) {
	switch code {
	case 0:
		return domain.BetActive, nil
	case 1:
		return domain.BetResolved, nil
	default:
		return "", fmt.Errorf("unknown bet status %d", code)
	}
}

// Compile-time interface check.
var _ domain.Ledger = (*Client)(nil)
