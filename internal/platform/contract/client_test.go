package contract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
)

const (
	operatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	userKey     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	userAddr    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	bettingAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	nftAddr     = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	chainID     = 31337
)

type sentTx struct {
	method string
	from   common.Address
	to     common.Address
	tx     *types.Transaction
	args   []any
}

// fakeBackend answers contract calls from in-memory state and mines every
// transaction immediately.
type fakeBackend struct {
	mu sync.Mutex

	current      uint64
	bets         map[uint64]betOutput
	tokens       map[[32]byte]tokenOutput
	participants map[uint64][]common.Address
	userBets     map[string]userBetOutput
	rewards      map[string]*big.Int
	owners       map[uint64]common.Address

	nonces   map[common.Address]uint64
	revert   map[string]bool
	sent     []sentTx
	receipts map[common.Hash]*types.Receipt
	withhold bool
	callErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		bets:         make(map[uint64]betOutput),
		tokens:       make(map[[32]byte]tokenOutput),
		participants: make(map[uint64][]common.Address),
		userBets:     make(map[string]userBetOutput),
		rewards:      make(map[string]*big.Int),
		owners:       make(map[uint64]common.Address),
		nonces:       make(map[common.Address]uint64),
		revert:       make(map[string]bool),
		receipts:     make(map[common.Hash]*types.Receipt),
	}
}

func userKeyFor(betID *big.Int, user common.Address) string {
	return fmt.Sprintf("%s:%s", betID, user.Hex())
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	contract := bettingABI
	if *call.To == common.HexToAddress(nftAddr) {
		contract = nftABI
	}
	method, err := contract.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "currentBetId":
		return method.Outputs.Pack(new(big.Int).SetUint64(f.current))
	case "tokens":
		t := f.tokens[args[0].([32]byte)]
		return method.Outputs.Pack(t.Symbol, t.Decimals, t.IsActive)
	case "bets":
		b, ok := f.bets[args[0].(*big.Int).Uint64()]
		if !ok {
			b = betOutput{Id: big.NewInt(0), StartPrice: big.NewInt(0), EndPrice: big.NewInt(0),
				StartTime: big.NewInt(0), EndTime: big.NewInt(0), TotalPoolHigher: big.NewInt(0), TotalPoolLower: big.NewInt(0)}
		}
		return method.Outputs.Pack(b.Id, b.TokenId, b.StartPrice, b.EndPrice, b.StartTime, b.EndTime,
			b.TotalPoolHigher, b.TotalPoolLower, b.Status)
	case "getBetParticipants":
		return method.Outputs.Pack(f.participants[args[0].(*big.Int).Uint64()])
	case "userBets":
		ub, ok := f.userBets[userKeyFor(args[0].(*big.Int), args[1].(common.Address))]
		if !ok {
			ub = userBetOutput{Amount: big.NewInt(0)}
		}
		return method.Outputs.Pack(ub.Amount, ub.Direction, ub.Claimed)
	case "ownerOf":
		owner, ok := f.owners[args[0].(*big.Int).Uint64()]
		if !ok {
			return nil, revertError{}
		}
		return method.Outputs.Pack(owner)
	case "calculatePotentialReward":
		r, ok := f.rewards[userKeyFor(args[0].(*big.Int), args[1].(common.Address))]
		if !ok {
			r = big.NewInt(0)
		}
		return method.Outputs.Pack(r)
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

// revertError mimics a node's JSON-RPC error for a reverted eth_call.
type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }
func (revertError) ErrorData() any { return "0x7e273289" }

func (f *fakeBackend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return err
	}
	contract := bettingABI
	if *tx.To() == common.HexToAddress(nftAddr) {
		contract = nftABI
	}
	method, err := contract.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if tx.Nonce() != f.nonces[from] {
		return fmt.Errorf("nonce too low: got %d want %d", tx.Nonce(), f.nonces[from])
	}
	f.nonces[from]++
	f.sent = append(f.sent, sentTx{method: method.Name, from: from, to: *tx.To(), tx: tx, args: args})

	status := types.ReceiptStatusSuccessful
	if f.revert[method.Name] {
		status = types.ReceiptStatusFailed
	} else if method.Name == "mint" {
		f.owners[args[1].(*big.Int).Uint64()] = args[0].(common.Address)
	}
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     21000,
		BlockNumber: big.NewInt(int64(len(f.sent))),
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withhold {
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(5e17), nil
}

func (f *fakeBackend) sentTxs() []sentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTx(nil), f.sent...)
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	op, err := crypto.NewSigner(operatorKey, chainID)
	require.NoError(t, err)
	c, err := New(backend, Config{
		BettingAddress: bettingAddr,
		NFTAddress:     nftAddr,
		ConfirmTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	}, op, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func userSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.NewSigner(userKey, chainID)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadAddresses(t *testing.T) {
	op, err := crypto.NewSigner(operatorKey, chainID)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err = New(newFakeBackend(), Config{BettingAddress: "nope", NFTAddress: nftAddr}, op, logger)
	assert.Error(t, err)
	_, err = New(newFakeBackend(), Config{BettingAddress: bettingAddr, NFTAddress: ""}, op, logger)
	assert.Error(t, err)
	_, err = New(newFakeBackend(), Config{BettingAddress: bettingAddr, NFTAddress: nftAddr}, nil, logger)
	assert.Error(t, err)
}

func TestTokenID_IsKeccakOfSymbol(t *testing.T) {
	a := TokenID("ETH")
	assert.Equal(t, a, TokenID("ETH"))
	assert.NotEqual(t, a, TokenID("BTC"))
	assert.Equal(t, ethcrypto.Keccak256Hash([]byte("ETH")), common.Hash(a))
}

func TestClient_Reads(t *testing.T) {
	fb := newFakeBackend()
	eth := TokenID("ETH")
	user := common.HexToAddress(userAddr)
	fb.current = 3
	fb.tokens[eth] = tokenOutput{Symbol: "ETH", Decimals: 8, IsActive: true}
	fb.bets[2] = betOutput{
		Id:              big.NewInt(2),
		TokenId:         eth,
		StartPrice:      big.NewInt(-5),
		EndPrice:        big.NewInt(300000000000),
		StartTime:       big.NewInt(1_700_000_000),
		EndTime:         big.NewInt(1_700_000_300),
		TotalPoolHigher: big.NewInt(1e18),
		TotalPoolLower:  big.NewInt(2e18),
		Status:          1,
	}
	fb.participants[2] = []common.Address{user}
	fb.userBets[userKeyFor(big.NewInt(2), user)] = userBetOutput{Amount: big.NewInt(1e17), Direction: 1, Claimed: true}
	fb.rewards[userKeyFor(big.NewInt(2), user)] = big.NewInt(3e17)

	c := newTestClient(t, fb)
	ctx := context.Background()

	cur, err := c.CurrentBetID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cur)

	tok, err := c.Token(ctx, eth)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenInfo{Symbol: "ETH", Decimals: 8, IsActive: true}, tok)

	bet, err := c.Bet(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), bet.ID)
	assert.Equal(t, domain.BetResolved, bet.Status)
	assert.Equal(t, eth, bet.TokenID)
	assert.Equal(t, int64(-5), bet.StartPrice.Int64())
	assert.Equal(t, time.Unix(1_700_000_300, 0).UTC(), bet.EndTime)
	assert.Equal(t, domain.DirectionHigher, bet.WinningDirection())

	parts, err := c.Participants(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{userAddr}, parts)

	pb, err := c.ParticipantBet(ctx, 2, userAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionLower, pb.Direction)
	assert.True(t, pb.Claimed)
	assert.Equal(t, big.NewInt(1e17), pb.Amount)

	reward, err := c.PotentialReward(ctx, 2, userAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3e17), reward)

	bal, err := c.Balance(ctx, userAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e17), bal)
}

func TestClient_ReadErrors(t *testing.T) {
	fb := newFakeBackend()
	fb.callErr = errors.New("rpc down")
	c := newTestClient(t, fb)

	_, err := c.CurrentBetID(context.Background())
	assert.ErrorContains(t, err, "rpc down")

	_, err = c.ParticipantBet(context.Background(), 1, "not-an-address")
	assert.Error(t, err)
}

func TestClient_ResolveBetSignedByOperator(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)

	r, err := c.ResolveBet(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.NotEmpty(t, r.TxHash)
	assert.Equal(t, uint64(21000), r.GasUsed)

	sent := fb.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, "resolveBet", sent[0].method)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", sent[0].from.Hex())
	assert.Equal(t, common.HexToAddress(bettingAddr), sent[0].to)
	assert.Equal(t, big.NewInt(7), sent[0].args[0])
	// 1 gwei suggested, +10%.
	assert.Equal(t, big.NewInt(1_100_000_000), sent[0].tx.GasPrice())
	assert.Equal(t, defaultGasLimit, sent[0].tx.Gas())
}

func TestClient_RevertedWriteIsFailedReceipt(t *testing.T) {
	fb := newFakeBackend()
	fb.revert["claimReward"] = true
	c := newTestClient(t, fb)

	r, err := c.ClaimReward(context.Background(), 1, userSigner(t))
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptFailed, r.Status)
	assert.False(t, r.Succeeded())

	sent := fb.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, userAddr, sent[0].from.Hex())
}

func TestClient_PlaceBetCarriesStake(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)

	stake := big.NewInt(2e16)
	r, err := c.PlaceBet(context.Background(), 4, domain.DirectionLower, stake, userSigner(t))
	require.NoError(t, err)
	assert.True(t, r.Succeeded())

	sent := fb.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, "placeBet", sent[0].method)
	assert.Equal(t, stake, sent[0].tx.Value())
	assert.Equal(t, uint8(1), sent[0].args[1])

	_, err = c.PlaceBet(context.Background(), 4, domain.Direction("sideways"), stake, userSigner(t))
	assert.ErrorIs(t, err, domain.ErrInvalidDirection)
	_, err = c.PlaceBet(context.Background(), 4, domain.DirectionHigher, big.NewInt(0), userSigner(t))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestClient_MintTargetsNFTContract(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)

	r, err := c.MintParticipationToken(context.Background(), userAddr, 42)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())

	sent := fb.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, "mint", sent[0].method)
	assert.Equal(t, common.HexToAddress(nftAddr), sent[0].to)
	assert.Equal(t, common.HexToAddress(userAddr), sent[0].args[0])
	assert.Equal(t, big.NewInt(42), sent[0].args[1])
}

func TestClient_CreateBetPacksTokenID(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)

	_, err := c.CreateBet(context.Background(), TokenID("BTC"))
	require.NoError(t, err)

	sent := fb.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, "createBet", sent[0].method)
	assert.Equal(t, TokenID("BTC"), sent[0].args[0])
}

func TestClient_ConcurrentOperatorWritesUseDistinctNonces(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			_, err := c.MintParticipationToken(context.Background(), userAddr, seq)
			errs <- err
		}(uint64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint64]bool)
	for _, s := range fb.sentTxs() {
		assert.False(t, seen[s.tx.Nonce()], "nonce %d reused", s.tx.Nonce())
		seen[s.tx.Nonce()] = true
	}
	assert.Len(t, seen, 10)
}

func TestClient_ConfirmTimeout(t *testing.T) {
	fb := newFakeBackend()
	fb.withhold = true
	op, err := crypto.NewSigner(operatorKey, chainID)
	require.NoError(t, err)
	c, err := New(fb, Config{
		BettingAddress: bettingAddr,
		NFTAddress:     nftAddr,
		ConfirmTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, op, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	r, err := c.ResolveBet(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrTxUnconfirmed)
	assert.NotEmpty(t, r.TxHash)
}

func TestClient_TokenOwner(t *testing.T) {
	fb := newFakeBackend()
	c := newTestClient(t, fb)
	ctx := context.Background()

	owner, err := c.TokenOwner(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, owner, "unminted token reverts and reads as no owner")

	_, err = c.MintParticipationToken(ctx, userAddr, 7)
	require.NoError(t, err)

	owner, err = c.TokenOwner(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, userAddr, owner)
}

func TestClient_TokenOwnerTransportError(t *testing.T) {
	fb := newFakeBackend()
	fb.callErr = errors.New("connection refused")
	c := newTestClient(t, fb)

	_, err := c.TokenOwner(context.Background(), 1)
	assert.ErrorContains(t, err, "connection refused")
}

func TestEnumCodes(t *testing.T) {
	for _, d := range []domain.Direction{domain.DirectionHigher, domain.DirectionLower} {
		code, err := directionCode(d)
		require.NoError(t, err)
		back, err := directionFromCode(code)
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}
	_, err := directionFromCode(9)
	assert.Error(t, err)
	_, err = statusFromCode(2)
	assert.Error(t, err)
}
