package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricebet/internal/crypto"
	"github.com/alanyoungcy/pricebet/internal/domain"
)

const testChainID = 31337

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stakeKey(betID uint64, addr string) string {
	return fmt.Sprintf("%d:%s", betID, addr)
}

type mintCall struct {
	recipient string
	seq       uint64
}

// fakeLedger is an in-memory betting contract.
type fakeLedger struct {
	mu sync.Mutex

	current      uint64
	currentErr   error
	gate         chan struct{}
	currentCalls atomic.Int32

	tokens       map[[32]byte]domain.TokenInfo
	bets         map[uint64]domain.BetRecord
	endPrices    map[uint64]*big.Int
	participants map[uint64][]string
	stakes       map[string]domain.ParticipantBet
	rewards      map[string]*big.Int
	balances     map[string]*big.Int

	resolveErr    error
	resolveRevert map[uint64]bool
	claimRevert   map[string]bool
	mintErr       error
	// mintUnconfirmed lands mints on-chain but reports a receipt timeout.
	mintUnconfirmed bool
	ownerErr        error
	placeRevert     bool

	resolveCalls map[uint64]int
	claimCalls   map[string]int
	claimSigners map[string]string
	mints        []mintCall
	owners       map[uint64]string
	created      [][32]byte
	placed       []domain.ParticipantBet
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		tokens:        make(map[[32]byte]domain.TokenInfo),
		bets:          make(map[uint64]domain.BetRecord),
		endPrices:     make(map[uint64]*big.Int),
		participants:  make(map[uint64][]string),
		stakes:        make(map[string]domain.ParticipantBet),
		rewards:       make(map[string]*big.Int),
		balances:      make(map[string]*big.Int),
		resolveRevert: make(map[uint64]bool),
		claimRevert:   make(map[string]bool),
		resolveCalls:  make(map[uint64]int),
		claimCalls:    make(map[string]int),
		claimSigners:  make(map[string]string),
		owners:        make(map[uint64]string),
	}
}

func okReceipt(tag string) domain.Receipt {
	return domain.Receipt{TxHash: "0x" + tag, Status: domain.ReceiptSuccess, BlockNumber: 1}
}

func failedReceipt(tag string) domain.Receipt {
	return domain.Receipt{TxHash: "0x" + tag, Status: domain.ReceiptFailed, BlockNumber: 1}
}

func (f *fakeLedger) addBet(b domain.BetRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.StartPrice == nil {
		b.StartPrice = big.NewInt(0)
	}
	if b.EndPrice == nil {
		b.EndPrice = big.NewInt(0)
	}
	f.bets[b.ID] = b
	if b.ID > f.current {
		f.current = b.ID
	}
}

func (f *fakeLedger) addStake(betID uint64, addr string, dir domain.Direction, reward *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[betID] = append(f.participants[betID], addr)
	f.stakes[stakeKey(betID, addr)] = domain.ParticipantBet{
		BetID: betID, Participant: addr, Amount: big.NewInt(1e16), Direction: dir,
	}
	if reward != nil {
		f.rewards[stakeKey(betID, addr)] = reward
	}
}

func (f *fakeLedger) Token(_ context.Context, tokenID [32]byte) (domain.TokenInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[tokenID], nil
}

func (f *fakeLedger) Bet(_ context.Context, betID uint64) (domain.BetRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bets[betID]
	if !ok {
		return domain.BetRecord{StartPrice: big.NewInt(0), EndPrice: big.NewInt(0)}, nil
	}
	return b, nil
}

func (f *fakeLedger) CurrentBetID(context.Context) (uint64, error) {
	f.currentCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return 0, f.currentErr
	}
	return f.current, nil
}

func (f *fakeLedger) Participants(_ context.Context, betID uint64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.participants[betID]...), nil
}

func (f *fakeLedger) ParticipantBet(_ context.Context, betID uint64, participant string) (domain.ParticipantBet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pb, ok := f.stakes[stakeKey(betID, participant)]
	if !ok {
		return domain.ParticipantBet{BetID: betID, Participant: participant, Amount: big.NewInt(0), Direction: domain.DirectionHigher}, nil
	}
	return pb, nil
}

func (f *fakeLedger) PotentialReward(_ context.Context, betID uint64, participant string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rewards[stakeKey(betID, participant)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(r), nil
}

func (f *fakeLedger) Balance(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[address]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeLedger) CreateBet(_ context.Context, tokenID [32]byte) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, tokenID)
	f.current++
	f.bets[f.current] = domain.BetRecord{
		ID: f.current, TokenID: tokenID, Status: domain.BetActive,
		StartPrice: big.NewInt(100), EndPrice: big.NewInt(0),
		EndTime: time.Now().Add(5 * time.Minute),
	}
	return okReceipt("create"), nil
}

func (f *fakeLedger) ResolveBet(_ context.Context, betID uint64) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls[betID]++
	if f.resolveErr != nil {
		return domain.Receipt{}, f.resolveErr
	}
	b := f.bets[betID]
	if f.resolveRevert[betID] || b.Status != domain.BetActive {
		return failedReceipt("resolve"), nil
	}
	b.Status = domain.BetResolved
	if p, ok := f.endPrices[betID]; ok {
		b.EndPrice = p
	}
	f.bets[betID] = b
	return okReceipt("resolve"), nil
}

func (f *fakeLedger) PlaceBet(_ context.Context, betID uint64, dir domain.Direction, stake *big.Int, signer *crypto.Signer) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeRevert {
		return failedReceipt("place"), nil
	}
	pb := domain.ParticipantBet{BetID: betID, Participant: signer.Address().Hex(), Amount: stake, Direction: dir}
	f.placed = append(f.placed, pb)
	f.participants[betID] = append(f.participants[betID], pb.Participant)
	f.stakes[stakeKey(betID, pb.Participant)] = pb
	return okReceipt("place"), nil
}

func (f *fakeLedger) ClaimReward(_ context.Context, betID uint64, signer *crypto.Signer) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := signer.Address().Hex()
	key := stakeKey(betID, addr)
	f.claimCalls[key]++
	f.claimSigners[key] = addr
	if f.claimRevert[addr] {
		return failedReceipt("claim"), nil
	}
	pb := f.stakes[key]
	pb.Claimed = true
	f.stakes[key] = pb
	return okReceipt("claim"), nil
}

func (f *fakeLedger) TokenOwner(_ context.Context, sequence uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownerErr != nil {
		return "", f.ownerErr
	}
	return f.owners[sequence], nil
}

func (f *fakeLedger) MintParticipationToken(_ context.Context, recipient string, sequence uint64) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return domain.Receipt{}, f.mintErr
	}
	if _, taken := f.owners[sequence]; taken {
		return failedReceipt("mint"), nil
	}
	f.owners[sequence] = recipient
	f.mints = append(f.mints, mintCall{recipient: recipient, seq: sequence})
	if f.mintUnconfirmed {
		return domain.Receipt{TxHash: "0xmint"},
			fmt.Errorf("contract: mint: %w: %w", domain.ErrTxUnconfirmed, context.DeadlineExceeded)
	}
	return okReceipt("mint"), nil
}

func (f *fakeLedger) totalClaims() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.claimCalls {
		n += c
	}
	return n
}

func (f *fakeLedger) mintCalls() []mintCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mintCall(nil), f.mints...)
}

type sentMessage struct {
	userID string
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) NotifyUser(_ context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{userID: userID, text: text})
	return n.err
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *fakeNotifier) forUser(userID string) []string {
	var out []string
	for _, m := range n.messages() {
		if m.userID == userID {
			out = append(out, m.text)
		}
	}
	return out
}

type memWallets struct {
	mu      sync.Mutex
	byUser  map[string]domain.UserWallet
	creates atomic.Int32
}

func newMemWallets() *memWallets {
	return &memWallets{byUser: make(map[string]domain.UserWallet)}
}

func (m *memWallets) Create(_ context.Context, w domain.UserWallet) (domain.UserWallet, bool, error) {
	m.creates.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byUser[w.UserID]; ok {
		return existing, false, nil
	}
	m.byUser[w.UserID] = w
	return w, true, nil
}

func (m *memWallets) GetByUserID(_ context.Context, userID string) (domain.UserWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byUser[userID]
	if !ok {
		return domain.UserWallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (m *memWallets) GetByAddress(_ context.Context, address string) (domain.UserWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.byUser {
		if w.Address == address {
			return w, nil
		}
	}
	return domain.UserWallet{}, domain.ErrNotFound
}

type memJournal struct {
	mu         sync.Mutex
	bets       map[uint64]domain.BetSettlement
	attempts   map[string]domain.SettlementAttempt
	saveErr    error
	pendingErr error
}

func newMemJournal() *memJournal {
	return &memJournal{
		bets:     make(map[uint64]domain.BetSettlement),
		attempts: make(map[string]domain.SettlementAttempt),
	}
}

func (j *memJournal) MarkBetPending(_ context.Context, betID uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pendingErr != nil {
		return j.pendingErr
	}
	if _, ok := j.bets[betID]; !ok {
		j.bets[betID] = domain.BetSettlement{BetID: betID, State: domain.BetSettlementPending}
	}
	return nil
}

func (j *memJournal) MarkBetSettled(_ context.Context, betID uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.bets[betID] = domain.BetSettlement{BetID: betID, State: domain.BetSettlementSettled}
	return nil
}

func (j *memJournal) PendingBets(context.Context) ([]domain.BetSettlement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.BetSettlement
	for _, b := range j.bets {
		if b.State == domain.BetSettlementPending {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].BetID < out[b].BetID })
	return out, nil
}

func (j *memJournal) GetAttempt(_ context.Context, betID uint64, participant string) (domain.SettlementAttempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.attempts[stakeKey(betID, participant)]
	if !ok {
		return domain.SettlementAttempt{}, domain.ErrNotFound
	}
	return a, nil
}

func (j *memJournal) SaveAttempt(_ context.Context, a domain.SettlementAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.saveErr != nil {
		return j.saveErr
	}
	j.attempts[stakeKey(a.BetID, a.Participant)] = a
	return nil
}

func (j *memJournal) ListFailed(context.Context, domain.ListOpts) ([]domain.SettlementAttempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.SettlementAttempt
	for _, a := range j.attempts {
		if a.ClaimState == domain.ClaimFailed || a.MintFailed {
			out = append(out, a)
		}
	}
	return out, nil
}

func (j *memJournal) attempt(betID uint64, participant string) (domain.SettlementAttempt, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.attempts[stakeKey(betID, participant)]
	return a, ok
}

func (j *memJournal) betState(betID uint64) domain.BetSettlementState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bets[betID].State
}

type memSequences struct {
	mu     sync.Mutex
	values map[string]uint64
	stores int
}

func newMemSequences() *memSequences {
	return &memSequences{values: make(map[string]uint64)}
}

func (m *memSequences) Load(_ context.Context, name string, initial uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[name]; ok {
		return v, nil
	}
	m.values[name] = initial
	return initial, nil
}

func (m *memSequences) Store(_ context.Context, name string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	m.stores++
	return nil
}

type fakeLocks struct {
	err error
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.payloads == nil {
		b.payloads = make(map[string][][]byte)
	}
	b.payloads[stream] = append(b.payloads[stream], payload)
	return nil
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
}

func (b *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if _, err := io.ReadAll(data); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, path)
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerts) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

var errBoom = errors.New("boom")

// harness bundles a reconciler with its in-memory collaborators.
type harness struct {
	ledger   *fakeLedger
	wallets  *WalletService
	repo     *memWallets
	journal  *memJournal
	seqs     *memSequences
	counter  *SequenceCounter
	notifier *fakeNotifier
	rec      *Reconciler
	now      time.Time
}

const mintStart = 100

func newHarness(t *testing.T, mutate ...func(*ReconcilerDeps, *ReconcilerConfig)) *harness {
	t.Helper()
	h := &harness{
		ledger:   newFakeLedger(),
		repo:     newMemWallets(),
		journal:  newMemJournal(),
		seqs:     newMemSequences(),
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.wallets = NewWalletService(h.repo, testChainID, testLogger())

	counter, err := NewSequenceCounter(context.Background(), h.seqs, MintSequenceName, mintStart, testLogger())
	require.NoError(t, err)
	h.counter = counter

	deps := ReconcilerDeps{
		Ledger:   h.ledger,
		Wallets:  h.wallets,
		Journal:  h.journal,
		Counter:  h.counter,
		Notifier: h.notifier,
	}
	cfg := ReconcilerConfig{Interval: time.Minute, Concurrency: 4}
	for _, m := range mutate {
		m(&deps, &cfg)
	}
	rec, err := NewReconciler(deps, cfg, testLogger())
	require.NoError(t, err)
	rec.now = func() time.Time { return h.now }
	h.rec = rec
	return h
}

// custodial creates a wallet for userID and returns its address.
func (h *harness) custodial(t *testing.T, userID string) string {
	t.Helper()
	w, err := h.wallets.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	return w.Address
}

func foreignAddress(t *testing.T) string {
	t.Helper()
	_, addr, err := crypto.GenerateKey()
	require.NoError(t, err)
	return addr
}
