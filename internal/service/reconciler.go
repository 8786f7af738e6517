package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

const (
	defaultReconcileInterval = 60 * time.Second
	defaultSettleConcurrency = 4
	defaultTickLockTTL       = 10 * time.Minute

	tickLockKey = "reconciler:tick"
)

// OperatorAlerter receives operator-facing alerts. *notify.Notifier
// satisfies it.
type OperatorAlerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReconcilerConfig tunes the reconciliation loop.
type ReconcilerConfig struct {
	Interval    time.Duration
	Concurrency int
	LockTTL     time.Duration
	// ReportPrefix is the object key prefix for archived tick reports.
	ReportPrefix string
	// EventStream is the stream tick reports are appended to.
	EventStream string
}

// ReconcilerDeps is the explicit dependency set of the reconciler. Ledger,
// Wallets, Journal and Counter are required; the rest are optional sinks.
type ReconcilerDeps struct {
	Ledger   domain.Ledger
	Wallets  *WalletService
	Journal  domain.SettlementRepository
	Counter  *SequenceCounter
	Notifier domain.UserNotifier
	Alerts   OperatorAlerter
	Audit    domain.AuditStore
	Locks    domain.LockManager
	Events   domain.EventBus
	Reports  domain.BlobWriter
	Metrics  prometheus.Registerer
}

// Reconciler periodically resolves expired bets and settles their custodial
// participants: claim for winners, mint a participation token, notify.
type Reconciler struct {
	ledger   domain.Ledger
	wallets  *WalletService
	journal  domain.SettlementRepository
	counter  *SequenceCounter
	notifier domain.UserNotifier
	alerts   OperatorAlerter
	audit    domain.AuditStore
	locks    domain.LockManager
	events   domain.EventBus
	reports  domain.BlobWriter
	metrics  *reconcilerMetrics

	cfg    ReconcilerConfig
	now    func() time.Time
	logger *slog.Logger

	running  atomic.Bool
	inflight sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

// NewReconciler validates deps and applies config defaults.
func NewReconciler(deps ReconcilerDeps, cfg ReconcilerConfig, logger *slog.Logger) (*Reconciler, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("reconciler: ledger is required")
	case deps.Wallets == nil:
		return nil, errors.New("reconciler: wallet service is required")
	case deps.Journal == nil:
		return nil, errors.New("reconciler: settlement journal is required")
	case deps.Counter == nil:
		return nil, errors.New("reconciler: sequence counter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReconcileInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSettleConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultTickLockTTL
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reconciler/ticks"
	}
	if cfg.EventStream == "" {
		cfg.EventStream = "pricebet:settlements"
	}

	r := &Reconciler{
		ledger:   deps.Ledger,
		wallets:  deps.Wallets,
		journal:  deps.Journal,
		counter:  deps.Counter,
		notifier: deps.Notifier,
		alerts:   deps.Alerts,
		audit:    deps.Audit,
		locks:    deps.Locks,
		events:   deps.Events,
		reports:  deps.Reports,
		metrics:  newReconcilerMetrics(deps.Metrics),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
	r.metrics.mintSequence.Set(float64(deps.Counter.Next()))
	return r, nil
}

// Run fires a tick every Interval until ctx is cancelled. A firing that
// finds the previous tick still running is dropped. On cancellation Run
// stops the timer and waits for the in-flight tick to finish.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reconciler started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("concurrency", r.cfg.Concurrency),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.stopping = true
			r.mu.Unlock()
			r.inflight.Wait()
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.fire(ctx)
		}
	}
}

func (r *Reconciler) fire(ctx context.Context) {
	if !r.enter() {
		return
	}
	if !r.running.CompareAndSwap(false, true) {
		r.inflight.Done()
		r.skipped(ctx, "previous tick still running")
		return
	}
	go func() {
		defer r.inflight.Done()
		defer r.running.Store(false)
		// Settlement is never cut short by shutdown.
		_, _ = r.tick(context.WithoutCancel(ctx))
	}()
}

// TryTick runs one tick synchronously. It returns domain.ErrTickInProgress
// without doing anything when another tick holds the guard, and
// domain.ErrStopping once Run has begun shutting down. Like scheduled ticks
// it is not cut short by cancellation of ctx, and Run waits for it.
func (r *Reconciler) TryTick(ctx context.Context) (*TickReport, error) {
	if !r.enter() {
		return nil, domain.ErrStopping
	}
	defer r.inflight.Done()
	if !r.running.CompareAndSwap(false, true) {
		r.skipped(ctx, "previous tick still running")
		return nil, domain.ErrTickInProgress
	}
	defer r.running.Store(false)
	return r.tick(context.WithoutCancel(ctx))
}

// enter registers a tick with the shutdown wait group unless Run is
// stopping.
func (r *Reconciler) enter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return false
	}
	r.inflight.Add(1)
	return true
}

// Running reports whether a tick is executing.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

func (r *Reconciler) skipped(ctx context.Context, reason string) {
	r.metrics.observeTick("skipped", 0)
	r.logger.WarnContext(ctx, "tick skipped", slog.String("reason", reason))
}

// tick performs one reconciliation pass. Only a failure to read the current
// bet id fails it; everything below is isolated per bet and per participant.
func (r *Reconciler) tick(ctx context.Context) (*TickReport, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, tickLockKey, r.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			r.skipped(ctx, "tick lock held by another instance")
			return nil, domain.ErrTickInProgress
		case err != nil:
			r.logger.WarnContext(ctx, "tick lock unavailable, continuing unlocked",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	report := newTickReport(r.now())
	r.resumePending(ctx, report)

	current, err := r.ledger.CurrentBetID(ctx)
	if err != nil {
		report.finish(r.now())
		report.addError(fmt.Sprintf("read current bet id: %v", err))
		r.metrics.observeTick("failed", report.FinishedAt.Sub(report.StartedAt))
		r.logger.ErrorContext(ctx, "tick failed",
			slog.String("tick_id", report.ID),
			slog.String("error", err.Error()),
		)
		r.alert(ctx, "tick_failed", "Reconciler tick failed", err.Error())
		return report, fmt.Errorf("reconciler: read current bet id: %w", err)
	}
	report.CurrentBetID = current

	for id := uint64(1); id <= current; id++ {
		r.processBet(ctx, id, report)
	}

	report.finish(r.now())
	r.metrics.observeTick("ok", report.FinishedAt.Sub(report.StartedAt))
	r.metrics.mintSequence.Set(float64(r.counter.Next()))

	r.logger.InfoContext(ctx, "tick complete",
		slog.String("tick_id", report.ID),
		slog.Uint64("current_bet_id", current),
		slog.Int("bets_resolved", len(report.Resolved)),
		slog.Int("bets_resumed", len(report.Resumed)),
		slog.Int("participants_settled", report.Settled),
		slog.Int("claim_failures", report.ClaimFailed),
		slog.Int("mint_failures", report.MintFailed),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)

	if report.active() {
		r.publish(ctx, report)
		r.archive(ctx, report)
	}
	return report, nil
}

// safely runs fn, turning a panic into a logged error.
func (r *Reconciler) safely(ctx context.Context, report *TickReport, unit string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "panic recovered",
				slog.String("unit", unit),
				slog.Any("panic", p),
			)
			report.addError(fmt.Sprintf("%s: panic: %v", unit, p))
		}
	}()
	fn()
}

func (r *Reconciler) alert(ctx context.Context, event, title, message string) {
	if r.alerts == nil {
		return
	}
	if err := r.alerts.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "operator alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) publish(ctx context.Context, report *TickReport) {
	if r.events == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := r.events.StreamAppend(ctx, r.cfg.EventStream, payload); err != nil {
		r.logger.WarnContext(ctx, "publish tick report failed", slog.String("error", err.Error()))
	}
}

func (r *Reconciler) archive(ctx context.Context, report *TickReport) {
	if r.reports == nil {
		return
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%s.json", r.cfg.ReportPrefix, report.StartedAt.Format("2006-01-02"), report.ID)
	if err := r.reports.Put(ctx, key, bytes.NewReader(payload), "application/json"); err != nil {
		r.logger.WarnContext(ctx, "archive tick report failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// TickReport summarises one reconciliation pass.
type TickReport struct {
	mu sync.Mutex

	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	CurrentBetID  uint64    `json:"current_bet_id"`
	Resolved      []uint64  `json:"resolved,omitempty"`
	ResolveFailed []uint64  `json:"resolve_failed,omitempty"`
	Resumed       []uint64  `json:"resumed,omitempty"`
	Settled       int       `json:"participants_settled"`
	Claimed       int       `json:"claimed"`
	ClaimFailed   int       `json:"claim_failed"`
	MintFailed    int       `json:"mint_failed"`
	Lost          int       `json:"lost"`
	Foreign       int       `json:"foreign"`
	Errors        []string  `json:"errors,omitempty"`
}

func newTickReport(now time.Time) *TickReport {
	return &TickReport{ID: uuid.NewString(), StartedAt: now.UTC()}
}

func (t *TickReport) update(fn func(t *TickReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t)
}

func (t *TickReport) addError(msg string) {
	t.update(func(t *TickReport) { t.Errors = append(t.Errors, msg) })
}

func (t *TickReport) finish(now time.Time) {
	t.update(func(t *TickReport) { t.FinishedAt = now.UTC() })
}

func (t *TickReport) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Resolved) > 0 || len(t.ResolveFailed) > 0 || len(t.Resumed) > 0 || t.Settled > 0 || len(t.Errors) > 0
}
