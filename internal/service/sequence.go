package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// MintSequenceName is the counter used for participation token ids.
const MintSequenceName = "participation_token"

const maxSequenceSkips = 16

// SequenceCounter hands out participation token numbers. A number is consumed
// only when the operation using it succeeds, so issued numbers have no gaps
// and are never reused.
type SequenceCounter struct {
	mu     sync.Mutex
	repo   domain.SequenceRepository
	name   string
	next   uint64
	logger *slog.Logger
}

// NewSequenceCounter loads the counter name from repo, seeding it with start
// the first time. A nil repo keeps the counter in memory only.
func NewSequenceCounter(ctx context.Context, repo domain.SequenceRepository, name string, start uint64, logger *slog.Logger) (*SequenceCounter, error) {
	next := start
	if repo != nil {
		v, err := repo.Load(ctx, name, start)
		if err != nil {
			return nil, fmt.Errorf("sequence: load %s: %w", name, err)
		}
		next = v
	}
	return &SequenceCounter{
		repo:   repo,
		name:   name,
		next:   next,
		logger: logger.With(slog.String("component", "sequence"), slog.String("name", name)),
	}, nil
}

// Next reports the number the next successful Issue will consume.
func (c *SequenceCounter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Issue calls fn with the current number while holding the counter. When fn
// succeeds the counter advances by one and the number is returned; when it
// fails the number stays available. A failure wrapping
// domain.ErrSequenceSpent means the number is already taken on-chain: the
// counter moves past it and fn is retried with the next number, up to
// maxSequenceSkips times.
func (c *SequenceCounter) Issue(ctx context.Context, fn func(seq uint64) error) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for skips := 0; ; skips++ {
		seq := c.next
		err := fn(seq)
		if err == nil {
			c.advance(ctx)
			return seq, nil
		}
		if !errors.Is(err, domain.ErrSequenceSpent) {
			return 0, err
		}
		c.logger.WarnContext(ctx, "sequence number already used, skipping",
			slog.Uint64("sequence", seq),
			slog.String("error", err.Error()),
		)
		c.advance(ctx)
		if skips+1 >= maxSequenceSkips {
			return 0, err
		}
	}
}

func (c *SequenceCounter) advance(ctx context.Context) {
	c.next++
	if c.repo == nil {
		return
	}
	if err := c.repo.Store(ctx, c.name, c.next); err != nil {
		// The in-memory value stays correct and the next Store catches up.
		c.logger.ErrorContext(ctx, "persist sequence failed",
			slog.Uint64("next", c.next),
			slog.String("error", err.Error()),
		)
	}
}
