package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// TickRunner is the part of the reconciler the operator API drives.
type TickRunner interface {
	TryTick(ctx context.Context) (*service.TickReport, error)
	Running() bool
}

// RecentEvents reads the newest tick reports from the event stream.
type RecentEvents func(ctx context.Context, count int64) ([][]byte, error)

// StatusHandler serves process status and the manual tick trigger.
type StatusHandler struct {
	mode    string
	chainID int64
	runner  TickRunner
	counter *service.SequenceCounter
	recent  RecentEvents
	logger  *slog.Logger
}

// NewStatusHandler creates a StatusHandler. runner, counter and recent are
// nil when the process does not run the reconciler or has no event stream.
func NewStatusHandler(mode string, chainID int64, runner TickRunner, counter *service.SequenceCounter, recent RecentEvents, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:    mode,
		chainID: chainID,
		runner:  runner,
		counter: counter,
		recent:  recent,
		logger:  logHandler(logger, "status"),
	}
}

// GetStatus reports the mode, chain and reconciler state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":     h.mode,
		"chain_id": h.chainID,
	}
	if h.runner != nil {
		body["tick_running"] = h.runner.Running()
	}
	if h.counter != nil {
		body["next_mint_sequence"] = h.counter.Next()
	}
	writeJSON(w, http.StatusOK, body)
}

// TriggerTick runs a reconciliation tick now and returns its report. It
// answers 409 while another tick is in flight and 503 during shutdown.
// POST /api/reconciler/tick
func (h *StatusHandler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusNotFound, "reconciler not running in this mode")
		return
	}
	report, err := h.runner.TryTick(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, domain.ErrTickInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, domain.ErrStopping):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "manual tick failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RecentTicks returns the newest tick reports from the event stream.
// GET /api/reconciler/ticks?limit=N
func (h *StatusHandler) RecentTicks(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		writeError(w, http.StatusNotFound, "event stream not configured")
		return
	}
	var count int64 = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 && n <= 200 {
			count = n
		}
	}

	payloads, err := h.recent(r.Context(), count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}
	out := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		if json.Valid(p) {
			out = append(out, json.RawMessage(p))
		}
	}
	writeJSON(w, http.StatusOK, out)
}
