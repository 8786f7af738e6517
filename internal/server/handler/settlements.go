package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// SettlementHandler exposes the settlement journal and audit log to
// operators.
type SettlementHandler struct {
	journal domain.SettlementRepository
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler. audit may be nil.
func NewSettlementHandler(journal domain.SettlementRepository, audit domain.AuditStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{journal: journal, audit: audit, logger: logHandler(logger, "settlements")}
}

type settlementJSON struct {
	BetID        uint64    `json:"bet_id"`
	Participant  string    `json:"participant"`
	UserID       string    `json:"user_id"`
	Outcome      string    `json:"outcome"`
	ClaimState   string    `json:"claim_state"`
	RewardETH    string    `json:"reward_eth,omitempty"`
	MintSequence *uint64   `json:"mint_sequence,omitempty"`
	MintFailed   bool      `json:"mint_failed"`
	Notified     bool      `json:"notified"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toSettlementJSON(a domain.SettlementAttempt) settlementJSON {
	out := settlementJSON{
		BetID:        a.BetID,
		Participant:  a.Participant,
		UserID:       a.UserID,
		Outcome:      string(a.Outcome),
		ClaimState:   string(a.ClaimState),
		MintSequence: a.MintSequence,
		MintFailed:   a.MintFailed,
		Notified:     a.Notified,
		Error:        a.Error,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.Reward != nil {
		out.RewardETH = service.FormatEther(a.Reward)
	}
	return out
}

// ListFailed returns journal entries that need manual follow-up: failed
// claims and failed mints.
// GET /api/settlements/failed
func (h *SettlementHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.journal.ListFailed(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failed settlements",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}

	out := make([]settlementJSON, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, toSettlementJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAudit returns the newest audit log entries.
// GET /api/audit
func (h *SettlementHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit log",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
