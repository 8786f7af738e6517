package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// resumePending finishes settlement for bets whose resolution this service
// submitted in an earlier tick but whose participants are not all terminal.
func (r *Reconciler) resumePending(ctx context.Context, report *TickReport) {
	pending, err := r.journal.PendingBets(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "load pending settlements failed", slog.String("error", err.Error()))
		report.addError(fmt.Sprintf("pending settlements: %v", err))
		return
	}
	for _, p := range pending {
		r.safely(ctx, report, fmt.Sprintf("resume bet %d", p.BetID), func() {
			bet, err := r.ledger.Bet(ctx, p.BetID)
			if err != nil {
				r.logger.WarnContext(ctx, "resume: read bet failed",
					slog.Uint64("bet_id", p.BetID),
					slog.String("error", err.Error()),
				)
				return
			}
			// Still active: the resolution never landed and the main pass
			// retries it.
			if bet.Status != domain.BetResolved {
				return
			}
			report.update(func(t *TickReport) { t.Resumed = append(t.Resumed, p.BetID) })
			r.logger.InfoContext(ctx, "resuming settlement", slog.Uint64("bet_id", p.BetID))
			r.settleBet(ctx, bet, report)
		})
	}
}

// processBet resolves betID when it is active and expired, then settles its
// participants.
func (r *Reconciler) processBet(ctx context.Context, betID uint64, report *TickReport) {
	r.safely(ctx, report, fmt.Sprintf("bet %d", betID), func() {
		logger := r.logger.With(slog.Uint64("bet_id", betID))

		bet, err := r.ledger.Bet(ctx, betID)
		if err != nil {
			logger.WarnContext(ctx, "read bet failed", slog.String("error", err.Error()))
			report.addError(fmt.Sprintf("bet %d: read: %v", betID, err))
			return
		}
		if bet.Status != domain.BetActive || !bet.Expired(r.now()) {
			return
		}

		// Without the pending record a partial settlement could never be
		// resumed, so the bet waits for the next tick.
		if err := r.journal.MarkBetPending(ctx, betID); err != nil {
			logger.WarnContext(ctx, "journal mark pending failed, retrying next tick",
				slog.String("error", err.Error()),
			)
			report.addError(fmt.Sprintf("bet %d: mark pending: %v", betID, err))
			return
		}

		receipt, err := r.ledger.ResolveBet(ctx, betID)
		if err != nil || !receipt.Succeeded() {
			reason := "reverted"
			if err != nil {
				reason = err.Error()
			}
			// Not expired yet on-chain, or resolved by someone else: the next
			// tick sees the real status.
			logger.InfoContext(ctx, "resolve did not succeed, retrying next tick",
				slog.String("reason", reason),
				slog.String("tx", receipt.TxHash),
			)
			r.metrics.resolveFails.Inc()
			report.update(func(t *TickReport) { t.ResolveFailed = append(t.ResolveFailed, betID) })
			return
		}

		r.metrics.betsResolved.Inc()
		report.update(func(t *TickReport) { t.Resolved = append(t.Resolved, betID) })
		logger.InfoContext(ctx, "bet resolved", slog.String("tx", receipt.TxHash))

		resolved, err := r.ledger.Bet(ctx, betID)
		if err != nil {
			logger.WarnContext(ctx, "re-read resolved bet failed, settling next tick",
				slog.String("error", err.Error()),
			)
			return
		}
		r.auditLog(ctx, "bet_resolved", map[string]any{
			"bet_id":      betID,
			"tx":          receipt.TxHash,
			"start_price": resolved.StartPrice.String(),
			"end_price":   resolved.EndPrice.String(),
			"winning":     string(resolved.WinningDirection()),
		})
		r.settleBet(ctx, resolved, report)
	})
}

// settleBet settles every participant of a resolved bet with bounded
// parallelism and marks the bet settled once all of them are terminal.
func (r *Reconciler) settleBet(ctx context.Context, bet domain.BetRecord, report *TickReport) {
	logger := r.logger.With(slog.Uint64("bet_id", bet.ID))
	winning := bet.WinningDirection()

	participants, err := r.ledger.Participants(ctx, bet.ID)
	if err != nil {
		logger.WarnContext(ctx, "read participants failed", slog.String("error", err.Error()))
		report.addError(fmt.Sprintf("bet %d: participants: %v", bet.ID, err))
		return
	}

	var incomplete atomic.Bool
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, addr := range participants {
		g.Go(func() error {
			done := false
			r.safely(ctx, report, fmt.Sprintf("bet %d participant %s", bet.ID, addr), func() {
				done = r.settleParticipant(ctx, bet, winning, addr, report)
			})
			if !done {
				incomplete.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if incomplete.Load() {
		return
	}
	if err := r.journal.MarkBetSettled(ctx, bet.ID); err != nil {
		logger.WarnContext(ctx, "journal mark settled failed", slog.String("error", err.Error()))
	}
}

// settleParticipant drives one participant to a terminal state and reports
// whether it got there.
func (r *Reconciler) settleParticipant(ctx context.Context, bet domain.BetRecord, winning domain.Direction, addr string, report *TickReport) bool {
	logger := r.logger.With(slog.Uint64("bet_id", bet.ID), slog.String("participant", addr))

	stake, err := r.ledger.ParticipantBet(ctx, bet.ID, addr)
	if err != nil {
		logger.WarnContext(ctx, "read participant bet failed", slog.String("error", err.Error()))
		report.addError(fmt.Sprintf("bet %d participant %s: %v", bet.ID, addr, err))
		return false
	}

	wallet, err := r.wallets.FindByAddress(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		// Not a custodial wallet; nothing to manage.
		r.metrics.participants.WithLabelValues("foreign").Inc()
		report.update(func(t *TickReport) { t.Foreign++ })
		return true
	}
	if err != nil {
		logger.WarnContext(ctx, "wallet lookup failed", slog.String("error", err.Error()))
		return false
	}

	attempt, err := r.journal.GetAttempt(ctx, bet.ID, wallet.Address)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		attempt = domain.SettlementAttempt{
			BetID:       bet.ID,
			Participant: wallet.Address,
			UserID:      wallet.UserID,
		}
	case err != nil:
		logger.WarnContext(ctx, "journal read failed", slog.String("error", err.Error()))
		return false
	}
	if attempt.Terminal() {
		return true
	}

	if stake.Direction == winning {
		attempt.Outcome = domain.OutcomeWon
		return r.settleWinner(ctx, logger, stake, wallet, attempt, report)
	}
	attempt.Outcome = domain.OutcomeLost
	return r.settleLoser(ctx, logger, attempt, report)
}

func (r *Reconciler) settleWinner(ctx context.Context, logger *slog.Logger, stake domain.ParticipantBet, wallet domain.UserWallet, attempt domain.SettlementAttempt, report *TickReport) bool {
	switch attempt.ClaimState {
	case domain.ClaimPending:
		// A claim was submitted before a restart and its outcome never got
		// recorded. The contract flag decides; it is never resubmitted.
		if stake.Claimed {
			attempt.ClaimState = domain.ClaimClaimed
			r.countClaimed(report)
		} else {
			attempt.ClaimState = domain.ClaimFailed
			attempt.Error = "claim outcome unknown after restart"
			r.countClaimFailed(ctx, attempt, report)
		}
		if !r.save(ctx, logger, &attempt) {
			return false
		}

	case domain.ClaimClaimed, domain.ClaimFailed:
		// Only the notification is outstanding.

	default:
		// Read before claiming: the contract may zero it afterwards.
		reward, err := r.ledger.PotentialReward(ctx, attempt.BetID, attempt.Participant)
		if err != nil {
			logger.WarnContext(ctx, "read potential reward failed", slog.String("error", err.Error()))
		}
		attempt.Reward = reward
		attempt.ClaimState = domain.ClaimPending
		if !r.save(ctx, logger, &attempt) {
			return false
		}

		attempt.ClaimState, attempt.Error = r.claim(ctx, attempt.BetID, wallet)
		if attempt.ClaimState == domain.ClaimClaimed {
			logger.InfoContext(ctx, "reward claimed", slog.String("reward_eth", FormatEther(attempt.Reward)))
			r.countClaimed(report)
		} else {
			logger.WarnContext(ctx, "reward claim failed", slog.String("error", attempt.Error))
			r.countClaimFailed(ctx, attempt, report)
		}
		if !r.save(ctx, logger, &attempt) {
			return false
		}
	}

	if attempt.ClaimState == domain.ClaimClaimed && attempt.MintSequence == nil && !attempt.MintFailed {
		r.mint(ctx, logger, &attempt, report)
		if !r.save(ctx, logger, &attempt) {
			return false
		}
	}

	if !attempt.Notified {
		r.notify(ctx, logger, attempt.UserID, winnerMessage(attempt))
		attempt.Notified = true
		if !r.save(ctx, logger, &attempt) {
			return false
		}
	}
	report.update(func(t *TickReport) { t.Settled++ })
	return attempt.Terminal()
}

func (r *Reconciler) settleLoser(ctx context.Context, logger *slog.Logger, attempt domain.SettlementAttempt, report *TickReport) bool {
	attempt.ClaimState = domain.ClaimNone
	r.notify(ctx, logger, attempt.UserID,
		fmt.Sprintf("Bet #%d has been resolved. Unfortunately, you did not win this time.", attempt.BetID))
	attempt.Notified = true
	if !r.save(ctx, logger, &attempt) {
		return false
	}
	r.metrics.participants.WithLabelValues("lost").Inc()
	report.update(func(t *TickReport) {
		t.Lost++
		t.Settled++
	})
	return true
}

// claim submits claimReward with the participant's own key.
func (r *Reconciler) claim(ctx context.Context, betID uint64, wallet domain.UserWallet) (domain.ClaimState, string) {
	signer, err := r.wallets.Signer(wallet)
	if err != nil {
		return domain.ClaimFailed, err.Error()
	}
	receipt, err := r.ledger.ClaimReward(ctx, betID, signer)
	if err != nil {
		return domain.ClaimFailed, err.Error()
	}
	if !receipt.Succeeded() {
		return domain.ClaimFailed, fmt.Sprintf("claim reverted: %s", receipt.TxHash)
	}
	return domain.ClaimClaimed, ""
}

// mint issues the next participation token to the participant.
func (r *Reconciler) mint(ctx context.Context, logger *slog.Logger, attempt *domain.SettlementAttempt, report *TickReport) {
	seq, err := r.counter.Issue(ctx, func(seq uint64) error {
		// A mint whose receipt timed out may have landed since.
		owner, err := r.ledger.TokenOwner(ctx, seq)
		if err != nil {
			return fmt.Errorf("owner of %d: %w", seq, err)
		}
		if owner != "" {
			return fmt.Errorf("token %d owned by %s: %w", seq, owner, domain.ErrSequenceSpent)
		}
		receipt, err := r.ledger.MintParticipationToken(ctx, attempt.Participant, seq)
		if err != nil {
			return err
		}
		if !receipt.Succeeded() {
			return fmt.Errorf("mint %d: %w", seq, domain.ErrTxFailed)
		}
		return nil
	})
	if err != nil {
		attempt.MintFailed = true
		attempt.Error = fmt.Sprintf("mint: %v", err)
		logger.WarnContext(ctx, "participation token mint failed", slog.String("error", err.Error()))
		r.metrics.participants.WithLabelValues("mint_failed").Inc()
		report.update(func(t *TickReport) { t.MintFailed++ })
		r.auditLog(ctx, "mint_failed", map[string]any{
			"bet_id":      attempt.BetID,
			"participant": attempt.Participant,
			"error":       err.Error(),
		})
		r.alert(ctx, "mint_failed", "Participation token mint failed",
			fmt.Sprintf("bet #%d participant %s: %v", attempt.BetID, attempt.Participant, err))
		return
	}
	attempt.MintSequence = &seq
	logger.InfoContext(ctx, "participation token minted", slog.Uint64("sequence", seq))
}

func (r *Reconciler) countClaimed(report *TickReport) {
	r.metrics.participants.WithLabelValues("claimed").Inc()
	report.update(func(t *TickReport) { t.Claimed++ })
}

func (r *Reconciler) countClaimFailed(ctx context.Context, attempt domain.SettlementAttempt, report *TickReport) {
	r.metrics.participants.WithLabelValues("claim_failed").Inc()
	report.update(func(t *TickReport) { t.ClaimFailed++ })
	r.auditLog(ctx, "claim_failed", map[string]any{
		"bet_id":      attempt.BetID,
		"participant": attempt.Participant,
		"user_id":     attempt.UserID,
		"error":       attempt.Error,
	})
	r.alert(ctx, "claim_failed", "Reward claim failed",
		fmt.Sprintf("bet #%d user %s: %s", attempt.BetID, attempt.UserID, attempt.Error))
}

// notify is fire-and-forget: failures are logged and counted only.
func (r *Reconciler) notify(ctx context.Context, logger *slog.Logger, userID, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyUser(ctx, userID, text); err != nil {
		r.metrics.notifyFails.Inc()
		logger.WarnContext(ctx, "user notification failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) save(ctx context.Context, logger *slog.Logger, attempt *domain.SettlementAttempt) bool {
	attempt.UpdatedAt = r.now().UTC()
	if err := r.journal.SaveAttempt(ctx, *attempt); err != nil {
		logger.ErrorContext(ctx, "journal write failed",
			slog.String("claim_state", string(attempt.ClaimState)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func winnerMessage(a domain.SettlementAttempt) string {
	if a.ClaimState != domain.ClaimClaimed {
		return fmt.Sprintf("⚠️ Automatic reward claim failed for bet #%d. Please claim your reward manually.", a.BetID)
	}
	msg := fmt.Sprintf("🎁 Your reward for bet #%d has been automatically claimed!", a.BetID)
	if a.Reward != nil {
		msg += fmt.Sprintf("\nAmount: %s ETH", FormatEther(a.Reward))
	}
	if a.MintFailed {
		msg += "\nYour participation token could not be minted yet; the operator has been notified."
	}
	return msg
}
