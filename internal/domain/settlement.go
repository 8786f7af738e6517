package domain

import (
	"math/big"
	"time"
)

// Outcome is a participant's result in a resolved bet.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
)

// ClaimState tracks the reward claim for a winning participant.
type ClaimState string

const (
	ClaimPending ClaimState = "pending"
	ClaimClaimed ClaimState = "claimed"
	ClaimFailed  ClaimState = "failed"
	// ClaimNone is used for losing participants, who never claim.
	ClaimNone ClaimState = "none"
)

// SettlementAttempt is the durable journal entry for one participant of one
// resolved bet, keyed by (BetID, Participant).
type SettlementAttempt struct {
	BetID        uint64
	Participant  string
	UserID       string
	Outcome      Outcome
	ClaimState   ClaimState
	Reward       *big.Int
	MintSequence *uint64
	MintFailed   bool
	Notified     bool
	Error        string
	UpdatedAt    time.Time
}

// Terminal reports whether nothing is left to do for this participant.
func (a SettlementAttempt) Terminal() bool {
	if !a.Notified {
		return false
	}
	switch a.Outcome {
	case OutcomeLost:
		return true
	case OutcomeWon:
		return a.ClaimState == ClaimClaimed || a.ClaimState == ClaimFailed
	}
	return false
}

// BetSettlementState tracks whether a resolved bet still has participants to
// settle.
type BetSettlementState string

const (
	BetSettlementPending BetSettlementState = "pending"
	BetSettlementSettled BetSettlementState = "settled"
)

// BetSettlement marks a bet this service submitted a resolution for.
type BetSettlement struct {
	BetID     uint64
	State     BetSettlementState
	UpdatedAt time.Time
}
