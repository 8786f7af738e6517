package domain

import (
	"math/big"
	"strings"
	"time"
)

// BetStatus is the on-chain lifecycle state of a bet.
type BetStatus string

const (
	BetActive   BetStatus = "active"
	BetResolved BetStatus = "resolved"
)

// Direction is the side a participant takes on the closing price.
type Direction string

const (
	DirectionHigher Direction = "higher"
	DirectionLower  Direction = "lower"
)

// ParseDirection accepts "higher"/"lower" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DirectionHigher):
		return DirectionHigher, nil
	case string(DirectionLower):
		return DirectionLower, nil
	default:
		return "", ErrInvalidDirection
	}
}

// TokenInfo describes a price feed the contract accepts bets on.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
	IsActive bool
}

// BetRecord mirrors a bet as stored by the betting contract. Prices are in
// the feed's native decimals; pools are in wei.
type BetRecord struct {
	ID              uint64
	TokenID         [32]byte
	Status          BetStatus
	StartPrice      *big.Int
	EndPrice        *big.Int
	StartTime       time.Time
	EndTime         time.Time
	TotalPoolHigher *big.Int
	TotalPoolLower  *big.Int
}

// Expired reports whether the bet's window has elapsed at now.
func (b BetRecord) Expired(now time.Time) bool {
	return !b.EndTime.After(now)
}

// WinningDirection classifies the outcome with a strict comparison: a close
// equal to the open counts as Lower, matching the contract.
func (b BetRecord) WinningDirection() Direction {
	if b.EndPrice != nil && b.StartPrice != nil && b.EndPrice.Cmp(b.StartPrice) > 0 {
		return DirectionHigher
	}
	return DirectionLower
}

// ParticipantBet is one address's stake in a bet.
type ParticipantBet struct {
	BetID       uint64
	Participant string
	Amount      *big.Int
	Direction   Direction
	Claimed     bool
}

// ReceiptStatus is the mined outcome of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// Receipt is the confirmed result of a ledger write.
type Receipt struct {
	TxHash      string
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == ReceiptSuccess
}
