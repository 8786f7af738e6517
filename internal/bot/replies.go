package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

const startText = "Welcome to the Decentralized Betting Bot! 🎲\n\n" +
	"This bot allows you to bet on cryptocurrency price movements using smart contracts.\n\n" +
	"Please use the menu below to navigate:"

const placeBetUsage = "Please provide bet ID, direction (higher/lower), and amount in ETH.\n" +
	"Example: /placebet 1 higher 0.1"

// replies renders command results as Markdown text.
type replies struct {
	svc BetService
}

func (r *replies) help() string {
	return "🤖 *Bot Help & Instructions*\n\n" +
		"/wallet - show or create your custodial wallet\n" +
		"/createbet <" + strings.Join(r.svc.Tokens(), "|") + "> - open a new bet\n" +
		"/bets - list active bets\n" +
		"/mybets - list your stakes in active bets\n" +
		"/placebet <id> <higher|lower> <amount> - stake ETH on a bet\n\n" +
		"💰 Rewards are automatically claimed for winners after each round.\n" +
		"⚠️ Minimum bet: " + service.FormatEther(r.svc.MinStake()) + " ETH"
}

func (r *replies) wallet(ctx context.Context, userID string) string {
	info, err := r.svc.Wallet(ctx, userID)
	if err != nil {
		return "Sorry, there was an error loading your wallet."
	}
	balance := "unavailable"
	if info.Balance != nil {
		balance = service.FormatEther(info.Balance) + " ETH"
	}
	if info.Created {
		return "🎉 New wallet generated!\n\n" +
			fmt.Sprintf("Address: `%s`\n\n", info.Wallet.Address) +
			"To start betting:\n" +
			"1. Send ETH to this address\n" +
			"2. Wait for confirmation\n" +
			"3. Start placing bets!"
	}
	return "Your wallet is already connected!\n\n" +
		fmt.Sprintf("Address: `%s`\n\n", info.Wallet.Address) +
		"Current balance: " + balance
}

func (r *replies) createBet(ctx context.Context, symbol string) string {
	id, _, err := r.svc.CreateBet(ctx, symbol)
	switch {
	case errors.Is(err, domain.ErrTokenInactive):
		return fmt.Sprintf("Token %s is not active or not supported.", strings.ToUpper(symbol))
	case err != nil:
		return "Sorry, there was an error creating the bet."
	}
	return fmt.Sprintf("✅ Bet created successfully for %s!\n\n", strings.ToUpper(symbol)) +
		fmt.Sprintf("Bet ID: %d\n", id) +
		"To place a bet:\n" +
		fmt.Sprintf("1. Use /placebet %d <higher/lower> <amount>\n", id) +
		fmt.Sprintf("2. Example: /placebet %d higher 0.1\n\n", id) +
		"💰 Minimum bet: " + service.FormatEther(r.svc.MinStake()) + " ETH"
}

func (r *replies) activeBets(ctx context.Context) string {
	bets, err := r.svc.ActiveBets(ctx)
	if err != nil {
		return "Sorry, there was an error fetching the bets."
	}
	if len(bets) == 0 {
		return "No active bets at the moment."
	}
	var sb strings.Builder
	sb.WriteString("📊 *Active Bets:*\n\n")
	for _, a := range bets {
		fmt.Fprintf(&sb, "ID: %d\n", a.Bet.ID)
		fmt.Fprintf(&sb, "Token: %s\n", a.Token.Symbol)
		fmt.Fprintf(&sb, "Start Price: %s\n", service.FormatUnits(a.Bet.StartPrice, a.Token.Decimals))
		fmt.Fprintf(&sb, "Time Left: %s\n", formatTimeLeft(a.TimeLeft))
		fmt.Fprintf(&sb, "Total Pool Higher: %s ETH\n", service.FormatEther(a.Bet.TotalPoolHigher))
		fmt.Fprintf(&sb, "Total Pool Lower: %s ETH\n\n", service.FormatEther(a.Bet.TotalPoolLower))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *replies) userBets(ctx context.Context, userID string) string {
	bets, err := r.svc.UserBets(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "Please create your wallet first with /wallet."
	case err != nil:
		return "Sorry, there was an error fetching your bets."
	}
	if len(bets) == 0 {
		return "You have no active bets."
	}
	var sb strings.Builder
	sb.WriteString("🎯 *Your Active Bets:*\n\n")
	for _, u := range bets {
		fmt.Fprintf(&sb, "ID: %d\n", u.Bet.ID)
		fmt.Fprintf(&sb, "Token: %s\n", u.Token.Symbol)
		fmt.Fprintf(&sb, "Amount: %s ETH\n", service.FormatEther(u.Stake.Amount))
		fmt.Fprintf(&sb, "Direction: %s\n\n", strings.ToUpper(string(u.Stake.Direction)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *replies) placeBet(ctx context.Context, userID string, args []string) string {
	if len(args) < 3 {
		return placeBetUsage
	}
	betID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || betID == 0 {
		return "Invalid bet ID or amount. Please provide valid numbers."
	}

	receipt, err := r.svc.PlaceBet(ctx, userID, betID, args[1], args[2])
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "Please create your wallet first with /wallet."
	case errors.Is(err, domain.ErrInvalidDirection):
		return `Invalid direction. Please use "higher" or "lower".`
	case errors.Is(err, domain.ErrInvalidAmount):
		return "Invalid amount: " + strings.TrimPrefix(err.Error(), domain.ErrInvalidAmount.Error()+": ")
	case errors.Is(err, domain.ErrBetNotActive):
		return "This bet is not active."
	case errors.Is(err, domain.ErrTxFailed):
		return "❌ Transaction failed. Please try again."
	case err != nil:
		return "Sorry, there was an error placing your bet. " +
			"Please make sure you have enough ETH and the bet is still active."
	}
	return fmt.Sprintf("✅ Bet placed successfully! Transaction hash: `%s`", receipt.TxHash)
}

// formatTimeLeft renders d as "Xm Ys".
func formatTimeLeft(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
