// Package bot is the Telegram command surface. Handlers parse arguments,
// call the bet service and format replies; they hold no state of their own.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// BetService is what the commands need from the service layer.
type BetService interface {
	Tokens() []string
	MinStake() *big.Int
	Wallet(ctx context.Context, userID string) (service.WalletInfo, error)
	CreateBet(ctx context.Context, symbol string) (uint64, domain.Receipt, error)
	PlaceBet(ctx context.Context, userID string, betID uint64, direction, amountETH string) (domain.Receipt, error)
	ActiveBets(ctx context.Context) ([]service.ActiveBet, error)
	UserBets(ctx context.Context, userID string) ([]service.UserBet, error)
}

// Config holds the bot settings.
type Config struct {
	Token string
	// PollTimeout is the long-poll timeout for getUpdates.
	PollTimeout time.Duration
	// CommandTimeout bounds each command, including transaction confirmation.
	CommandTimeout time.Duration
}

// Bot wires the commands to a telebot instance.
type Bot struct {
	tb      *tele.Bot
	replies *replies
	menu    *tele.ReplyMarkup
	timeout time.Duration
	logger  *slog.Logger
}

// New creates the bot and registers every command. It contacts Telegram to
// validate the token.
func New(cfg Config, svc BetService, logger *slog.Logger) (*Bot, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 3 * time.Minute
	}
	logger = logger.With(slog.String("component", "bot"))

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			attrs := []any{slog.String("error", err.Error())}
			if c != nil && c.Sender() != nil {
				attrs = append(attrs, slog.Int64("user_id", c.Sender().ID))
			}
			logger.Error("bot handler failed", attrs...)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bot: connect: %w", err)
	}

	b := &Bot{
		tb:      tb,
		replies: &replies{svc: svc},
		timeout: cfg.CommandTimeout,
		logger:  logger,
	}
	b.register()
	return b, nil
}

func (b *Bot) register() {
	b.tb.Use(middleware.Recover())
	b.tb.Use(b.logCommand)

	b.menu = &tele.ReplyMarkup{ResizeKeyboard: true}
	btnActive := b.menu.Text("📊 Active Bets")
	btnMine := b.menu.Text("🎯 My Bets")
	btnWallet := b.menu.Text("💰 Wallet")
	btnHelp := b.menu.Text("❓ Help")
	btnCreate := b.menu.Text("📈 Create Bet")
	b.menu.Reply(
		b.menu.Row(btnActive, btnMine),
		b.menu.Row(btnWallet, btnHelp),
		b.menu.Row(btnCreate),
	)

	tokens := &tele.ReplyMarkup{ResizeKeyboard: true}
	var tokenBtns []tele.Btn
	for _, sym := range b.replies.svc.Tokens() {
		btn := tokens.Text(sym)
		tokenBtns = append(tokenBtns, btn)
		symbol := sym
		b.tb.Handle(&btn, b.command(func(ctx context.Context, c tele.Context) string {
			return b.replies.createBet(ctx, symbol)
		}))
	}
	btnBack := tokens.Text("🔙 Back to Menu")
	tokens.Reply(tokens.Row(tokenBtns...), tokens.Row(btnBack))

	b.tb.Handle("/start", b.static(startText))
	b.tb.Handle("/help", b.command(func(context.Context, tele.Context) string {
		return b.replies.help()
	}))
	b.tb.Handle(&btnHelp, b.command(func(context.Context, tele.Context) string {
		return b.replies.help()
	}))
	b.tb.Handle(&btnBack, b.static("Main Menu:"))

	wallet := b.command(func(ctx context.Context, c tele.Context) string {
		return b.replies.wallet(ctx, userID(c))
	})
	b.tb.Handle("/wallet", wallet)
	b.tb.Handle(&btnWallet, wallet)

	active := b.command(func(ctx context.Context, _ tele.Context) string {
		return b.replies.activeBets(ctx)
	})
	b.tb.Handle("/bets", active)
	b.tb.Handle(&btnActive, active)

	mine := b.command(func(ctx context.Context, c tele.Context) string {
		return b.replies.userBets(ctx, userID(c))
	})
	b.tb.Handle("/mybets", mine)
	b.tb.Handle(&btnMine, mine)

	b.tb.Handle("/createbet", func(c tele.Context) error {
		if args := c.Args(); len(args) > 0 {
			return b.command(func(ctx context.Context, _ tele.Context) string {
				return b.replies.createBet(ctx, args[0])
			})(c)
		}
		return c.Send("Select a token to create bet:", tokens)
	})
	b.tb.Handle(&btnCreate, func(c tele.Context) error {
		return c.Send("Select a token to create bet:", tokens)
	})

	b.tb.Handle("/placebet", b.command(func(ctx context.Context, c tele.Context) string {
		return b.replies.placeBet(ctx, userID(c), c.Args())
	}))
}

// command adapts a reply function to a telebot handler, running it under
// the command timeout.
func (b *Bot) command(fn func(ctx context.Context, c tele.Context) string) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		return c.Send(fn(ctx, c), b.menu, tele.ModeMarkdown)
	}
}

func (b *Bot) static(text string) tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Send(text, b.menu)
	}
}

func (b *Bot) logCommand(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() != nil && c.Message() != nil {
			b.logger.Debug("command received",
				slog.Int64("user_id", c.Sender().ID),
				slog.String("text", c.Message().Text),
			)
		}
		return next(c)
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.tb.Stop()
	}()
	b.logger.Info("bot polling started", slog.String("username", b.tb.Me.Username))
	b.tb.Start()
	b.logger.Info("bot stopped")
	return nil
}

// userID is the custodial wallet key for a Telegram user. It is also the
// chat id settlement notices are sent to.
func userID(c tele.Context) string {
	return strconv.FormatInt(c.Sender().ID, 10)
}
