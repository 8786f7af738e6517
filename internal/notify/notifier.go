// Package notify delivers operator alerts to every registered channel
// (Telegram, Discord), filtered by event type, and direct messages to
// individual users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoDirectSender is returned by NotifyUser when no per-user channel is
// configured.
var ErrNoDirectSender = errors.New("notify: no direct sender configured")

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// DirectSender delivers a message to one recipient's chat.
type DirectSender interface {
	SendTo(ctx context.Context, chatID, text string) error
}

// Notifier fans operator alerts out to its Senders and routes user messages
// through a DirectSender. Notify forwards only events in the allowed set;
// NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	direct  DirectSender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
// direct may be nil when users are not messaged.
func NewNotifier(senders []Sender, direct DirectSender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		direct:  direct,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyUser sends text to the chat identified by userID. Delivery is best
// effort; the error is for the caller to log.
func (n *Notifier) NotifyUser(ctx context.Context, userID, text string) error {
	if n.direct == nil {
		return ErrNoDirectSender
	}
	if err := n.direct.SendTo(ctx, userID, text); err != nil {
		return fmt.Errorf("notify: user %s: %w", userID, err)
	}
	n.logger.DebugContext(ctx, "user notified", slog.String("user_id", userID))
	return nil
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
