package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers messages through the Telegram Bot API: operator
// alerts to a fixed chat via Send, and user messages to any chat via SendTo.
type TelegramSender struct {
	apiURL  string
	token   string
	chatID  string
	client  *http.Client
	limiter *rate.Limiter
}

// TelegramOption customises a TelegramSender.
type TelegramOption func(*TelegramSender)

// WithTelegramAPI points the sender at a different Bot API host.
func WithTelegramAPI(url string) TelegramOption {
	return func(t *TelegramSender) {
		if url != "" {
			t.apiURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTelegramRateLimit caps outgoing messages per second.
func WithTelegramRateLimit(perSecond float64, burst int) TelegramOption {
	return func(t *TelegramSender) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewTelegramSender creates a TelegramSender for the given bot token.
// chatID is the operator chat used by Send; it may be empty when the sender
// only delivers user messages.
func NewTelegramSender(token, chatID string, opts ...TelegramOption) *TelegramSender {
	t := &TelegramSender{
		apiURL: defaultTelegramAPI,
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		// Bot API allows about 30 messages per second overall.
		limiter: rate.NewLimiter(rate.Limit(25), 5),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send posts an operator alert. The title is rendered in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if t.chatID == "" {
		return fmt.Errorf("telegram: no operator chat configured")
	}
	return t.sendMessage(ctx, t.chatID, fmt.Sprintf("*%s*\n%s", title, message), "Markdown")
}

// SendTo posts plain text to chatID.
func (t *TelegramSender) SendTo(ctx context.Context, chatID, text string) error {
	return t.sendMessage(ctx, chatID, text, "")
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramSender) sendMessage(ctx context.Context, chatID, text, parseMode string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit wait: %w", err)
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	var tr telegramResponse
	if err := json.Unmarshal(respBody, &tr); err == nil && !tr.OK {
		return fmt.Errorf("telegram: api error: %s", tr.Description)
	}
	return nil
}
