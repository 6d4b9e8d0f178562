package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/safety"
)

const defaultTelegramURL = "https://api.telegram.org"

type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	limiter *safety.RateLimiter
}

// TelegramOption customizes a TelegramNotifier
type TelegramOption func(*TelegramNotifier)

// WithBaseURL points the notifier at another Bot API endpoint
func WithBaseURL(u string) TelegramOption {
	return func(t *TelegramNotifier) { t.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *TelegramNotifier) { t.client = c }
}

// NewTelegramNotifier sends to one chat. Messages are paced to one per
// second with a small burst, under the Bot API per-chat limit.
func NewTelegramNotifier(token, chatID string, opts ...TelegramOption) *TelegramNotifier {
	t := &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: defaultTelegramURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: safety.NewRateLimiter("telegram", 3, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TelegramNotifier) SendAlert(ctx context.Context, level Level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	text := fmt.Sprintf("%s *Adaptive Dip Bot*\n\n%s", emoji, message)
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
