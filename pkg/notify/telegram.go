package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	telegramAPIURL         = "https://api.telegram.org"
	defaultTelegramTimeout = 10 * time.Second
)

// Telegram sends notifications through the Bot API's sendMessage method.
type Telegram struct {
	baseURL    string
	token      string
	chatID     int64
	httpClient *http.Client
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithTelegramBaseURL overrides the Bot API base URL.
func WithTelegramBaseURL(url string) TelegramOption {
	return func(t *Telegram) {
		if url != "" {
			t.baseURL = url
		}
	}
}

// WithTelegramHTTPClient injects a custom http.Client.
func WithTelegramHTTPClient(hc *http.Client) TelegramOption {
	return func(t *Telegram) {
		if hc != nil {
			t.httpClient = hc
		}
	}
}

// NewTelegram constructs a Telegram notifier for the given bot token and
// chat id.
func NewTelegram(token string, chatID int64, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		baseURL:    telegramAPIURL,
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: defaultTelegramTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Notifier = (*Telegram)(nil)

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Notify posts subject and message as one Markdown message.
func (t *Telegram) Notify(ctx context.Context, subject, message string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("*%s*\n%s", subject, message),
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("notify: encode telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("notify: read telegram response: %w", err)
	}
	var result sendMessageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("notify: decode telegram response: %w", err)
	}
	if !result.Ok {
		return fmt.Errorf("notify: telegram rejected message: %s", result.Description)
	}
	return nil
}
