package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTelegramURL = "https://api.telegram.org"

	userAgent = "GameRequest/1.0"

	// Telegram rejects photo captions longer than this.
	maxCaptionLength = 1024
	maxErrorBody     = 2048
)

// Message is a rendered notification. PhotoURL is optional.
type Message struct {
	Text     string
	PhotoURL string
}

// Channel delivers one rendered message.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelProvider builds a channel for a credential pair.
type ChannelProvider interface {
	Channel(botToken, chatID string) Channel
}

// Telegram talks to the Bot API.
type Telegram struct {
	baseURL string
	client  *http.Client
}

// NewTelegram creates a Bot API client. An empty baseURL uses the public API.
func NewTelegram(baseURL string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Channel returns a channel posting to chatID as the given bot.
func (t *Telegram) Channel(botToken, chatID string) Channel {
	return &TelegramChannel{api: t, botToken: botToken, chatID: chatID}
}

// TelegramChannel posts messages to one chat.
type TelegramChannel struct {
	api      *Telegram
	botToken string
	chatID   string
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendPhotoRequest struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption"`
	ParseMode string `json:"parse_mode"`
}

// Send posts msg, as a photo with caption when it carries a cover and the
// text fits in a caption.
func (c *TelegramChannel) Send(ctx context.Context, msg Message) error {
	if msg.PhotoURL != "" && len([]rune(msg.Text)) <= maxCaptionLength {
		return c.post(ctx, "sendPhoto", sendPhotoRequest{
			ChatID:    c.chatID,
			Photo:     msg.PhotoURL,
			Caption:   msg.Text,
			ParseMode: "HTML",
		})
	}
	return c.post(ctx, "sendMessage", sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  msg.Text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
}

func (c *TelegramChannel) post(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode telegram %s: %w", method, err)
	}

	endpoint := c.api.baseURL + "/bot" + c.botToken + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.api.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SendError{Method: method, Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SendError is a non-2xx answer from the Bot API.
type SendError struct {
	Method string
	Status int
	Body   string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("telegram %s returned %d: %s", e.Method, e.Status, e.Body)
}

// Temporary reports whether retrying may help.
func (e *SendError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// retryable treats everything but a permanent API refusal as transient.
func retryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func trim(s string) string { return strings.TrimSpace(s) }
