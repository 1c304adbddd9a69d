// Package notify delivers user notifications through the messaging platform.
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

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx answer from the Bot API.
type APIError struct {
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api: status %d: %s", e.StatusCode, e.Description)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// TelegramNotifier implements ports.Notifier with the Bot API sendMessage call.
// Messages are sent with HTML parse mode.
type TelegramNotifier struct {
	endpoint string
	client   HTTPClient
	log      zerolog.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token.
func NewTelegramNotifier(apiBase, token string, client HTTPClient, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		endpoint: strings.TrimRight(apiBase, "/") + "/bot" + token + "/sendMessage",
		client:   client,
		log:      log,
	}
}

// Send performs a single delivery attempt.
func (n *TelegramNotifier) Send(ctx context.Context, externalID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: externalID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// Never log the endpoint: it carries the bot token.
		return fmt.Errorf("send message: %w", redactToken(err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && parsed.OK {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Description: parsed.Description}
	if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}

// redactToken strips the request URL from transport errors.
func redactToken(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && strings.Contains(err.Error(), "/bot") {
		if inner := u.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}

// LogNotifier writes notifications to the log. It stands in when no bot token is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the message and always succeeds.
func (n *LogNotifier) Send(ctx context.Context, externalID int64, text string) error {
	n.log.Info().Int64("external_id", externalID).Str("text", text).Msg("notification (no bot token configured)")
	return nil
}
