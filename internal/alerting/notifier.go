package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sender delivers a short text message (SMS) to a phone number.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSender sends SMS through the Twilio Messages REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
	logger     zerolog.Logger
}

// NewTwilioSender constructs a Twilio backed sender.
func NewTwilioSender(accountSID, authToken, from, baseURL string, timeout time.Duration, logger zerolog.Logger) *TwilioSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}

	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "sms_twilio").Logger(),
	}
}

// Send posts one message to the Messages resource.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send twilio request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		SID          string `json:"sid"`
		Status       string `json:"status"`
		Code         int    `json:"code"`
		Message      string `json:"message"`
		ErrorCode    *int   `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Message != "" {
			return fmt.Errorf("twilio error (%d/%d): %s", resp.StatusCode, result.Code, result.Message)
		}
		return fmt.Errorf("twilio unexpected status: %d", resp.StatusCode)
	}
	if decodeErr == nil && result.ErrorCode != nil {
		return fmt.Errorf("twilio rejected message (%d): %s", *result.ErrorCode, result.ErrorMessage)
	}

	s.logger.Info().Str("to", maskPhone(to)).Str("sid", result.SID).Str("status", result.Status).Msg("sms sent")
	return nil
}

// ConsoleSender logs messages instead of sending them. It stands in for
// Twilio when no credentials are configured.
type ConsoleSender struct {
	logger zerolog.Logger
}

// NewConsoleSender builds a logging-only sender.
func NewConsoleSender(logger zerolog.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger.With().Str("component", "sms_console").Logger()}
}

// Send writes the message to the log and always succeeds.
func (c *ConsoleSender) Send(ctx context.Context, to, body string) error {
	c.logger.Info().Str("to", to).Str("body", body).Msg("sms (console mode)")
	return nil
}

func maskPhone(p string) string {
	if len(p) <= 4 {
		return p
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}

var (
	_ Sender = (*TwilioSender)(nil)
	_ Sender = (*ConsoleSender)(nil)
)
