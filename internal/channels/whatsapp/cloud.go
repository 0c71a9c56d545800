package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
)

// ErrNotConfigured is returned when the phone number id or access token is missing.
var ErrNotConfigured = errors.New("whatsapp cloud sender not configured: phone_number_id and access token are required")

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: status %d: %s", e.StatusCode, e.Body)
}

// CloudSender posts text messages to the WhatsApp Cloud (Graph) API.
type CloudSender struct {
	endpoint    string
	accessToken string
	client      *http.Client
	limiter     *rate.Limiter
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// NewCloudSender builds a sender from config. A zero RatePerSecond disables
// outbound throttling.
func NewCloudSender(cfg config.WhatsAppConfig) (*CloudSender, error) {
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com"
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v18.0"
	}
	timeout := cfg.SendTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &CloudSender{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", base, version, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: timeout},
		limiter:     limiter,
	}, nil
}

// Send delivers text to recipient. Non-2xx responses return *APIError.
func (s *CloudSender) Send(ctx context.Context, recipient, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp send throttled: %w", err)
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	slog.Debug("whatsapp message sent", "to", recipient, "chars", len(text))
	return nil
}
