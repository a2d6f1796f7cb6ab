// Package webhook delivers domain events to an external HTTP endpoint.
// Payloads are signed with HMAC-SHA256 so receivers can authenticate the
// sender; delivery is paced and retried, and a final failure is reported
// to the caller (the event bus logs and contains it).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/skeinhq/skein/pkg/apierror"
)

// Header names on every delivery.
const (
	HeaderChannel   = "X-Skein-Channel"
	HeaderSignature = "X-Skein-Signature"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultRPS         = 10
	defaultBurst       = 20
	retryBaseDelay     = 250 * time.Millisecond
)

// Config configures the publisher. Endpoint is required; zero values for
// the rest fall back to defaults.
type Config struct {
	Endpoint    string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	// RPS and Burst pace outbound deliveries across all channels.
	RPS   float64
	Burst int
}

// Publisher posts event payloads to a single webhook endpoint. It satisfies
// the event bus WebhookForwarder contract.
type Publisher struct {
	endpoint string
	secret   []byte
	client   *http.Client
	limiter  *rate.Limiter
	attempts int
	logger   *slog.Logger
}

// NewPublisher creates a publisher for the configured endpoint.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("webhook: endpoint must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		endpoint: cfg.Endpoint,
		secret:   []byte(cfg.Secret),
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		attempts: cfg.MaxAttempts,
		logger:   logger,
	}, nil
}

// Forward posts the payload to the endpoint with the channel header set.
// The payload reaches the receiver unchanged. Server errors and transport
// errors are retried with backoff; client errors are not.
func (p *Publisher) Forward(ctx context.Context, channel string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: failed to encode payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		retryable, err := p.post(ctx, channel, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
		p.logger.Warn("webhook delivery failed, retrying",
			"channel", channel, "attempt", attempt, "error", err)

		if attempt < p.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(1<<(attempt-1))):
			}
		}
	}
	return apierror.Wrap(apierror.KindUpstream, "webhook delivery failed", lastErr)
}

// post performs a single delivery attempt. The boolean reports whether the
// failure is worth retrying.
func (p *Publisher) post(ctx context.Context, channel string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderChannel, channel)
	if len(p.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(p.secret, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return true, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook: endpoint rejected delivery with %d", resp.StatusCode)
	}
}

// Sign computes the signature header value for a payload.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the payload.
// Receivers use it; it lives here so both sides share one definition.
func VerifySignature(secret, body []byte, header string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
