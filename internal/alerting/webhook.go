package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elderguard/elderguard/internal/circuitbreaker"
	"github.com/elderguard/elderguard/internal/retry"
	"github.com/elderguard/elderguard/internal/security"
)

const (
	webhookMaxAttempts = 3
	webhookRetryDelay  = 500 * time.Millisecond
	webhookTimeout     = 10 * time.Second
)

// webhookPayload is the JSON body POSTed to notification endpoints. User
// notices carry only the user id and message; alert context stays off the
// elder's channel.
type webhookPayload struct {
	Kind        string    `json:"kind"`
	AlertID     string    `json:"alertId,omitempty"`
	CaregiverID string    `json:"caregiverId,omitempty"`
	UserID      string    `json:"userId"`
	AlertType   AlertType `json:"alertType,omitempty"`
	Urgency     Urgency   `json:"urgency,omitempty"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sentAt"`
}

// WebhookNotifier delivers notifications as signed JSON POSTs to
// operator-configured endpoints. Each endpoint sits behind its own
// circuit breaker; transient failures retry with backoff, 4xx responses
// do not.
type WebhookNotifier struct {
	advocateURL string
	userURL     string
	secret      string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	// urlValidator re-checks the endpoint before each delivery, so DNS
	// changes cannot steer deliveries at internal addresses later.
	urlValidator func(string) error
	logger       *slog.Logger
	now          func() time.Time
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a webhook notifier. Either URL may be empty,
// in which case that channel logs and succeeds without sending. Non-empty
// URLs are validated against SSRF targets up front and again per delivery.
func NewWebhookNotifier(advocateURL, userURL, secret string, logger *slog.Logger) (*WebhookNotifier, error) {
	for _, u := range []string{advocateURL, userURL} {
		if u == "" {
			continue
		}
		if err := security.ValidateEndpointURL(u); err != nil {
			return nil, fmt.Errorf("alerting: invalid webhook URL %q: %w", u, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		advocateURL:  advocateURL,
		userURL:      userURL,
		secret:       secret,
		client:       &http.Client{Timeout: webhookTimeout},
		breaker:      circuitbreaker.New(5, 30*time.Second),
		urlValidator: security.ValidateEndpointURL,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (w *WebhookNotifier) NotifyAdvocate(ctx context.Context, n *Notification) error {
	return w.deliver(ctx, ChannelAdvocate, w.advocateURL, webhookPayload{
		Kind:        "advocate_notification",
		AlertID:     n.AlertID,
		CaregiverID: n.CaregiverID,
		UserID:      n.UserID,
		AlertType:   n.AlertType,
		Urgency:     n.Urgency,
		Message:     n.Message,
		SentAt:      w.now(),
	})
}

func (w *WebhookNotifier) NotifyUser(ctx context.Context, n *Notification) error {
	return w.deliver(ctx, ChannelUser, w.userURL, webhookPayload{
		Kind:    "user_notice",
		UserID:  n.UserID,
		Message: n.Message,
		SentAt:  w.now(),
	})
}

func (w *WebhookNotifier) deliver(ctx context.Context, endpoint, url string, payload webhookPayload) error {
	if url == "" {
		w.logger.Info("webhook endpoint not configured, skipping", "endpoint", endpoint)
		return nil
	}
	if err := w.urlValidator(url); err != nil {
		return fmt.Errorf("alerting: %s webhook URL rejected: %w", endpoint, err)
	}
	if !w.breaker.Allow(endpoint) {
		return fmt.Errorf("alerting: %s webhook circuit open", endpoint)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alerting: marshal webhook payload: %w", err)
	}

	err = retry.Do(ctx, webhookMaxAttempts, webhookRetryDelay, func() error {
		return w.post(ctx, url, payload.Kind, body)
	})
	if err != nil {
		w.breaker.RecordFailure(endpoint)
		return fmt.Errorf("alerting: %s webhook delivery failed: %w", endpoint, err)
	}
	w.breaker.RecordSuccess(endpoint)
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, url, kind string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ElderGuard-Kind", kind)
	req.Header.Set("X-ElderGuard-Timestamp", fmt.Sprintf("%d", w.now().Unix()))
	if w.secret != "" {
		req.Header.Set("X-ElderGuard-Signature", "sha256="+w.sign(body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The endpoint understood us and said no. Retrying the same
		// payload will not change its mind.
		return retry.Permanent(fmt.Errorf("endpoint rejected delivery: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("delivery failed: status %d", resp.StatusCode)
	}
}

func (w *WebhookNotifier) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(w.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
