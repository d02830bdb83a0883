// Package webhook delivers signed completion callbacks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/IgnatG/langextract-api/internal/common/config"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/common/metrics"
	"github.com/IgnatG/langextract-api/internal/security"
)

// URLValidator approves a callback URL before it is contacted.
// Satisfied by security.Validator.
type URLValidator interface {
	ValidateURL(ctx context.Context, rawURL, purpose string) error
}

const (
	validationPurpose = "webhook callback"
	maxRedirects      = 5
)

// Dispatcher POSTs signed JSON payloads to callback URLs with bounded
// retries. Delivery failures never propagate into task state.
type Dispatcher struct {
	client     *http.Client
	validator  URLValidator
	secret     string
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
	now        func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithBackoff overrides the initial retry backoff.
func WithBackoff(d time.Duration) Option {
	return func(w *Dispatcher) { w.backoff = d }
}

// WithClock overrides the signing clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(w *Dispatcher) { w.now = now }
}

// NewDispatcher builds a Dispatcher from config.
func NewDispatcher(cfg config.WebhookConfig, validator URLValidator, log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		validator:  validator,
		secret:     cfg.Secret,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		log:        log,
		now:        time.Now,
	}
	d.client = &http.Client{
		Timeout: config.GetDuration(cfg.Timeout),
		// Redirect targets get the same scrutiny as the callback URL
		// itself; a safe URL redirecting into a private network must
		// not be POSTed to.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return d.validator.ValidateURL(req.Context(), req.URL.String(), validationPurpose)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver validates the callback URL, signs the payload and POSTs it.
// Non-2xx responses and network errors are retried with exponential
// backoff up to the configured limit. Each attempt is signed with a
// fresh timestamp so receivers can enforce their replay window.
func (d *Dispatcher) Deliver(ctx context.Context, callbackURL string, headers map[string]string, payload interface{}) error {
	if err := d.validator.ValidateURL(ctx, callbackURL, validationPurpose); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewDeliveryError(fmt.Errorf("marshaling payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return apperrors.NewDeliveryError(ctx.Err())
			}
		}

		lastErr = d.post(ctx, callbackURL, headers, body)
		if lastErr == nil {
			metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			return nil
		}
		var stdErr *apperrors.StandardError
		if errors.As(lastErr, &stdErr) && stdErr.Code == apperrors.ErrCodeSSRFRejected {
			// A rejected redirect hop; retrying would hit it again.
			metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
			return stdErr
		}
		d.log.Warn("webhook delivery attempt failed", map[string]interface{}{
			"url":     callbackURL,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})
	}

	metrics.WebhookDeliveries.WithLabelValues("exhausted").Inc()
	return apperrors.NewDeliveryError(lastErr)
}

func (d *Dispatcher) post(ctx context.Context, callbackURL string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	// Caller headers first; the signature headers are written last so
	// they cannot be overridden.
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		ts := d.now().Unix()
		req.Header.Set(security.TimestampHeader, fmt.Sprintf("%d", ts))
		req.Header.Set(security.SignatureHeader, security.ComputeWebhookSignature(d.secret, ts, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		// Hop rejections surface wrapped in a *url.Error; keep the
		// StandardError if that is what happened.
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			return stdErr
		}
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
