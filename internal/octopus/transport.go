package octopus

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voltbird/octoflux/internal/metrics"
	"github.com/voltbird/octoflux/internal/models"
)

// PermitGate grants permits for outgoing requests. Each attempt, including
// retries, consumes a fresh permit.
type PermitGate interface {
	Acquire(ctx context.Context, account string) error
}

// TransportConfig holds retry and deadline knobs for the retrying transport.
type TransportConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxElapsed caps the total wall time spent on one logical call,
	// backoff sleeps included.
	MaxElapsed time.Duration
}

// DefaultTransportConfig returns the retry policy used in production.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		MaxElapsed:  45 * time.Second,
	}
}

// Transport issues remote calls with bounded retry. Transient faults
// (network errors, 5xx, 429) are retried with exponential backoff and
// jitter; permanent faults (auth, 4xx) propagate immediately.
type Transport struct {
	client  *http.Client
	gate    PermitGate
	cfg     TransportConfig
	logger  *logrus.Logger
	metrics *metrics.Collector
}

// NewTransport wraps client with the retry policy in cfg. The gate is
// consulted before every attempt.
func NewTransport(client *http.Client, gate PermitGate, cfg TransportConfig, logger *logrus.Logger, m *metrics.Collector) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Transport{client: client, gate: gate, cfg: cfg, logger: logger, metrics: m}
}

// Do executes req for the given account, retrying transient failures. It
// returns the response, the number of attempts made, and an error from the
// taxonomy in models. The response body is open on success; the caller
// closes it.
func (t *Transport) Do(ctx context.Context, req *http.Request, account string) (*http.Response, int, error) {
	start := time.Now()
	deadline := start.Add(t.cfg.MaxElapsed)

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	var lastStatus int

	attempts := 0
loop:
	for attempts < t.cfg.MaxAttempts {
		if err := t.gate.Acquire(ctx, account); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		attempts++

		resp, err := t.client.Do(req.Clone(ctx))
		if err != nil {
			// Network-level fault: timeout, reset, DNS. Transient.
			lastErr = err
			lastStatus = 0
			t.metrics.RecordRetry()
			t.logger.WithFields(logrus.Fields{
				"attempt": attempts,
				"error":   err.Error(),
			}).Warn("request failed, will retry")
			if attempts >= t.cfg.MaxAttempts || !t.sleepBackoff(ctx, attempts, deadline) {
				break
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, attempts, &models.AuthError{AccountNumber: account, StatusCode: resp.StatusCode}

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, attempts, &models.NotFoundError{Resource: req.URL.Path}

		case models.RetryableStatus(resp.StatusCode):
			resp.Body.Close()
			lastErr = nil
			lastStatus = resp.StatusCode
			t.metrics.RecordRetry()
			t.logger.WithFields(logrus.Fields{
				"attempt": attempts,
				"status":  resp.StatusCode,
			}).Warn("transient status, will retry")
			if attempts >= t.cfg.MaxAttempts || !t.sleepBackoff(ctx, attempts, deadline) {
				break loop
			}
			continue

		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, attempts, &models.TransportError{
				Kind:       models.TransportPermanent,
				Attempts:   attempts,
				StatusCode: resp.StatusCode,
			}

		default:
			return resp, attempts, nil
		}
	}

	return nil, attempts, &models.TransportError{
		Kind:       models.TransportExhausted,
		Attempts:   attempts,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

// sleepBackoff waits out the backoff for the given attempt. It returns
// false when the context or the elapsed-time ceiling expires first, in
// which case no further attempt should be made.
func (t *Transport) sleepBackoff(ctx context.Context, attempt int, deadline time.Time) bool {
	backoff := t.backoffFor(attempt)
	if time.Now().Add(backoff).After(deadline) {
		return false
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoffFor returns the exponential backoff for the given 1-based attempt
// with up to 50% random jitter.
func (t *Transport) backoffFor(attempt int) time.Duration {
	d := time.Duration(float64(t.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > t.cfg.MaxBackoff {
		d = t.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
