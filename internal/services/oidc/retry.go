package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second

	// Discovery, token exchange, JWKS and userinfo.
	callbackCalls  = 4
	callbackMargin = 5 * time.Second
)

// RetryPolicy bounds outbound calls to an identity provider. Attempt n
// waits n*Backoff before the next one.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy makes three attempts with a 2s linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, Backoff: defaultBackoff}
}

// Budget is the longest one retried call can take when every attempt runs
// into httpTimeout.
func (p RetryPolicy) Budget(httpTimeout time.Duration) time.Duration {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	if httpTimeout <= 0 {
		httpTimeout = defaultHTTPTimeout
	}
	// Waits are 1*Backoff, 2*Backoff, ... between attempts.
	waits := attempts * (attempts - 1) / 2
	return time.Duration(attempts)*httpTimeout + time.Duration(waits)*p.Backoff
}

// CallbackTimeout bounds a whole callback: every provider call it makes may
// exhaust its retries before the flow gives up.
func CallbackTimeout(p RetryPolicy, httpTimeout time.Duration) time.Duration {
	return callbackCalls*p.Budget(httpTimeout) + callbackMargin
}

// NewHTTPClient returns the client used for all provider calls. A
// non-positive timeout selects 10s.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// statusError is a non-2xx response from a provider endpoint.
type statusError struct {
	URL        string
	StatusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// retryable reports whether err is a network failure or a 5xx.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode >= 500
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}

// clientRejected reports whether the provider refused the request with a 4xx.
func clientRejected(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	return false
}

// do runs fn until it succeeds, fails with a non-retryable error or the
// attempts run out. Exhaustion yields ExternalServiceUnavailable.
func (p RetryPolicy) do(ctx context.Context, log *zap.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		log.Warn("oidc_request_retry",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return autherr.Wrap(autherr.KindExternalServiceUnavailable, op+" was cancelled", ctx.Err())
		case <-time.After(time.Duration(attempt) * p.Backoff):
		}
	}
	return autherr.Wrap(autherr.KindExternalServiceUnavailable, op+" failed after retries", err)
}
