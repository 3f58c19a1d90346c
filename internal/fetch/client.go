package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/ratelimit"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultUserAgent   = "JejuTourismPlatform/1.0"

	maxBodyBytes      = 10 << 20
	maxErrorBodyBytes = 64 << 10
)

var (
	errMalformedBody = errors.New("malformed JSON body")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
)

// StatusError is returned for non-2xx upstream responses. Body holds the
// response body when it is valid JSON.
type StatusError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Retryable reports whether another attempt may succeed. Client errors other
// than 408 and 429 are final.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	}
	return true
}

// isFinal reports whether err is a response that retrying cannot change.
func isFinal(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && !statusErr.Retryable()
}

// BreakerSettings configures the per-client circuit breaker.
type BreakerSettings struct {
	MaxFailures uint32
	Interval    time.Duration
	OpenTimeout time.Duration
}

// Options controls retry and breaker behaviour.
type Options struct {
	Name        string
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number between attempts.
	BaseDelay time.Duration
	UserAgent string
	Breaker   *BreakerSettings
}

// Client performs one logical outbound call with bounded retries, waiting on
// its rate budget before every attempt.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Acquirer
	options    Options
	breaker    *gobreaker.CircuitBreaker
	logger     logger.Logger
}

// New builds a client. A nil limiter means unlimited.
func New(httpClient *http.Client, limiter ratelimit.Acquirer, options Options, log logger.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.Unlimited
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}
	if options.BaseDelay <= 0 {
		options.BaseDelay = DefaultBaseDelay
	}
	if options.UserAgent == "" {
		options.UserAgent = DefaultUserAgent
	}

	client := &Client{
		httpClient: httpClient,
		limiter:    limiter,
		options:    options,
		logger:     log,
	}

	if options.Breaker != nil {
		maxFailures := options.Breaker.MaxFailures
		if maxFailures == 0 {
			maxFailures = 5
		}
		client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        options.Name,
			MaxRequests: 1,
			Interval:    options.Breaker.Interval,
			Timeout:     options.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// A rejected request says nothing about upstream health.
			IsSuccessful: func(err error) bool {
				return err == nil || isFinal(err)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.WithFields(logger.Fields{
					"client": name,
					"from":   from.String(),
					"to":     to.String(),
				}).Warn("Circuit breaker state changed")
			},
		})
	}

	return client
}

// Name identifies the client in logs.
func (c *Client) Name() string {
	return c.options.Name
}

// BreakerState reports the breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Call fetches url and returns its JSON body. Failures are *models.FetchError:
// cancelled or timeout when ctx ends, validation on a non-retryable client
// error, upstream_unavailable once the attempt budget is spent or the breaker
// is open. The *StatusError of the last response stays reachable through
// errors.As.
func (c *Client) Call(ctx context.Context, url string) (json.RawMessage, error) {
	if c.httpClient == nil {
		return nil, models.NewFetchError(models.ErrorKindUpstreamUnavailable, "fetch client misconfigured", errNoHTTPClient)
	}

	var lastErr error
	for attempt := 1; attempt <= c.options.MaxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, contextFailure(err, attempt-1)
		}

		c.logger.WithFields(logger.Fields{
			"client":  c.options.Name,
			"attempt": attempt,
		}).Debug("Calling upstream")

		body, err := c.attempt(ctx, url)
		if err == nil {
			return body, nil
		}

		// An aborted attempt does not count against the budget.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextFailure(ctxErr, attempt-1)
		}

		if errors.Is(err, errCircuitOpen) {
			c.logger.WithFields(logger.Fields{"client": c.options.Name}).Warn("Circuit open, failing fast")
			return nil, &models.FetchError{
				Kind:     models.ErrorKindUpstreamUnavailable,
				Message:  "upstream unavailable",
				Attempts: attempt,
				Err:      err,
			}
		}

		if isFinal(err) {
			c.logger.WithFields(logger.Fields{
				"client":  c.options.Name,
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("Upstream rejected request, not retrying")
			return nil, &models.FetchError{
				Kind:     models.ErrorKindValidation,
				Message:  "request rejected",
				Attempts: attempt,
				Err:      err,
			}
		}

		lastErr = err
		if attempt == c.options.MaxAttempts {
			break
		}

		delay := c.options.BaseDelay * time.Duration(attempt)
		c.logger.WithFields(logger.Fields{
			"client":  c.options.Name,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("Upstream call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, contextFailure(ctx.Err(), attempt)
		case <-timer.C:
		}
	}

	return nil, &models.FetchError{
		Kind:     models.ErrorKindUpstreamUnavailable,
		Message:  "upstream unavailable",
		Attempts: c.options.MaxAttempts,
		Err:      lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, url string) (json.RawMessage, error) {
	if c.breaker == nil {
		return c.do(ctx, url)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return nil, err
	}

	body, ok := result.(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.options.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if json.Valid(body) {
			statusErr.Body = json.RawMessage(body)
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, errMalformedBody
	}
	return json.RawMessage(body), nil
}

func contextFailure(err error, attempts int) *models.FetchError {
	kind := models.ErrorKindCancelled
	message := "call cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		kind = models.ErrorKindTimeout
		message = "call timed out"
	}
	return &models.FetchError{Kind: kind, Message: message, Attempts: attempts, Err: err}
}
