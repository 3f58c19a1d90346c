package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
)

// Fetcher produces the result for one request. Implementations should stop
// work once ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context, req models.ProviderRequest) models.ProviderResult
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req models.ProviderRequest) models.ProviderResult

func (f FetcherFunc) Fetch(ctx context.Context, req models.ProviderRequest) models.ProviderResult {
	return f(ctx, req)
}

// FallbackSource supplies canned data for failed slots.
type FallbackSource interface {
	ResolveData(domain models.Domain, kind string) (json.RawMessage, error)
}

// Options configures an Orchestrator.
type Options struct {
	// MaxConcurrent bounds in-flight calls. Zero runs every request at once.
	MaxConcurrent int
	// Fallback, when set, turns failed slots into fallback successes where
	// the table has an entry.
	Fallback FallbackSource
	Now      func() time.Time
}

// Orchestrator runs batches of independent requests concurrently and always
// returns one result per request.
type Orchestrator struct {
	fetcher Fetcher
	options Options
	logger  logger.Logger
}

func New(fetcher Fetcher, options Options, log logger.Logger) *Orchestrator {
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Orchestrator{fetcher: fetcher, options: options, logger: log}
}

// Run fans requests out and waits for every slot to settle. callTimeout
// bounds each call on its own; a slot that exceeds it becomes a timeout
// failure and its late result is discarded. Results keep request order.
func (o *Orchestrator) Run(ctx context.Context, requests []models.ProviderRequest, callTimeout time.Duration) []models.ProviderResult {
	results := make([]models.ProviderResult, len(requests))
	if len(requests) == 0 {
		return results
	}

	// A plain group: one failing slot must not cancel its siblings.
	var group errgroup.Group
	if o.options.MaxConcurrent > 0 {
		group.SetLimit(o.options.MaxConcurrent)
	}

	for i, req := range requests {
		i, req := i, req
		group.Go(func() error {
			results[i] = o.applyFallback(o.runOne(ctx, req, callTimeout))
			return nil
		})
	}
	_ = group.Wait()

	failed := 0
	for _, result := range results {
		if !result.IsSuccess() {
			failed++
		}
	}
	if failed == len(results) {
		o.logger.WithFields(logger.Fields{"requests": len(requests)}).Error("Every request in the batch failed")
	}
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, req models.ProviderRequest, callTimeout time.Duration) models.ProviderResult {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, callTimeout)
	}
	defer cancel()

	done := make(chan models.ProviderResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- models.Failure(req, fmt.Errorf("fetch panicked: %v", recovered), o.options.Now())
			}
		}()
		done <- o.fetcher.Fetch(callCtx, req)
	}()

	select {
	case result := <-done:
		return result
	case <-callCtx.Done():
		err := callCtx.Err()
		kind := models.ErrorKindCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			kind = models.ErrorKindTimeout
		}

		o.logger.WithFields(logger.Fields{
			"request": req.String(),
			"timeout": callTimeout.String(),
			"reason":  kind,
		}).Warn("Call abandoned")

		return models.Failure(req, &models.FetchError{Kind: kind, Message: "call abandoned", Err: err}, o.options.Now())
	}
}

// applyFallback fills a failed slot from the fallback source. Rejected
// requests and settled no-fallback answers are reported as they are.
func (o *Orchestrator) applyFallback(result models.ProviderResult) models.ProviderResult {
	if result.IsSuccess() || o.options.Fallback == nil {
		return result
	}
	if result.Reason == models.ErrorKindValidation || result.Reason == models.ErrorKindNoFallback {
		return result
	}

	data, err := o.options.Fallback.ResolveData(result.Request.Domain(), result.Request.DataKind())
	if err != nil {
		return result
	}

	o.logger.WithFields(logger.Fields{
		"request": result.Request.String(),
		"reason":  result.Reason,
	}).Warn("Serving fallback data")

	degraded := models.Success(result.Request, data, models.SourceFallback, o.options.Now())
	degraded.Reason = result.Reason
	degraded.LastAttempt = result.LastAttempt
	return degraded
}
