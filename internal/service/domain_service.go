package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/allipceo/JeJuV2.0/internal/cache"
	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/fetch"
	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/ratelimit"
)

// Caller performs one resilient GET and returns the JSON body.
type Caller interface {
	Call(ctx context.Context, url string) (json.RawMessage, error)
}

// envelope is the shape shared by the proxy and the accommodation endpoint.
type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	Fallback bool            `json:"fallback"`
	Cached   bool            `json:"cached"`
}

// DefaultCallTimeout bounds a shared remote load when none is configured.
const DefaultCallTimeout = 15 * time.Second

// DomainService is the client-side façade for one domain: a process cache in
// front of a resilient call to the proxy.
type DomainService struct {
	domain      models.Domain
	baseURL     string
	caller      Caller
	store       *cache.MemoryStore
	ttl         time.Duration
	callTimeout time.Duration
	now         func() time.Time
	logger      logger.Logger

	singleFlightGroup singleflight.Group
}

// NewDomainService builds a service reading domain data from baseURL. A
// remote load shared by concurrent callers runs for at most callTimeout.
func NewDomainService(domain models.Domain, baseURL string, caller Caller, ttl, callTimeout time.Duration, now func() time.Time, log logger.Logger) *DomainService {
	if now == nil {
		now = time.Now
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &DomainService{
		domain:      domain,
		baseURL:     strings.TrimRight(baseURL, "/"),
		caller:      caller,
		store:       cache.NewMemoryStore(now),
		ttl:         ttl,
		callTimeout: callTimeout,
		now:         now,
		logger:      log.WithFields(logger.Fields{"domain": string(domain)}),
	}
}

// Domain returns the domain served.
func (domainService *DomainService) Domain() models.Domain {
	return domainService.domain
}

// URL returns the endpoint queried for req.
func (domainService *DomainService) URL(req models.ProviderRequest) string {
	query := url.Values{}
	for key, value := range req.Params() {
		query.Set(key, value)
	}

	if domainService.domain == models.DomainAccommodation {
		query.Set("action", req.DataKind())
		return domainService.baseURL + "/accommodation-api?" + query.Encode()
	}

	query.Set("service", string(req.Domain()))
	query.Set("type", req.DataKind())
	return domainService.baseURL + "/proxy?" + query.Encode()
}

// Fetch serves req from the process cache or the remote endpoint. Fallback
// envelopes become degraded successes and are never cached here. Concurrent
// misses share one load that does not inherit any caller's deadline; ctx only
// bounds how long this caller waits for it.
func (domainService *DomainService) Fetch(ctx context.Context, req models.ProviderRequest) models.ProviderResult {
	if req.Domain() != domainService.domain {
		return models.Failure(req, models.NewFetchError(models.ErrorKindValidation,
			"request domain "+string(req.Domain())+" not served by "+string(domainService.domain), nil), domainService.now())
	}

	fingerprint := req.Fingerprint()
	if entry, ok := domainService.store.Get(ctx, fingerprint); ok {
		domainService.logger.WithFields(logger.Fields{"request": req.String()}).Debug("Serving from process cache")
		return models.Success(req, entry.Payload, models.SourceCache, entry.StoredAt)
	}

	resultChannel := domainService.singleFlightGroup.DoChan(fingerprint, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), domainService.callTimeout)
		defer cancel()
		return domainService.load(loadCtx, req), nil
	})

	select {
	case <-ctx.Done():
		return models.Failure(req, ctx.Err(), domainService.now())
	case shared := <-resultChannel:
		result := shared.Val.(models.ProviderResult)
		result.Request = req
		return result
	}
}

func (domainService *DomainService) load(ctx context.Context, req models.ProviderRequest) models.ProviderResult {
	log := domainService.logger.WithFields(logger.Fields{"request": req.String()})

	body, err := domainService.caller.Call(ctx, domainService.URL(req))
	if err != nil {
		if rejected := rejection(err); rejected != nil {
			err = rejected
		}
		log.WithFields(logger.Fields{"reason": string(models.KindOf(err))}).Warnf("Remote call failed: %v", err)
		return models.Failure(req, err, domainService.now())
	}

	var reply envelope
	if err := json.Unmarshal(body, &reply); err != nil {
		return models.Failure(req, models.NewFetchError(models.ErrorKindUpstreamUnavailable, "invalid envelope", err), domainService.now())
	}
	if !reply.Success {
		message := reply.Error
		if message == "" {
			message = "request rejected"
		}
		return models.Failure(req, models.NewFetchError(models.ErrorKindValidation, message, nil), domainService.now())
	}

	if reply.Fallback {
		log.Info("Proxy answered with fallback data")
		result := models.Success(req, reply.Data, models.SourceFallback, domainService.now())
		result.Reason = models.ErrorKindUpstreamUnavailable
		return result
	}

	if err := domainService.store.Put(ctx, req.Fingerprint(), reply.Data, domainService.ttl); err != nil {
		log.Warnf("Failed to cache result: %v", err)
	}

	source := models.SourceLive
	if reply.Cached {
		source = models.SourceCache
	}
	return models.Success(req, reply.Data, source, domainService.now())
}

// rejection turns an error envelope carried by a non-2xx reply into a
// classified failure. It returns nil when err carries no such envelope.
func rejection(err error) *models.FetchError {
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) || len(statusErr.Body) == 0 {
		return nil
	}

	var reply envelope
	if json.Unmarshal(statusErr.Body, &reply) != nil || reply.Success || reply.Error == "" {
		return nil
	}

	kind := models.ErrorKindUpstreamUnavailable
	switch {
	case statusErr.StatusCode == http.StatusBadGateway:
		kind = models.ErrorKindNoFallback
	case statusErr.StatusCode == http.StatusTooManyRequests:
		kind = models.ErrorKindRateLimited
	case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
		kind = models.ErrorKindValidation
	}

	rejected := &models.FetchError{Kind: kind, Message: reply.Error, Err: statusErr}
	var fetchErr *models.FetchError
	if errors.As(err, &fetchErr) {
		rejected.Attempts = fetchErr.Attempts
	}
	return rejected
}

// Invalidate drops the cached result for req so the next Fetch goes remote.
func (domainService *DomainService) Invalidate(ctx context.Context, req models.ProviderRequest) error {
	return domainService.store.Delete(ctx, req.Fingerprint())
}

// Clear drops every cached result of the domain.
func (domainService *DomainService) Clear() {
	domainService.store.Clear()
}

// Cached reports how many results are held.
func (domainService *DomainService) Cached() int {
	return domainService.store.Len()
}

// Services routes requests to the DomainService of their domain.
type Services struct {
	domains map[models.Domain]*DomainService
	now     func() time.Time
}

var errUnknownDomain = errors.New("no service for domain")

// Service returns the DomainService of domain.
func (services Services) Service(domain models.Domain) (*DomainService, bool) {
	domainService, ok := services.domains[domain]
	return domainService, ok
}

// Fetch implements orchestrator.Fetcher.
func (services Services) Fetch(ctx context.Context, req models.ProviderRequest) models.ProviderResult {
	domainService, ok := services.domains[req.Domain()]
	if !ok {
		now := services.now
		if now == nil {
			now = time.Now
		}
		return models.Failure(req, models.NewFetchError(models.ErrorKindValidation, string(req.Domain()), errUnknownDomain), now())
	}
	return domainService.Fetch(ctx, req)
}

// Clear empties every process cache.
func (services Services) Clear() {
	for _, domainService := range services.domains {
		domainService.Clear()
	}
}

// NewHTTPClient returns a pooled client bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	httpTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: httpTransport}
}

// NewServices builds one DomainService per known domain against
// configuration.ProxyBaseURL. Every client of a domain draws from the same
// limiter bucket; a nil limiter leaves calls unthrottled. A nil now uses
// time.Now.
func NewServices(configuration *config.Config, httpClient *http.Client, limiter *ratelimit.Limiter, now func() time.Time, log logger.Logger) Services {
	if now == nil {
		now = time.Now
	}
	services := Services{
		domains: make(map[models.Domain]*DomainService, len(models.AllDomains)),
		now:     now,
	}
	for _, domain := range models.AllDomains {
		var acquirer ratelimit.Acquirer = ratelimit.Unlimited
		if limiter != nil {
			acquirer = limiter.ForDomain(domain)
		}

		client := fetch.New(httpClient, acquirer, fetch.Options{
			Name:        "client/" + string(domain),
			MaxAttempts: configuration.RetryAttempts,
			BaseDelay:   configuration.RetryBaseDelay,
			Breaker: &fetch.BreakerSettings{
				MaxFailures: configuration.BreakerMaxFailures,
				Interval:    configuration.BreakerInterval,
				OpenTimeout: configuration.BreakerOpenTimeout,
			},
		}, log)

		services.domains[domain] = NewDomainService(domain, configuration.ProxyBaseURL, client,
			configuration.ClientTTL(domain), configuration.ClientHTTPTimeout, now, log)
	}
	return services
}
