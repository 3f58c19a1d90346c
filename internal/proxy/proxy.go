package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/allipceo/JeJuV2.0/internal/cache"
	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/fallback"
	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
)

const (
	msgMissingParams   = "서비스와 타입 파라미터가 필요합니다"
	msgUnknownService  = "지원하지 않는 서비스입니다"
	msgUnsupportedType = "지원하지 않는 API 타입입니다"

	exampleQuery = "/proxy?service=weather&type=current"
)

// Upstream performs the outbound call for one provider domain.
type Upstream interface {
	Call(ctx context.Context, url string) (json.RawMessage, error)
}

// Query is one proxy request. Params are extra filter parameters forwarded
// to the upstream and folded into the fingerprint.
type Query struct {
	Service string `validate:"required"`
	Type    string `validate:"required"`
	Params  map[string]string
}

// QueryFromValues reads service and type from values; every other key
// becomes a filter parameter.
func QueryFromValues(values url.Values) Query {
	query := Query{Service: values.Get("service"), Type: values.Get("type")}
	for key := range values {
		if key == "service" || key == "type" {
			continue
		}
		if query.Params == nil {
			query.Params = make(map[string]string)
		}
		query.Params[key] = values.Get(key)
	}
	return query
}

// Response is a fully rendered proxy answer.
type Response struct {
	Status int
	Body   json.RawMessage
	Source models.Source
}

// Options configures the proxy.
type Options struct {
	Providers       []config.Provider
	CacheTTL        time.Duration
	UpstreamTimeout time.Duration
	Now             func() time.Time
}

// Proxy is the single externally reachable provider endpoint. Every request
// ends in a response: cached, live, fallback or a structured error.
type Proxy struct {
	store     cache.Store
	resolver  *fallback.Resolver
	upstreams map[models.Domain]Upstream
	providers map[models.Domain]config.Provider
	allowed   []string
	options   Options
	validate  *validator.Validate
	group     singleflight.Group
	logger    logger.Logger
}

func New(store cache.Store, resolver *fallback.Resolver, upstreams map[models.Domain]Upstream, options Options, log logger.Logger) *Proxy {
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.UpstreamTimeout <= 0 {
		options.UpstreamTimeout = 10 * time.Second
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = 5 * time.Minute
	}

	providers := make(map[models.Domain]config.Provider, len(options.Providers))
	allowed := make([]string, 0, len(options.Providers))
	for _, provider := range options.Providers {
		providers[provider.Domain] = provider
		allowed = append(allowed, string(provider.Domain))
	}

	return &Proxy{
		store:     store,
		resolver:  resolver,
		upstreams: upstreams,
		providers: providers,
		allowed:   allowed,
		options:   options,
		validate:  validator.New(),
		logger:    log,
	}
}

// Allowed lists the accepted services.
func (p *Proxy) Allowed() []string {
	out := make([]string, len(p.allowed))
	copy(out, p.allowed)
	return out
}

// Handle runs one request through validate, cache, upstream and fallback.
func (p *Proxy) Handle(ctx context.Context, query Query) Response {
	if err := p.validate.Struct(query); err != nil {
		return p.reject(http.StatusBadRequest, models.ProxyError{
			Error:   msgMissingParams,
			Example: exampleQuery,
		})
	}

	provider, ok := p.providers[models.Domain(query.Service)]
	if !ok {
		return p.reject(http.StatusBadRequest, models.ProxyError{
			Error:   msgUnknownService,
			Allowed: p.Allowed(),
		})
	}
	domain := provider.Domain

	fingerprint := models.Fingerprint(domain, query.Type, query.Params)
	log := p.logger.WithFields(logger.Fields{
		"service":     query.Service,
		"type":        query.Type,
		"fingerprint": fingerprint,
	})

	if entry, ok := p.store.Get(ctx, fingerprint); ok {
		if response, err := p.fromCache(entry); err == nil {
			log.Debug("Serving cached response")
			return response
		}
		log.Warn("Cached record unreadable, refetching")
	}

	upstreamURL, ok := provider.URL(query.Type, query.Params)
	if !ok {
		return p.reject(http.StatusBadRequest, models.ProxyError{
			Error:   msgUnsupportedType,
			Service: query.Service,
			Type:    query.Type,
		})
	}

	// Concurrent misses for one fingerprint share a single upstream call.
	result, _, _ := p.group.Do(fingerprint, func() (interface{}, error) {
		return p.fetchLive(ctx, domain, upstreamURL, fingerprint, log), nil
	})
	if response, ok := result.(Response); ok && response.Status == http.StatusOK {
		return response
	}

	return p.serveFallback(domain, query.Type, log)
}

// Invalidate drops the cached record for a query.
func (p *Proxy) Invalidate(ctx context.Context, query Query) error {
	return p.store.Delete(ctx, models.Fingerprint(models.Domain(query.Service), query.Type, query.Params))
}

// fetchLive calls the upstream and persists the envelope. A non-200 status
// means the caller must fall back.
func (p *Proxy) fetchLive(ctx context.Context, domain models.Domain, upstreamURL, fingerprint string, log logger.Logger) Response {
	upstream, ok := p.upstreams[domain]
	if !ok {
		log.Error("No upstream client for domain")
		return Response{Status: http.StatusBadGateway}
	}

	// Waiters sharing this call must not lose it when the first caller leaves.
	upstreamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.options.UpstreamTimeout)
	defer cancel()

	data, err := upstream.Call(upstreamCtx, upstreamURL)
	if err != nil {
		log.WithFields(logger.Fields{
			"reason": models.KindOf(err),
			"error":  err.Error(),
		}).Warn("Upstream call failed")
		return Response{Status: http.StatusBadGateway}
	}

	body, err := json.Marshal(models.ProxyResponse{
		Success:   true,
		Data:      data,
		Cached:    false,
		Source:    models.SourceLive,
		Timestamp: p.options.Now().Unix(),
	})
	if err != nil {
		log.WithFields(logger.Fields{"error": err.Error()}).Error("Encoding live response failed")
		return Response{Status: http.StatusBadGateway}
	}

	if err := p.store.Put(upstreamCtx, fingerprint, body, p.options.CacheTTL); err != nil {
		log.WithFields(logger.Fields{"error": err.Error()}).Warn("Cache write failed")
	}

	return Response{Status: http.StatusOK, Body: body, Source: models.SourceLive}
}

func (p *Proxy) fromCache(entry models.CacheEntry) (Response, error) {
	var envelope models.ProxyResponse
	if err := json.Unmarshal(entry.Payload, &envelope); err != nil {
		return Response{}, fmt.Errorf("decode cached envelope: %w", err)
	}
	envelope.Cached = true
	envelope.Source = models.SourceCache

	body, err := json.Marshal(envelope)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusOK, Body: body, Source: models.SourceCache}, nil
}

func (p *Proxy) serveFallback(domain models.Domain, kind string, log logger.Logger) Response {
	raw, err := p.resolver.Resolve(domain, kind)
	if err != nil {
		log.Error("Upstream failed and no fallback is available")
		body, _ := json.Marshal(fallback.NoFallbackBody(domain, kind, p.options.Now()))
		return Response{Status: http.StatusBadGateway, Body: body}
	}

	var envelope models.ProxyResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.WithFields(logger.Fields{"error": err.Error()}).Error("Fallback payload unreadable")
		body, _ := json.Marshal(fallback.NoFallbackBody(domain, kind, p.options.Now()))
		return Response{Status: http.StatusBadGateway, Body: body}
	}
	envelope.Source = models.SourceFallback
	envelope.Timestamp = p.options.Now().Unix()

	body, _ := json.Marshal(envelope)
	log.Warn("Serving fallback data")
	return Response{Status: http.StatusOK, Body: body, Source: models.SourceFallback}
}

func (p *Proxy) reject(status int, body models.ProxyError) Response {
	body.Success = false
	body.Timestamp = p.options.Now().Unix()
	raw, _ := json.Marshal(body)
	return Response{Status: status, Body: raw}
}
