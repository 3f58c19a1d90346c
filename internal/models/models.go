package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Domain is a top-level provider category.
type Domain string

const (
	DomainWeather       Domain = "weather"
	DomainAviation      Domain = "aviation"
	DomainTraffic       Domain = "traffic"
	DomainBus           Domain = "bus"
	DomainFerry         Domain = "ferry"
	DomainTourism       Domain = "tourism"
	DomainAccommodation Domain = "accommodation"
)

// AllDomains lists every known domain in display order.
var AllDomains = []Domain{
	DomainWeather,
	DomainAviation,
	DomainTraffic,
	DomainBus,
	DomainFerry,
	DomainTourism,
	DomainAccommodation,
}

// ParseDomain returns the Domain named by s.
func ParseDomain(s string) (Domain, bool) {
	for _, domain := range AllDomains {
		if string(domain) == s {
			return domain, true
		}
	}
	return "", false
}

// IsTransport reports whether the domain carries schedule or traffic data.
func (d Domain) IsTransport() bool {
	switch d {
	case DomainAviation, DomainTraffic, DomainBus, DomainFerry:
		return true
	}
	return false
}

// Source tells the consumer which layer produced a successful result.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// ProviderRequest identifies one provider query. It is immutable once built:
// the params map is copied on the way in and on the way out.
type ProviderRequest struct {
	domain   Domain
	dataKind string
	params   map[string]string
}

// NewProviderRequest builds a request, copying params.
func NewProviderRequest(domain Domain, dataKind string, params map[string]string) ProviderRequest {
	var copied map[string]string
	if len(params) > 0 {
		copied = make(map[string]string, len(params))
		for k, v := range params {
			copied[k] = v
		}
	}
	return ProviderRequest{domain: domain, dataKind: dataKind, params: copied}
}

func (r ProviderRequest) Domain() Domain   { return r.domain }
func (r ProviderRequest) DataKind() string { return r.dataKind }

// Params returns a copy of the filter parameters.
func (r ProviderRequest) Params() map[string]string {
	out := make(map[string]string, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// Fingerprint is the cache key for this request.
func (r ProviderRequest) Fingerprint() string {
	return Fingerprint(r.domain, r.dataKind, r.params)
}

func (r ProviderRequest) String() string {
	return fmt.Sprintf("%s/%s", r.domain, r.dataKind)
}

// MarshalJSON exposes the request fields for result payloads.
func (r ProviderRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Domain   Domain            `json:"domain"`
		DataKind string            `json:"type"`
		Params   map[string]string `json:"params,omitempty"`
	}{r.domain, r.dataKind, r.params})
}

// Fingerprint derives a deterministic key from domain, data kind and filter
// parameters. Without parameters it is md5("domain_kind"), the layout used by
// the on-disk proxy cache.
func Fingerprint(domain Domain, dataKind string, params map[string]string) string {
	raw := string(domain) + "_" + dataKind
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+params[k])
		}
		raw += "?" + strings.Join(pairs, "&")
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ResultStatus is the tag of the ProviderResult union.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// ProviderResult is either a Success carrying data or a Failure carrying a
// reason. Reason is also set on fallback successes to record why live data
// was replaced.
type ProviderResult struct {
	Request     ProviderRequest `json:"request"`
	Status      ResultStatus    `json:"status"`
	Data        json.RawMessage `json:"data,omitempty"`
	Source      Source          `json:"source,omitempty"`
	FetchedAt   time.Time       `json:"fetchedAt,omitempty"`
	Reason      ErrorKind       `json:"reason,omitempty"`
	LastAttempt time.Time       `json:"lastAttempt,omitempty"`
	Err         error           `json:"-"`
}

// Success builds a successful result.
func Success(req ProviderRequest, data json.RawMessage, source Source, fetchedAt time.Time) ProviderResult {
	return ProviderResult{
		Request:   req,
		Status:    StatusSuccess,
		Data:      data,
		Source:    source,
		FetchedAt: fetchedAt,
	}
}

// Failure builds a failed result from err.
func Failure(req ProviderRequest, err error, lastAttempt time.Time) ProviderResult {
	return ProviderResult{
		Request:     req,
		Status:      StatusFailure,
		Reason:      KindOf(err),
		LastAttempt: lastAttempt,
		Err:         err,
	}
}

// IsSuccess reports whether the result carries data.
func (r ProviderResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// IsDegraded reports whether the data came from the fallback table.
func (r ProviderResult) IsDegraded() bool {
	return r.IsSuccess() && r.Source == SourceFallback
}

// BatchResult is what the orchestrator hands to a renderer: one result per
// request, in request order.
type BatchResult struct {
	Batch       string           `json:"batch"`
	Results     []ProviderResult `json:"results"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Degraded    int              `json:"degraded"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// NewBatchResult tallies results.
func NewBatchResult(batch string, results []ProviderResult, generatedAt time.Time) BatchResult {
	out := BatchResult{Batch: batch, Results: results, GeneratedAt: generatedAt}
	for _, result := range results {
		switch {
		case result.IsDegraded():
			out.Succeeded++
			out.Degraded++
		case result.IsSuccess():
			out.Succeeded++
		default:
			out.Failed++
		}
	}
	return out
}

// CacheEntry is a time-boxed provider payload.
type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	StoredAt    time.Time       `json:"stored_at"`
	TTL         time.Duration   `json:"ttl"`
}

// Valid reports whether the entry is still fresh at now.
func (e CacheEntry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// ProxyResponse is the envelope served by the proxy endpoint.
type ProxyResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Fallback  bool            `json:"fallback,omitempty"`
	Cached    bool            `json:"cached"`
	Source    Source          `json:"source,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ProxyError is the structured body for rejected or unanswerable proxy
// requests.
type ProxyError struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error"`
	Example   string   `json:"example,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
	Service   string   `json:"service,omitempty"`
	Type      string   `json:"type,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type HealthCheck struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
