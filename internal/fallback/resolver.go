package fallback

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

// NoFallbackMessage is reported when the table has no entry.
const NoFallbackMessage = "해당 서비스의 폴백 데이터가 없습니다"

// Payload is the canned envelope for one (domain, kind) pair.
type Payload struct {
	Data    interface{}
	Message string
}

// Table maps domain and data kind to a canned payload.
type Table map[models.Domain]map[string]Payload

type key struct {
	domain models.Domain
	kind   string
}

// Resolver serves canned payloads when live data is unavailable. The table
// is encoded once at construction and never mutated, so Resolve returns
// identical bytes for identical inputs.
type Resolver struct {
	encoded  map[key][]byte
	messages map[key]string
}

// NewResolver builds the resolver over the default Jeju table. now fixes the
// validity window of time-relative entries such as weather alerts.
func NewResolver(now time.Time) (*Resolver, error) {
	return NewResolverFromTable(DefaultTable(now))
}

// NewResolverFromTable encodes table into a resolver.
func NewResolverFromTable(table Table) (*Resolver, error) {
	r := &Resolver{
		encoded:  make(map[key][]byte),
		messages: make(map[key]string),
	}

	for domain, kinds := range table {
		for kind, payload := range kinds {
			envelope := struct {
				Success  bool        `json:"success"`
				Data     interface{} `json:"data"`
				Fallback bool        `json:"fallback"`
				Message  string      `json:"message,omitempty"`
			}{true, payload.Data, true, payload.Message}

			raw, err := json.Marshal(envelope)
			if err != nil {
				return nil, fmt.Errorf("encode fallback %s/%s: %w", domain, kind, err)
			}
			k := key{domain, kind}
			r.encoded[k] = raw
			r.messages[k] = payload.Message
		}
	}
	return r, nil
}

// Resolve returns the canned envelope for (domain, kind) with the
// "fallback": true marker, or a FetchError of kind no_fallback_available.
func (r *Resolver) Resolve(domain models.Domain, kind string) (json.RawMessage, error) {
	raw, ok := r.encoded[key{domain, kind}]
	if !ok {
		return nil, &models.FetchError{
			Kind:    models.ErrorKindNoFallback,
			Message: fmt.Sprintf("no fallback for %s/%s", domain, kind),
		}
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

// ResolveData returns only the data member of the canned envelope.
func (r *Resolver) ResolveData(domain models.Domain, kind string) (json.RawMessage, error) {
	raw, err := r.Resolve(domain, kind)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Has reports whether the table holds (domain, kind).
func (r *Resolver) Has(domain models.Domain, kind string) bool {
	_, ok := r.encoded[key{domain, kind}]
	return ok
}

// Message returns the user-facing notice attached to an entry, if any.
func (r *Resolver) Message(domain models.Domain, kind string) string {
	return r.messages[key{domain, kind}]
}

// Entries lists every populated pair as "domain/kind", sorted.
func (r *Resolver) Entries() []string {
	out := make([]string, 0, len(r.encoded))
	for k := range r.encoded {
		out = append(out, string(k.domain)+"/"+k.kind)
	}
	sort.Strings(out)
	return out
}

// NoFallbackBody is the structured error returned when nothing can be served.
func NoFallbackBody(domain models.Domain, kind string, now time.Time) models.ProxyError {
	return models.ProxyError{
		Success:   false,
		Error:     NoFallbackMessage,
		Service:   string(domain),
		Type:      kind,
		Timestamp: now.Unix(),
	}
}
