package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

// Store is a time-boxed payload cache addressed by request fingerprint.
// Get never returns an expired entry. Put overwrites unconditionally.
type Store interface {
	Get(ctx context.Context, fingerprint string) (models.CacheEntry, bool)
	Put(ctx context.Context, fingerprint string, payload json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, fingerprint string) error
	// Sweep removes expired entries and reports how many were dropped.
	Sweep(ctx context.Context) (int, error)
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func clonePayload(payload json.RawMessage) json.RawMessage {
	if payload == nil {
		return nil
	}
	out := make(json.RawMessage, len(payload))
	copy(out, payload)
	return out
}
