package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
)

// Settings shapes every bucket a Limiter hands out.
type Settings struct {
	Enabled        bool
	Capacity       int
	RefillInterval time.Duration
	// IdleTTL evicts buckets unused for this long. Zero keeps buckets for the
	// life of the process.
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
}

// OutboundSettings is one budget of capacity calls per window for each
// provider domain, kept for the process lifetime.
func OutboundSettings(capacity int, window time.Duration) Settings {
	if capacity <= 0 {
		capacity = 1
	}
	return Settings{
		Enabled:        true,
		Capacity:       capacity,
		RefillInterval: window / time.Duration(capacity),
	}
}

// InboundSettings limits clients by IP: a burst of RateLimitBurst requests
// refilled at RateLimitRequests per RateLimitWindow.
func InboundSettings(configuration *config.Config) Settings {
	requests := configuration.RateLimitRequests
	if requests <= 0 {
		requests = 1
	}
	return Settings{
		Enabled:         configuration.RateLimitEnabled,
		Capacity:        configuration.RateLimitBurst,
		RefillInterval:  configuration.RateLimitWindow / time.Duration(requests),
		IdleTTL:         24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Acquirer is anything that can block until an outbound call is allowed.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

type unlimited struct{}

func (unlimited) Acquire(ctx context.Context) error { return ctx.Err() }

// Unlimited never waits.
var Unlimited Acquirer = unlimited{}

// Limiter owns one token bucket per key.
type Limiter struct {
	settings Settings
	logger   logger.Logger

	// Map of key -> token bucket
	clientBuckets map[string]*TokenBucket
	bucketsMutex  sync.Mutex

	// Cleanup goroutine control
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewLimiter creates a new rate limiter. A cleanup goroutine runs only when
// settings.IdleTTL is set; call Stop to end it.
func NewLimiter(settings Settings, logger logger.Logger) *Limiter {
	if settings.Capacity <= 0 {
		settings.Capacity = 1
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	rateLimiter := &Limiter{
		settings:      settings,
		logger:        logger,
		clientBuckets: make(map[string]*TokenBucket),
		stopCleanup:   make(chan struct{}),
	}

	if settings.IdleTTL > 0 {
		interval := settings.CleanupInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		rateLimiter.cleanupTicker = time.NewTicker(interval)
		go rateLimiter.cleanup()
	}

	return rateLimiter
}

// Enabled reports whether the limiter enforces anything.
func (rateLimiter *Limiter) Enabled() bool {
	return rateLimiter.settings.Enabled
}

// Limit is the bucket capacity.
func (rateLimiter *Limiter) Limit() int {
	return rateLimiter.settings.Capacity
}

// Bucket returns the bucket for key, creating it full on first use.
func (rateLimiter *Limiter) Bucket(key string) *TokenBucket {
	rateLimiter.bucketsMutex.Lock()
	defer rateLimiter.bucketsMutex.Unlock()

	tokenBucket, bucketExists := rateLimiter.clientBuckets[key]
	if !bucketExists {
		tokenBucket = newTokenBucket(rateLimiter.settings.Capacity, rateLimiter.settings.RefillInterval, rateLimiter.settings.Now)
		rateLimiter.clientBuckets[key] = tokenBucket
	}
	return tokenBucket
}

// Allow takes a token for key without waiting.
func (rateLimiter *Limiter) Allow(key string) bool {
	if !rateLimiter.settings.Enabled {
		return true
	}
	return rateLimiter.Bucket(key).TryAcquire()
}

// Remaining reports the tokens left for key.
func (rateLimiter *Limiter) Remaining(key string) int {
	if !rateLimiter.settings.Enabled {
		return rateLimiter.settings.Capacity
	}
	return rateLimiter.Bucket(key).Available()
}

// ForDomain returns the shared outbound budget for a provider domain.
func (rateLimiter *Limiter) ForDomain(domain models.Domain) Acquirer {
	if !rateLimiter.settings.Enabled {
		return Unlimited
	}
	return &loggingAcquirer{bucket: rateLimiter.Bucket(string(domain)), domain: domain, logger: rateLimiter.logger}
}

type loggingAcquirer struct {
	bucket *TokenBucket
	domain models.Domain
	logger logger.Logger
}

func (acquirer *loggingAcquirer) Acquire(ctx context.Context) error {
	if acquirer.bucket.TryAcquire() {
		return nil
	}
	if acquirer.logger != nil {
		acquirer.logger.WithFields(logger.Fields{
			"domain": acquirer.domain,
			"wait":   acquirer.bucket.WaitInterval().String(),
		}).Debug("Provider budget exhausted, waiting for a token")
	}
	return acquirer.bucket.Acquire(ctx)
}

// GetClientIP extracts the real client IP from the request
func (rateLimiter *Limiter) GetClientIP(request *http.Request) string {
	// Check X-Forwarded-For header
	if xForwardedFor := request.Header.Get("X-Forwarded-For"); xForwardedFor != "" {
		// If multiple IPs, take the first one
		first := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0])
		if clientIP := net.ParseIP(first); clientIP != nil {
			return clientIP.String()
		}
		if host, _, err := net.SplitHostPort(first); err == nil {
			if clientIP := net.ParseIP(host); clientIP != nil {
				return clientIP.String()
			}
		}
	}

	// Check X-Real-IP header
	if xRealIP := request.Header.Get("X-Real-IP"); xRealIP != "" {
		if clientIP := net.ParseIP(xRealIP); clientIP != nil {
			return clientIP.String()
		}
	}

	// Fall back to RemoteAddr
	clientIP, _, parseError := net.SplitHostPort(request.RemoteAddr)
	if parseError != nil {
		return request.RemoteAddr
	}
	return clientIP
}

// Sweep removes buckets idle for longer than IdleTTL and reports how many.
func (rateLimiter *Limiter) Sweep() int {
	if rateLimiter.settings.IdleTTL <= 0 {
		return 0
	}

	rateLimiter.bucketsMutex.Lock()
	defer rateLimiter.bucketsMutex.Unlock()

	currentTime := rateLimiter.settings.Now()
	removed := 0
	for key, tokenBucket := range rateLimiter.clientBuckets {
		if currentTime.Sub(tokenBucket.idleSince()) > rateLimiter.settings.IdleTTL {
			delete(rateLimiter.clientBuckets, key)
			removed++
		}
	}
	return removed
}

// cleanup removes old buckets to prevent memory leaks
func (rateLimiter *Limiter) cleanup() {
	for {
		select {
		case <-rateLimiter.cleanupTicker.C:
			if removed := rateLimiter.Sweep(); removed > 0 && rateLimiter.logger != nil {
				rateLimiter.logger.Debugf("Evicted %d idle rate limit buckets", removed)
			}
		case <-rateLimiter.stopCleanup:
			rateLimiter.cleanupTicker.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rateLimiter *Limiter) Stop() {
	rateLimiter.stopOnce.Do(func() {
		close(rateLimiter.stopCleanup)
	})
}

func (rateLimiter *Limiter) size() int {
	rateLimiter.bucketsMutex.Lock()
	defer rateLimiter.bucketsMutex.Unlock()
	return len(rateLimiter.clientBuckets)
}
