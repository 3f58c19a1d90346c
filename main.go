package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/allipceo/JeJuV2.0/internal/accommodation"
	"github.com/allipceo/JeJuV2.0/internal/api"
	"github.com/allipceo/JeJuV2.0/internal/cache"
	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/fallback"
	"github.com/allipceo/JeJuV2.0/internal/fetch"
	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/orchestrator"
	"github.com/allipceo/JeJuV2.0/internal/platform"
	"github.com/allipceo/JeJuV2.0/internal/proxy"
	"github.com/allipceo/JeJuV2.0/internal/ratelimit"
	"github.com/allipceo/JeJuV2.0/internal/scheduler"
	"github.com/allipceo/JeJuV2.0/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := newStore(cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to open %s cache: %v", cfg.CacheBackend, err)
	}
	defer closeStore()

	resolver, err := fallback.NewResolver(time.Now())
	if err != nil {
		appLogger.Fatalf("Failed to build fallback table: %v", err)
	}

	// Server side: one outbound budget and breaker per provider domain.
	outbound := ratelimit.NewLimiter(ratelimit.OutboundSettings(cfg.ProviderRateLimit, cfg.ProviderRateWindow), appLogger)
	upstreamHTTP := service.NewHTTPClient(cfg.ProxyUpstreamTimeout)
	upstreams := make(map[models.Domain]proxy.Upstream, len(cfg.Providers()))
	for _, provider := range cfg.Providers() {
		upstreams[provider.Domain] = fetch.New(upstreamHTTP, outbound.ForDomain(provider.Domain), fetch.Options{
			Name:        "upstream/" + string(provider.Domain),
			MaxAttempts: cfg.ProxyUpstreamAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Breaker: &fetch.BreakerSettings{
				MaxFailures: cfg.BreakerMaxFailures,
				Interval:    cfg.BreakerInterval,
				OpenTimeout: cfg.BreakerOpenTimeout,
			},
		}, appLogger)
	}

	proxyHandler := proxy.New(store, resolver, upstreams, proxy.Options{
		Providers:       cfg.Providers(),
		CacheTTL:        cfg.ProxyCacheTTL,
		UpstreamTimeout: cfg.ProxyUpstreamTimeout,
	}, appLogger)

	// Client side: the dashboard reads through the proxy like a browser would,
	// under its own per-domain budget.
	clientLimiter := ratelimit.NewLimiter(ratelimit.OutboundSettings(cfg.ProviderRateLimit, cfg.ProviderRateWindow), appLogger)
	services := service.NewServices(cfg, service.NewHTTPClient(cfg.ClientHTTPTimeout), clientLimiter, nil, appLogger)
	dashboard := service.NewDashboard(services,
		service.DefaultBatches(cfg.WeatherCallTimeout, cfg.TransportCallTimeout),
		orchestrator.Options{MaxConcurrent: cfg.MaxConcurrentRequests, Fallback: resolver},
		appLogger)
	board := service.NewBoard()

	inbound := ratelimit.NewLimiter(ratelimit.InboundSettings(cfg), appLogger)

	handlers := api.NewHandlers(api.HandlerConfig{
		Logger:         appLogger,
		Proxy:          proxyHandler,
		Catalog:        accommodation.NewCatalog(accommodation.DefaultListings(), nil, nil),
		Dashboard:      dashboard,
		Board:          board,
		RateLimiter:    inbound,
		OverviewMaxAge: cfg.ClientWeatherTTL,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProxyUpstreamTimeout + 15*time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		appLogger.Fatalf("Failed to listen on port %s: %v", cfg.Port, err)
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":    cfg.Port,
			"cache":   cfg.CacheBackend,
			"refresh": cfg.RefreshEnabled,
		}).Info("Starting Jeju aggregation server")
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	jobs, err := scheduleJobs(cfg, store, dashboard, board, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to schedule jobs: %v", err)
	}
	jobs.Start()

	// Create a shutdown context that works across platforms
	shutdownCtx, stop := platform.NewShutdownContext(context.Background())
	defer stop()
	<-shutdownCtx.Done()

	appLogger.Info("Shutting down server...")

	jobs.Stop()
	inbound.Stop()
	outbound.Stop()
	clientLimiter.Stop()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exited")
}

// newStore opens the configured proxy cache backend.
func newStore(cfg *config.Config, log logger.Logger) (cache.Store, func(), error) {
	noop := func() {}

	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemoryStore(nil), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping %s: %w", cfg.RedisAddr, err)
		}
		store, err := cache.NewRedisStore(client, cache.DefaultRedisPrefix, nil, log)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		store, err := cache.NewFileStore(cfg.CacheDir, nil)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// scheduleJobs registers the cache sweep and, when enabled, the dashboard
// refreshes that keep the board warm.
func scheduleJobs(cfg *config.Config, store cache.Store, dashboard *service.Dashboard, board *service.Board, log logger.Logger) (*scheduler.Scheduler, error) {
	jobs := scheduler.New(log)

	err := jobs.Every("cache-sweep", cfg.CacheSweepInterval, func(ctx context.Context) {
		removed, err := store.Sweep(ctx)
		if err != nil {
			log.Warnf("Cache sweep failed: %v", err)
			return
		}
		if removed > 0 {
			log.WithFields(logger.Fields{"removed": removed}).Info("Expired cache records removed")
		}
	})
	if err != nil {
		return nil, err
	}

	if !cfg.RefreshEnabled {
		return jobs, nil
	}

	refresh := func(batches ...string) scheduler.Job {
		return func(ctx context.Context) {
			for _, batch := range batches {
				if err := dashboard.Refresh(ctx, batch, board); err != nil {
					log.WithFields(logger.Fields{"batch": batch}).Warnf("Refresh failed: %v", err)
				}
			}
		}
	}

	if err := jobs.Every("weather-refresh", cfg.WeatherRefreshInterval, refresh(service.BatchWeather)); err != nil {
		return nil, err
	}
	if err := jobs.Every("transport-refresh", cfg.TransportRefreshInterval,
		refresh(service.BatchAviation, service.BatchTransport, service.BatchAccommodation)); err != nil {
		return nil, err
	}
	return jobs, nil
}
