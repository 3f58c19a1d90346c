package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/fallback"
	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/orchestrator"
	"github.com/allipceo/JeJuV2.0/internal/platform"
	"github.com/allipceo/JeJuV2.0/internal/ratelimit"
	"github.com/allipceo/JeJuV2.0/internal/scheduler"
	"github.com/allipceo/JeJuV2.0/internal/service"
)

// DashboardConfig holds the command line options.
type DashboardConfig struct {
	URL      string
	Batches  string
	Watch    time.Duration
	Deadline time.Duration
	Offline  bool
	LogLevel string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var options DashboardConfig
	flag.StringVar(&options.URL, "url", cfg.ProxyBaseURL, "Base URL of the aggregation server")
	flag.StringVar(&options.Batches, "batches", "", "Comma separated batches to load (default: all)")
	flag.DurationVar(&options.Watch, "watch", 0, "Refresh interval (0 = load once and exit)")
	flag.DurationVar(&options.Deadline, "deadline", 30*time.Second, "Upper bound for one load of all batches")
	flag.BoolVar(&options.Offline, "offline-fallback", true, "Fill failed slots from the built-in fallback table")
	flag.StringVar(&options.LogLevel, "log-level", "error", "Log level")
	flag.Parse()

	cfg.ProxyBaseURL = options.URL
	appLogger := logger.New(options.LogLevel)

	var fallbackSource orchestrator.FallbackSource
	if options.Offline {
		resolver, err := fallback.NewResolver(time.Now())
		if err != nil {
			appLogger.Fatalf("Failed to build fallback table: %v", err)
		}
		fallbackSource = resolver
	}

	limiter := ratelimit.NewLimiter(ratelimit.OutboundSettings(cfg.ProviderRateLimit, cfg.ProviderRateWindow), appLogger)
	defer limiter.Stop()

	services := service.NewServices(cfg, service.NewHTTPClient(cfg.ClientHTTPTimeout), limiter, nil, appLogger)
	dashboard := service.NewDashboard(services,
		service.DefaultBatches(cfg.WeatherCallTimeout, cfg.TransportCallTimeout),
		orchestrator.Options{MaxConcurrent: cfg.MaxConcurrentRequests, Fallback: fallbackSource},
		appLogger)

	batches, err := selectBatches(dashboard.Batches(), options.Batches)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	table := &tablePrinter{out: os.Stdout, now: time.Now}

	if options.Watch <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), options.Deadline)
		defer cancel()
		loadAll(ctx, dashboard, batches, table)
		return
	}

	ctx, stop := platform.NewShutdownContext(context.Background())
	defer stop()

	jobs := scheduler.New(appLogger)
	err = jobs.Every("dashboard", options.Watch, func(jobCtx context.Context) {
		loadCtx, cancel := context.WithTimeout(jobCtx, options.Deadline)
		defer cancel()
		services.Clear()
		loadAll(loadCtx, dashboard, batches, table)
	})
	if err != nil {
		appLogger.Fatalf("Failed to schedule refresh: %v", err)
	}
	jobs.Start()

	<-ctx.Done()
	jobs.Stop()
}

// loadAll loads batches concurrently and prints them in the requested order.
func loadAll(ctx context.Context, dashboard *service.Dashboard, batches []string, table *tablePrinter) {
	results := make([]models.BatchResult, len(batches))
	var waitGroup sync.WaitGroup
	for i, batch := range batches {
		waitGroup.Add(1)
		go func(i int, batch string) {
			defer waitGroup.Done()
			_ = dashboard.Refresh(ctx, batch, service.RenderFunc(func(result models.BatchResult) {
				results[i] = result
			}))
		}(i, batch)
	}
	waitGroup.Wait()

	for _, result := range results {
		table.Render(result)
	}
}

// selectBatches validates a comma separated selection against known batches.
func selectBatches(known []string, selection string) ([]string, error) {
	if strings.TrimSpace(selection) == "" {
		return known, nil
	}

	valid := make(map[string]bool, len(known))
	for _, name := range known {
		valid[name] = true
	}

	var batches []string
	for _, name := range strings.Split(selection, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !valid[name] {
			return nil, fmt.Errorf("unknown batch %q (known: %s)", name, strings.Join(known, ", "))
		}
		batches = append(batches, name)
	}
	return batches, nil
}
