package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/orchestrator"
)

const (
	BatchWeather       = "weather"
	BatchAviation      = "aviation"
	BatchTransport     = "transport"
	BatchAccommodation = "accommodation"
)

// ErrUnknownBatch is returned for batch names that were never registered.
var ErrUnknownBatch = errors.New("unknown batch")

// Batch is a named set of independent requests loaded together.
type Batch struct {
	Name        string
	Requests    []models.ProviderRequest
	CallTimeout time.Duration
}

// DefaultBatches returns the dashboard sections. Weather and accommodation
// calls get weatherTimeout, flight and transport calls transportTimeout.
func DefaultBatches(weatherTimeout, transportTimeout time.Duration) []Batch {
	return []Batch{
		{
			Name: BatchWeather,
			Requests: []models.ProviderRequest{
				models.NewProviderRequest(models.DomainWeather, "current", nil),
				models.NewProviderRequest(models.DomainWeather, "forecast", nil),
				models.NewProviderRequest(models.DomainWeather, "alerts", nil),
			},
			CallTimeout: weatherTimeout,
		},
		{
			Name: BatchAviation,
			Requests: []models.ProviderRequest{
				models.NewProviderRequest(models.DomainAviation, "arrivals", nil),
				models.NewProviderRequest(models.DomainAviation, "departures", nil),
			},
			CallTimeout: transportTimeout,
		},
		{
			Name: BatchTransport,
			Requests: []models.ProviderRequest{
				models.NewProviderRequest(models.DomainTraffic, "info", nil),
				models.NewProviderRequest(models.DomainBus, "routes", nil),
				models.NewProviderRequest(models.DomainFerry, "schedules", nil),
			},
			CallTimeout: transportTimeout,
		},
		{
			Name: BatchAccommodation,
			Requests: []models.ProviderRequest{
				models.NewProviderRequest(models.DomainAccommodation, "list", nil),
			},
			CallTimeout: weatherTimeout,
		},
	}
}

// Renderer consumes a settled batch.
type Renderer interface {
	Render(result models.BatchResult)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(result models.BatchResult)

func (f RenderFunc) Render(result models.BatchResult) {
	f(result)
}

// Dashboard loads named batches through the orchestrator.
type Dashboard struct {
	orchestrator *orchestrator.Orchestrator
	batches      map[string]Batch
	order        []string
	now          func() time.Time
	logger       logger.Logger
}

// NewDashboard registers batches in the given order.
func NewDashboard(fetcher orchestrator.Fetcher, batches []Batch, options orchestrator.Options, log logger.Logger) *Dashboard {
	if options.Now == nil {
		options.Now = time.Now
	}
	dashboard := &Dashboard{
		orchestrator: orchestrator.New(fetcher, options, log),
		batches:      make(map[string]Batch, len(batches)),
		now:          options.Now,
		logger:       log,
	}
	for _, batch := range batches {
		if _, exists := dashboard.batches[batch.Name]; !exists {
			dashboard.order = append(dashboard.order, batch.Name)
		}
		dashboard.batches[batch.Name] = batch
	}
	return dashboard
}

// Batches lists registered batch names in registration order.
func (dashboard *Dashboard) Batches() []string {
	return append([]string(nil), dashboard.order...)
}

// Has reports whether name is registered.
func (dashboard *Dashboard) Has(name string) bool {
	_, ok := dashboard.batches[name]
	return ok
}

// Load runs one batch and waits until every slot has settled.
func (dashboard *Dashboard) Load(ctx context.Context, name string) (models.BatchResult, error) {
	batch, ok := dashboard.batches[name]
	if !ok {
		return models.BatchResult{}, fmt.Errorf("%w: %s", ErrUnknownBatch, name)
	}

	started := dashboard.now()
	results := dashboard.orchestrator.Run(ctx, batch.Requests, batch.CallTimeout)
	result := models.NewBatchResult(name, results, dashboard.now())

	dashboard.logger.WithFields(logger.Fields{
		"batch":     name,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"degraded":  result.Degraded,
		"duration":  dashboard.now().Sub(started).String(),
	}).Info("Batch loaded")

	return result, nil
}

// Refresh loads a batch and hands the result to renderer.
func (dashboard *Dashboard) Refresh(ctx context.Context, name string, renderer Renderer) error {
	result, err := dashboard.Load(ctx, name)
	if err != nil {
		return err
	}
	renderer.Render(result)
	return nil
}

// RefreshAll loads every batch concurrently and renders each as it settles.
func (dashboard *Dashboard) RefreshAll(ctx context.Context, renderer Renderer) {
	var waitGroup sync.WaitGroup
	for _, name := range dashboard.order {
		waitGroup.Add(1)
		go func(name string) {
			defer waitGroup.Done()
			_ = dashboard.Refresh(ctx, name, renderer)
		}(name)
	}
	waitGroup.Wait()
}

// Board is a Renderer that keeps the latest result of every batch.
type Board struct {
	mutex  sync.RWMutex
	latest map[string]models.BatchResult
}

func NewBoard() *Board {
	return &Board{latest: make(map[string]models.BatchResult)}
}

// Render stores result unless a newer one for the batch is already held.
func (board *Board) Render(result models.BatchResult) {
	board.mutex.Lock()
	defer board.mutex.Unlock()

	if current, ok := board.latest[result.Batch]; ok && current.GeneratedAt.After(result.GeneratedAt) {
		return
	}
	board.latest[result.Batch] = result
}

// Latest returns the most recent result for batch.
func (board *Board) Latest(batch string) (models.BatchResult, bool) {
	board.mutex.RLock()
	defer board.mutex.RUnlock()
	result, ok := board.latest[batch]
	return result, ok
}

// Batches lists the batches rendered so far, sorted by name.
func (board *Board) Batches() []string {
	board.mutex.RLock()
	defer board.mutex.RUnlock()

	names := make([]string, 0, len(board.latest))
	for name := range board.latest {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
