package api

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allipceo/JeJuV2.0/internal/accommodation"
	"github.com/allipceo/JeJuV2.0/internal/cache"
	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/fallback"
	"github.com/allipceo/JeJuV2.0/internal/fetch"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/orchestrator"
	"github.com/allipceo/JeJuV2.0/internal/proxy"
	"github.com/allipceo/JeJuV2.0/internal/ratelimit"
	"github.com/allipceo/JeJuV2.0/internal/service"
	"github.com/allipceo/JeJuV2.0/internal/testutils"
)

// IntegrationTestSuite wires provider stub, proxy server and client services
// the way the binaries do.
type IntegrationTestSuite struct {
	upstream  *testutils.StubUpstream
	server    *httptest.Server
	config    *config.Config
	limiter   *ratelimit.Limiter
	services  service.Services
	dashboard *service.Dashboard

	serverRequests int64
}

func NewIntegrationTestSuite(t *testing.T) *IntegrationTestSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := testutils.NewStubUpstream()
	cfg := testutils.MockConfig(upstream.URL())
	log := testutils.MockLogger()

	resolver, err := fallback.NewResolver(time.Now())
	require.NoError(t, err)

	upstreams := make(map[models.Domain]proxy.Upstream)
	for _, provider := range cfg.Providers() {
		upstreams[provider.Domain] = fetch.New(&http.Client{}, nil, fetch.Options{
			Name:        "upstream/" + string(provider.Domain),
			MaxAttempts: cfg.ProxyUpstreamAttempts,
		}, log)
	}
	proxyHandler := proxy.New(cache.NewMemoryStore(nil), resolver, upstreams, proxy.Options{
		Providers:       cfg.Providers(),
		CacheTTL:        cfg.ProxyCacheTTL,
		UpstreamTimeout: 500 * time.Millisecond,
	}, log)

	handlers := NewHandlers(HandlerConfig{
		Logger:  log,
		Proxy:   proxyHandler,
		Catalog: accommodation.NewCatalog(accommodation.DefaultListings(), nil, rand.New(rand.NewSource(1))),
	})

	suite := &IntegrationTestSuite{upstream: upstream, config: cfg}

	routes := handlers.SetupRoutes()
	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&suite.serverRequests, 1)
		routes.ServeHTTP(w, r)
	}))

	cfg.ProxyBaseURL = suite.server.URL
	suite.limiter = ratelimit.NewLimiter(ratelimit.OutboundSettings(cfg.ProviderRateLimit, cfg.ProviderRateWindow), log)
	suite.services = service.NewServices(cfg, service.NewHTTPClient(2*time.Second), suite.limiter, nil, log)
	suite.dashboard = service.NewDashboard(suite.services,
		service.DefaultBatches(time.Second, time.Second),
		orchestrator.Options{MaxConcurrent: cfg.MaxConcurrentRequests},
		log)

	t.Cleanup(suite.Close)
	return suite
}

// Close cleans up the test suite
func (its *IntegrationTestSuite) Close() {
	its.limiter.Stop()
	its.server.Close()
	its.upstream.Close()
}

// ServerRequests returns how many requests reached the aggregation server.
func (its *IntegrationTestSuite) ServerRequests() int64 {
	return atomic.LoadInt64(&its.serverRequests)
}

func TestIntegration_DashboardThroughProxy(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	result, err := suite.dashboard.Load(context.Background(), service.BatchTransport)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Zero(t, result.Degraded)
	for _, slot := range result.Results {
		assert.Equal(t, models.SourceLive, slot.Source, slot.Request.String())
	}
	assert.Equal(t, int64(3), suite.upstream.Calls())

	again, err := suite.dashboard.Load(context.Background(), service.BatchTransport)
	require.NoError(t, err)
	for _, slot := range again.Results {
		assert.Equal(t, models.SourceCache, slot.Source, "served by the client process cache")
	}
	assert.Equal(t, int64(3), suite.upstream.Calls())
}

func TestIntegration_ClientCacheClearedHitsProxyCache(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	_, err := suite.dashboard.Load(context.Background(), service.BatchWeather)
	require.NoError(t, err)
	suite.services.Clear()

	result, err := suite.dashboard.Load(context.Background(), service.BatchWeather)
	require.NoError(t, err)

	for _, slot := range result.Results {
		assert.Equal(t, models.SourceCache, slot.Source, "proxy reports its own cache hit")
	}
	assert.Equal(t, int64(3), suite.upstream.Calls(), "upstream is not called again")
}

func TestIntegration_UpstreamOutageDegrades(t *testing.T) {
	suite := NewIntegrationTestSuite(t)
	suite.upstream.SetMode(testutils.ModeFail)

	result, err := suite.dashboard.Load(context.Background(), service.BatchAviation)
	require.NoError(t, err)

	arrivals, departures := result.Results[0], result.Results[1]
	assert.True(t, arrivals.IsDegraded(), "arrivals has canned data")
	assert.False(t, departures.IsSuccess(), "departures has none")
	assert.Equal(t, models.ErrorKindNoFallback, departures.Reason)
	assert.Contains(t, departures.Err.Error(), fallback.NoFallbackMessage)
	assert.Equal(t, 1, result.Degraded)
	assert.Equal(t, 1, result.Failed)
}

func TestIntegration_AccommodationBatch(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	result, err := suite.dashboard.Load(context.Background(), service.BatchAccommodation)
	require.NoError(t, err)

	require.Equal(t, 1, result.Succeeded)
	assert.Contains(t, string(result.Results[0].Data), "hotel_001")
	assert.Zero(t, suite.upstream.Calls(), "lodging is served locally")
}

func TestIntegration_UnsupportedTypeIsNotRetried(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	result := suite.services.Fetch(context.Background(),
		models.NewProviderRequest(models.DomainFerry, "fares", nil))

	assert.False(t, result.IsSuccess())
	assert.Equal(t, models.ErrorKindValidation, result.Reason)
	assert.Contains(t, result.Err.Error(), "지원하지 않는 API 타입입니다")
	assert.Equal(t, int64(1), suite.ServerRequests(), "a rejected request is sent once")
	assert.Zero(t, suite.upstream.Calls())
}

func TestIntegration_UnknownAccommodationAction(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	result := suite.services.Fetch(context.Background(),
		models.NewProviderRequest(models.DomainAccommodation, "book", nil))

	assert.False(t, result.IsSuccess())
	assert.Equal(t, models.ErrorKindValidation, result.Reason)
	assert.Contains(t, result.Err.Error(), accommodation.MsgInvalidEndpoint)
	assert.Equal(t, int64(1), suite.ServerRequests())
}
