package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

// Provider is one upstream family reachable through the proxy. Endpoints maps
// a data kind to a path template relative to BaseURL; "{apiKey}" is replaced
// with the escaped key.
type Provider struct {
	Domain    models.Domain
	BaseURL   string
	APIKey    string
	Endpoints map[string]string
}

// URL resolves the upstream URL for kind. Extra params are appended as query
// parameters in key order.
func (p Provider) URL(kind string, params map[string]string) (string, bool) {
	path, ok := p.Endpoints[kind]
	if !ok {
		return "", false
	}

	full := strings.TrimRight(p.BaseURL, "/") + strings.ReplaceAll(path, "{apiKey}", url.QueryEscape(p.APIKey))
	if len(params) == 0 {
		return full, true
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(full)
	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	for _, k := range keys {
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
		sep = "&"
	}
	return b.String(), true
}

// Kinds lists the data kinds with a template, sorted.
func (p Provider) Kinds() []string {
	kinds := make([]string, 0, len(p.Endpoints))
	for kind := range p.Endpoints {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Config holds all configuration for the application
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server-side proxy
	ProxyCacheTTL         time.Duration `env:"PROXY_CACHE_TTL" envDefault:"5m"`
	ProxyUpstreamTimeout  time.Duration `env:"PROXY_UPSTREAM_TIMEOUT" envDefault:"10s"`
	ProxyUpstreamAttempts int           `env:"PROXY_UPSTREAM_ATTEMPTS" envDefault:"1"`
	ProxyBaseURL          string        `env:"PROXY_BASE_URL"`

	// Cache backend
	CacheBackend       string        `env:"CACHE_BACKEND" envDefault:"file"`
	CacheDir           string        `env:"CACHE_DIR" envDefault:"cache"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"5m"`
	RedisAddr          string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`

	// Client-side caches
	ClientWeatherTTL       time.Duration `env:"CLIENT_WEATHER_TTL" envDefault:"5m"`
	ClientTransportTTL     time.Duration `env:"CLIENT_TRANSPORT_TTL" envDefault:"15m"`
	ClientAccommodationTTL time.Duration `env:"CLIENT_ACCOMMODATION_TTL" envDefault:"5m"`

	// Outbound calls
	ProviderRateLimit  int           `env:"PROVIDER_RATE_LIMIT" envDefault:"60"`
	ProviderRateWindow time.Duration `env:"PROVIDER_RATE_WINDOW" envDefault:"60s"`
	RetryAttempts      int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	ClientHTTPTimeout  time.Duration `env:"CLIENT_HTTP_TIMEOUT" envDefault:"15s"`

	// Circuit breaker
	BreakerMaxFailures uint32        `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerInterval    time.Duration `env:"BREAKER_INTERVAL" envDefault:"1m"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"2m"`

	// Orchestration
	WeatherCallTimeout    time.Duration `env:"WEATHER_CALL_TIMEOUT" envDefault:"3s"`
	TransportCallTimeout  time.Duration `env:"TRANSPORT_CALL_TIMEOUT" envDefault:"2s"`
	MaxConcurrentRequests int           `env:"MAX_CONCURRENT_REQUESTS" envDefault:"4"`

	// Scheduled refresh
	RefreshEnabled           bool          `env:"REFRESH_ENABLED" envDefault:"true"`
	WeatherRefreshInterval   time.Duration `env:"WEATHER_REFRESH_INTERVAL" envDefault:"10m"`
	TransportRefreshInterval time.Duration `env:"TRANSPORT_REFRESH_INTERVAL" envDefault:"15m"`

	// Rate limiting of inbound requests
	RateLimitEnabled  bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// Upstream providers
	WeatherBaseURL  string `env:"WEATHER_BASE_URL" envDefault:"https://api.openweathermap.org/data/2.5"`
	WeatherAPIKey   string `env:"WEATHER_API_KEY"`
	AviationBaseURL string `env:"AVIATION_BASE_URL" envDefault:"http://openapi.airport.co.kr/service/rest/FlightStatusList"`
	AviationAPIKey  string `env:"AVIATION_API_KEY"`
	TrafficBaseURL  string `env:"TRAFFIC_BASE_URL" envDefault:"https://apis.data.go.kr/B552026/koreaRoadTrafficService"`
	TrafficAPIKey   string `env:"TRAFFIC_API_KEY"`
	BusBaseURL      string `env:"BUS_BASE_URL" envDefault:"https://apis.data.go.kr/1613000/BusRouteInfoInqireService"`
	BusAPIKey       string `env:"BUS_API_KEY"`
	FerryBaseURL    string `env:"FERRY_BASE_URL" envDefault:"https://apis.data.go.kr/1613000/TrafikofSttusService"`
	FerryAPIKey     string `env:"FERRY_API_KEY"`
	TourismBaseURL  string `env:"TOURISM_BASE_URL" envDefault:"https://apis.data.go.kr/B551011/KorService1"`
	TourismAPIKey   string `env:"TOURISM_API_KEY"`

	providers []Provider
}

// Load loads configuration from a .env file, if present, and the process
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

// LoadFromEnvironment parses configuration from environ only.
func LoadFromEnvironment(environ map[string]string) (*Config, error) {
	if environ == nil {
		environ = map[string]string{}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if cfg.ProxyBaseURL == "" {
		cfg.ProxyBaseURL = "http://localhost:" + cfg.Port
	}
	cfg.providers = defaultProviders(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultProviders mirrors the upstream calls the site has always made.
func defaultProviders(cfg *Config) []Provider {
	return []Provider{
		{
			Domain:  models.DomainWeather,
			BaseURL: cfg.WeatherBaseURL,
			APIKey:  cfg.WeatherAPIKey,
			Endpoints: map[string]string{
				"current":  "/weather?q=Jeju,KR&appid={apiKey}&units=metric&lang=kr",
				"forecast": "/forecast?q=Jeju,KR&appid={apiKey}&units=metric&lang=kr",
				"alerts":   "/onecall?lat=33.4996&lon=126.5312&appid={apiKey}&exclude=minutely,hourly,daily&lang=kr",
			},
		},
		{
			Domain:  models.DomainAviation,
			BaseURL: cfg.AviationBaseURL,
			APIKey:  cfg.AviationAPIKey,
			Endpoints: map[string]string{
				"arrivals":   "/getFlightStatusList?serviceKey={apiKey}&schAirportCode=CJU&schLineType=A",
				"departures": "/getFlightStatusList?serviceKey={apiKey}&schAirportCode=CJU&schLineType=D",
			},
		},
		{
			Domain:  models.DomainTraffic,
			BaseURL: cfg.TrafficBaseURL,
			APIKey:  cfg.TrafficAPIKey,
			Endpoints: map[string]string{
				"info": "/getTrafficVolume?serviceKey={apiKey}&pageNo=1&numOfRows=10&_type=json",
			},
		},
		{
			Domain:  models.DomainBus,
			BaseURL: cfg.BusBaseURL,
			APIKey:  cfg.BusAPIKey,
			Endpoints: map[string]string{
				"routes": "/getRouteInfoIem?serviceKey={apiKey}&pageNo=1&numOfRows=50&_type=json&cityCode=5690",
			},
		},
		{
			Domain:  models.DomainFerry,
			BaseURL: cfg.FerryBaseURL,
			APIKey:  cfg.FerryAPIKey,
			Endpoints: map[string]string{
				"schedules": "/getTrafikofSttusInfo?serviceKey={apiKey}&pageNo=1&numOfRows=30&_type=json&prtCd=JJP",
			},
		},
		{
			// Allowed through the proxy but without templates yet.
			Domain:    models.DomainTourism,
			BaseURL:   cfg.TourismBaseURL,
			APIKey:    cfg.TourismAPIKey,
			Endpoints: map[string]string{},
		},
	}
}

// Providers is the proxy registry built from the provider fields.
func (c *Config) Providers() []Provider {
	return c.providers
}

// Provider returns the registry entry for domain.
func (c *Config) Provider(domain models.Domain) (Provider, bool) {
	for _, p := range c.providers {
		if p.Domain == domain {
			return p, true
		}
	}
	return Provider{}, false
}

// AllowedServices lists the domains the proxy accepts, in registry order.
func (c *Config) AllowedServices() []string {
	out := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, string(p.Domain))
	}
	return out
}

// ClientTTL is the client-side cache lifetime for domain.
func (c *Config) ClientTTL(domain models.Domain) time.Duration {
	switch {
	case domain == models.DomainAccommodation:
		return c.ClientAccommodationTTL
	case domain.IsTransport():
		return c.ClientTransportTTL
	default:
		return c.ClientWeatherTTL
	}
}

var validBackends = map[string]bool{"file": true, "memory": true, "redis": true}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"PROXY_CACHE_TTL":          c.ProxyCacheTTL,
		"PROXY_UPSTREAM_TIMEOUT":   c.ProxyUpstreamTimeout,
		"CLIENT_WEATHER_TTL":       c.ClientWeatherTTL,
		"CLIENT_TRANSPORT_TTL":     c.ClientTransportTTL,
		"CLIENT_ACCOMMODATION_TTL": c.ClientAccommodationTTL,
		"PROVIDER_RATE_WINDOW":     c.ProviderRateWindow,
		"CLIENT_HTTP_TIMEOUT":      c.ClientHTTPTimeout,
		"WEATHER_CALL_TIMEOUT":     c.WeatherCallTimeout,
		"TRANSPORT_CALL_TIMEOUT":   c.TransportCallTimeout,
		"RATE_LIMIT_WINDOW":        c.RateLimitWindow,
		"CACHE_SWEEP_INTERVAL":     c.CacheSweepInterval,
	}
	keys := make([]string, 0, len(positive))
	for k := range positive {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if positive[k] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, positive[k]))
		}
	}

	if c.ProviderRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_RATE_LIMIT must be positive, got %d", c.ProviderRateLimit))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts))
	}
	if c.ProxyUpstreamAttempts <= 0 {
		errs = append(errs, fmt.Errorf("PROXY_UPSTREAM_ATTEMPTS must be positive, got %d", c.ProxyUpstreamAttempts))
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_REQUESTS must be positive, got %d", c.MaxConcurrentRequests))
	}
	if c.RateLimitEnabled && c.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests))
	}
	if !validBackends[c.CacheBackend] {
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be one of file, memory, redis, got %q", c.CacheBackend))
	}
	if c.RefreshEnabled && (c.WeatherRefreshInterval <= 0 || c.TransportRefreshInterval <= 0) {
		errs = append(errs, errors.New("refresh intervals must be positive when REFRESH_ENABLED is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
