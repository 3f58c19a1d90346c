package config

import (
	"strings"
	"testing"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

func TestLoadFromEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*Config) bool
	}{
		{
			name:    "default configuration",
			envVars: map[string]string{},
			expected: func(cfg *Config) bool {
				return cfg.Port == "8080" &&
					cfg.LogLevel == "info" &&
					cfg.ProxyCacheTTL == 5*time.Minute &&
					cfg.ProxyUpstreamTimeout == 10*time.Second &&
					cfg.ProxyBaseURL == "http://localhost:8080" &&
					cfg.CacheBackend == "file" &&
					cfg.ClientWeatherTTL == 5*time.Minute &&
					cfg.ClientTransportTTL == 15*time.Minute &&
					cfg.ProviderRateLimit == 60 &&
					cfg.RetryAttempts == 3 &&
					cfg.RetryBaseDelay == time.Second &&
					cfg.WeatherCallTimeout == 3*time.Second &&
					cfg.TransportCallTimeout == 2*time.Second &&
					cfg.MaxConcurrentRequests == 4 &&
					cfg.RateLimitEnabled &&
					cfg.RateLimitRequests == 100 &&
					cfg.RateLimitWindow == 60*time.Second &&
					len(cfg.Providers()) == 6
			},
		},
		{
			name: "custom configuration",
			envVars: map[string]string{
				"PORT":                 "9090",
				"LOG_LEVEL":            "debug",
				"PROXY_CACHE_TTL":      "2m",
				"CACHE_BACKEND":        "memory",
				"CLIENT_TRANSPORT_TTL": "5m",
				"PROVIDER_RATE_LIMIT":  "30",
				"RETRY_ATTEMPTS":       "5",
				"RATE_LIMIT_ENABLED":   "false",
				"PROXY_BASE_URL":       "https://jeju.example.com",
			},
			expected: func(cfg *Config) bool {
				return cfg.Port == "9090" &&
					cfg.LogLevel == "debug" &&
					cfg.ProxyCacheTTL == 2*time.Minute &&
					cfg.CacheBackend == "memory" &&
					cfg.ClientTransportTTL == 5*time.Minute &&
					cfg.ProviderRateLimit == 30 &&
					cfg.RetryAttempts == 5 &&
					!cfg.RateLimitEnabled &&
					cfg.ProxyBaseURL == "https://jeju.example.com"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromEnvironment(tt.envVars)
			if err != nil {
				t.Fatalf("LoadFromEnvironment() error = %v", err)
			}
			if !tt.expected(cfg) {
				t.Errorf("LoadFromEnvironment() configuration does not match expected values: %+v", cfg)
			}
		})
	}
}

func TestLoadFromEnvironment_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{"unknown backend", map[string]string{"CACHE_BACKEND": "memcached"}, "CACHE_BACKEND"},
		{"zero ttl", map[string]string{"PROXY_CACHE_TTL": "0s"}, "PROXY_CACHE_TTL"},
		{"zero capacity", map[string]string{"PROVIDER_RATE_LIMIT": "0"}, "PROVIDER_RATE_LIMIT"},
		{"bad duration", map[string]string{"RETRY_BASE_DELAY": "soon"}, "parse environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromEnvironment(tt.envVars)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestProvider_URL(t *testing.T) {
	cfg, err := LoadFromEnvironment(map[string]string{
		"AVIATION_BASE_URL": "http://upstream.test/flights/",
		"AVIATION_API_KEY":  "a+b/c==",
	})
	if err != nil {
		t.Fatalf("LoadFromEnvironment() error = %v", err)
	}

	provider, ok := cfg.Provider(models.DomainAviation)
	if !ok {
		t.Fatal("aviation provider missing")
	}

	got, ok := provider.URL("arrivals", nil)
	if !ok {
		t.Fatal("arrivals template missing")
	}
	want := "http://upstream.test/flights/getFlightStatusList?serviceKey=a%2Bb%2Fc%3D%3D&schAirportCode=CJU&schLineType=A"
	if got != want {
		t.Errorf("URL() = %s, want %s", got, want)
	}

	got, _ = provider.URL("arrivals", map[string]string{"schDate": "20250608", "airline": "KE"})
	if !strings.HasSuffix(got, "&airline=KE&schDate=20250608") {
		t.Errorf("filter params not appended in key order: %s", got)
	}

	if _, ok := provider.URL("cargo", nil); ok {
		t.Error("unknown kind must not resolve")
	}
}

func TestConfig_AllowedServices(t *testing.T) {
	cfg, err := LoadFromEnvironment(nil)
	if err != nil {
		t.Fatalf("LoadFromEnvironment() error = %v", err)
	}

	got := strings.Join(cfg.AllowedServices(), ",")
	if got != "weather,aviation,traffic,bus,ferry,tourism" {
		t.Errorf("AllowedServices() = %s", got)
	}

	tourism, ok := cfg.Provider(models.DomainTourism)
	if !ok || len(tourism.Kinds()) != 0 {
		t.Errorf("tourism should be allowed without templates, got %v", tourism.Kinds())
	}
	if _, ok := cfg.Provider(models.DomainAccommodation); ok {
		t.Error("accommodation is served locally, not proxied")
	}
}

func TestConfig_ClientTTL(t *testing.T) {
	cfg, err := LoadFromEnvironment(map[string]string{
		"CLIENT_WEATHER_TTL":       "1m",
		"CLIENT_TRANSPORT_TTL":     "2m",
		"CLIENT_ACCOMMODATION_TTL": "3m",
	})
	if err != nil {
		t.Fatalf("LoadFromEnvironment() error = %v", err)
	}

	tests := map[models.Domain]time.Duration{
		models.DomainWeather:       time.Minute,
		models.DomainTourism:       time.Minute,
		models.DomainAviation:      2 * time.Minute,
		models.DomainFerry:         2 * time.Minute,
		models.DomainAccommodation: 3 * time.Minute,
	}
	for domain, want := range tests {
		if got := cfg.ClientTTL(domain); got != want {
			t.Errorf("ClientTTL(%s) = %s, want %s", domain, got, want)
		}
	}
}
