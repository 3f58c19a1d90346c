package testutils

import (
	"io"

	"github.com/allipceo/JeJuV2.0/internal/config"
	"github.com/allipceo/JeJuV2.0/internal/logger"
)

// MockLogger creates a logger that records nothing but still evaluates every
// debug call site.
func MockLogger() logger.Logger {
	return logger.NewWithOutput("debug", io.Discard)
}

// MockConfig creates a configuration for testing. When upstreamURL is set,
// every provider points at it.
func MockConfig(upstreamURL string) *config.Config {
	environ := map[string]string{
		"PORT":                   "8081",
		"LOG_LEVEL":              "debug",
		"CACHE_BACKEND":          "memory",
		"RETRY_BASE_DELAY":       "1ms",
		"PROXY_UPSTREAM_TIMEOUT": "2s",
		"CLIENT_HTTP_TIMEOUT":    "2s",
		"REFRESH_ENABLED":        "false",
		"RATE_LIMIT_ENABLED":     "true",
		"RATE_LIMIT_REQUESTS":    "100",
		"RATE_LIMIT_WINDOW":      "60s",
		"RATE_LIMIT_BURST":       "10",
		"WEATHER_API_KEY":        "test-weather-key",
		"AVIATION_API_KEY":       "test-aviation-key",
	}
	if upstreamURL != "" {
		for _, key := range []string{
			"WEATHER_BASE_URL", "AVIATION_BASE_URL", "TRAFFIC_BASE_URL",
			"BUS_BASE_URL", "FERRY_BASE_URL", "TOURISM_BASE_URL",
		} {
			environ[key] = upstreamURL
		}
	}

	cfg, err := config.LoadFromEnvironment(environ)
	if err != nil {
		panic("testutils: invalid mock configuration: " + err.Error())
	}
	return cfg
}
