package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/orchestrator"
	"github.com/allipceo/JeJuV2.0/internal/service"
	"github.com/allipceo/JeJuV2.0/internal/testutils"
)

func TestSelectBatches(t *testing.T) {
	known := []string{"weather", "aviation", "transport", "accommodation"}

	tests := []struct {
		selection string
		want      []string
		wantErr   bool
	}{
		{"", known, false},
		{"weather", []string{"weather"}, false},
		{" transport , weather ", []string{"transport", "weather"}, false},
		{"weather,,aviation", []string{"weather", "aviation"}, false},
		{"shopping", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.selection, func(t *testing.T) {
			got, err := selectBatches(known, tt.selection)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTablePrinter_Render(t *testing.T) {
	now := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)
	req := models.NewProviderRequest(models.DomainWeather, "current", nil)
	alerts := models.NewProviderRequest(models.DomainWeather, "alerts", nil)

	result := models.NewBatchResult("weather", []models.ProviderResult{
		models.Success(req, json.RawMessage(`{}`), models.SourceCache, now.Add(-90*time.Second)),
		models.Failure(alerts, context.DeadlineExceeded, now.Add(-time.Second)),
	}, now)

	var out bytes.Buffer
	printer := &tablePrinter{out: &out, now: func() time.Time { return now }}
	printer.Render(result)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "=== weather (1 ok, 0 degraded, 1 failed) ===", lines[0])
	assert.Equal(t, []string{"REQUEST", "STATUS", "SOURCE", "REASON", "AGE"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"weather/current", "success", "cache", "-", "1m30s"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"weather/alerts", "failure", "-", "timeout", "1s"}, strings.Fields(lines[3]))
}

func TestLoadAll_PrintsInRequestedOrder(t *testing.T) {
	fetcher := orchestrator.FetcherFunc(func(ctx context.Context, req models.ProviderRequest) models.ProviderResult {
		return models.Success(req, json.RawMessage(`{}`), models.SourceLive, time.Now())
	})
	dashboard := service.NewDashboard(fetcher, service.DefaultBatches(time.Second, time.Second), orchestrator.Options{}, testutils.MockLogger())

	var out bytes.Buffer
	loadAll(context.Background(), dashboard, []string{"transport", "weather"}, &tablePrinter{out: &out, now: time.Now})

	text := out.String()
	transport := strings.Index(text, "=== transport")
	weather := strings.Index(text, "=== weather")
	require.GreaterOrEqual(t, transport, 0)
	require.GreaterOrEqual(t, weather, 0)
	assert.Less(t, transport, weather)
	assert.Contains(t, text, "ferry/schedules")
}
