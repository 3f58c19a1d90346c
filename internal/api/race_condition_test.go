package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allipceo/JeJuV2.0/internal/service"
)

// TestRaceConditionProxyMisses fires concurrent requests at a cold proxy
// cache. Every client gets a successful envelope and the provider sees a
// single call per fingerprint.
func TestRaceConditionProxyMisses(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	const numGoroutines = 20
	const requestsPerGoroutine = 5

	targets := []string{
		"/proxy?service=weather&type=current",
		"/proxy?service=bus&type=routes",
	}

	var wg sync.WaitGroup
	errors := make(chan error, numGoroutines*requestsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < requestsPerGoroutine; j++ {
				target := targets[(goroutineID+j)%len(targets)]
				resp, err := http.Get(suite.server.URL + target)
				if err != nil {
					errors <- fmt.Errorf("goroutine %d request %d failed: %w", goroutineID, j, err)
					continue
				}

				var body struct {
					Success bool `json:"success"`
				}
				decodeErr := json.NewDecoder(resp.Body).Decode(&body)
				resp.Body.Close()

				switch {
				case decodeErr != nil:
					errors <- fmt.Errorf("goroutine %d request %d decode failed: %w", goroutineID, j, decodeErr)
				case resp.StatusCode != http.StatusOK || !body.Success:
					errors <- fmt.Errorf("goroutine %d request %d: status %d success %v", goroutineID, j, resp.StatusCode, body.Success)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Error(err)
	}
	assert.Equal(t, int64(1), suite.upstream.CallsFor("/weather"))
	assert.Equal(t, int64(2), suite.upstream.Calls())
}

// TestRaceConditionDashboardRefresh renders every batch concurrently into
// one board while readers poll it.
func TestRaceConditionDashboardRefresh(t *testing.T) {
	suite := NewIntegrationTestSuite(t)

	board := service.NewBoard()

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = board.Batches()
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	for round := 0; round < 3; round++ {
		suite.dashboard.RefreshAll(context.Background(), board)
	}
	close(done)
	readers.Wait()

	require.Len(t, board.Batches(), 4)
}
