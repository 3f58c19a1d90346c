package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allipceo/JeJuV2.0/internal/testutils"
)

func TestScheduler_RunsJobsRepeatedly(t *testing.T) {
	s := New(testutils.MockLogger())

	var runs int32
	require.NoError(t, s.Every("weather", 50*time.Millisecond, func(context.Context) {
		atomic.AddInt32(&runs, 1)
	}))
	assert.Equal(t, 1, s.Jobs())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := New(testutils.MockLogger())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Every("sweep", time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	go s.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled by Stop")
	}
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	s := New(testutils.MockLogger())

	assert.Error(t, s.Every("broken", 0, func(context.Context) {}))
	assert.Zero(t, s.Jobs())
}
