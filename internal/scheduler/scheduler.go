package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/allipceo/JeJuV2.0/internal/logger"
)

// Job is one periodic unit of work. ctx is cancelled by Stop.
type Job func(ctx context.Context)

// Scheduler runs named jobs at fixed intervals. Runs of the same job never
// overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	logger    logger.Logger
}

// New creates a stopped scheduler.
func New(log logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log,
	}
}

// Every registers job under name. The first run happens on Start.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s needs a positive interval, got %s", name, interval)
	}

	log := s.logger.WithFields(logger.Fields{"job": name})
	_, err := s.scheduler.Every(interval).Tag(name).SingletonMode().Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		started := time.Now()
		log.Debug("Running scheduled job")
		job(s.ctx)
		log.WithFields(logger.Fields{"duration": time.Since(started).String()}).Debug("Scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}

	log.WithFields(logger.Fields{"interval": interval.String()}).Info("Job scheduled")
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop cancels running jobs and prevents further runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}
