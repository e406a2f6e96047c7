package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// Reaper removes expired pairing sessions. PairingService satisfies it.
type Reaper interface {
	Reap(ctx context.Context) (int64, error)
}

// CleanupJob periodically reaps expired pairing sessions. Requests already
// sweep on access; the job only bounds memory between requests.
type CleanupJob struct {
	reaper   Reaper
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}

	mu       sync.Mutex
	started  bool
	stopping bool
}

func NewCleanupJob(reaper Reaper, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		reaper:   reaper,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the job once. It does nothing after Stop.
func (j *CleanupJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.stopping {
		return
	}
	j.started = true

	go j.run()
	log.Info().Dur("interval", j.interval).Msg("pairing reaper started")
}

// Stop signals the job and waits for the current pass to finish. It is safe
// to call more than once, and before Start.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if j.stopping {
		j.mu.Unlock()
		return
	}
	j.stopping = true
	started := j.started
	close(j.done)
	j.mu.Unlock()

	if !started {
		return
	}
	<-j.stopped
	log.Info().Msg("pairing reaper stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	count, err := j.reaper.Reap(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to reap pairing sessions")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("reaped expired pairing sessions")
	}
}
