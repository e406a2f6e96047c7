package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/repository"
	"github.com/iplinks/iplinks-go/internal/service"
)

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (r *countingReaper) Reap(ctx context.Context) (int64, error) {
	r.calls.Add(1)
	return 1, r.err
}

func TestCleanupJob_RunsImmediatelyAndOnTick(t *testing.T) {
	reaper := &countingReaper{}
	job := NewCleanupJob(reaper, 10*time.Millisecond)

	job.Start()
	assert.Eventually(t, func() bool { return reaper.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	job.Stop()

	after := reaper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, reaper.calls.Load(), "no passes after Stop")
}

func TestCleanupJob_StopIsIdempotent(t *testing.T) {
	job := NewCleanupJob(&countingReaper{}, time.Hour)
	job.Start()

	assert.NotPanics(t, func() {
		job.Stop()
		job.Stop()
	})
}

func TestCleanupJob_StopBeforeStart(t *testing.T) {
	reaper := &countingReaper{}
	job := NewCleanupJob(reaper, 10*time.Millisecond)

	returned := make(chan struct{})
	go func() {
		job.Stop()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a job that never started")
	}

	job.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), reaper.calls.Load(), "Start after Stop does not run")
}

func TestCleanupJob_ErrorDoesNotStopJob(t *testing.T) {
	reaper := &countingReaper{err: errors.New("store down")}
	job := NewCleanupJob(reaper, 10*time.Millisecond)

	job.Start()
	defer job.Stop()

	assert.Eventually(t, func() bool { return reaper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestCleanupJob_ReapsPairingSessions(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryPairingSessionRepository()
	ttl := 50 * time.Millisecond

	_, ok, err := repo.Insert(ctx, model.CreatePairingSessionParams{
		Code:      "123",
		CreatedAt: time.Now().Add(-time.Minute),
	}, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.True(t, ok)

	job := NewCleanupJob(service.NewPairingService(repo, ttl), 10*time.Millisecond)
	job.Start()
	defer job.Stop()

	assert.Eventually(t, func() bool {
		n, _ := repo.Count(ctx)
		return n == 0
	}, time.Second, 5*time.Millisecond)
}
