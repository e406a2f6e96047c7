// Package poller drives the receiver side of pairing: it obtains a code and
// polls it until a sender delivers credentials.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/client"
	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/util"
)

type State string

const (
	StateLoading State = "loading"
	StateWaiting State = "waiting"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Snapshot is what a UI needs to render the receiver screen.
type Snapshot struct {
	State       State
	Code        string
	ExpiresAt   time.Time
	Status      model.PairingStatus
	Credentials *model.Credentials
	Err         error
}

// API is the subset of the server client the poller uses.
type API interface {
	Create(ctx context.Context) (*client.CreateResult, error)
	Query(ctx context.Context, code string) (*client.SessionStatus, error)
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithRefreshThreshold sets how many polls a code lives before the poller
// swaps it for a fresh one.
func WithRefreshThreshold(n int) Option {
	return func(p *Poller) { p.refreshAfter = n }
}

// WithStateFunc registers a callback invoked on every state change. It runs
// on the polling goroutine and must not block.
func WithStateFunc(fn func(Snapshot)) Option {
	return func(p *Poller) { p.onState = fn }
}

type Poller struct {
	api          API
	interval     time.Duration
	refreshAfter int
	onState      func(Snapshot)

	// ctl serializes Start and Stop. The polling goroutine only takes mu.
	ctl    sync.Mutex
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   Snapshot
}

func New(api API, opts ...Option) *Poller {
	p := &Poller{
		api:          api,
		interval:     config.PollInterval,
		refreshAfter: config.PollRefreshThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins a new pairing cycle in the background, cancelling any cycle
// already running.
func (p *Poller) Start(ctx context.Context) {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.stopCycle()

	cycleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.Run(cycleCtx)
	}()
}

// Restart is the "new code" action: it drops the current code and starts
// over.
func (p *Poller) Restart(ctx context.Context) {
	p.Start(ctx)
}

// Stop cancels the running cycle and waits for its ticker to stop.
func (p *Poller) Stop() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.stopCycle()
}

func (p *Poller) stopCycle() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current background cycle ends. It is nil before
// Start.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Snapshot returns the most recent state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Run executes one pairing cycle on the calling goroutine. It returns the
// received credentials, the terminal error, or ctx.Err() on cancellation.
func (p *Poller) Run(ctx context.Context) (*model.Credentials, error) {
	p.emit(Snapshot{State: StateLoading})

	created, err := p.api.Create(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.emit(Snapshot{State: StateError, Err: err})
		return nil, err
	}

	current := Snapshot{
		State:     StateWaiting,
		Code:      created.Code,
		ExpiresAt: created.ExpiresAt,
		Status:    model.PairingStatusWaiting,
	}
	p.emit(current)
	log.Info().Str("code", util.MaskCode(current.Code)).Msg("waiting for credentials")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		polls++
		if polls >= p.refreshAfter {
			refreshed, err := p.api.Create(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warn().Err(err).Msg("code refresh failed, keeping current code")
				continue
			}
			polls = 0
			current = Snapshot{
				State:     StateWaiting,
				Code:      refreshed.Code,
				ExpiresAt: refreshed.ExpiresAt,
				Status:    model.PairingStatusWaiting,
			}
			p.emit(current)
			log.Info().Str("code", util.MaskCode(current.Code)).Msg("pairing code refreshed")
			continue
		}

		status, err := p.api.Query(ctx, current.Code)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if apperrors.IsNotFound(err) {
				p.emit(Snapshot{State: StateError, Code: current.Code, Err: err})
				return nil, err
			}
			log.Warn().Err(err).Msg("poll failed, retrying")
			continue
		}

		if status.Status == model.PairingStatusCredentialsReceived && status.Credentials != nil {
			creds := *status.Credentials
			p.emit(Snapshot{
				State:       StateSuccess,
				Code:        current.Code,
				ExpiresAt:   current.ExpiresAt,
				Status:      status.Status,
				Credentials: &creds,
			})
			return &creds, nil
		}

		if status.Status != current.Status {
			current.Status = status.Status
			p.emit(current)
		}
	}
}

func (p *Poller) emit(s Snapshot) {
	p.mu.Lock()
	p.last = s
	fn := p.onState
	p.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// IsExpired reports whether err ended a cycle because the code expired.
func IsExpired(err error) bool {
	return apperrors.IsNotFound(err)
}
