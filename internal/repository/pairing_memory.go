package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iplinks/iplinks-go/internal/model"
)

type memoryPairingRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.PairingSession
}

// NewMemoryPairingSessionRepository returns a process-local store guarded by
// a single mutex.
func NewMemoryPairingSessionRepository() PairingSessionRepository {
	return &memoryPairingRepo{
		sessions: make(map[string]*model.PairingSession),
	}
}

func (r *memoryPairingRepo) Insert(ctx context.Context, params model.CreatePairingSessionParams, cutoff time.Time) (*model.PairingSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[params.Code]; ok && isLive(existing, cutoff) {
		return nil, false, nil
	}

	session := &model.PairingSession{
		Code:      params.Code,
		Status:    model.PairingStatusWaiting,
		CreatedAt: params.CreatedAt,
	}
	r.sessions[params.Code] = session

	return cloneSession(session), true, nil
}

func (r *memoryPairingRepo) FindByCode(ctx context.Context, code string, cutoff time.Time) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[code]
	if !ok || !isLive(session, cutoff) {
		return nil, nil
	}
	return cloneSession(session), nil
}

func (r *memoryPairingRepo) UpdateStatus(ctx context.Context, code string, status model.PairingStatus, creds *model.Credentials, cutoff time.Time) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[code]
	if !ok || !isLive(session, cutoff) {
		return nil, nil
	}

	session.Status = session.Status.Advance(status)
	if creds != nil {
		c := *creds
		session.Credentials = &c
	}

	return cloneSession(session), nil
}

func (r *memoryPairingRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for code, session := range r.sessions {
		if !isLive(session, cutoff) {
			delete(r.sessions, code)
			count++
		}
	}
	return count, nil
}

func (r *memoryPairingRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions), nil
}
