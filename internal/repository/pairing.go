package repository

import (
	"context"
	"time"

	"github.com/iplinks/iplinks-go/internal/model"
)

// PairingSessionRepository stores pairing sessions keyed by code.
//
// Every method takes a cutoff: a session created before cutoff is expired and
// must be treated as absent, whether or not it has been swept yet.
type PairingSessionRepository interface {
	// Insert stores a new waiting session. It reports false without error when
	// a live session already holds the code. The check and the write are atomic.
	Insert(ctx context.Context, params model.CreatePairingSessionParams, cutoff time.Time) (*model.PairingSession, bool, error)
	FindByCode(ctx context.Context, code string, cutoff time.Time) (*model.PairingSession, error)
	// UpdateStatus advances the status (never backwards) and, when creds is
	// non-nil, replaces the stored credentials. Returns nil when absent.
	UpdateStatus(ctx context.Context, code string, status model.PairingStatus, creds *model.Credentials, cutoff time.Time) (*model.PairingSession, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

func cloneSession(s *model.PairingSession) *model.PairingSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.Credentials != nil {
		creds := *s.Credentials
		out.Credentials = &creds
	}
	return &out
}

func isLive(s *model.PairingSession, cutoff time.Time) bool {
	return s != nil && !s.CreatedAt.Before(cutoff)
}
