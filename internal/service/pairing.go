package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/repository"
	"github.com/iplinks/iplinks-go/internal/util"
)

type CreatePairingResult struct {
	Code      string
	ExpiresAt time.Time
}

// PairingService is the rendezvous between a receiver that shows a code and a
// sender that types it. Every operation sweeps expired sessions first.
type PairingService struct {
	repo        repository.PairingSessionRepository
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	newCode     func() (string, error)
}

func NewPairingService(repo repository.PairingSessionRepository, ttl time.Duration) *PairingService {
	if ttl <= 0 {
		ttl = config.PairingSessionTTL
	}
	return &PairingService{
		repo:        repo,
		ttl:         ttl,
		maxAttempts: config.PairingMaxCodeAttempts,
		now:         time.Now,
		newCode:     generatePairingCode,
	}
}

func (s *PairingService) TTL() time.Duration {
	return s.ttl
}

// Create allocates a code not held by any live session.
func (s *PairingService) Create(ctx context.Context) (*CreatePairingResult, error) {
	now := s.now()
	s.sweep(ctx, now)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, apperrors.Internal("Failed to generate pairing code").WithCause(err)
		}

		session, ok, err := s.repo.Insert(ctx, model.CreatePairingSessionParams{
			Code:      code,
			CreatedAt: now,
		}, s.cutoff(now))
		if err != nil {
			return nil, apperrors.Store(err)
		}
		if !ok {
			continue
		}

		expiresAt := session.ExpiresAt(s.ttl)
		log.Info().
			Str("code", util.MaskCode(code)).
			Int("attempts", attempt).
			Time("expiresAt", expiresAt).
			Msg("pairing session created")

		return &CreatePairingResult{Code: code, ExpiresAt: expiresAt}, nil
	}

	log.Error().Int("attempts", s.maxAttempts).Msg("pairing code space exhausted")
	return nil, apperrors.GenerationExhausted(s.maxAttempts)
}

// Connect marks the session as connected. It is advisory only and never moves
// a session that already holds credentials backwards.
func (s *PairingService) Connect(ctx context.Context, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return apperrors.MissingRequired("code")
	}

	now := s.now()
	s.sweep(ctx, now)

	session, err := s.repo.UpdateStatus(ctx, code, model.PairingStatusConnected, nil, s.cutoff(now))
	if err != nil {
		return apperrors.Store(err)
	}
	if session == nil {
		log.Debug().Str("code", util.MaskCode(code)).Msg("connect: session not found")
		return apperrors.NotFound("Session")
	}

	log.Info().Str("code", util.MaskCode(code)).Msg("pairing session connected")
	return nil
}

// SubmitCredentials stores creds on the session. Resubmission overwrites.
func (s *PairingService) SubmitCredentials(ctx context.Context, code string, creds *model.Credentials) error {
	code = normalizeCode(code)
	if code == "" || creds == nil || creds.IsEmpty() {
		return apperrors.New(apperrors.ErrCodeMissingRequired, "code and credentials are required")
	}

	now := s.now()
	s.sweep(ctx, now)

	session, err := s.repo.UpdateStatus(ctx, code, model.PairingStatusCredentialsReceived, creds, s.cutoff(now))
	if err != nil {
		return apperrors.Store(err)
	}
	if session == nil {
		log.Debug().Str("code", util.MaskCode(code)).Msg("credentials: session not found")
		return apperrors.NotFound("Session")
	}

	log.Info().
		Str("code", util.MaskCode(code)).
		Str("host", creds.Host).
		Msg("pairing session received credentials")
	return nil
}

// Query returns the live session or a PairingExpired error.
func (s *PairingService) Query(ctx context.Context, code string) (*model.PairingSession, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}

	now := s.now()
	s.sweep(ctx, now)

	session, err := s.repo.FindByCode(ctx, code, s.cutoff(now))
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if session == nil {
		return nil, apperrors.PairingExpired()
	}

	return session, nil
}

// Reap deletes expired sessions. Used by the optional background job; the
// request path sweeps on its own.
func (s *PairingService) Reap(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.cutoff(s.now()))
}

// ActiveSessions counts stored sessions, including expired ones not yet swept.
func (s *PairingService) ActiveSessions(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *PairingService) cutoff(now time.Time) time.Time {
	return now.Add(-s.ttl)
}

func (s *PairingService) sweep(ctx context.Context, now time.Time) {
	count, err := s.repo.DeleteExpired(ctx, s.cutoff(now))
	if err != nil {
		log.Warn().Err(err).Msg("pairing sweep failed")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("expired pairing sessions removed")
	}
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}

func generatePairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(config.PairingCodeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", config.PairingCodeDigits, n.Int64()), nil
}
