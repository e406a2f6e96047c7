package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPairingService(codes ...string) (*PairingService, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewPairingService(repository.NewMemoryPairingSessionRepository(), 10*time.Minute)
	svc.now = clock.Now

	if len(codes) > 0 {
		var mu sync.Mutex
		i := 0
		svc.newCode = func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			code := codes[i%len(codes)]
			i++
			return code, nil
		}
	}
	return svc, clock
}

type mockPairingRepo struct {
	mock.Mock
}

func (m *mockPairingRepo) Insert(ctx context.Context, params model.CreatePairingSessionParams, cutoff time.Time) (*model.PairingSession, bool, error) {
	args := m.Called(ctx, params, cutoff)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.PairingSession), args.Bool(1), args.Error(2)
}

func (m *mockPairingRepo) FindByCode(ctx context.Context, code string, cutoff time.Time) (*model.PairingSession, error) {
	args := m.Called(ctx, code, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingSession), args.Error(1)
}

func (m *mockPairingRepo) UpdateStatus(ctx context.Context, code string, status model.PairingStatus, creds *model.Credentials, cutoff time.Time) (*model.PairingSession, error) {
	args := m.Called(ctx, code, status, creds, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingSession), args.Error(1)
}

func (m *mockPairingRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPairingRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestGeneratePairingCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{3}$`)

	t.Run("generates three digit codes", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			code, err := generatePairingCode()
			require.NoError(t, err)
			assert.True(t, pattern.MatchString(code), "unexpected code format: %s", code)
		}
	})

	t.Run("pads small values with zeros", func(t *testing.T) {
		seen := false
		for i := 0; i < 5000 && !seen; i++ {
			code, _ := generatePairingCode()
			if code[0] == '0' {
				seen = true
			}
		}
		assert.True(t, seen, "expected at least one zero-padded code")
	})
}

func TestPairingService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("returns code and expiry ten minutes out", func(t *testing.T) {
		svc, clock := newTestPairingService("042")

		result, err := svc.Create(ctx)
		require.NoError(t, err)
		assert.Equal(t, "042", result.Code)
		assert.Equal(t, clock.Now().Add(10*time.Minute), result.ExpiresAt)
	})

	t.Run("retries on collision", func(t *testing.T) {
		svc, _ := newTestPairingService("042", "042", "043")

		first, err := svc.Create(ctx)
		require.NoError(t, err)
		second, err := svc.Create(ctx)
		require.NoError(t, err)

		assert.Equal(t, "042", first.Code)
		assert.Equal(t, "043", second.Code)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, err := svc.Create(ctx)
		require.NoError(t, err)

		draws := 0
		svc.newCode = func() (string, error) {
			draws++
			return "042", nil
		}

		_, err = svc.Create(ctx)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeGenerationExhausted, apperrors.GetCode(err))
		assert.Equal(t, 100, draws)
		assert.Equal(t, config.PairingMaxCodeAttempts, draws)
	})

	t.Run("succeeds on the last allowed attempt", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, err := svc.Create(ctx)
		require.NoError(t, err)

		draws := 0
		svc.newCode = func() (string, error) {
			draws++
			if draws == 100 {
				return "043", nil
			}
			return "042", nil
		}

		result, err := svc.Create(ctx)
		require.NoError(t, err)
		assert.Equal(t, "043", result.Code)
		assert.Equal(t, 100, draws)
	})

	t.Run("codes are unique among live sessions", func(t *testing.T) {
		svc := NewPairingService(repository.NewMemoryPairingSessionRepository(), 10*time.Minute)

		seen := make(map[string]bool)
		for i := 0; i < 300; i++ {
			result, err := svc.Create(ctx)
			require.NoError(t, err)
			assert.False(t, seen[result.Code], "duplicate live code: %s", result.Code)
			seen[result.Code] = true
		}
	})

	t.Run("concurrent creates never share a code", func(t *testing.T) {
		svc := NewPairingService(repository.NewMemoryPairingSessionRepository(), 10*time.Minute)

		var wg sync.WaitGroup
		results := make(chan string, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := svc.Create(ctx)
				if err == nil {
					results <- result.Code
				}
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[string]bool)
		for code := range results {
			assert.False(t, seen[code], "duplicate code: %s", code)
			seen[code] = true
		}
	})

	t.Run("expired code can be reissued", func(t *testing.T) {
		svc, clock := newTestPairingService("042")
		_, err := svc.Create(ctx)
		require.NoError(t, err)

		clock.Advance(10*time.Minute + time.Second)

		result, err := svc.Create(ctx)
		require.NoError(t, err)
		assert.Equal(t, "042", result.Code)
	})

	t.Run("store failure surfaces as store error", func(t *testing.T) {
		repo := new(mockPairingRepo)
		repo.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), nil)
		repo.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))

		svc := NewPairingService(repo, 10*time.Minute)
		_, err := svc.Create(ctx)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeStore, apperrors.GetCode(err))
	})
}

func TestPairingService_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("marks session connected", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		require.NoError(t, svc.Connect(ctx, "042"))

		session, err := svc.Query(ctx, "042")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusConnected, session.Status)
		assert.Nil(t, session.Credentials)
	})

	t.Run("is idempotent", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		require.NoError(t, svc.Connect(ctx, "042"))
		require.NoError(t, svc.Connect(ctx, "042"))
	})

	t.Run("returns not found for unknown code", func(t *testing.T) {
		svc, _ := newTestPairingService()
		err := svc.Connect(ctx, "123")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("requires a code", func(t *testing.T) {
		svc, _ := newTestPairingService()
		err := svc.Connect(ctx, "  ")
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})

	t.Run("does not regress received credentials", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, _ = svc.Create(ctx)
		creds := &model.Credentials{Host: "a.com", Username: "bob", Password: "x"}
		require.NoError(t, svc.SubmitCredentials(ctx, "042", creds))

		require.NoError(t, svc.Connect(ctx, "042"))

		session, err := svc.Query(ctx, "042")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusCredentialsReceived, session.Status)
	})
}

func TestPairingService_SubmitCredentials(t *testing.T) {
	ctx := context.Background()
	creds := &model.Credentials{Raw: "Servidor: a.com:80", Host: "a.com:80", Username: "bob", Password: "x"}

	t.Run("round trips credentials", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		require.NoError(t, svc.SubmitCredentials(ctx, "042", creds))

		session, err := svc.Query(ctx, "042")
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusCredentialsReceived, session.Status)
		assert.Equal(t, creds, session.Credentials)
	})

	t.Run("resubmission overwrites", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		require.NoError(t, svc.SubmitCredentials(ctx, "042", creds))
		updated := &model.Credentials{Host: "b.com", Username: "alice", Password: "y"}
		require.NoError(t, svc.SubmitCredentials(ctx, "042", updated))

		session, _ := svc.Query(ctx, "042")
		assert.Equal(t, updated, session.Credentials)
		assert.Equal(t, model.PairingStatusCredentialsReceived, session.Status)
	})

	t.Run("unknown code is not found and stores nothing", func(t *testing.T) {
		svc, _ := newTestPairingService()

		err := svc.SubmitCredentials(ctx, "321", creds)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

		count, _ := svc.ActiveSessions(ctx)
		assert.Zero(t, count)

		_, err = svc.Query(ctx, "321")
		assert.Equal(t, apperrors.ErrCodePairingExpired, apperrors.GetCode(err))
	})

	t.Run("missing parameters", func(t *testing.T) {
		svc, _ := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		tests := []struct {
			name  string
			code  string
			creds *model.Credentials
		}{
			{"empty code", "", creds},
			{"nil credentials", "042", nil},
			{"empty credentials", "042", &model.Credentials{}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				err := svc.SubmitCredentials(ctx, tc.code, tc.creds)
				assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
			})
		}

		session, _ := svc.Query(ctx, "042")
		assert.Equal(t, model.PairingStatusWaiting, session.Status)
	})
}

func TestPairingService_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("session older than ttl is never returned", func(t *testing.T) {
		svc, clock := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		clock.Advance(10 * time.Minute)
		_, err := svc.Query(ctx, "042")
		require.NoError(t, err, "exactly ttl old is still live")

		clock.Advance(time.Millisecond)
		_, err = svc.Query(ctx, "042")
		assert.Equal(t, apperrors.ErrCodePairingExpired, apperrors.GetCode(err))
	})

	t.Run("reads do not extend lifetime", func(t *testing.T) {
		svc, clock := newTestPairingService("042")
		_, _ = svc.Create(ctx)

		for i := 0; i < 5; i++ {
			clock.Advance(2 * time.Minute)
			_, _ = svc.Query(ctx, "042")
		}
		clock.Advance(time.Second)

		_, err := svc.Query(ctx, "042")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("any operation sweeps expired sessions", func(t *testing.T) {
		svc, clock := newTestPairingService("001", "002")
		_, _ = svc.Create(ctx)

		clock.Advance(11 * time.Minute)
		_, err := svc.Create(ctx)
		require.NoError(t, err)

		count, _ := svc.ActiveSessions(ctx)
		assert.Equal(t, 1, count)
	})

	t.Run("connect and submit fail once expired", func(t *testing.T) {
		svc, clock := newTestPairingService("042")
		_, _ = svc.Create(ctx)
		clock.Advance(11 * time.Minute)

		assert.True(t, apperrors.IsNotFound(svc.Connect(ctx, "042")))
		assert.True(t, apperrors.IsNotFound(svc.SubmitCredentials(ctx, "042", &model.Credentials{Host: "h"})))
	})

	t.Run("reap removes expired sessions", func(t *testing.T) {
		svc, clock := newTestPairingService("001", "002", "003")
		for i := 0; i < 3; i++ {
			_, _ = svc.Create(ctx)
		}
		clock.Advance(11 * time.Minute)

		count, err := svc.Reap(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestPairingService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPairingService("042")

	created, err := svc.Create(ctx)
	require.NoError(t, err)
	require.Equal(t, "042", created.Code)

	creds := &model.Credentials{Raw: "a.com\nbob\nx", Host: "a.com", Username: "bob", Password: "x"}
	require.NoError(t, svc.SubmitCredentials(ctx, created.Code, creds))

	session, err := svc.Query(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, model.PairingStatusCredentialsReceived, session.Status)
	assert.Equal(t, creds, session.Credentials)
}

func TestPairingService_QueryStoreError(t *testing.T) {
	repo := new(mockPairingRepo)
	repo.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), fmt.Errorf("sweep failed"))
	repo.On("FindByCode", mock.Anything, "042", mock.Anything).Return(nil, errors.New("redis down"))

	svc := NewPairingService(repo, 10*time.Minute)
	_, err := svc.Query(context.Background(), "042")

	assert.Equal(t, apperrors.ErrCodeStore, apperrors.GetCode(err))
	repo.AssertExpectations(t)
}
