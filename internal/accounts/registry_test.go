package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyAccount(ctx context.Context, creds model.UpstreamCredentials) (*model.AccountInfo, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccountInfo), args.Error(1)
}

func newTestRegistry(t *testing.T) (*Registry, *mockVerifier) {
	t.Helper()
	verifier := new(mockVerifier)
	r := NewRegistry(NewMemoryStorage(), verifier)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, verifier
}

func mustAdd(t *testing.T, r *Registry, host, user, pass string) *model.IptvAccount {
	t.Helper()
	acc, err := r.Add(model.AddAccountParams{Host: host, Username: user, Password: pass})
	require.NoError(t, err)
	return acc
}

func latency(ms int64) *int64 { return &ms }

func TestRegistry_Add(t *testing.T) {
	r, _ := newTestRegistry(t)

	acc := mustAdd(t, r, "a.com:80", "bob", "x")

	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, model.AccountStatusChecking, acc.Status)
	assert.Equal(t, r.now(), acc.AddedAt)
	require.NotNil(t, acc.LastChecked)

	selected, err := r.Selected()
	require.NoError(t, err)
	assert.Equal(t, acc.ID, selected.ID)

	last, err := r.LastCredentials()
	require.NoError(t, err)
	assert.Equal(t, &model.AccountCredentials{Host: "a.com:80", Username: "bob", Password: "x"}, last)
}

func TestRegistry_AddDuplicateUpdatesInPlace(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Add(model.AddAccountParams{Host: "a.com:80", Username: "bob", Password: "x", Name: "Living room"})
	require.NoError(t, err)
	mustAdd(t, r, "b.com", "alice", "y")

	second, err := r.Add(model.AddAccountParams{Host: "a.com:80", Username: "bob", Password: "new"})
	require.NoError(t, err)

	all, err := r.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new", second.Password)
	assert.Equal(t, "Living room", second.Name, "empty name keeps the old one")

	selected, _ := r.Selected()
	assert.Equal(t, first.ID, selected.ID)

	renamed, err := r.Add(model.AddAccountParams{Host: "a.com:80", Username: "bob", Password: "new", Name: "Bedroom"})
	require.NoError(t, err)
	assert.Equal(t, "Bedroom", renamed.Name)
}

func TestRegistry_AddValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Add(model.AddAccountParams{Host: " ", Username: "bob", Password: "x"})
	assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
}

func TestRegistry_Remove(t *testing.T) {
	r, _ := newTestRegistry(t)
	a := mustAdd(t, r, "a.com", "bob", "x")
	b := mustAdd(t, r, "b.com", "alice", "y")

	t.Run("removing an unselected account keeps the selection", func(t *testing.T) {
		require.NoError(t, r.Remove(a.ID))

		selected, err := r.Selected()
		require.NoError(t, err)
		assert.Equal(t, b.ID, selected.ID)

		last, _ := r.LastCredentials()
		assert.Nil(t, last)
	})

	t.Run("removing the selected account clears the selection", func(t *testing.T) {
		require.NoError(t, r.Remove(b.ID))

		selected, err := r.Selected()
		require.NoError(t, err)
		assert.Nil(t, selected)

		all, _ := r.All()
		assert.Empty(t, all)
	})
}

func TestRegistry_SelectAndUpdate(t *testing.T) {
	r, _ := newTestRegistry(t)
	a := mustAdd(t, r, "a.com", "bob", "x")
	mustAdd(t, r, "b.com", "alice", "y")

	selected, err := r.Select(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, selected.ID)

	_, err = r.Select("missing")
	assert.True(t, apperrors.IsNotFound(err))

	name := "Kitchen"
	updated, err := r.Update(a.ID, model.UpdateAccountParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", updated.Name)
	assert.Equal(t, "x", updated.Password)

	_, err = r.Update("missing", model.UpdateAccountParams{Name: &name})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_ActiveAndFastest(t *testing.T) {
	tests := []struct {
		name     string
		accounts []model.IptvAccount
		active   int
		fastest  string
	}{
		{
			name:   "empty",
			active: 0,
		},
		{
			name: "lowest latency wins",
			accounts: []model.IptvAccount{
				{ID: "slow", Status: model.AccountStatusActive, LatencyMs: latency(300)},
				{ID: "fast", Status: model.AccountStatusActive, LatencyMs: latency(40)},
				{ID: "unmeasured", Status: model.AccountStatusChecking},
			},
			active:  3,
			fastest: "fast",
		},
		{
			name: "offline and expired are skipped",
			accounts: []model.IptvAccount{
				{ID: "offline", Status: model.AccountStatusOffline, LatencyMs: latency(5)},
				{ID: "expired", Status: model.AccountStatusExpired, LatencyMs: latency(1)},
				{ID: "ok", Status: model.AccountStatusActive, LatencyMs: latency(90)},
			},
			active:  2,
			fastest: "ok",
		},
		{
			name: "falls back to first active",
			accounts: []model.IptvAccount{
				{ID: "expired", Status: model.AccountStatusExpired},
				{ID: "first", Status: model.AccountStatusChecking},
				{ID: "second", Status: model.AccountStatusOffline, LatencyMs: latency(10)},
			},
			active:  2,
			fastest: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := NewMemoryStorage()
			require.NoError(t, storage.Save(&State{Accounts: tt.accounts}))
			r := NewRegistry(storage, nil)

			active, err := r.Active()
			require.NoError(t, err)
			assert.Len(t, active, tt.active)

			fastest, err := r.Fastest()
			require.NoError(t, err)
			if tt.fastest == "" {
				assert.Nil(t, fastest)
				return
			}
			require.NotNil(t, fastest)
			assert.Equal(t, tt.fastest, fastest.ID)
		})
	}
}

func TestRegistry_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("records status and expiry", func(t *testing.T) {
		r, verifier := newTestRegistry(t)
		acc := mustAdd(t, r, "a.com", "bob", "x")
		verifier.On("VerifyAccount", ctx, model.UpstreamCredentials{Host: "a.com", Username: "bob", Password: "x"}).
			Return(&model.AccountInfo{Status: model.AccountStatusActive, ExpiresAt: "2030-01-01T00:00:00Z"}, nil)

		checked, err := r.Check(ctx, acc.ID)

		require.NoError(t, err)
		assert.Equal(t, model.AccountStatusActive, checked.Status)
		assert.Equal(t, "2030-01-01T00:00:00Z", checked.ExpiresAt)
		require.NotNil(t, checked.LatencyMs)
		assert.GreaterOrEqual(t, *checked.LatencyMs, int64(0))
		assert.Equal(t, r.now(), *checked.LastChecked)
	})

	t.Run("failure marks offline", func(t *testing.T) {
		r, verifier := newTestRegistry(t)
		acc := mustAdd(t, r, "a.com", "bob", "x")
		verifier.On("VerifyAccount", ctx, mock.Anything).Return(nil, errors.New("dial tcp: refused"))

		checked, err := r.Check(ctx, acc.ID)

		require.NoError(t, err)
		assert.Equal(t, model.AccountStatusOffline, checked.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		_, err := r.Check(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("check all", func(t *testing.T) {
		r, verifier := newTestRegistry(t)
		mustAdd(t, r, "a.com", "bob", "x")
		mustAdd(t, r, "b.com", "alice", "y")
		verifier.On("VerifyAccount", ctx, mock.Anything).
			Return(&model.AccountInfo{Status: model.AccountStatusExpired}, nil)

		all, err := r.CheckAll(ctx)

		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, acc := range all {
			assert.Equal(t, model.AccountStatusExpired, acc.Status)
		}
		verifier.AssertNumberOfCalls(t, "VerifyAccount", 2)
	})
}

func TestRegistry_ClearAll(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustAdd(t, r, "a.com", "bob", "x")

	require.NoError(t, r.ClearAll())

	all, err := r.All()
	require.NoError(t, err)
	assert.Empty(t, all)
	selected, _ := r.Selected()
	assert.Nil(t, selected)
	last, _ := r.LastCredentials()
	assert.Nil(t, last)
}
