// Package accounts is the client-side registry of known IPTV accounts.
package accounts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/util"
)

// Verifier checks an account against its panel. The server client satisfies
// it.
type Verifier interface {
	VerifyAccount(ctx context.Context, creds model.UpstreamCredentials) (*model.AccountInfo, error)
}

// Registry holds at most one account per (host, username) and at most one
// selected account. Every mutation is written through to storage.
type Registry struct {
	mu       sync.Mutex
	storage  Storage
	verifier Verifier
	now      func() time.Time
}

func NewRegistry(storage Storage, verifier Verifier) *Registry {
	return &Registry{
		storage:  storage,
		verifier: verifier,
		now:      time.Now,
	}
}

// load reads state, resetting storage when the file is unreadable JSON.
func (r *Registry) load() (*State, error) {
	state, err := r.storage.Load()
	if errors.Is(err, ErrCorrupted) {
		log.Warn().Err(err).Msg("account state corrupted, resetting")
		if err := r.storage.Reset(); err != nil {
			return nil, err
		}
		return &State{}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (r *Registry) All() ([]model.IptvAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}
	return state.Accounts, nil
}

func (r *Registry) Get(id string) (*model.IptvAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(state, id)
	if i < 0 {
		return nil, apperrors.NotFound("Account")
	}
	acc := state.Accounts[i]
	return &acc, nil
}

// Add stores a new account, or refreshes the password and name of the one
// already held for the same host and username. Either way the result becomes
// the selected account.
func (r *Registry) Add(params model.AddAccountParams) (*model.IptvAccount, error) {
	params.Host = strings.TrimSpace(params.Host)
	params.Username = strings.TrimSpace(params.Username)
	if params.Host == "" || params.Username == "" || params.Password == "" {
		return nil, apperrors.New(apperrors.ErrCodeMissingRequired, "host, username and password are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}

	now := r.now()
	var acc *model.IptvAccount
	for i := range state.Accounts {
		if state.Accounts[i].SameIdentity(params.Host, params.Username) {
			acc = &state.Accounts[i]
			break
		}
	}

	if acc != nil {
		acc.Password = params.Password
		if params.Name != "" {
			acc.Name = params.Name
		}
		acc.LastChecked = &now
		acc.Status = model.AccountStatusChecking
	} else {
		state.Accounts = append(state.Accounts, model.IptvAccount{
			ID:          uuid.NewString(),
			Host:        params.Host,
			Username:    params.Username,
			Password:    params.Password,
			Name:        params.Name,
			AddedAt:     now,
			LastChecked: &now,
			Status:      model.AccountStatusChecking,
		})
		acc = &state.Accounts[len(state.Accounts)-1]
	}

	selectLocked(state, acc)
	if err := r.storage.Save(state); err != nil {
		return nil, err
	}

	log.Info().
		Str("id", acc.ID).
		Str("host", acc.Host).
		Str("username", util.MaskSecret(acc.Username)).
		Msg("account saved")

	out := cloneAccount(*acc)
	return &out, nil
}

func (r *Registry) Update(id string, params model.UpdateAccountParams) (*model.IptvAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(state, id)
	if i < 0 {
		return nil, apperrors.NotFound("Account")
	}

	applyUpdate(&state.Accounts[i], params)
	if err := r.storage.Save(state); err != nil {
		return nil, err
	}

	out := cloneAccount(state.Accounts[i])
	return &out, nil
}

// Remove deletes the account and forgets the last-used credentials. The
// selection is cleared when it pointed at the removed account.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return err
	}

	kept := state.Accounts[:0]
	for _, acc := range state.Accounts {
		if acc.ID != id {
			kept = append(kept, acc)
		}
	}
	state.Accounts = kept

	if state.SelectedID == id {
		state.SelectedID = ""
	}
	state.LastCredentials = nil

	return r.storage.Save(state)
}

func (r *Registry) Select(id string) (*model.IptvAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(state, id)
	if i < 0 {
		return nil, apperrors.NotFound("Account")
	}

	selectLocked(state, &state.Accounts[i])
	if err := r.storage.Save(state); err != nil {
		return nil, err
	}

	out := cloneAccount(state.Accounts[i])
	return &out, nil
}

// Selected returns the selected account or nil when none is selected.
func (r *Registry) Selected() (*model.IptvAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}
	if state.SelectedID == "" {
		return nil, nil
	}
	i := indexOf(state, state.SelectedID)
	if i < 0 {
		return nil, nil
	}
	out := cloneAccount(state.Accounts[i])
	return &out, nil
}

func (r *Registry) LastCredentials() (*model.AccountCredentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return nil, err
	}
	return state.LastCredentials, nil
}

// Active returns every account not known to be expired.
func (r *Registry) Active() ([]model.IptvAccount, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	return activeAccounts(all), nil
}

// Fastest picks the reachable account with the lowest measured latency,
// falling back to the first active account when none has been measured.
func (r *Registry) Fastest() (*model.IptvAccount, error) {
	active, err := r.Active()
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	candidates := make([]model.IptvAccount, 0, len(active))
	for _, acc := range active {
		if acc.LatencyMs == nil || *acc.LatencyMs <= 0 {
			continue
		}
		if acc.Status == model.AccountStatusOffline || acc.Status == model.AccountStatusExpired {
			continue
		}
		candidates = append(candidates, acc)
	}
	if len(candidates) == 0 {
		return &active[0], nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].LatencyMs < *candidates[j].LatencyMs
	})
	return &candidates[0], nil
}

// Check verifies one account upstream and records status, expiry and the
// round-trip latency. A failed check marks the account offline.
func (r *Registry) Check(ctx context.Context, id string) (*model.IptvAccount, error) {
	acc, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	info, verifyErr := r.verifier.VerifyAccount(ctx, model.UpstreamCredentials{
		Host:     acc.Host,
		Username: acc.Username,
		Password: acc.Password,
	})
	latency := time.Since(start).Milliseconds()
	end := r.now()

	status := model.AccountStatusOffline
	params := model.UpdateAccountParams{
		Status:      &status,
		LastChecked: &end,
		LatencyMs:   &latency,
	}
	if verifyErr != nil {
		log.Warn().Err(verifyErr).Str("id", id).Msg("account check failed")
	} else {
		if info.Status != "" {
			status = info.Status
		}
		expiresAt := info.ExpiresAt
		params.ExpiresAt = &expiresAt
	}

	return r.Update(id, params)
}

// CheckAll verifies every account concurrently.
func (r *Registry) CheckAll(ctx context.Context) ([]model.IptvAccount, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(all))
	for i, acc := range all {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = r.Check(ctx, id)
		}(i, acc.ID)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r.All()
}

// ClearAll forgets every account, the selection and the last credentials.
func (r *Registry) ClearAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storage.Reset()
}

func selectLocked(state *State, acc *model.IptvAccount) {
	state.SelectedID = acc.ID
	state.LastCredentials = &model.AccountCredentials{
		Host:     acc.Host,
		Username: acc.Username,
		Password: acc.Password,
	}
}

func indexOf(state *State, id string) int {
	for i := range state.Accounts {
		if state.Accounts[i].ID == id {
			return i
		}
	}
	return -1
}

func activeAccounts(all []model.IptvAccount) []model.IptvAccount {
	out := make([]model.IptvAccount, 0, len(all))
	for _, acc := range all {
		if acc.Status != model.AccountStatusExpired {
			out = append(out, acc)
		}
	}
	return out
}

func applyUpdate(acc *model.IptvAccount, params model.UpdateAccountParams) {
	if params.Name != nil {
		acc.Name = *params.Name
	}
	if params.Password != nil {
		acc.Password = *params.Password
	}
	if params.Status != nil {
		acc.Status = *params.Status
	}
	if params.LastChecked != nil {
		t := *params.LastChecked
		acc.LastChecked = &t
	}
	if params.ExpiresAt != nil {
		acc.ExpiresAt = *params.ExpiresAt
	}
	if params.LatencyMs != nil {
		l := *params.LatencyMs
		acc.LatencyMs = &l
	}
}
