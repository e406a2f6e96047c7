package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/util"
)

var (
	// ErrCorrupted means the state file exists but cannot be parsed.
	ErrCorrupted = errors.New("account state is corrupted")
	// ErrLocked means the state is encrypted and no usable key was given.
	ErrLocked = errors.New("account state is encrypted, set IPLINKS_ENCRYPTION_KEY")
)

// State is everything the client persists between runs.
type State struct {
	Accounts        []model.IptvAccount       `json:"accounts"`
	SelectedID      string                    `json:"selectedId,omitempty"`
	LastCredentials *model.AccountCredentials `json:"lastCredentials,omitempty"`
	Salt            string                    `json:"salt,omitempty"`
	Encrypted       bool                      `json:"encrypted,omitempty"`
}

type Storage interface {
	Load() (*State, error)
	Save(state *State) error
	Reset() error
}

type fileStorage struct {
	path   string
	secret string
	mu     sync.Mutex
}

// NewFileStorage keeps state as JSON at path. When secret is non-empty,
// passwords are sealed with AES-256-GCM under a key derived from it.
func NewFileStorage(path, secret string) Storage {
	return &fileStorage{path: path, secret: secret}
}

func (s *fileStorage) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	if !state.Encrypted {
		return &state, nil
	}
	if s.secret == "" {
		return nil, ErrLocked
	}

	sealer, err := s.sealer(state.Salt)
	if err != nil {
		return nil, err
	}
	if err := transformPasswords(&state, sealer.Open); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	state.Encrypted = false
	return &state, nil
}

func (s *fileStorage) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := cloneState(state)
	if s.secret != "" {
		if out.Salt == "" {
			salt, err := util.GenerateSalt()
			if err != nil {
				return fmt.Errorf("generate salt: %w", err)
			}
			out.Salt = salt
			state.Salt = salt
		}
		sealer, err := s.sealer(out.Salt)
		if err != nil {
			return err
		}
		if err := transformPasswords(out, sealer.Seal); err != nil {
			return fmt.Errorf("encrypt state: %w", err)
		}
		out.Encrypted = true
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *fileStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

func (s *fileStorage) sealer(salt string) (*util.Sealer, error) {
	key, err := util.DeriveKey(s.secret, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return util.NewSealer(key)
}

func transformPasswords(state *State, fn func(string) (string, error)) error {
	for i := range state.Accounts {
		p, err := fn(state.Accounts[i].Password)
		if err != nil {
			return err
		}
		state.Accounts[i].Password = p
	}
	if state.LastCredentials != nil {
		p, err := fn(state.LastCredentials.Password)
		if err != nil {
			return err
		}
		state.LastCredentials.Password = p
	}
	return nil
}

type memoryStorage struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStorage keeps state in process only.
func NewMemoryStorage() Storage {
	return &memoryStorage{}
}

func (s *memoryStorage) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return &State{}, nil
	}
	return cloneState(s.state), nil
}

func (s *memoryStorage) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cloneState(state)
	return nil
}

func (s *memoryStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

func cloneState(state *State) *State {
	out := *state
	out.Accounts = make([]model.IptvAccount, len(state.Accounts))
	for i, acc := range state.Accounts {
		out.Accounts[i] = cloneAccount(acc)
	}
	if state.LastCredentials != nil {
		c := *state.LastCredentials
		out.LastCredentials = &c
	}
	return &out
}

func cloneAccount(acc model.IptvAccount) model.IptvAccount {
	if acc.LastChecked != nil {
		t := *acc.LastChecked
		acc.LastChecked = &t
	}
	if acc.LatencyMs != nil {
		l := *acc.LatencyMs
		acc.LatencyMs = &l
	}
	return acc
}
