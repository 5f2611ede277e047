package memberauth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// FallbackStore is the local persistent mirror: a directory of
// degraded-mode accounts consulted only when the hosted backend is
// unreachable, the serialized current session, and the pending
// verification attempt. It is the one write path shared by several
// orchestrator steps, so every mutation is read-modify-write under a
// lock.
type FallbackStore interface {
	AttemptStore

	FindAccount(email, password string) (*FallbackAccount, bool, error)
	AccountExists(email string) (bool, error)
	CreateAccount(acct FallbackAccount) (*FallbackAccount, error)
	TouchLogin(id string, at time.Time) error

	LoadSession() (*SessionUser, error)
	SaveSession(user *SessionUser) error
	ClearSession() error
}

type fallbackState struct {
	Accounts []FallbackAccount `json:"accounts"`
	Session  *SessionUser      `json:"session,omitempty"`
	Attempt  *PendingAttempt   `json:"attempt,omitempty"`
}

// FileFallbackStore persists the mirror as a single JSON document,
// written atomically via temp-file rename.
type FileFallbackStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ FallbackStore = (*FileFallbackStore)(nil)

// NewFileFallbackStore creates a store rooted at path. The parent
// directory is created on first write.
func NewFileFallbackStore(path string) *FileFallbackStore {
	return &FileFallbackStore{
		path: path,
		now:  time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (s *FileFallbackStore) WithClock(clock func() time.Time) *FileFallbackStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *FileFallbackStore) load() (*fallbackState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &fallbackState{}, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read fallback mirror")
	}

	state := &fallbackState{}
	if err := json.Unmarshal(data, state); err != nil {
		// A corrupt mirror is discarded rather than bricking login.
		return &fallbackState{}, nil
	}

	return state, nil
}

func (s *FileFallbackStore) save(state *fallbackState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create fallback mirror dir")
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode fallback mirror")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write fallback mirror")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace fallback mirror")
	}

	return nil
}

func (s *FileFallbackStore) update(fn func(*fallbackState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.save(state)
}

// FindAccount matches an identifier+credential pair against the local
// directory. Fallback accounts store the password as given, the
// comparison is a direct equality check.
func (s *FileFallbackStore) FindAccount(email, password string) (*FallbackAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, false, err
	}

	for i := range state.Accounts {
		if state.Accounts[i].Email == email && state.Accounts[i].Password == password {
			acct := state.Accounts[i]
			return &acct, true, nil
		}
	}

	return nil, false, nil
}

func (s *FileFallbackStore) AccountExists(email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return false, err
	}

	for i := range state.Accounts {
		if state.Accounts[i].Email == email {
			return true, nil
		}
	}
	return false, nil
}

// CreateAccount appends a degraded-mode record, assigning defaults the
// same way the hosted backend would: fresh id, user role, free plan.
func (s *FileFallbackStore) CreateAccount(acct FallbackAccount) (*FallbackAccount, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Role == "" {
		acct.Role = RoleUser
	}
	if acct.Plan == "" {
		acct.Plan = PlanFree
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = s.now()
	}

	err := s.update(func(state *fallbackState) error {
		for i := range state.Accounts {
			if state.Accounts[i].Email == acct.Email {
				return goerrors.New("account already exists in fallback store", goerrors.CategoryConflict).
					WithTextCode(TextCodeAuthError).
					WithCode(goerrors.CodeConflict)
			}
		}
		state.Accounts = append(state.Accounts, acct)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &acct, nil
}

func (s *FileFallbackStore) TouchLogin(id string, at time.Time) error {
	return s.update(func(state *fallbackState) error {
		for i := range state.Accounts {
			if state.Accounts[i].ID == id {
				state.Accounts[i].LastLogin = &at
				return nil
			}
		}
		return nil
	})
}

func (s *FileFallbackStore) LoadSession() (*SessionUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.Session, nil
}

func (s *FileFallbackStore) SaveSession(user *SessionUser) error {
	return s.update(func(state *fallbackState) error {
		state.Session = user
		return nil
	})
}

func (s *FileFallbackStore) ClearSession() error {
	return s.update(func(state *fallbackState) error {
		state.Session = nil
		return nil
	})
}

func (s *FileFallbackStore) LoadAttempt() (*PendingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}

	if state.Attempt != nil && state.Attempt.Expired(s.now()) {
		return nil, nil
	}

	return state.Attempt, nil
}

func (s *FileFallbackStore) SaveAttempt(attempt *PendingAttempt) error {
	return s.update(func(state *fallbackState) error {
		state.Attempt = attempt
		return nil
	})
}

func (s *FileFallbackStore) ClearAttempt() error {
	return s.update(func(state *fallbackState) error {
		state.Attempt = nil
		return nil
	})
}
