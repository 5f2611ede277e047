package memberauth_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	auth "github.com/robokit/member-auth"
)

// MockBackend implements auth.Backend
type MockBackend struct {
	mock.Mock

	mu        sync.Mutex
	listeners []auth.AuthEventHandler
}

func (m *MockBackend) SignInWithPassword(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	args := m.Called(ctx, email, password)
	result, _ := args.Get(0).(*auth.AuthResult)
	return result, args.Error(1)
}

func (m *MockBackend) SignUp(ctx context.Context, email, password string, meta auth.ProfileMeta) (*auth.AuthResult, error) {
	args := m.Called(ctx, email, password, meta)
	result, _ := args.Get(0).(*auth.AuthResult)
	return result, args.Error(1)
}

func (m *MockBackend) SignInWithOTP(ctx context.Context, phone string, meta auth.ProfileMeta) error {
	args := m.Called(ctx, phone, meta)
	return args.Error(0)
}

func (m *MockBackend) VerifyOTP(ctx context.Context, phone, code string) (*auth.AuthResult, error) {
	args := m.Called(ctx, phone, code)
	result, _ := args.Get(0).(*auth.AuthResult)
	return result, args.Error(1)
}

func (m *MockBackend) UpdatePassword(ctx context.Context, token, password string) error {
	args := m.Called(ctx, token, password)
	return args.Error(0)
}

func (m *MockBackend) SendPasswordReset(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockBackend) CheckAuthMethods(ctx context.Context, email string) (auth.AuthMethods, error) {
	args := m.Called(ctx, email)
	methods, _ := args.Get(0).(auth.AuthMethods)
	return methods, args.Error(1)
}

func (m *MockBackend) GetProfile(ctx context.Context, id string) (*auth.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*auth.Profile)
	return profile, args.Error(1)
}

func (m *MockBackend) SignOut(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockBackend) Subscribe(fn auth.AuthEventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[idx] = nil
	}
}

// Publish pushes an event to current subscribers.
func (m *MockBackend) Publish(event auth.AuthEvent) {
	m.mu.Lock()
	handlers := make([]auth.AuthEventHandler, len(m.listeners))
	copy(handlers, m.listeners)
	m.mu.Unlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(event)
		}
	}
}

// memFallbackStore is an in-memory auth.FallbackStore for tests.
type memFallbackStore struct {
	mu       sync.Mutex
	accounts []auth.FallbackAccount
	session  *auth.SessionUser
	attempt  *auth.PendingAttempt
	now      func() time.Time
}

func newMemFallbackStore() *memFallbackStore {
	return &memFallbackStore{now: time.Now}
}

func (s *memFallbackStore) FindAccount(email, password string) (*auth.FallbackAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].Email == email && s.accounts[i].Password == password {
			acct := s.accounts[i]
			return &acct, true, nil
		}
	}
	return nil, false, nil
}

func (s *memFallbackStore) AccountExists(email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *memFallbackStore) CreateAccount(acct auth.FallbackAccount) (*auth.FallbackAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.ID == "" {
		acct.ID = "fallback-" + acct.Email
	}
	if acct.Role == "" {
		acct.Role = auth.RoleUser
	}
	if acct.Plan == "" {
		acct.Plan = auth.PlanFree
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = s.now()
	}
	s.accounts = append(s.accounts, acct)
	return &acct, nil
}

func (s *memFallbackStore) TouchLogin(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			s.accounts[i].LastLogin = &at
		}
	}
	return nil
}

func (s *memFallbackStore) LoadSession() (*auth.SessionUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, nil
}

func (s *memFallbackStore) SaveSession(user *auth.SessionUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = user
	return nil
}

func (s *memFallbackStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func (s *memFallbackStore) LoadAttempt() (*auth.PendingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.Expired(s.now()) {
		return nil, nil
	}
	attempt := *s.attempt
	return &attempt, nil
}

func (s *memFallbackStore) SaveAttempt(attempt *auth.PendingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = attempt
	return nil
}

func (s *memFallbackStore) ClearAttempt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = nil
	return nil
}

// recordingSink collects activity events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}
