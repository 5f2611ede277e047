package memberauth

import (
	"context"
	"sync"
)

// SessionContext is the single holder of the current authenticated
// identity. The orchestrator and the backend event feed write it,
// everything else only reads. Reads never trigger I/O.
type SessionContext struct {
	backend  Backend
	fallback FallbackStore
	logger   Logger

	mu          sync.RWMutex
	current     *SessionUser
	token       string
	degraded    bool
	unsubscribe func()
	closed      bool
}

type SessionContextOption func(*SessionContext)

func SessionWithLogger(logger Logger) SessionContextOption {
	return func(s *SessionContext) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSessionContext(backend Backend, fallback FallbackStore, opts ...SessionContextOption) *SessionContext {
	s := &SessionContext{
		backend:  backend,
		fallback: fallback,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start hydrates the session and subscribes to backend auth events.
// Resolution order: persisted local mirror first, then anonymous. A
// hydration failure downgrades to whatever identity is recoverable,
// it never fails Start.
func (s *SessionContext) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.mu.Unlock()

	if s.fallback != nil {
		if mirrored, err := s.fallback.LoadSession(); err != nil {
			s.logger.Warn("session mirror unreadable: %v", err)
		} else if mirrored != nil {
			s.hydrate(ctx, mirrored)
		}
	}

	unsubscribe := s.backend.Subscribe(s.onAuthEvent)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return nil
}

// hydrate refreshes the mirrored identity against the canonical
// profile. A failed profile fetch keeps the minimal identity.
func (s *SessionContext) hydrate(ctx context.Context, user *SessionUser) {
	if profile, err := s.backend.GetProfile(ctx, user.ID); err != nil {
		s.logger.Warn("profile hydration failed for %s, keeping minimal identity: %v", user.ID, err)
	} else {
		user.Name = profile.Name
		user.Email = profile.Email
		user.Phone = profile.Phone
		user.Role = orString(profile.Role, user.Role)
		user.Plan = profile.Plan
	}

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()
}

func (s *SessionContext) onAuthEvent(event AuthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch event.Type {
	case AuthEventSignedIn:
		if event.Result == nil {
			return
		}
		if s.current != nil && s.current.ID == event.Result.UserID {
			// Same identity signing in again is a refresh, not a new
			// session.
			s.current.Email = orString(event.Result.Email, s.current.Email)
			s.current.Phone = orString(event.Result.Phone, s.current.Phone)
			s.current.Name = orString(event.Result.Meta.Name, s.current.Name)
			s.current.Role = orString(event.Result.Role, s.current.Role)
			if event.Result.Meta.Plan != "" {
				s.current.Plan = event.Result.Meta.Plan
			}
			s.token = orString(event.Result.Token, s.token)
			return
		}
		s.current = &SessionUser{
			ID:        event.Result.UserID,
			Email:     event.Result.Email,
			Phone:     event.Result.Phone,
			Name:      DisplayName(event.Result.Meta.Name, event.Result.Email, event.Result.Phone),
			Role:      orString(event.Result.Role, RoleUser),
			Plan:      event.Result.Meta.Plan,
			CreatedAt: event.Result.CreatedAt,
		}
		s.token = event.Result.Token
		s.degraded = false
	case AuthEventSignedOut:
		s.current = nil
		s.token = ""
		s.degraded = false
	}
}

// Current returns the authenticated identity, nil when anonymous. The
// returned value is a copy, mutations do not leak back.
func (s *SessionContext) Current() *SessionUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// Token returns the session token, empty when anonymous or degraded.
func (s *SessionContext) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a session exists.
func (s *SessionContext) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Degraded reports whether the current session was established against
// the local fallback directory instead of the hosted backend.
func (s *SessionContext) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// setCurrent installs an identity directly; the orchestrator uses this
// for fallback logins that never touch the backend event feed.
func (s *SessionContext) setCurrent(user *SessionUser, token string, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.current = user
	s.token = token
	s.degraded = degraded
}

func (s *SessionContext) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.token = ""
	s.degraded = false
}

// Close unsubscribes from the backend feed. No update is observable
// after Close returns.
func (s *SessionContext) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
