package memberauth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the options the library needs from the host application
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetDefaultPhoneRegion() string
}

// Backend is the hosted auth/data service the orchestrator talks to.
// Implementations must make infrastructure failures distinguishable
// from definitive rejections: wrap unreachable-class errors so that
// IsUnreachableError reports true for them.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error)
	SignUp(ctx context.Context, email, password string, meta ProfileMeta) (*AuthResult, error)
	SignInWithOTP(ctx context.Context, phone string, meta ProfileMeta) error
	VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error)
	UpdatePassword(ctx context.Context, token, password string) error
	SendPasswordReset(ctx context.Context, email string) error
	CheckAuthMethods(ctx context.Context, email string) (AuthMethods, error)
	GetProfile(ctx context.Context, id string) (*Profile, error)
	SignOut(ctx context.Context, token string) error
	Subscribe(fn AuthEventHandler) (unsubscribe func())
}

// AuthResult is the minimal identity the backend returns from a
// successful sign-in, sign-up or OTP verification.
type AuthResult struct {
	UserID    string
	Email     string
	Phone     string
	Role      UserRole
	Token     string
	CreatedAt time.Time
	Meta      ProfileMeta
}

// Profile is the canonical row the backend keeps for an account.
type Profile struct {
	ID    string
	Name  string
	Email string
	Phone string
	Role  UserRole
	Plan  Plan
}

// ProfileMeta travels with sign-up and OTP challenges so the backend
// can seed the canonical row once the identity proof completes.
type ProfileMeta struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Plan  Plan   `json:"plan,omitempty"`
}

// AuthMethods reports how an account can authenticate. It backs the
// login-error disambiguation and must come from a backend-side query,
// password hashes are never exposed to callers.
type AuthMethods struct {
	Exists      bool `json:"exists"`
	HasPassword bool `json:"has_password"`
	HasPhone    bool `json:"has_phone"`
}

// AuthEventType enumerates backend session events.
type AuthEventType string

const (
	AuthEventSignedIn  AuthEventType = "signed_in"
	AuthEventSignedOut AuthEventType = "signed_out"
)

// AuthEvent is pushed to subscribers on every session change.
type AuthEvent struct {
	Type   AuthEventType
	Result *AuthResult
}

// AuthEventHandler consumes backend session events.
type AuthEventHandler func(event AuthEvent)

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
