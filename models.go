package memberauth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is a regular member
	RoleUser UserRole = "user"
	// RoleAdmin can manage other users
	RoleAdmin UserRole = "admin"
)

// Plan identifies the subscription tier
type Plan = string

const (
	PlanFree   Plan = "free"
	PlanPro    Plan = "pro"
	PlanMaster Plan = "master"
)

// Monthly unit prices in BRL, used for revenue estimates.
const (
	PlanProPrice    = 97
	PlanMasterPrice = 197
)

// ValidPlan reports whether p is one of the three known tiers.
func ValidPlan(p Plan) bool {
	switch p {
	case PlanFree, PlanPro, PlanMaster:
		return true
	}
	return false
}

// User is the canonical account row
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	Email         string     `bun:"email,unique,nullzero" json:"email,omitempty"`
	Phone         string     `bun:"phone,nullzero" json:"phone,omitempty"`
	PhoneVerified bool       `bun:"phone_verified" json:"phone_verified"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Plan          Plan       `bun:"plan,notnull" json:"plan,omitempty"`
	IsActive      bool       `bun:"is_active" json:"is_active"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	LastLogin     *time.Time `bun:"last_login,nullzero" json:"last_login,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// HasPassword reports whether the account can authenticate with a
// password. Phone-only registrations leave the hash empty until the
// deferred setup step runs.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// SessionUser is the authenticated identity held by the session
// context. It always has at least one of {email, phone} populated
// once authenticated.
type SessionUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Name      string     `json:"name"`
	Role      UserRole   `json:"role"`
	Plan      Plan       `json:"plan"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// FallbackAccount is the degraded-mode record kept in the local
// mirror. The plaintext password is a known defect carried over from
// the mirror's storage contract, it never leaves the local store.
type FallbackAccount struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	Name      string     `json:"name"`
	Role      UserRole   `json:"role"`
	Plan      Plan       `json:"plan"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// SessionFromUser projects the canonical row into a session identity.
func SessionFromUser(u *User) *SessionUser {
	if u == nil {
		return nil
	}
	var created time.Time
	if u.CreatedAt != nil {
		created = *u.CreatedAt
	}
	return &SessionUser{
		ID:        u.ID.String(),
		Email:     u.Email,
		Phone:     u.Phone,
		Name:      DisplayName(u.Name, u.Email, u.Phone),
		Role:      u.Role,
		Plan:      u.Plan,
		CreatedAt: created,
		LastLogin: u.LastLogin,
	}
}

// SessionFromFallback lifts a fallback record into a session identity.
func SessionFromFallback(acct FallbackAccount, now time.Time) *SessionUser {
	login := now
	return &SessionUser{
		ID:        acct.ID,
		Email:     acct.Email,
		Name:      acct.Name,
		Role:      acct.Role,
		Plan:      acct.Plan,
		CreatedAt: acct.CreatedAt,
		LastLogin: &login,
	}
}

// DisplayName derives a presentable name when none was provided: the
// email local part, then the phone's trailing digits.
func DisplayName(name, email, phone string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if email != "" && strings.Contains(email, "@") {
		return strings.Split(email, "@")[0]
	}
	if digits := digitsOnly(phone); len(digits) >= 4 {
		return "user" + digits[len(digits)-4:]
	}
	return "user"
}

const (
	// ChallengePending means the code was sent and not yet verified.
	ChallengePending = "pending"
	// ChallengeVerified means the code was accepted.
	ChallengeVerified = "verified"
)

// OTPChallenge is one outstanding one-time code sent to a phone.
// Codes are stored hashed; a challenge is single use.
type OTPChallenge struct {
	bun.BaseModel `bun:"table:otp_challenge,alias:otp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Phone         string     `bun:"phone,notnull" json:"phone,omitempty"`
	Name          string     `bun:"name,nullzero" json:"name,omitempty"`
	Email         string     `bun:"email,nullzero" json:"email,omitempty"`
	CodeHash      string     `bun:"code_hash,notnull" json:"-"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	VerifiedAt    *time.Time `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Expired reports whether the challenge can no longer be redeemed.
func (c *OTPChallenge) Expired(now time.Time) bool {
	return c == nil || now.After(c.ExpiresAt)
}

const (
	// ResetRequestedStatus marks a reset email as sent.
	ResetRequestedStatus = "requested"
	// ResetChangedStatus marks the password as replaced.
	ResetChangedStatus = "changed"
)

// PasswordReset tracks one reset request end to end.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,notnull" json:"user_id,omitempty"`
	User          *User      `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// MarkPasswordAsReseted builds the patch row that closes out a reset.
func MarkPasswordAsReseted(id uuid.UUID) *PasswordReset {
	r := &PasswordReset{}
	r.ID = id
	r.Status = ResetChangedStatus
	n := time.Now()
	r.ResetedAt = &n
	return r
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
