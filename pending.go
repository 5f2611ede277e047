package memberauth

import (
	"time"
)

// pendingAttemptVersion is bumped whenever the serialized shape
// changes; stale versions are discarded on load.
const pendingAttemptVersion = 1

// PendingAttemptTTL bounds how long an abandoned phone-verification
// flow can survive. Attempts older than this are treated as absent.
const PendingAttemptTTL = 15 * time.Minute

// PendingAttempt is the ephemeral state of a multi-step phone
// verification, persisted so the flow survives a client remount. It is
// cleared on successful verification, explicit cancellation, or TTL
// expiry. A transient error never clears it, so a retry keeps its
// progress.
type PendingAttempt struct {
	Version     int       `json:"version"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	Password    string    `json:"password,omitempty"`
	AwaitingOTP bool      `json:"awaiting_otp"`
	IsRegister  bool      `json:"is_register"`
	SentAt      time.Time `json:"sent_at"`
}

// Expired reports whether the attempt is older than the TTL.
func (p *PendingAttempt) Expired(now time.Time) bool {
	if p == nil {
		return true
	}
	return now.Sub(p.SentAt) > PendingAttemptTTL
}

// merge copies non-zero fields of in over p. Updates go through here
// so a later step never wipes a field an earlier step persisted.
func (p *PendingAttempt) merge(in PendingAttempt) {
	if in.Phone != "" {
		p.Phone = in.Phone
	}
	if in.Email != "" {
		p.Email = in.Email
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Password != "" {
		p.Password = in.Password
	}
	if in.AwaitingOTP {
		p.AwaitingOTP = true
	}
	if in.IsRegister {
		p.IsRegister = true
	}
	if !in.SentAt.IsZero() {
		p.SentAt = in.SentAt
	}
	p.Version = pendingAttemptVersion
}

// AttemptStore persists the pending attempt across restarts.
type AttemptStore interface {
	LoadAttempt() (*PendingAttempt, error)
	SaveAttempt(attempt *PendingAttempt) error
	ClearAttempt() error
}

// UpdateAttempt performs the read-modify-write contract: load the
// current attempt, merge the patch over it, write the result back.
// Multiple call sites (send, resend, verify) mutate this state, a
// blind overwrite would lose fields an earlier step set.
func UpdateAttempt(store AttemptStore, patch PendingAttempt) (*PendingAttempt, error) {
	current, err := store.LoadAttempt()
	if err != nil {
		return nil, err
	}

	if current == nil || current.Version != pendingAttemptVersion {
		current = &PendingAttempt{Version: pendingAttemptVersion}
	}

	current.merge(patch)
	if err := store.SaveAttempt(current); err != nil {
		return nil, err
	}

	return current, nil
}
