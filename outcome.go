package memberauth

// FlowState tracks where the orchestrator sits in the authentication
// flow. logged_out is represented by anonymous.
type FlowState string

const (
	StateAnonymous     FlowState = "anonymous"
	StateAwaitingOTP   FlowState = "awaiting_otp"
	StateAuthenticated FlowState = "authenticated"
)

// OutcomeKind tags the result of an orchestrator operation.
type OutcomeKind int

const (
	// OutcomeAuthenticated carries a valid session user.
	OutcomeAuthenticated OutcomeKind = iota
	// OutcomeRejected is a definitive rejection: retrying the same
	// operation with the same input cannot succeed, the classified
	// error names the recovery action.
	OutcomeRejected
	// OutcomeFailed is a recoverable failure (infrastructure, rate
	// limit); the caller may retry or wait.
	OutcomeFailed
	// OutcomePending means an identity challenge is in progress and a
	// follow-up operation is expected (OTP verification).
	OutcomePending
)

// Outcome is the tagged result every orchestrator operation resolves
// to. Expected rejections travel in Err with a text code instead of
// being thrown, only programmer errors use plain error returns.
type Outcome struct {
	Kind OutcomeKind
	User *SessionUser
	Err  error

	// Degraded marks a result produced against the local fallback
	// store while the hosted backend was unreachable. The UI should
	// surface that the account will be synchronized once the service
	// is restored.
	Degraded bool

	// PendingPasswordAttach is set when OTP verification succeeded but
	// the deferred credential attach failed; the session is valid and
	// only the set-password step needs a retry.
	PendingPasswordAttach bool

	// RetryAfterSeconds accompanies RATE_LIMITED failures.
	RetryAfterSeconds int
}

// Authenticated reports whether the outcome carries a session.
func (o Outcome) Authenticated() bool {
	return o.Kind == OutcomeAuthenticated && o.User != nil
}

// Code returns the classified text code of the outcome error, if any.
func (o Outcome) Code() string {
	return TextCode(o.Err)
}

func authenticated(user *SessionUser) Outcome {
	return Outcome{Kind: OutcomeAuthenticated, User: user}
}

func rejected(err error) Outcome {
	return Outcome{Kind: OutcomeRejected, Err: err}
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}
