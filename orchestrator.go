package memberauth

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

// DefaultBackendTimeout bounds every hosted call. An expired deadline
// is classified as NETWORK_ERROR, there is no internal retry.
const DefaultBackendTimeout = 15 * time.Second

// DefaultResendCooldown is the wall-clock window between OTP sends for
// the same attempt.
const DefaultResendCooldown = 60 * time.Second

// Orchestrator drives the authentication flows end to end: hosted
// path first, local fallback when the backend is unreachable. Every
// operation resolves to a tagged Outcome, expected rejections are
// classified errors inside it.
type Orchestrator struct {
	backend  Backend
	session  *SessionContext
	fallback FallbackStore
	activity ActivitySink
	logger   Logger

	now             func() time.Time
	timeout         time.Duration
	resendCooldown  time.Duration
	enumerationSafe bool

	attemptLimit rate.Limit
	attemptBurst int

	mu            sync.Mutex
	inflight      map[string]bool
	limiters      map[string]*rate.Limiter
	pendingAttach bool
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithActivitySink(sink ActivitySink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.activity = normalizeActivitySink(sink)
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithBackendTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithResendCooldown(cooldown time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if cooldown > 0 {
			o.resendCooldown = cooldown
		}
	}
}

// WithEnumerationSafeErrors collapses the three-way login rejection
// (PASSWORD_SETUP_REQUIRED / WRONG_PASSWORD / USER_NOT_FOUND) into a
// single generic AUTH_ERROR, trading recovery guidance for account
// enumeration resistance.
func WithEnumerationSafeErrors() OrchestratorOption {
	return func(o *Orchestrator) {
		o.enumerationSafe = true
	}
}

// WithAttemptThrottle tunes the per-identifier credential throttle.
func WithAttemptThrottle(limit rate.Limit, burst int) OrchestratorOption {
	return func(o *Orchestrator) {
		if limit > 0 && burst > 0 {
			o.attemptLimit = limit
			o.attemptBurst = burst
		}
	}
}

func NewOrchestrator(backend Backend, session *SessionContext, fallback FallbackStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		backend:        backend,
		session:        session,
		fallback:       fallback,
		activity:       noopActivitySink{},
		logger:         defLogger{},
		now:            time.Now,
		timeout:        DefaultBackendTimeout,
		resendCooldown: DefaultResendCooldown,
		attemptLimit:   rate.Every(time.Second),
		attemptBurst:   5,
		inflight:       map[string]bool{},
		limiters:       map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State derives the flow position from the session and the persisted
// attempt. logged_out is represented by anonymous.
func (o *Orchestrator) State() FlowState {
	if o.session.Authenticated() {
		return StateAuthenticated
	}
	if attempt, err := o.fallback.LoadAttempt(); err == nil && attempt != nil && attempt.AwaitingOTP {
		return StateAwaitingOTP
	}
	return StateAnonymous
}

// PendingPasswordAttach reports whether an OTP verification left a
// credential attach behind that still needs a retry.
func (o *Orchestrator) PendingPasswordAttach() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingAttach
}

// Login authenticates identifier+credential against the hosted
// backend, degrading to the local fallback directory when the backend
// is unreachable. Definitive rejections are disambiguated into exactly
// one of PASSWORD_SETUP_REQUIRED, WRONG_PASSWORD, USER_NOT_FOUND.
func (o *Orchestrator) Login(ctx context.Context, identifier, credential string) Outcome {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || credential == "" {
		return rejected(ValidationError("identifier and credential are required"))
	}

	release, ok := o.begin("login")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	if !o.allowAttempt(identifier) {
		return failed(ErrTooManyAttempts)
	}

	cctx, cancel := o.callCtx(ctx)
	result, err := o.backend.SignInWithPassword(cctx, identifier, credential)
	cancel()

	if err == nil {
		user := o.sessionFromResult(ctx, result)
		o.establish(user, result.Token, false)
		// A password login supersedes any phone verification still in
		// progress.
		if err := o.fallback.ClearAttempt(); err != nil {
			o.logger.Warn("failed to clear pending attempt: %v", err)
		}
		o.record(ActivityEventLoginSuccess, user.ID, identifier, nil)
		return authenticated(user)
	}

	if IsUnreachableError(err) {
		return o.fallbackLogin(identifier, credential, err)
	}

	o.record(ActivityEventLoginFailure, "", identifier, map[string]any{"code": TextCode(err)})
	return rejected(o.disambiguate(ctx, identifier, err))
}

// fallbackLogin consults the local directory after an unreachable
// backend. A hit authenticates from the mirrored record, a miss stays
// a NETWORK_ERROR so the caller knows the credential was never judged.
func (o *Orchestrator) fallbackLogin(identifier, credential string, cause error) Outcome {
	acct, found, err := o.fallback.FindAccount(identifier, credential)
	if err != nil || !found {
		if err != nil {
			o.logger.Warn("fallback directory unreadable: %v", err)
		}
		o.record(ActivityEventLoginFailure, "", identifier, map[string]any{"code": TextCodeNetworkError})
		return failed(goerrors.Wrap(cause, goerrors.CategoryOperation, "auth backend unreachable").
			WithTextCode(TextCodeNetworkError).
			WithCode(goerrors.CodeInternal))
	}

	now := o.now()
	user := SessionFromFallback(*acct, now)
	if err := o.fallback.TouchLogin(acct.ID, now); err != nil {
		o.logger.Warn("failed to record fallback login for %s: %v", acct.ID, err)
	}

	o.establish(user, "", true)
	o.record(ActivityEventLoginFallback, user.ID, identifier, nil)

	out := authenticated(user)
	out.Degraded = true
	return out
}

// disambiguate maps a definitive "invalid credentials" rejection to
// the single code naming the recovery action. When the method lookup
// itself fails the original rejection stands.
func (o *Orchestrator) disambiguate(ctx context.Context, identifier string, cause error) error {
	if o.enumerationSafe {
		return ErrAuthFailed
	}

	cctx, cancel := o.callCtx(ctx)
	methods, err := o.backend.CheckAuthMethods(cctx, identifier)
	cancel()
	if err != nil {
		o.logger.Warn("auth method lookup failed for %s: %v", identifier, err)
		if IsRejectionError(cause) {
			return cause
		}
		return ErrAuthFailed
	}

	switch {
	case !methods.Exists:
		return ErrUserNotFound
	case !methods.HasPassword:
		return ErrPasswordSetupRequired
	default:
		return ErrWrongPassword
	}
}

// Register creates a hosted account with an immediate credential. An
// unreachable backend degrades to a local fallback account so the
// user is not turned away; the outcome is marked Degraded.
func (o *Orchestrator) Register(ctx context.Context, email, credential, name string) Outcome {
	email = strings.TrimSpace(email)
	if email == "" || credential == "" {
		return rejected(ValidationError("email and credential are required"))
	}

	release, ok := o.begin("register")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	cctx, cancel := o.callCtx(ctx)
	result, err := o.backend.SignUp(cctx, email, credential, ProfileMeta{
		Name:  name,
		Email: email,
		Plan:  PlanFree,
	})
	cancel()

	if err == nil {
		user := o.sessionFromResult(ctx, result)
		o.establish(user, result.Token, false)
		o.record(ActivityEventRegisterSuccess, user.ID, email, nil)
		return authenticated(user)
	}

	if !IsUnreachableError(err) {
		// Existing accounts are rejected outright, never silently
		// merged into a session.
		return rejected(err)
	}

	return o.fallbackRegister(email, credential, name, err)
}

func (o *Orchestrator) fallbackRegister(email, credential, name string, cause error) Outcome {
	exists, err := o.fallback.AccountExists(email)
	if err != nil {
		o.logger.Warn("fallback directory unreadable: %v", err)
		return failed(goerrors.Wrap(cause, goerrors.CategoryOperation, "auth backend unreachable").
			WithTextCode(TextCodeNetworkError).
			WithCode(goerrors.CodeInternal))
	}
	if exists {
		return rejected(goerrors.New("an account already exists for that email", goerrors.CategoryConflict).
			WithTextCode(TextCodeAuthError).
			WithCode(goerrors.CodeConflict))
	}

	acct, err := o.fallback.CreateAccount(FallbackAccount{
		Email:    email,
		Password: credential,
		Name:     DisplayName(name, email, ""),
	})
	if err != nil {
		return failed(err)
	}

	user := SessionFromFallback(*acct, o.now())
	o.establish(user, "", true)
	o.record(ActivityEventRegisterDegraded, user.ID, email, nil)

	out := authenticated(user)
	out.Degraded = true
	return out
}

// RegisterWithPhoneAndEmail starts the phone-first registration: the
// phone is normalized, an OTP challenge opens, and the credential is
// parked in the pending attempt for the deferred attach after
// verification.
func (o *Orchestrator) RegisterWithPhoneAndEmail(ctx context.Context, phone, email, credential, name string) Outcome {
	normalized, err := NormalizePhone(phone, DefaultPhoneRegion)
	if err != nil {
		return rejected(err)
	}

	release, ok := o.begin("register_phone")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	now := o.now()
	if _, err := UpdateAttempt(o.fallback, PendingAttempt{
		Phone:       normalized,
		Email:       strings.TrimSpace(email),
		Name:        name,
		Password:    credential,
		AwaitingOTP: true,
		IsRegister:  true,
		SentAt:      now,
	}); err != nil {
		return failed(err)
	}

	cctx, cancel := o.callCtx(ctx)
	err = o.backend.SignInWithOTP(cctx, normalized, ProfileMeta{
		Name:  name,
		Email: strings.TrimSpace(email),
		Phone: normalized,
		Plan:  PlanFree,
	})
	cancel()

	if err != nil {
		if IsUnreachableError(err) {
			return failed(err)
		}
		return rejected(err)
	}

	o.record(ActivityEventOTPSent, "", normalized, nil)
	return Outcome{Kind: OutcomePending}
}

// VerifyOTP redeems the 6-digit code against the pending attempt. A
// deferred registration credential is attached to the fresh session;
// attach failure does not roll back authentication, the outcome
// carries PendingPasswordAttach instead.
func (o *Orchestrator) VerifyOTP(ctx context.Context, code string) Outcome {
	code = strings.TrimSpace(code)
	if len(code) != 6 || digitsOnly(code) != code {
		return rejected(ValidationError("the code must be 6 digits"))
	}

	release, ok := o.begin("verify_otp")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	attempt, err := o.fallback.LoadAttempt()
	if err != nil {
		return failed(err)
	}
	if attempt == nil || !attempt.AwaitingOTP {
		return rejected(ErrNoPendingAttempt)
	}

	if !o.allowAttempt(attempt.Phone) {
		return failed(ErrTooManyAttempts)
	}

	cctx, cancel := o.callCtx(ctx)
	result, err := o.backend.VerifyOTP(cctx, attempt.Phone, code)
	cancel()

	if err != nil {
		if IsUnreachableError(err) {
			return failed(err)
		}
		o.record(ActivityEventLoginFailure, "", attempt.Phone, map[string]any{"code": TextCode(err)})
		return rejected(err)
	}

	user := o.sessionFromResult(ctx, result)

	pendingAttach := false
	if attempt.IsRegister && attempt.Password != "" {
		actx, acancel := o.callCtx(ctx)
		if err := o.backend.UpdatePassword(actx, result.Token, attempt.Password); err != nil {
			// The session stays valid: only the set-password step
			// needs a retry.
			o.logger.Warn("deferred credential attach failed for %s: %v", user.ID, err)
			pendingAttach = true
		}
		acancel()
	}

	if err := o.fallback.ClearAttempt(); err != nil {
		o.logger.Warn("failed to clear pending attempt: %v", err)
	}

	o.establish(user, result.Token, false)
	o.setPendingAttach(pendingAttach)
	o.record(ActivityEventOTPVerified, user.ID, attempt.Phone, nil)

	out := authenticated(user)
	out.PendingPasswordAttach = pendingAttach
	return out
}

// ResendOTP re-sends the code for the pending attempt. Inside the
// cooldown window the outcome is RATE_LIMITED carrying the remaining
// seconds; the window is never reset by a denied resend.
func (o *Orchestrator) ResendOTP(ctx context.Context) Outcome {
	release, ok := o.begin("resend_otp")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	attempt, err := o.fallback.LoadAttempt()
	if err != nil {
		return failed(err)
	}
	if attempt == nil || !attempt.AwaitingOTP {
		return rejected(ErrNoPendingAttempt)
	}

	now := o.now()
	if elapsed := now.Sub(attempt.SentAt); elapsed < o.resendCooldown {
		remaining := int(math.Ceil((o.resendCooldown - elapsed).Seconds()))
		if remaining < 1 {
			remaining = 1
		}
		out := failed(ErrResendCooldown)
		out.RetryAfterSeconds = remaining
		return out
	}

	cctx, cancel := o.callCtx(ctx)
	err = o.backend.SignInWithOTP(cctx, attempt.Phone, ProfileMeta{
		Name:  attempt.Name,
		Email: attempt.Email,
		Phone: attempt.Phone,
		Plan:  PlanFree,
	})
	cancel()

	if err != nil {
		if IsUnreachableError(err) {
			return failed(err)
		}
		return rejected(err)
	}

	if _, err := UpdateAttempt(o.fallback, PendingAttempt{SentAt: now}); err != nil {
		o.logger.Warn("failed to persist resend time: %v", err)
	}

	o.record(ActivityEventOTPSent, "", attempt.Phone, map[string]any{"resend": true})
	return Outcome{Kind: OutcomePending}
}

// ResetPassword always attempts the hosted reset email. The outcome
// never reveals whether an account exists for the address, only an
// unreachable backend surfaces as a failure.
func (o *Orchestrator) ResetPassword(ctx context.Context, email string) Outcome {
	email = strings.TrimSpace(email)
	if email == "" {
		return rejected(ValidationError("email is required"))
	}

	release, ok := o.begin("reset_password")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	cctx, cancel := o.callCtx(ctx)
	err := o.backend.SendPasswordReset(cctx, email)
	cancel()

	if err != nil {
		if IsUnreachableError(err) {
			return failed(err)
		}
		// A missing account gets the same answer as a real one.
		o.logger.Debug("reset request for %s not actionable: %v", email, err)
	}

	o.record(ActivityEventPasswordReset, "", email, nil)
	return Outcome{Kind: OutcomePending}
}

// SetPassword attaches or replaces the password of the current
// session. It requires an authenticated session and clears the
// pending-attach flag on success.
func (o *Orchestrator) SetPassword(ctx context.Context, email, credential string) Outcome {
	if strings.TrimSpace(email) == "" || credential == "" {
		return rejected(ValidationError("email and credential are required"))
	}

	user := o.session.Current()
	if user == nil {
		return rejected(ErrNotAuthenticated)
	}

	release, ok := o.begin("set_password")
	if !ok {
		return rejected(ErrOperationInFlight)
	}
	defer release()

	cctx, cancel := o.callCtx(ctx)
	err := o.backend.UpdatePassword(cctx, o.session.Token(), credential)
	cancel()

	if err != nil {
		if IsUnreachableError(err) {
			return failed(err)
		}
		return rejected(err)
	}

	o.setPendingAttach(false)
	o.record(ActivityEventPasswordSet, user.ID, email, nil)
	return authenticated(user)
}

// Logout invalidates the hosted session and clears every local
// mirror. It is idempotent: logging out while anonymous is a no-op
// success, and a failed hosted invalidation still clears local state.
func (o *Orchestrator) Logout(ctx context.Context) error {
	token := o.session.Token()
	user := o.session.Current()

	cctx, cancel := o.callCtx(ctx)
	if err := o.backend.SignOut(cctx, token); err != nil {
		o.logger.Warn("hosted sign-out failed: %v", err)
	}
	cancel()

	o.session.clear()
	o.setPendingAttach(false)

	if err := o.fallback.ClearSession(); err != nil {
		o.logger.Warn("failed to clear session mirror: %v", err)
	}
	if err := o.fallback.ClearAttempt(); err != nil {
		o.logger.Warn("failed to clear pending attempt: %v", err)
	}

	if user != nil {
		o.record(ActivityEventLogout, user.ID, "", nil)
	}
	return nil
}

// sessionFromResult upgrades the minimal auth identity with the
// canonical profile. A failed profile fetch never blocks login, the
// minimal identity is kept.
func (o *Orchestrator) sessionFromResult(ctx context.Context, result *AuthResult) *SessionUser {
	user := &SessionUser{
		ID:        result.UserID,
		Email:     result.Email,
		Phone:     result.Phone,
		Name:      DisplayName(result.Meta.Name, result.Email, result.Phone),
		Role:      result.Role,
		Plan:      result.Meta.Plan,
		CreatedAt: result.CreatedAt,
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	if user.Plan == "" {
		user.Plan = PlanFree
	}

	cctx, cancel := o.callCtx(ctx)
	defer cancel()

	profile, err := o.backend.GetProfile(cctx, result.UserID)
	if err != nil {
		o.logger.Warn("profile fetch failed for %s, using minimal identity: %v", result.UserID, err)
		return user
	}

	user.Name = orString(profile.Name, user.Name)
	user.Email = orString(profile.Email, user.Email)
	user.Phone = orString(profile.Phone, user.Phone)
	if profile.Role != "" {
		user.Role = profile.Role
	}
	if profile.Plan != "" {
		user.Plan = profile.Plan
	}
	return user
}

// establish installs the session and mirrors it locally.
func (o *Orchestrator) establish(user *SessionUser, token string, degraded bool) {
	o.session.setCurrent(user, token, degraded)

	if err := o.fallback.SaveSession(user); err != nil {
		o.logger.Warn("failed to mirror session for %s: %v", user.ID, err)
	}
}

func (o *Orchestrator) begin(op string) (func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight[op] {
		return nil, false
	}
	o.inflight[op] = true

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.inflight, op)
	}, true
}

// allowAttempt throttles credential checks per identifier so a stolen
// list cannot be ground through the login endpoint.
func (o *Orchestrator) allowAttempt(identifier string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	limiter, ok := o.limiters[identifier]
	if !ok {
		limiter = rate.NewLimiter(o.attemptLimit, o.attemptBurst)
		o.limiters[identifier] = limiter
	}
	return limiter.AllowN(o.now(), 1)
}

func (o *Orchestrator) setPendingAttach(v bool) {
	o.mu.Lock()
	o.pendingAttach = v
	o.mu.Unlock()
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) record(eventType ActivityEventType, userID, identifier string, metadata map[string]any) {
	err := o.activity.Record(context.Background(), ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Identifier: identifier,
		Metadata:   metadata,
		OccurredAt: o.now(),
	})
	if err != nil {
		o.logger.Warn("activity sink rejected %s: %v", eventType, err)
	}
}
