package memberauth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OTPSender delivers one-time codes out of band. The default sender
// only logs, real deployments plug in an SMS gateway.
type OTPSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// ResetSender delivers password-reset links.
type ResetSender interface {
	SendResetLink(ctx context.Context, email string, reset *PasswordReset) error
}

// OTPSenderFunc adapts a function to OTPSender.
type OTPSenderFunc func(ctx context.Context, phone, code string) error

func (f OTPSenderFunc) SendCode(ctx context.Context, phone, code string) error {
	return f(ctx, phone, code)
}

// ResetSenderFunc adapts a function to ResetSender.
type ResetSenderFunc func(ctx context.Context, email string, reset *PasswordReset) error

func (f ResetSenderFunc) SendResetLink(ctx context.Context, email string, reset *PasswordReset) error {
	return f(ctx, email, reset)
}

// DefaultOTPTTL bounds how long a one-time code stays redeemable.
const DefaultOTPTTL = 5 * time.Minute

const otpCodeLength = 6

// Directory is the reference Backend backed by the local database. It
// owns credential checks, OTP challenges, token issuance, and the
// session event feed.
type Directory struct {
	db      *bun.DB
	repo    RepositoryManager
	tokener TokenService
	hasher  PasswordAuthenticator
	logger  Logger
	otps    OTPSender
	resets  ResetSender
	codeTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	listeners map[int]AuthEventHandler
	nextID    int
}

var _ Backend = (*Directory)(nil)

type DirectoryOption func(*Directory)

func DirectoryWithLogger(logger Logger) DirectoryOption {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func DirectoryWithOTPSender(sender OTPSender) DirectoryOption {
	return func(d *Directory) {
		if sender != nil {
			d.otps = sender
		}
	}
}

func DirectoryWithResetSender(sender ResetSender) DirectoryOption {
	return func(d *Directory) {
		if sender != nil {
			d.resets = sender
		}
	}
}

func DirectoryWithOTPTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.codeTTL = ttl
		}
	}
}

func DirectoryWithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDirectory(db *bun.DB, repo RepositoryManager, tokener TokenService, opts ...DirectoryOption) *Directory {
	d := &Directory{
		db:        db,
		repo:      repo,
		tokener:   tokener,
		hasher:    bcryptAuthenticator{},
		logger:    defLogger{},
		codeTTL:   DefaultOTPTTL,
		now:       time.Now,
		listeners: map[int]AuthEventHandler{},
	}
	d.otps = OTPSenderFunc(func(_ context.Context, phone, code string) error {
		d.logger.Info("OTP for %s: %s", phone, code)
		return nil
	})
	d.resets = ResetSenderFunc(func(_ context.Context, email string, reset *PasswordReset) error {
		d.logger.Info("password reset requested for %s (ticket %s)", email, reset.ID)
		return nil
	})
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ValidationError("email and password are required")
	}

	user, err := d.repo.Users().GetByIdentifier(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, d.unreachable(err, "user lookup failed")
	}

	if !user.HasPassword() {
		return nil, ErrPasswordSetupRequired
	}

	if err := d.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrWrongPassword
	}

	if err := d.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		d.logger.Warn("failed to record login time for %s: %v", user.ID, err)
	}

	return d.establish(user)
}

func (d *Directory) SignUp(ctx context.Context, email, password string, meta ProfileMeta) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ValidationError("email is required")
	}

	record := &User{
		Name:  meta.Name,
		Email: email,
		Phone: meta.Phone,
		Plan:  meta.Plan,
	}

	if password != "" {
		hash, err := d.hasher.HashPassword(password)
		if err != nil {
			return nil, err
		}
		record.PasswordHash = hash
	}

	user, err := d.repo.Users().Register(ctx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user").
			WithTextCode(TextCodeAuthError).
			WithCode(goerrors.CodeConflict)
	}

	return d.establish(user)
}

// SignInWithOTP opens a challenge for the phone: a fresh code is
// generated, stored hashed, and handed to the sender. The account row
// is not created until the code is verified.
func (d *Directory) SignInWithOTP(ctx context.Context, phone string, meta ProfileMeta) error {
	if phone == "" {
		return ValidationError("phone is required")
	}

	code, err := generateOTPCode()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not generate code")
	}

	hash, err := d.hasher.HashPassword(code)
	if err != nil {
		return err
	}

	now := d.now()
	challenge := &OTPChallenge{
		ID:        uuid.New(),
		Phone:     phone,
		Name:      meta.Name,
		Email:     meta.Email,
		CodeHash:  hash,
		Status:    ChallengePending,
		ExpiresAt: now.Add(d.codeTTL),
		CreatedAt: &now,
	}

	if _, err := d.repo.OTPChallenges().Create(ctx, challenge); err != nil {
		return d.unreachable(err, "could not open challenge")
	}

	if err := d.otps.SendCode(ctx, phone, code); err != nil {
		return d.unreachable(err, "could not deliver code")
	}

	d.logger.Debug("challenge %s opened for %s", challenge.ID, phone)
	return nil
}

// VerifyOTP redeems the newest pending challenge for the phone. On
// success the account row is created if it does not exist yet, the
// phone is marked verified, and a session is established.
func (d *Directory) VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error) {
	if phone == "" || code == "" {
		return nil, ValidationError("phone and code are required")
	}

	challenge := &OTPChallenge{}
	err := d.db.NewSelect().
		Model(challenge).
		Where("?TableAlias.phone = ?", phone).
		Where("?TableAlias.status = ?", ChallengePending).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthFailed
		}
		return nil, d.unreachable(err, "challenge lookup failed")
	}

	if challenge.Expired(d.now()) {
		return nil, goerrors.New("the code has expired, request a new one", goerrors.CategoryAuth).
			WithTextCode(TextCodeAuthError).
			WithCode(goerrors.CodeUnauthorized)
	}

	if err := d.hasher.ComparePasswordAndHash(code, challenge.CodeHash); err != nil {
		return nil, ErrAuthFailed
	}

	now := d.now()
	challenge.Status = ChallengeVerified
	challenge.VerifiedAt = &now
	if _, err := d.db.NewUpdate().
		Model(challenge).
		Column("status", "verified_at").
		WherePK().
		Exec(ctx); err != nil {
		return nil, d.unreachable(err, "could not close challenge")
	}

	user, err := d.repo.Users().GetByIdentifier(ctx, phone)
	if err != nil {
		if !goerrors.IsNotFound(err) {
			return nil, d.unreachable(err, "user lookup failed")
		}
		user, err = d.repo.Users().Register(ctx, &User{
			Name:  DisplayName(challenge.Name, challenge.Email, phone),
			Email: challenge.Email,
			Phone: phone,
		})
		if err != nil {
			return nil, d.unreachable(err, "account creation failed")
		}
	}

	if !user.PhoneVerified {
		if err := d.repo.Users().MarkPhoneVerified(ctx, user.ID); err != nil {
			d.logger.Warn("failed to mark phone verified for %s: %v", user.ID, err)
		}
		user.PhoneVerified = true
	}

	if err := d.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		d.logger.Warn("failed to record login time for %s: %v", user.ID, err)
	}

	return d.establish(user)
}

// UpdatePassword replaces the password of the session the token
// identifies. The token must still be valid.
func (d *Directory) UpdatePassword(ctx context.Context, token, password string) error {
	if password == "" {
		return ErrNoEmptyString
	}

	claims, err := d.tokener.Validate(token)
	if err != nil {
		return ErrNotAuthenticated
	}

	id, err := uuid.Parse(claims.UID)
	if err != nil {
		return ErrNotAuthenticated
	}

	hash, err := d.hasher.HashPassword(password)
	if err != nil {
		return err
	}

	if err := d.repo.Users().SetPasswordHash(ctx, id, hash); err != nil {
		return d.unreachable(err, "could not store password")
	}

	return nil
}

func (d *Directory) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError("email is required")
	}

	user, err := d.repo.Users().GetByIdentifier(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			// Do not disclose which emails have accounts here; the
			// caller decides how much to reveal.
			return ErrUserNotFound
		}
		return d.unreachable(err, "user lookup failed")
	}

	reset := &PasswordReset{
		ID:     uuid.New(),
		UserID: &user.ID,
		Status: ResetRequestedStatus,
		Email:  email,
	}

	if _, err := d.repo.PasswordResets().Create(ctx, reset); err != nil {
		return d.unreachable(err, "could not open reset request")
	}

	if err := d.resets.SendResetLink(ctx, email, reset); err != nil {
		return d.unreachable(err, "could not deliver reset link")
	}

	return nil
}

func (d *Directory) CheckAuthMethods(ctx context.Context, email string) (AuthMethods, error) {
	methods, err := d.repo.Users().CheckAuthMethods(ctx, email)
	if err != nil {
		return AuthMethods{}, d.unreachable(err, "auth method lookup failed")
	}
	return methods, nil
}

func (d *Directory) GetProfile(ctx context.Context, id string) (*Profile, error) {
	user, err := d.repo.Users().GetByIdentifier(ctx, id)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, d.unreachable(err, "profile lookup failed")
	}

	return &Profile{
		ID:    user.ID.String(),
		Name:  DisplayName(user.Name, user.Email, user.Phone),
		Email: user.Email,
		Phone: user.Phone,
		Role:  user.Role,
		Plan:  user.Plan,
	}, nil
}

// SignOut is idempotent, a missing or malformed token is not an error.
func (d *Directory) SignOut(ctx context.Context, token string) error {
	var result *AuthResult
	if claims, err := d.tokener.Validate(token); err == nil {
		result = &AuthResult{UserID: claims.UID}
	}
	d.publish(AuthEvent{Type: AuthEventSignedOut, Result: result})
	return nil
}

func (d *Directory) Subscribe(fn AuthEventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

func (d *Directory) establish(user *User) (*AuthResult, error) {
	session := SessionFromUser(user)

	token, err := d.tokener.Generate(session)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not mint session token")
	}

	result := &AuthResult{
		UserID:    session.ID,
		Email:     session.Email,
		Phone:     session.Phone,
		Role:      session.Role,
		Token:     token,
		CreatedAt: session.CreatedAt,
		Meta: ProfileMeta{
			Name:  session.Name,
			Email: session.Email,
			Phone: session.Phone,
			Plan:  session.Plan,
		},
	}

	d.publish(AuthEvent{Type: AuthEventSignedIn, Result: result})
	return result, nil
}

func (d *Directory) publish(event AuthEvent) {
	d.mu.Lock()
	handlers := make([]AuthEventHandler, 0, len(d.listeners))
	for _, fn := range d.listeners {
		handlers = append(handlers, fn)
	}
	d.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

func (d *Directory) unreachable(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, msg).
		WithTextCode(TextCodeNetworkError).
		WithCode(goerrors.CodeInternal)
}

func generateOTPCode() (string, error) {
	max := big.NewInt(10)
	code := make([]byte, otpCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
