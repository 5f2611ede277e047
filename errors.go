package memberauth

import (
	"context"
	"errors"
	"net"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced to clients. Each maps to one specific recovery
// action in the UI, never a bare "something went wrong" when the cause
// is known.
const (
	TextCodeValidation        = "VALIDATION_ERROR"
	TextCodePasswordSetup     = "PASSWORD_SETUP_REQUIRED"
	TextCodeWrongPassword     = "WRONG_PASSWORD"
	TextCodeUserNotFound      = "USER_NOT_FOUND"
	TextCodeNetworkError      = "NETWORK_ERROR"
	TextCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	TextCodeRateLimited       = "RATE_LIMITED"
	TextCodeAuthError         = "AUTH_ERROR"
	TextCodeOperationInFlight = "OPERATION_IN_FLIGHT"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
)

// ErrPasswordSetupRequired means the account was created phone-only and
// has no password yet; the caller should offer the set-password flow.
var ErrPasswordSetupRequired = goerrors.New("account exists but has no password set", goerrors.CategoryAuth).
	WithTextCode(TextCodePasswordSetup).
	WithCode(goerrors.CodeUnauthorized)

// ErrWrongPassword means the account exists and has a password, the
// credential was simply wrong; offer the forgot-password flow.
var ErrWrongPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeWrongPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotFound means no account exists for the identifier; offer
// the registration flow.
var ErrUserNotFound = goerrors.New("no account exists for that identifier", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrBackendUnreachable classifies infrastructure failures: the hosted
// service could not be reached, the caller may retry or the
// orchestrator may degrade to the local fallback store.
var ErrBackendUnreachable = goerrors.New("auth backend unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetworkError).
	WithCode(goerrors.CodeInternal)

// ErrNotAuthenticated is returned by operations scoped to the current
// session when no session exists.
var ErrNotAuthenticated = goerrors.New("operation requires an authenticated session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrResendCooldown rejects OTP resends inside the cooldown window.
var ErrResendCooldown = goerrors.New("wait before requesting a new code", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(goerrors.CodeTooManyRequests)

// ErrTooManyAttempts throttles repeated credential checks for the
// same identifier.
var ErrTooManyAttempts = goerrors.New("too many attempts, try again shortly", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(goerrors.CodeTooManyRequests)

// ErrAuthFailed is the unclassified backend rejection.
var ErrAuthFailed = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthError).
	WithCode(goerrors.CodeUnauthorized)

// ErrOperationInFlight rejects a duplicate concurrent call of the same
// orchestrator operation.
var ErrOperationInFlight = goerrors.New("operation already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeOperationInFlight).
	WithCode(goerrors.CodeConflict)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrNoPendingAttempt means an OTP operation was invoked with no
// challenge in progress.
var ErrNoPendingAttempt = goerrors.New("no verification in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeAuthError).
	WithCode(goerrors.CodeConflict)

// ValidationError builds a caller-mistake error; these are never
// retried, the input must be corrected.
func ValidationError(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// TextCode extracts the classified code from an error, empty when the
// error carries none.
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

// IsUnreachableError reports whether err is an infrastructure failure
// rather than a definitive rejection: timeouts, connection errors, or
// anything a Backend wrapped with ErrBackendUnreachable.
func IsUnreachableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return TextCode(err) == TextCodeNetworkError
}

// IsRejectionError reports whether err is a definitive credential
// rejection, as opposed to an infrastructure failure.
func IsRejectionError(err error) bool {
	switch TextCode(err) {
	case TextCodeWrongPassword, TextCodeUserNotFound, TextCodePasswordSetup, TextCodeAuthError:
		return true
	}
	return false
}
