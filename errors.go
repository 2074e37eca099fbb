package session

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAuthFailed           = "SESSION_AUTH_FAILED"
	TextCodeInvalidCredentials   = "SESSION_INVALID_CREDENTIALS"
	TextCodeUnauthorized         = "SESSION_UNAUTHORIZED"
	TextCodeNetwork              = "SESSION_NETWORK_ERROR"
	TextCodeKeyLoad              = "SESSION_KEY_LOAD_FAILED"
	TextCodeAlreadyAuthenticated = "SESSION_ALREADY_AUTHENTICATED"
	TextCodeNotAuthenticated     = "SESSION_NOT_AUTHENTICATED"
	TextCodeSessionSuperseded    = "SESSION_SUPERSEDED"
	TextCodeInvalidAssessment    = "SESSION_INVALID_TRUST_ASSESSMENT"
	TextCodeInvalidConfig        = "SESSION_INVALID_CONFIG"
)

// ErrAuth is returned when the gateway rejects credentials or requires MFA.
var ErrAuth = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials is returned when login or registration input fails
// validation before reaching the gateway.
var ErrInvalidCredentials = goerrors.New("invalid credentials payload", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrUnauthorized is returned when any endpoint rejects the session token.
var ErrUnauthorized = goerrors.New("session token rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetwork is a transient transport failure (timeouts, no response).
var ErrNetwork = goerrors.New("auth gateway unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(http.StatusServiceUnavailable)

// ErrKeyLoad is returned by key loaders that failed to prepare key material.
var ErrKeyLoad = goerrors.New("unable to load private keys", goerrors.CategoryInternal).
	WithTextCode(TextCodeKeyLoad).
	WithCode(http.StatusInternalServerError)

// ErrAlreadyAuthenticated is returned by Login and Register while a session is active.
var ErrAlreadyAuthenticated = goerrors.New("session already authenticated", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyAuthenticated).
	WithCode(goerrors.CodeConflict)

// ErrNotAuthenticated is returned by operations that need an active session.
var ErrNotAuthenticated = goerrors.New("session not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionSuperseded is returned when a login or registration result
// arrives after the session moved to another epoch.
var ErrSessionSuperseded = goerrors.New("session changed while request was in flight", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionSuperseded).
	WithCode(goerrors.CodeConflict)

// ErrInvalidAssessment is returned for trust assessments outside the accepted ranges.
var ErrInvalidAssessment = goerrors.New("invalid trust assessment", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidAssessment).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidConfig is returned when a BaseConfig fails validation.
var ErrInvalidConfig = goerrors.New("invalid session configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// NewAuthError wraps cause as an ErrAuth.
func NewAuthError(cause error) error {
	return withSource(ErrAuth, cause)
}

// NewUnauthorizedError wraps cause as an ErrUnauthorized.
func NewUnauthorizedError(cause error) error {
	return withSource(ErrUnauthorized, cause)
}

// NewNetworkError wraps cause as an ErrNetwork.
func NewNetworkError(cause error) error {
	return withSource(ErrNetwork, cause)
}

// NewKeyLoadError wraps cause as an ErrKeyLoad.
func NewKeyLoadError(cause error) error {
	return withSource(ErrKeyLoad, cause)
}

// IsUnauthorizedError reports whether err means the token was rejected.
func IsUnauthorizedError(err error) bool {
	return hasTextCode(err, ErrUnauthorized)
}

// IsAuthError reports whether err is a credential rejection or a failed
// credential validation.
func IsAuthError(err error) bool {
	return hasTextCode(err, ErrAuth) || hasTextCode(err, ErrInvalidCredentials)
}

// IsNetworkError reports whether err is a transient transport failure.
// Deadlines are treated the same as no response.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasTextCode(err, ErrNetwork)
}

// IsKeyLoadError reports whether err came from a key loader.
func IsKeyLoadError(err error) bool {
	return hasTextCode(err, ErrKeyLoad)
}

func hasTextCode(err error, sentinel *goerrors.Error) bool {
	if err == nil || sentinel == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if richErr.TextCode == sentinel.TextCode {
			return true
		}
		if richErr.Source != nil && richErr.Source != err {
			return hasTextCode(richErr.Source, sentinel)
		}
	}
	return false
}

func withSource(base *goerrors.Error, cause error) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	if cause != nil {
		clone.Source = cause
		clone.WithMetadata(map[string]any{
			"cause": cause.Error(),
		})
	}
	return clone
}

func withMetadata(base *goerrors.Error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
