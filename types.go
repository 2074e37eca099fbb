package session

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

// AuthResult is returned by the gateway on a successful login or registration.
type AuthResult struct {
	Principal Principal `json:"principal"`
	Token     string    `json:"token"`
}

// AuthGateway is the remote authentication service. Implementations own the
// transport, retries and timeouts. The machine never holds its snapshot
// lock across gateway calls, so implementations may read the machine.
// Logout must not call back into the machine's mutating operations.
type AuthGateway interface {
	Login(ctx context.Context, email, password, mfaCode string) (AuthResult, error)
	Register(ctx context.Context, data RegistrationData) (AuthResult, error)
	GetMe(ctx context.Context) (Principal, error)
	GetTrustAssessment(ctx context.Context) (TrustAssessment, error)
	// IsAuthenticated is a local check of the token the gateway attaches to
	// requests. It must not perform network calls.
	IsAuthenticated() bool
	// Logout clears the token storage owned by the gateway.
	Logout(ctx context.Context) error
}

// KeyLoader prepares decryption keys needed before protected actions.
type KeyLoader interface {
	LoadPrivateKeys(ctx context.Context) error
}

// KeyLoaderFunc adapts a function to the KeyLoader interface.
type KeyLoaderFunc func(ctx context.Context) error

// LoadPrivateKeys implements KeyLoader.
func (f KeyLoaderFunc) LoadPrivateKeys(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// CredentialStore holds token material and the last known principal.
// Writes are serialized by the machine outside its snapshot lock. Methods
// may read the machine but must not call its mutating operations.
type CredentialStore interface {
	// Save replaces the stored token and principal.
	Save(ctx context.Context, token string, principal Principal) error
	// SavePrincipal replaces the cached principal, keeping the token.
	SavePrincipal(ctx context.Context, principal Principal) error
	// Principal returns the cached principal. ok is false when nothing is stored.
	Principal(ctx context.Context) (principal Principal, ok bool, err error)
	// HasValidToken reports whether a token is present and not expired.
	HasValidToken(ctx context.Context) bool
	// Clear drops token and principal.
	Clear(ctx context.Context) error
}

// Config holds machine options
type Config interface {
	GetSyncInterval() time.Duration
	GetTokenLeeway() time.Duration
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type noopKeyLoader struct{}

func (noopKeyLoader) LoadPrivateKeys(context.Context) error {
	return nil
}
