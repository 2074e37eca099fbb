package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ CredentialStore = &MemoryCredentialStore{}

// StoreOptions configures token validity checks of credential stores.
type StoreOptions struct {
	Leeway time.Duration
	Now    func() time.Time
}

// StoreOption customizes StoreOptions
type StoreOption func(*StoreOptions)

// WithStoreLeeway sets the clock skew tolerated on exp and nbf claims.
func WithStoreLeeway(d time.Duration) StoreOption {
	return func(o *StoreOptions) {
		if d >= 0 {
			o.Leeway = d
		}
	}
}

// WithStoreClock injects a custom clock (useful for tests).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(o *StoreOptions) {
		if now != nil {
			o.Now = now
		}
	}
}

// ResolveStoreOptions applies opts over the defaults.
func ResolveStoreOptions(opts ...StoreOption) StoreOptions {
	options := StoreOptions{
		Leeway: DefaultTokenLeeway,
		Now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// ValidToken reports whether token is a well formed JWT whose exp and nbf
// claims hold at now, allowing leeway. The signature is not verified; the
// gateway's server side owns that.
func ValidToken(token string, now time.Time, leeway time.Duration) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}

	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time.Add(leeway)) {
		return false
	}

	if claims.NotBefore != nil && now.Add(leeway).Before(claims.NotBefore.Time) {
		return false
	}

	return true
}

// MemoryCredentialStore keeps credentials in process memory.
type MemoryCredentialStore struct {
	mu        sync.RWMutex
	token     string
	principal *Principal
	options   StoreOptions
}

// NewMemoryCredentialStore returns an empty store.
func NewMemoryCredentialStore(opts ...StoreOption) *MemoryCredentialStore {
	return &MemoryCredentialStore{
		options: ResolveStoreOptions(opts...),
	}
}

func (s *MemoryCredentialStore) Save(_ context.Context, token string, principal Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.principal = &principal
	return nil
}

func (s *MemoryCredentialStore) SavePrincipal(_ context.Context, principal Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = &principal
	return nil
}

func (s *MemoryCredentialStore) Principal(_ context.Context) (Principal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Principal{}, false, nil
	}
	return *s.principal, true, nil
}

func (s *MemoryCredentialStore) HasValidToken(_ context.Context) bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return ValidToken(token, s.options.Now(), s.options.Leeway)
}

// Token returns the stored raw token.
func (s *MemoryCredentialStore) Token(_ context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryCredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.principal = nil
	return nil
}
