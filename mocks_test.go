package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGateway implements session.AuthGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Login(ctx context.Context, email, password, mfaCode string) (session.AuthResult, error) {
	args := m.Called(ctx, email, password, mfaCode)
	return args.Get(0).(session.AuthResult), args.Error(1)
}

func (m *MockGateway) Register(ctx context.Context, data session.RegistrationData) (session.AuthResult, error) {
	args := m.Called(ctx, data)
	return args.Get(0).(session.AuthResult), args.Error(1)
}

func (m *MockGateway) GetMe(ctx context.Context) (session.Principal, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.Principal), args.Error(1)
}

func (m *MockGateway) GetTrustAssessment(ctx context.Context) (session.TrustAssessment, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.TrustAssessment), args.Error(1)
}

func (m *MockGateway) IsAuthenticated() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockGateway) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockKeyLoader implements session.KeyLoader
type MockKeyLoader struct {
	mock.Mock
}

func (m *MockKeyLoader) LoadPrivateKeys(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockCredentialStore implements session.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Save(ctx context.Context, token string, principal session.Principal) error {
	args := m.Called(ctx, token, principal)
	return args.Error(0)
}

func (m *MockCredentialStore) SavePrincipal(ctx context.Context, principal session.Principal) error {
	args := m.Called(ctx, principal)
	return args.Error(0)
}

func (m *MockCredentialStore) Principal(ctx context.Context) (session.Principal, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.Principal), args.Bool(1), args.Error(2)
}

func (m *MockCredentialStore) HasValidToken(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockCredentialStore) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fakeTicker is fired by hand from tests.
type fakeTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

func (t *fakeTicker) Stopped() bool {
	return t.stopped.Load()
}

// tickers records every ticker the scheduler creates.
type tickers struct {
	mu       sync.Mutex
	created  []*fakeTicker
	interval time.Duration
}

func (f *tickers) factory(d time.Duration) session.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	f.created = append(f.created, t)
	f.interval = d
	return t
}

func (f *tickers) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *tickers) Last() *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// Fire delivers one tick to the latest ticker.
func (f *tickers) Fire(t *testing.T) {
	t.Helper()
	ticker := f.Last()
	require.NotNil(t, ticker, "no ticker was created")
	select {
	case ticker.c <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

// clock is a mutable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []session.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event session.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []session.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) Has(eventType session.ActivityEventType) bool {
	for _, t := range s.Types() {
		if t == eventType {
			return true
		}
	}
	return false
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func tokenFor(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func textCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}
