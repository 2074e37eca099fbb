package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidToken(t *testing.T) {
	now := newClock().Now()

	notYet := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		NotBefore: jwt.NewNumericDate(now.Add(time.Minute)),
	})
	notYetToken, err := notYet.SignedString([]byte("k"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		leeway time.Duration
		want   bool
	}{
		{name: "empty", token: "", want: false},
		{name: "opaque", token: "not-a-jwt", want: false},
		{name: "live", token: tokenFor(t, "u", now.Add(time.Hour)), want: true},
		{name: "expired", token: tokenFor(t, "u", now.Add(-time.Minute)), want: false},
		{name: "expired within leeway", token: tokenFor(t, "u", now.Add(-10*time.Second)), leeway: 30 * time.Second, want: true},
		{name: "not yet valid", token: notYetToken, want: false},
		{name: "not yet valid within leeway", token: notYetToken, leeway: 2 * time.Minute, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, session.ValidToken(tc.token, now, tc.leeway))
		})
	}
}

func TestMemoryCredentialStore(t *testing.T) {
	clk := newClock()
	store := session.NewMemoryCredentialStore(session.WithStoreClock(clk.Now), session.WithStoreLeeway(0))
	ctx := context.Background()

	_, ok, err := store.Principal(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, store.HasValidToken(ctx))

	principal := session.Principal{ID: "p-1", Email: "a@example.com", Role: session.RoleAnalyst}
	token := tokenFor(t, principal.ID, clk.Now().Add(time.Minute))
	require.NoError(t, store.Save(ctx, token, principal))

	got, ok, err := store.Principal(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, principal, got)
	assert.Equal(t, token, store.Token(ctx))
	assert.True(t, store.HasValidToken(ctx))

	principal.Role = session.RoleAuditor
	require.NoError(t, store.SavePrincipal(ctx, principal))
	got, _, _ = store.Principal(ctx)
	assert.Equal(t, session.RoleAuditor, got.Role)
	assert.Equal(t, token, store.Token(ctx), "token kept")

	clk.Advance(2 * time.Minute)
	assert.False(t, store.HasValidToken(ctx))

	require.NoError(t, store.Clear(ctx))
	_, ok, _ = store.Principal(ctx)
	assert.False(t, ok)
	assert.Empty(t, store.Token(ctx))
}
