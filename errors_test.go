package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	session "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructorsKeepCause(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name     string
		err      error
		textCode string
		check    func(error) bool
	}{
		{name: "auth", err: session.NewAuthError(cause), textCode: session.TextCodeAuthFailed, check: session.IsAuthError},
		{name: "unauthorized", err: session.NewUnauthorizedError(cause), textCode: session.TextCodeUnauthorized, check: session.IsUnauthorizedError},
		{name: "network", err: session.NewNetworkError(cause), textCode: session.TextCodeNetwork, check: session.IsNetworkError},
		{name: "key load", err: session.NewKeyLoadError(cause), textCode: session.TextCodeKeyLoad, check: session.IsKeyLoadError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var richErr *goerrors.Error
			require.True(t, goerrors.As(tc.err, &richErr))
			assert.Equal(t, tc.textCode, richErr.TextCode)
			assert.Equal(t, cause, richErr.Source)
			assert.Equal(t, cause.Error(), richErr.Metadata["cause"])
			assert.True(t, tc.check(tc.err))
		})
	}
}

func TestErrorConstructorsDoNotMutateSentinels(t *testing.T) {
	_ = session.NewUnauthorizedError(errors.New("401"))
	assert.Nil(t, session.ErrUnauthorized.Source)
	assert.Empty(t, session.ErrUnauthorized.Metadata)
}

func TestErrorClassifiersAreDisjoint(t *testing.T) {
	unauthorized := session.NewUnauthorizedError(nil)
	network := session.NewNetworkError(nil)

	assert.False(t, session.IsNetworkError(unauthorized))
	assert.False(t, session.IsAuthError(unauthorized))
	assert.False(t, session.IsUnauthorizedError(network))
	assert.False(t, session.IsUnauthorizedError(nil))
	assert.False(t, session.IsNetworkError(nil))
	assert.False(t, session.IsUnauthorizedError(errors.New("401")))
}

func TestErrorClassifiersSeeWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("gateway: %w", session.NewUnauthorizedError(nil))
	assert.True(t, session.IsUnauthorizedError(wrapped))

	assert.True(t, session.IsNetworkError(context.DeadlineExceeded))
	assert.True(t, session.IsNetworkError(fmt.Errorf("get me: %w", context.DeadlineExceeded)))
	assert.False(t, session.IsNetworkError(context.Canceled))
}

func TestInvalidCredentialsCountAsAuthErrors(t *testing.T) {
	err := session.LoginCredentials{}.Validate()
	require.Error(t, err)
	assert.True(t, session.IsAuthError(err))
	assert.Equal(t, session.TextCodeInvalidCredentials, textCode(err))
}
