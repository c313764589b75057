package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCodeMissingProject, "no project id")
	assert.Equal(t, "[MISSING_PROJECT] no project id", err.Error())

	wrapped := Wrap(fmt.Errorf("boom"), ErrCodeUnexpected, "signing failed")
	assert.Equal(t, "[UNEXPECTED] signing failed: boom", wrapped.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeUnexpected, "ignored"))
	assert.Nil(t, Wrapf(nil, ErrCodeUnexpected, "ignored %d", 1))
}

func TestUnexpected(t *testing.T) {
	cause := fmt.Errorf("bad secret")
	err := Unexpected(cause)

	assert.Equal(t, ErrCodeUnexpected, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, StatusCode(err))
	assert.Nil(t, Unexpected(nil))
}

func TestInvalidResponse(t *testing.T) {
	err := InvalidResponse(http.StatusForbidden, []byte(`{"error":"denied"}`))

	assert.Equal(t, ErrCodeInvalidResponse, err.Code)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Equal(t, `{"error":"denied"}`, GetDetails(err)["body"])
	assert.Equal(t, http.StatusForbidden, err.HTTPStatusCode())
}

func TestIsAuthorizationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"401", InvalidResponse(http.StatusUnauthorized, nil), true},
		{"403", InvalidResponse(http.StatusForbidden, nil), true},
		{"500", InvalidResponse(http.StatusInternalServerError, nil), false},
		{"wrapped 403", fmt.Errorf("perform: %w", InvalidResponse(http.StatusForbidden, nil)), true},
		{"other code", New(ErrCodeUnknownResponse, "no response"), false},
		{"plain error", errors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthorizationFailure(tt.err))
		})
	}
}

func TestIsCodeAndGetCode(t *testing.T) {
	inner := errors.New("eof")
	err := fmt.Errorf("fetch token: %w", Wrap(inner, ErrCodeDecodeFailed, "failed to decode"))

	assert.True(t, IsCode(err, ErrCodeDecodeFailed))
	assert.False(t, IsCode(err, ErrCodeUnexpected))
	assert.Equal(t, ErrCodeDecodeFailed, GetCode(err))
	assert.Equal(t, ErrCodeInternal, GetCode(inner))
	require.ErrorIs(t, err, inner)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, MapErrorCodeToHTTPStatus(ErrCodeInvalidCode))
	assert.Equal(t, http.StatusUnauthorized, MapErrorCodeToHTTPStatus(ErrCodeUnauthorized))
	assert.Equal(t, http.StatusTooManyRequests, RateLimitExceeded("60").HTTPStatusCode())
	assert.Equal(t, http.StatusInternalServerError, MapErrorCodeToHTTPStatus(ErrCodeMissingProject))
}
