package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("Direct error", func(t *testing.T) {
		assert.Equal(t, KindConflict, KindOf(Conflict("entity already exists")))
	})

	t.Run("Wrapped with fmt", func(t *testing.T) {
		err := fmt.Errorf("create entity: %w", NotFound("entity %s", "abc"))
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.True(t, Is(err, KindNotFound))
	})

	t.Run("Plain error is internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	})

	t.Run("Nil is never a kind", func(t *testing.T) {
		assert.False(t, Is(nil, KindInternal))
	})
}

func TestError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindChainUnavailable, cause, "failed to read fee")

	assert.Equal(t, "failed to read fee: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(Validation("name is required")))
	assert.True(t, Retryable(New(KindRateLimited, "rate limit exceeded")))
}

func TestIsAlreadyExists(t *testing.T) {
	err := &Error{Kind: KindChainRejected, Msg: "Entity already registered", AlreadyExists: true}
	assert.True(t, IsAlreadyExists(fmt.Errorf("register: %w", err)))
	assert.False(t, IsAlreadyExists(&Error{Kind: KindChainRejected, Msg: "Insufficient fee"}))
	assert.False(t, IsAlreadyExists(&Error{Kind: KindConflict, AlreadyExists: true}))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:       http.StatusBadRequest,
		KindConflict:         http.StatusConflict,
		KindUnauthorized:     http.StatusForbidden,
		KindNotFound:         http.StatusNotFound,
		KindChainRejected:    http.StatusUnprocessableEntity,
		KindChainUnavailable: http.StatusServiceUnavailable,
		KindStoreUnavailable: http.StatusServiceUnavailable,
		KindRateLimited:      http.StatusTooManyRequests,
		KindInternal:         http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, HTTPStatus(kind), string(kind))
	}
}

func TestFromStatus(t *testing.T) {
	t.Run("Code wins over status", func(t *testing.T) {
		err := FromStatus(http.StatusServiceUnavailable, "chain_unavailable", "rpc down")
		assert.Equal(t, KindChainUnavailable, err.Kind)
		assert.Equal(t, "rpc down", err.Error())
	})

	t.Run("Unknown code falls back to status", func(t *testing.T) {
		assert.Equal(t, KindUnauthorized, FromStatus(http.StatusUnauthorized, "", "no token").Kind)
		assert.Equal(t, KindConflict, FromStatus(http.StatusConflict, "weird", "dup").Kind)
		assert.Equal(t, KindInternal, FromStatus(http.StatusTeapot, "", "?").Kind)
		assert.Equal(t, KindRateLimited, FromStatus(http.StatusTooManyRequests, "", "slow down").Kind)
	})
}
