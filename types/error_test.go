package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamUnavailable, "upstream failed").WithCause(root)

	assert.Equal(t, ErrUpstreamUnavailable, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "UPSTREAM_UNAVAILABLE")
	assert.Contains(t, err.Error(), "root")
}

func TestError_WrappedCodeSurvives(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("step research: %w", NewError(ErrRateLimited, "slow down"))

	assert.Equal(t, ErrRateLimited, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, HasCode(err, ErrRateLimited))
	assert.True(t, errors.Is(err, NewError(ErrRateLimited, "")))
	assert.False(t, errors.Is(err, NewError(ErrTimeout, "")))
}

func TestErrorCode_Transient(t *testing.T) {
	t.Parallel()

	transient := []ErrorCode{ErrTimeout, ErrRateLimited, ErrUpstreamUnavailable}
	for _, c := range transient {
		assert.True(t, c.Transient(), c)
	}

	permanent := []ErrorCode{ErrInvalidInput, ErrInvalidRequest, ErrMalformedResponse, ErrNotFound, ErrBlocked, ErrInternalError}
	for _, c := range permanent {
		assert.False(t, c.Transient(), c)
		assert.False(t, NewError(c, "x").Retryable, c)
	}
}

func TestError_WithRetryableOverride(t *testing.T) {
	t.Parallel()

	err := NewError(ErrTimeout, "deadline").WithRetryable(false)
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestPayload_CloneIsDeep(t *testing.T) {
	t.Parallel()

	p := Payload{
		"company": "Acme",
		"nested":  map[string]any{"score": 1.0},
		"list":    []any{map[string]any{"a": 1}},
	}
	c := p.Clone()
	c.Map("nested")["score"] = 2.0
	c["list"].([]any)[0].(map[string]any)["a"] = 5

	assert.Equal(t, 1.0, p.Map("nested")["score"])
	assert.Equal(t, 1, p["list"].([]any)[0].(map[string]any)["a"])
	assert.Equal(t, "Acme", c.String("company"))
	assert.Nil(t, Payload(nil).Clone())
}

func TestPayload_Accessors(t *testing.T) {
	t.Parallel()

	p := Payload{"n": 3, "f": 2.5, "s": "x", "m": Payload{"k": "v"}}
	n, ok := p.Float("n")
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	_, ok = p.Float("s")
	assert.False(t, ok)
	assert.Equal(t, "", p.String("n"))
	assert.Equal(t, "v", p.Map("m").String("k"))
	assert.Equal(t, []string{"f", "m", "n", "s"}, p.Keys())
}
