package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/types"
)

func TestMapHTTPError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    int
		want      types.ErrorCode
		retryable bool
	}{
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusBadRequest, types.ErrInvalidRequest, false},
		{http.StatusUnauthorized, types.ErrInvalidRequest, false},
		{http.StatusForbidden, types.ErrInvalidRequest, false},
		{http.StatusNotFound, types.ErrInvalidRequest, false},
		{http.StatusInternalServerError, types.ErrUpstreamUnavailable, true},
		{http.StatusBadGateway, types.ErrUpstreamUnavailable, true},
		{http.StatusServiceUnavailable, types.ErrUpstreamUnavailable, true},
		{529, types.ErrUpstreamUnavailable, true},
	}
	for _, tt := range tests {
		err := MapHTTPError(tt.status, "boom", "openai")
		assert.Equal(t, tt.want, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, err.Retryable, "status %d", tt.status)
		assert.Contains(t, err.Error(), "openai returned")
	}
}

func TestMapTransportError(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial tcp: connection refused")

	assert.Equal(t, types.ErrUpstreamUnavailable, MapTransportError(context.Background(), cause, "x").Code)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.Equal(t, types.ErrTimeout, MapTransportError(expired, cause, "x").Code)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.Equal(t, types.ErrCancelled, MapTransportError(cancelled, cause, "x").Code)
}

func TestReadErrorMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "slow down (type: rate_limit_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"slow down","type":"rate_limit_error"}}`)))
	assert.Equal(t, "bad key", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key"}}`)))
	assert.Equal(t, "gateway exploded", ReadErrorMessage(strings.NewReader("gateway exploded\n")))
}

func TestChooseModel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "req", ChooseModel(&llm.ChatRequest{Model: "req"}, "cfg", "fb"))
	assert.Equal(t, "cfg", ChooseModel(&llm.ChatRequest{}, "cfg", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))
	assert.Equal(t, "http://x", Config{BaseURL: "http://x/"}.BaseURLOr("http://y"))
	assert.Equal(t, "http://y", Config{}.BaseURLOr("http://y"))
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"id":"r1"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
		}
	}))
	defer srv.Close()

	headers := http.Header{"X-Key": {"secret"}}
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, PostJSON(context.Background(), srv.Client(), srv.URL+"/ok", headers, map[string]string{}, &out, "test"))
	assert.Equal(t, "r1", out.ID)

	err := PostJSON(context.Background(), srv.Client(), srv.URL+"/garbage", headers, map[string]string{}, &out, "test")
	assert.True(t, types.HasCode(err, types.ErrMalformedResponse), "got %v", err)

	err = PostJSON(context.Background(), srv.Client(), srv.URL+"/limited", headers, map[string]string{}, &out, "test")
	assert.True(t, types.HasCode(err, types.ErrRateLimited), "got %v", err)
	assert.Contains(t, err.Error(), "quota")
}
