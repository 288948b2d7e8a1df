package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/types"
)

// Config 所有 Provider 共享的连接配置。
type Config struct {
	APIKey  string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" json:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// BaseURLOr returns the configured base URL without a trailing slash, or
// fallback.
func (c Config) BaseURLOr(fallback string) string {
	if c.BaseURL == "" {
		return fallback
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// ChooseModel 按 请求 → 配置 → 兜底 的顺序选择模型
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// MapHTTPError maps an error status to the agent error kinds: 429 is
// RATE_LIMITED, 5xx (and 529 overload) UPSTREAM_UNAVAILABLE, any other 4xx
// INVALID_REQUEST.
func MapHTTPError(status int, msg, provider string) *types.Error {
	var code types.ErrorCode
	switch {
	case status == http.StatusTooManyRequests:
		code = types.ErrRateLimited
	case status >= 500:
		code = types.ErrUpstreamUnavailable
	default:
		code = types.ErrInvalidRequest
	}
	return types.Errorf(code, "%s returned %d: %s", provider, status, msg)
}

// MapTransportError classifies a failed round trip. An expired context is
// TIMEOUT, a cancelled one CANCELLED, anything else UPSTREAM_UNAVAILABLE.
func MapTransportError(ctx context.Context, err error, provider string) *types.Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.Errorf(types.ErrTimeout, "%s request timed out", provider).WithCause(err)
	case errors.Is(ctx.Err(), context.Canceled):
		return types.Errorf(types.ErrCancelled, "%s request cancelled", provider).WithCause(err)
	default:
		return types.Errorf(types.ErrUpstreamUnavailable, "%s unreachable", provider).WithCause(err)
	}
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// PostJSON sends body to endpoint and decodes a successful reply into out.
// Every failure comes back as a *types.Error.
func PostJSON(ctx context.Context, client *http.Client, endpoint string, headers http.Header, body, out any, provider string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "create request").WithCause(err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return MapTransportError(ctx, err, provider)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), provider)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.Errorf(types.ErrMalformedResponse, "decode %s response", provider).WithCause(err)
	}
	return nil
}
