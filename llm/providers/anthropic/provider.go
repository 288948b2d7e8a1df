// Package anthropic 实现 Anthropic Messages API（/v1/messages）的 Provider。
// 认证使用 x-api-key 请求头，system 消息从 messages 中提取到独立的 system 字段。
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/internal/tlsutil"
	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/llm/providers"
)

const (
	providerName     = "anthropic"
	defaultBaseURL   = "https://api.anthropic.com"
	fallbackModel    = "claude-3-opus-20240229"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
	defaultSystem    = "You are a helpful assistant."
	defaultTimeout   = 60 * time.Second
)

// Provider calls /v1/messages.
type Provider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// New creates an Anthropic provider.
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.Client(timeout),
		logger: logger.With(zap.String("component", "llm"), zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Completion sends req as one Messages API call. System messages are joined
// into the system field; max_tokens is required by the API and defaults to
// 1024.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := messagesRequest{
		Model:       providers.ChooseModel(req, p.cfg.Model, fallbackModel),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	body.System = strings.Join(system, "\n\n")
	if body.System == "" {
		body.System = defaultSystem
	}

	headers := http.Header{}
	headers.Set("x-api-key", p.cfg.APIKey)
	headers.Set("anthropic-version", apiVersion)

	var out messagesResponse
	endpoint := p.cfg.BaseURLOr(defaultBaseURL) + "/v1/messages"
	if err := providers.PostJSON(ctx, p.client, endpoint, headers, body, &out, providerName); err != nil {
		p.logger.Debug("completion failed", zap.String("model", body.Model), zap.Error(err))
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	resp := &llm.ChatResponse{
		ID:       out.ID,
		Provider: providerName,
		Model:    out.Model,
		Usage: llm.ChatUsage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}
	if len(out.Content) > 0 {
		resp.Choices = []llm.ChatChoice{{
			FinishReason: out.StopReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text.String()},
		}}
	}
	return resp, nil
}
