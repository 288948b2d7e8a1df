// Package openai 实现 OpenAI Chat Completions API 的 Provider。
package openai

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/internal/tlsutil"
	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/llm/providers"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com"
	fallbackModel  = "gpt-4-turbo-preview"
	defaultTimeout = 60 * time.Second
)

// Provider calls /v1/chat/completions.
type Provider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// New creates an OpenAI provider.
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

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      llm.Message `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Completion sends req as one chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := chatRequest{
		Model:       providers.ChooseModel(req, p.cfg.Model, fallbackModel),
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)

	var out chatResponse
	endpoint := p.cfg.BaseURLOr(defaultBaseURL) + "/v1/chat/completions"
	if err := providers.PostJSON(ctx, p.client, endpoint, headers, body, &out, providerName); err != nil {
		p.logger.Debug("completion failed", zap.String("model", body.Model), zap.Error(err))
		return nil, err
	}

	resp := &llm.ChatResponse{
		ID:       out.ID,
		Provider: providerName,
		Model:    out.Model,
		Choices:  make([]llm.ChatChoice, 0, len(out.Choices)),
	}
	for _, c := range out.Choices {
		resp.Choices = append(resp.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content},
		})
	}
	if out.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	if out.Created != 0 {
		resp.CreatedAt = time.Unix(out.Created, 0)
	}
	return resp, nil
}
