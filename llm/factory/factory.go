// Package factory 按名称创建 LLM Provider。
package factory

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/llm/providers"
	"github.com/BaSui01/careerflow/llm/providers/anthropic"
	"github.com/BaSui01/careerflow/llm/providers/openai"
	"github.com/BaSui01/careerflow/types"
)

// Provider names accepted by NewProvider.
const (
	ProviderTemplate  = "template"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// apiKeyEnv is consulted when the config carries no API key.
var apiKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Known reports whether name is a supported provider. The empty name means
// template.
func Known(name string) bool {
	switch strings.ToLower(name) {
	case "", ProviderTemplate, ProviderOpenAI, ProviderAnthropic:
		return true
	default:
		return false
	}
}

// NewProvider creates the named model provider. The template provider has no
// model backend and yields (nil, nil). A model provider without an API key is
// INVALID_CONFIG.
func NewProvider(name string, cfg providers.Config, logger *zap.Logger) (llm.Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(apiKeyEnv[name])
	}

	switch name {
	case "", ProviderTemplate:
		return nil, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, types.Errorf(types.ErrInvalidConfig, "openai provider needs an API key (api_key or %s)", apiKeyEnv[name])
		}
		return openai.New(cfg, logger), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, types.Errorf(types.ErrInvalidConfig, "anthropic provider needs an API key (api_key or %s)", apiKeyEnv[name])
		}
		return anthropic.New(cfg, logger), nil
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown llm provider %q", name)
	}
}
