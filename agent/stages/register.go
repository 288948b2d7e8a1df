package stages

import (
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/internal/cache"
	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/llm/factory"
)

// Dependencies are the collaborators handed to the stages. Nil fields get
// the built-in implementation: StaticFetcher over the configured companies,
// the generator selected by content.provider, FileExporter under the export
// dir and a tiktoken counter. A nil Cache disables research caching.
type Dependencies struct {
	Cache     *cache.Manager
	Fetcher   agent.Fetcher
	Generator agent.Generator
	Exporter  agent.Exporter
	Tokens    TokenCounter
	Recorder  agent.Recorder
}

// Build creates one instance of every stage.
func Build(cfg Config, deps Dependencies, logger *zap.Logger) ([]agent.Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = NewStaticFetcher(cfg.Research.Companies)
	}
	if deps.Generator == nil {
		deps.Generator = NewGenerator(cfg.Content, logger)
	}
	if deps.Exporter == nil {
		deps.Exporter = NewFileExporter(cfg.Export.OutputDir)
	}

	var opts []agent.BaseOption
	if deps.Recorder != nil {
		opts = append(opts, agent.WithRecorder(deps.Recorder))
	}

	positioning, err := NewPositioning(cfg.Positioning, logger, opts...)
	if err != nil {
		return nil, err
	}
	return []agent.Agent{
		NewResearch(cfg.Research, deps.Fetcher, deps.Cache, logger, opts...),
		NewScoring(cfg.Scoring, logger, opts...),
		positioning,
		NewContent(cfg.Content, deps.Generator, deps.Tokens, logger, opts...),
		NewQA(cfg.QA, logger, opts...),
		NewExport(deps.Exporter, logger, opts...),
	}, nil
}

// RegisterAll builds every stage and registers it with reg.
func RegisterAll(reg *agent.Registry, cfg Config, deps Dependencies, logger *zap.Logger) error {
	all, err := Build(cfg, deps, logger)
	if err != nil {
		return err
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// NewGenerator returns the generator named by cfg.Provider. A model provider
// that cannot be created, for want of an API key, falls back to
// TemplateGenerator with a warning.
func NewGenerator(cfg ContentConfig, logger *zap.Logger) agent.Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := factory.NewProvider(cfg.Provider, cfg.LLM, logger)
	switch {
	case err != nil:
		logger.Warn("llm provider unavailable, using template generator",
			zap.String("provider", cfg.Provider), zap.Error(err))
		return TemplateGenerator{}
	case p == nil:
		return TemplateGenerator{}
	default:
		logger.Info("content generation backed by llm provider", zap.String("provider", p.Name()))
		return llm.NewGenerator(p, cfg.Generation, logger)
	}
}
