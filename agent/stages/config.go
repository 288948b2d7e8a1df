package stages

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/careerflow/internal/retry"
	"github.com/BaSui01/careerflow/llm"
	"github.com/BaSui01/careerflow/llm/factory"
	"github.com/BaSui01/careerflow/llm/providers"
	"github.com/BaSui01/careerflow/types"
)

// Config holds the settings of every stage.
type Config struct {
	Research    ResearchConfig    `yaml:"research" json:"research" env:"RESEARCH"`
	Scoring     ScoringConfig     `yaml:"scoring" json:"scoring" env:"SCORING"`
	Positioning PositioningConfig `yaml:"positioning" json:"positioning"`
	Content     ContentConfig     `yaml:"content" json:"content" env:"CONTENT"`
	QA          QAConfig          `yaml:"qa" json:"qa" env:"QA"`
	Export      ExportConfig      `yaml:"export" json:"export" env:"EXPORT"`
}

// ResearchConfig 公司调研配置
type ResearchConfig struct {
	// CacheTTL 调研结果缓存时长
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"CACHE_TTL"`
	// Companies 静态公司资料，键为公司名（不区分大小写）
	Companies map[string]types.Payload `yaml:"companies" json:"companies"`
}

// Category is one rubric line: the share of its keywords found in the job
// text earns that share of Weight.
type Category struct {
	Name     string   `yaml:"name" json:"name"`
	Weight   float64  `yaml:"weight" json:"weight"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Penalty deducts Points when Keyword appears in the job text.
type Penalty struct {
	Keyword string  `yaml:"keyword" json:"keyword"`
	Points  float64 `yaml:"points" json:"points"`
}

// ScoringConfig 评分表配置
type ScoringConfig struct {
	Threshold  float64    `yaml:"threshold" json:"threshold" env:"THRESHOLD"`
	Categories []Category `yaml:"categories" json:"categories"`
	Penalties  []Penalty  `yaml:"penalties" json:"penalties"`
}

// Strategy is a positioning angle for one role level and industry.
type Strategy struct {
	Angle      string   `yaml:"angle" json:"angle"`
	Tone       string   `yaml:"tone" json:"tone"`
	KeyMetrics []string `yaml:"key_metrics" json:"key_metrics"`
	Language   string   `yaml:"industry_language" json:"industry_language"`
}

// PositioningConfig maps "<level>_<industry>" keys to strategies. A
// "default" entry is required.
type PositioningConfig struct {
	Strategies map[string]Strategy `yaml:"strategies" json:"strategies"`
}

// ContentConfig 内容生成配置
type ContentConfig struct {
	// Provider 选择生成后端：template（默认）、openai 或 anthropic
	Provider   string               `yaml:"provider" json:"provider" env:"PROVIDER"`
	LLM        providers.Config     `yaml:"llm" json:"llm" env:"LLM"`
	Generation llm.GenerationConfig `yaml:"generation" json:"generation" env:"GENERATION"`

	Retry             retry.Policy `yaml:"retry" json:"retry" env:"RETRY"`
	RequestsPerSecond float64      `yaml:"requests_per_second" json:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int          `yaml:"burst" json:"burst" env:"BURST"`
	// Encoding 是 tiktoken 编码名，用于统计 token
	Encoding string `yaml:"encoding" json:"encoding" env:"ENCODING"`
}

// QAConfig 质量检查配置
type QAConfig struct {
	Strict    bool `yaml:"strict" json:"strict" env:"STRICT"`
	MinLength int  `yaml:"min_length" json:"min_length" env:"MIN_LENGTH"`
}

// ExportConfig 导出配置
type ExportConfig struct {
	OutputDir string `yaml:"output_dir" json:"output_dir" env:"OUTPUT_DIR"`
}

// DefaultConfig returns a working configuration with a small built-in rubric
// and strategy table.
func DefaultConfig() Config {
	return Config{
		Research: ResearchConfig{CacheTTL: 24 * time.Hour},
		Scoring: ScoringConfig{
			Threshold: 70,
			Categories: []Category{
				{Name: "role_alignment", Weight: 30, Keywords: []string{"product", "strategy", "roadmap", "vision", "stakeholder"}},
				{Name: "scope_seniority", Weight: 25, Keywords: []string{"lead", "manage", "team", "hire", "mentor"}},
				{Name: "outcomes_metrics", Weight: 25, Keywords: []string{"growth", "revenue", "retention", "metrics", "impact"}},
				{Name: "domain_technical", Weight: 20, Keywords: []string{"marketplace", "platform", "api", "data", "ai"}},
			},
			Penalties: []Penalty{
				{Keyword: "relocation required", Points: 5},
				{Keyword: "on-site only", Points: 5},
			},
		},
		Positioning: PositioningConfig{Strategies: map[string]Strategy{
			"default": {
				Angle:      "product_leader",
				Tone:       "confident",
				KeyMetrics: []string{"revenue impact", "team growth"},
				Language:   "product excellence, user focus, data-driven",
			},
			"director_marketplace": {
				Angle:      "marketplace_builder",
				Tone:       "executive",
				KeyMetrics: []string{"GMV growth", "liquidity", "org scale"},
				Language:   "two-sided growth, network effects",
			},
			"senior_b2b_saas": {
				Angle:      "customer_outcomes",
				Tone:       "pragmatic",
				KeyMetrics: []string{"net retention", "activation"},
				Language:   "customer obsession, rapid iteration",
			},
		}},
		Content: ContentConfig{
			Provider:          factory.ProviderTemplate,
			Generation:        llm.DefaultGenerationConfig(),
			Retry:             retry.DefaultPolicy(),
			RequestsPerSecond: 2,
			Burst:             1,
			Encoding:          "cl100k_base",
		},
		QA:     QAConfig{MinLength: 100},
		Export: ExportConfig{OutputDir: "./output"},
	}
}

// Validate collects every problem into one INVALID_CONFIG error.
func (c Config) Validate() error {
	var errs []error
	if c.Research.CacheTTL < 0 {
		errs = append(errs, errors.New("research.cache_ttl must not be negative"))
	}
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 100 {
		errs = append(errs, fmt.Errorf("scoring.threshold %v outside 0-100", c.Scoring.Threshold))
	}
	seen := make(map[string]bool)
	for i, cat := range c.Scoring.Categories {
		switch {
		case strings.TrimSpace(cat.Name) == "":
			errs = append(errs, fmt.Errorf("scoring.categories[%d] has no name", i))
		case seen[cat.Name]:
			errs = append(errs, fmt.Errorf("duplicate scoring category %q", cat.Name))
		}
		seen[cat.Name] = true
		if cat.Weight <= 0 {
			errs = append(errs, fmt.Errorf("scoring category %q needs a positive weight", cat.Name))
		}
	}
	if _, ok := c.Positioning.Strategies[DefaultStrategy]; !ok {
		errs = append(errs, errors.New("positioning.strategies needs a \"default\" entry"))
	}
	if !factory.Known(c.Content.Provider) {
		errs = append(errs, fmt.Errorf("content.provider %q is not one of template, openai, anthropic", c.Content.Provider))
	}
	if c.Content.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("content.requests_per_second must not be negative"))
	}
	if c.QA.MinLength < 0 {
		errs = append(errs, errors.New("qa.min_length must not be negative"))
	}
	if strings.TrimSpace(c.Export.OutputDir) == "" {
		errs = append(errs, errors.New("export.output_dir is required"))
	}
	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, "invalid agent configuration").WithCause(errors.Join(errs...))
	}
	return nil
}
