package stages

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/types"
)

// DefaultStrategy is the fallback key of the strategy table.
const DefaultStrategy = "default"

// Role levels.
const (
	LevelDirector  = "director"
	LevelPrincipal = "principal"
	LevelSenior    = "senior"
)

var (
	travelCompanies      = []string{"airbnb", "booking", "expedia", "tripadvisor", "kayak"}
	marketplaceCompanies = []string{"etsy", "ebay", "amazon", "doordash", "uber", "instacart"}
)

// ClassifyRole buckets a role title into a level.
func ClassifyRole(role string) string {
	r := strings.ToLower(role)
	switch {
	case containsAny(r, "director", "vice president", "head") || hasWord(r, "vp"):
		return LevelDirector
	case containsAny(r, "principal", "staff", "lead"):
		return LevelPrincipal
	default:
		return LevelSenior
	}
}

// ClassifyIndustry buckets a company into an industry. Well-known company
// names win over the industry label.
func ClassifyIndustry(industry, company string) string {
	ind, co := strings.ToLower(industry), strings.ToLower(company)
	switch {
	case containsAny(co, travelCompanies...):
		return "travel"
	case containsAny(co, marketplaceCompanies...):
		return "marketplace"
	case containsAny(ind, "travel", "hospitality", "hotel", "airline"):
		return "travel"
	case containsAny(ind, "marketplace", "ecommerce", "platform"):
		return "marketplace"
	case containsAny(ind, "saas", "b2b", "enterprise", "software"):
		return "b2b_saas"
	case containsAny(ind, "artificial intelligence", "machine learning") || hasWord(ind, "ai") || hasWord(ind, "ml"):
		return "ai_platform"
	default:
		return "general"
	}
}

func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

// Positioning picks the narrative angle for an application.
type Positioning struct {
	*agent.Base
	strategies map[string]Strategy
	keys       []string
}

// NewPositioning creates the positioning stage. The table must contain a
// "default" strategy.
func NewPositioning(cfg PositioningConfig, logger *zap.Logger, opts ...agent.BaseOption) (*Positioning, error) {
	if _, ok := cfg.Strategies[DefaultStrategy]; !ok {
		return nil, types.NewError(types.ErrInvalidConfig, "positioning needs a default strategy")
	}
	p := &Positioning{strategies: cfg.Strategies}
	for k := range cfg.Strategies {
		p.keys = append(p.keys, k)
	}
	sort.Strings(p.keys)
	p.Base = agent.NewBase(StagePositioning, p.process, logger, opts...)
	return p, nil
}

// Select resolves level_industry, then any level_* entry, then any
// *_industry entry, then the default.
func (p *Positioning) Select(level, industry string) (string, Strategy) {
	if key := level + "_" + industry; p.has(key) {
		return key, p.strategies[key]
	}
	for _, k := range p.keys {
		if strings.HasPrefix(k, level+"_") {
			return k, p.strategies[k]
		}
	}
	for _, k := range p.keys {
		if strings.HasSuffix(k, "_"+industry) {
			return k, p.strategies[k]
		}
	}
	return DefaultStrategy, p.strategies[DefaultStrategy]
}

func (p *Positioning) has(key string) bool {
	_, ok := p.strategies[key]
	return ok
}

func (p *Positioning) process(_ context.Context, input types.Payload) agent.Result {
	job := jobOf(input)
	role := job.String("role")
	if strings.TrimSpace(role) == "" {
		return agent.Failed(types.ErrInvalidInput, "job has no role")
	}

	industry := job.String("industry")
	if research := upstreamOf(input, StageResearch); research != nil && research.String("industry") != "" {
		industry = research.String("industry")
	}
	level := ClassifyRole(role)
	sector := ClassifyIndustry(industry, job.String("company"))

	key, strategy := p.Select(level, sector)
	if forced := paramString(input, "strategy", ""); forced != "" {
		if !p.has(forced) {
			return agent.Failed(types.ErrInvalidInput, "unknown positioning strategy "+forced)
		}
		key, strategy = forced, p.strategies[forced]
	}

	var mitigation []any
	if scoring := upstreamOf(input, StageScoring); scoring != nil {
		gaps, _ := scoring["top_gaps"].([]any)
		for _, g := range gaps {
			if gp, ok := g.(map[string]any); ok {
				mitigation = append(mitigation, types.Payload(gp).String("category"))
			} else if gp, ok := g.(types.Payload); ok {
				mitigation = append(mitigation, gp.String("category"))
			}
		}
	}

	metrics := make([]any, 0, len(strategy.KeyMetrics))
	for _, m := range strategy.KeyMetrics {
		metrics = append(metrics, m)
	}
	return agent.Succeeded(types.Payload{
		KeyStage:            StagePositioning,
		"strategy_key":      key,
		"role_level":        level,
		"industry":          sector,
		"angle":             strategy.Angle,
		"tone":              paramString(input, "tone", strategy.Tone),
		"key_metrics":       metrics,
		"industry_language": strategy.Language,
		"gap_mitigation":    mitigation,
	}, types.Payload{
		"strategy_selected": key,
		"gaps_identified":   len(mitigation),
	})
}
