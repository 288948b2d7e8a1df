package stages

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/types"
)

// Recommendation tiers, from strongest to weakest.
const (
	RecommendPriority   = "submit_priority"
	RecommendTailored   = "submit_tailored"
	RecommendIfInterest = "submit_if_interested"
	RecommendSkip       = "skip"
)

const maxGaps = 3

// Scoring rates a job against a keyword rubric.
type Scoring struct {
	*agent.Base
	cfg ScoringConfig
}

// NewScoring creates the scoring stage.
func NewScoring(cfg ScoringConfig, logger *zap.Logger, opts ...agent.BaseOption) *Scoring {
	s := &Scoring{cfg: cfg}
	s.Base = agent.NewBase(StageScoring, s.process, logger, opts...)
	return s
}

// Gap is a rubric category that earned less than half its weight.
type Gap struct {
	Category string
	Score    float64
	Possible float64
}

// Scorecard is the result of rating one job text.
type Scorecard struct {
	Total          float64
	Breakdown      map[string]float64
	Penalties      map[string]float64
	Recommendation string
	Gaps           []Gap
}

// Score rates text, which is matched case-insensitively.
func (s *Scoring) Score(text string, threshold float64) Scorecard {
	text = strings.ToLower(text)
	card := Scorecard{
		Breakdown: make(map[string]float64, len(s.cfg.Categories)),
		Penalties: make(map[string]float64),
	}

	var total float64
	for _, cat := range s.cfg.Categories {
		var score float64
		if len(cat.Keywords) > 0 {
			matched := 0
			for _, kw := range cat.Keywords {
				if strings.Contains(text, strings.ToLower(kw)) {
					matched++
				}
			}
			score = round1(cat.Weight * float64(matched) / float64(len(cat.Keywords)))
		}
		card.Breakdown[cat.Name] = score
		total += score

		if score < cat.Weight*0.5 {
			card.Gaps = append(card.Gaps, Gap{Category: cat.Name, Score: score, Possible: cat.Weight})
		}
	}
	for _, p := range s.cfg.Penalties {
		if p.Keyword != "" && strings.Contains(text, strings.ToLower(p.Keyword)) {
			card.Penalties[p.Keyword] = p.Points
			total -= p.Points
		}
	}

	card.Total = math.Max(0, math.Min(100, round1(total)))
	card.Recommendation = recommend(card.Total, threshold)

	sort.SliceStable(card.Gaps, func(i, j int) bool {
		return card.Gaps[i].Possible-card.Gaps[i].Score > card.Gaps[j].Possible-card.Gaps[j].Score
	})
	if len(card.Gaps) > maxGaps {
		card.Gaps = card.Gaps[:maxGaps]
	}
	return card
}

// recommend maps a score to a tier; tiers sit 15 points apart below threshold.
func recommend(score, threshold float64) string {
	switch {
	case score >= threshold:
		return RecommendPriority
	case score >= threshold-15:
		return RecommendTailored
	case score >= threshold-30:
		return RecommendIfInterest
	default:
		return RecommendSkip
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func (s *Scoring) process(_ context.Context, input types.Payload) agent.Result {
	job := jobOf(input)
	description := strings.TrimSpace(job.String("description"))
	if description == "" {
		return agent.Failed(types.ErrInvalidInput, "job has no description to score")
	}

	parts := []string{description, job.String("role")}
	if research := upstreamOf(input, StageResearch); research != nil {
		parts = append(parts, research.String("summary"), research.String("industry"))
		parts = append(parts, stringsOf(research["keywords"])...)
	}

	threshold := paramFloat(input, "threshold", s.cfg.Threshold)
	card := s.Score(strings.Join(parts, " "), threshold)

	breakdown := make(types.Payload, len(card.Breakdown))
	for k, v := range card.Breakdown {
		breakdown[k] = v
	}
	penalties := make(types.Payload, len(card.Penalties))
	for k, v := range card.Penalties {
		penalties[k] = v
	}
	gaps := make([]any, 0, len(card.Gaps))
	for _, g := range card.Gaps {
		gaps = append(gaps, types.Payload{
			"category": g.Category,
			"score":    g.Score,
			"possible": g.Possible,
			"gap":      round1(g.Possible - g.Score),
		})
	}

	return agent.Succeeded(types.Payload{
		KeyStage:         StageScoring,
		"total_score":    card.Total,
		"threshold":      threshold,
		"recommendation": card.Recommendation,
		"breakdown":      breakdown,
		"penalties":      penalties,
		"top_gaps":       gaps,
	}, types.Payload{
		"total_score":       card.Total,
		"categories_scored": len(card.Breakdown),
		"penalties_applied": len(card.Penalties),
	})
}
