package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/types"
)

// placeholderPattern matches unfilled template slots such as [XX] or
// [YOUR_CITY, STATE].
var placeholderPattern = regexp.MustCompile(`\[[A-Z][A-Z0-9_, %.]*\]`)

// FindPlaceholders returns the distinct placeholders in text, sorted.
func FindPlaceholders(text string) []string {
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllString(text, -1) {
		seen[m] = true
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// QA gates generated content before export.
type QA struct {
	*agent.Base
	cfg QAConfig
}

// NewQA creates the QA stage.
func NewQA(cfg QAConfig, logger *zap.Logger, opts ...agent.BaseOption) *QA {
	q := &QA{cfg: cfg}
	q.Base = agent.NewBase(StageQA, q.process, logger, opts...)
	return q
}

func (q *QA) process(_ context.Context, input types.Payload) agent.Result {
	content := upstreamOf(input, StageContent)
	if content == nil {
		return agent.Failed(types.ErrInvalidInput, "no content output to check")
	}
	strict := paramBool(input, "strict", q.cfg.Strict)

	var (
		warnings     []any
		placeholders []any
	)
	for _, field := range []string{"resume", "cover_letter"} {
		text := strings.TrimSpace(content.String(field))
		if text == "" {
			return agent.Failed(types.ErrQualityGate, field+" is empty")
		}
		if n := utf8.RuneCountInString(text); n < q.cfg.MinLength {
			warnings = append(warnings, fmt.Sprintf("%s is short (%d characters)", field, n))
		}
		for _, p := range FindPlaceholders(text) {
			placeholders = append(placeholders, p)
			warnings = append(warnings, fmt.Sprintf("%s has unfilled placeholder %s", field, p))
		}
	}

	if strict && len(placeholders) > 0 {
		return agent.Failed(types.ErrQualityGate,
			fmt.Sprintf("unfilled placeholders: %v", placeholders))
	}
	return agent.Succeeded(types.Payload{
		KeyStage:       StageQA,
		"passed":       true,
		"strict":       strict,
		"warnings":     warnings,
		"placeholders": placeholders,
	}, types.Payload{
		"warnings": len(warnings),
	})
}
