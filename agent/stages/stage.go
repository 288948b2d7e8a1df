package stages

import (
	"strings"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/types"
)

// Stage names. Each stage registers under its name and marks its output with
// it so downstream stages can find it regardless of step naming.
const (
	StageResearch    = "research"
	StagePositioning = "positioning"
	StageScoring     = "scoring"
	StageContent     = "content"
	StageQA          = "qa"
	StageExport      = "export"
)

// KeyStage marks which stage produced an output.
const KeyStage = "stage"

func jobOf(input types.Payload) types.Payload {
	if j := input.Map(agent.InputJob); j != nil {
		return j
	}
	return types.Payload{}
}

// upstreamOf returns the prerequisite output produced by stage, or nil. Step
// names are visited in sorted order so the choice is stable.
func upstreamOf(input types.Payload, stage string) types.Payload {
	up := input.Map(agent.InputUpstream)
	for _, name := range up.Keys() {
		if out := up.Map(name); out != nil && out.String(KeyStage) == stage {
			return out
		}
	}
	return nil
}

// param looks key up in the step params, then the workflow params.
func param(input types.Payload, key string) (any, bool) {
	for _, scope := range []string{agent.InputParams, agent.InputWorkflow} {
		if v, ok := input.Map(scope)[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func paramFloat(input types.Payload, key string, def float64) float64 {
	if v, ok := param(input, key); ok {
		if f, ok := types.ToFloat(v); ok {
			return f
		}
	}
	return def
}

func paramBool(input types.Payload, key string, def bool) bool {
	if v, ok := param(input, key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func paramString(input types.Payload, key, def string) string {
	if v, ok := param(input, key); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// stringsOf accepts the list shapes a payload can hold after decoding.
func stringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
