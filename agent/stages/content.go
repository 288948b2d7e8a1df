package stages

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/types"
)

// Content drafts the resume and cover letter through a Generator. Rate
// limited generations are retried here and nowhere else: once the retry
// policy is spent the failure is final. The prompt carries the job together
// with the research, scoring and positioning outputs.
type Content struct {
	*agent.Base
	gen    *agent.RetryingGenerator
	tokens TokenCounter
}

// NewContent creates the content stage. gen is wrapped with the configured
// rate limit and retry policy. A nil counter selects tiktoken, or the
// character estimate when no encoding is configured.
func NewContent(cfg ContentConfig, gen agent.Generator, counter TokenCounter, logger *zap.Logger, opts ...agent.BaseOption) *Content {
	switch {
	case counter != nil:
	case cfg.Encoding == "":
		counter = TokenCounterFunc(EstimateTokens)
	default:
		counter = NewTiktokenCounter(cfg.Encoding, logger)
	}
	limited := agent.NewRateLimitedGenerator(gen, cfg.RequestsPerSecond, cfg.Burst)
	c := &Content{
		gen:    agent.NewRetryingGenerator(limited, cfg.Retry, logger),
		tokens: counter,
	}
	c.Base = agent.NewBase(StageContent, c.process, logger, opts...)
	return c
}

func (c *Content) process(ctx context.Context, input types.Payload) agent.Result {
	job := jobOf(input)
	if job.String("role") == "" || job.String("company") == "" {
		return agent.Failed(types.ErrInvalidInput, "job needs company and role")
	}

	prompt := types.Payload{
		"job":  job,
		"tone": paramString(input, "tone", ""),
	}
	for _, stage := range []string{StageResearch, StageScoring, StagePositioning} {
		if out := upstreamOf(input, stage); out != nil {
			prompt[stage] = out
		}
	}
	if prompt.String("tone") == "" {
		if pos := prompt.Map(StagePositioning); pos != nil {
			prompt["tone"] = pos.String("tone")
		}
	}

	gen, err := c.gen.Do(ctx, prompt)
	if err != nil {
		res := agent.FailedFromError(err).WithMetric("generation_attempts", gen.Attempts)
		if res.ErrorKind == types.ErrRateLimited {
			res = res.AsFinal()
		}
		return res
	}

	resume := strings.TrimSpace(gen.Output.String("resume"))
	letter := strings.TrimSpace(gen.Output.String("cover_letter"))
	if resume == "" || letter == "" {
		return agent.Failed(types.ErrMalformedResponse, "generator output needs resume and cover_letter").
			WithMetric("generation_attempts", gen.Attempts)
	}

	out := types.Payload{
		KeyStage:       StageContent,
		"resume":       resume,
		"cover_letter": letter,
	}
	if pos := prompt.Map(StagePositioning); pos != nil {
		out["strategy_key"] = pos.String("strategy_key")
	}
	return agent.Succeeded(out, types.Payload{
		"generation_attempts": gen.Attempts,
		"tokens":              c.tokens.CountTokens(resume) + c.tokens.CountTokens(letter),
	})
}

var (
	resumeTemplate = template.Must(template.New("resume").Parse(
		`{{.Name}}
Target: {{.Role}} at {{.Company}}
Positioning: {{.Angle}}
{{range .Metrics}}- {{.}}
{{end}}`))

	letterTemplate = template.Must(template.New("cover_letter").Parse(
		`Dear {{.Company}} hiring team,

I am applying for the {{.Role}} role. {{if .Summary}}{{.Summary}} {{end}}My background in {{.Language}} fits what you are building.
{{if .Gaps}}I am also ready to grow in {{.Gaps}}.
{{end}}
Regards,
{{.Name}}`))
)

type templateData struct {
	Name     string
	Role     string
	Company  string
	Summary  string
	Angle    string
	Language string
	Metrics  []string
	Gaps     string
}

// TemplateGenerator renders deterministic drafts from the prompt. It is the
// generator used when no model backend is configured. Unknown values are
// rendered as placeholders for the QA stage to catch.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, prompt types.Payload) (types.Payload, error) {
	job := prompt.Map("job")
	research := prompt.Map(StageResearch)
	pos := prompt.Map(StagePositioning)

	data := templateData{
		Name:     orPlaceholder(job.String("candidate"), "[YOUR_NAME]"),
		Role:     job.String("role"),
		Company:  job.String("company"),
		Summary:  research.String("summary"),
		Angle:    orPlaceholder(pos.String("angle"), "general"),
		Language: orPlaceholder(pos.String("industry_language"), "product delivery"),
		Metrics:  stringsOf(pos["key_metrics"]),
		Gaps:     strings.Join(stringsOf(pos["gap_mitigation"]), ", "),
	}

	var resume, letter bytes.Buffer
	if err := resumeTemplate.Execute(&resume, data); err != nil {
		return nil, types.NewError(types.ErrInternalError, "render resume").WithCause(err)
	}
	if err := letterTemplate.Execute(&letter, data); err != nil {
		return nil, types.NewError(types.ErrInternalError, "render cover letter").WithCause(err)
	}
	return types.Payload{"resume": resume.String(), "cover_letter": letter.String()}, nil
}

func orPlaceholder(v, placeholder string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}
