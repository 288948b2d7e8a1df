package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/types"
)

// GenerationConfig 生成参数
type GenerationConfig struct {
	// ResumeTemperature / LetterTemperature 控制创造性（0-1）
	ResumeTemperature float32 `yaml:"resume_temperature" json:"resume_temperature" env:"RESUME_TEMPERATURE"`
	LetterTemperature float32 `yaml:"letter_temperature" json:"letter_temperature" env:"LETTER_TEMPERATURE"`
	ResumeMaxTokens   int     `yaml:"resume_max_tokens" json:"resume_max_tokens" env:"RESUME_MAX_TOKENS"`
	LetterMaxTokens   int     `yaml:"letter_max_tokens" json:"letter_max_tokens" env:"LETTER_MAX_TOKENS"`
}

// DefaultGenerationConfig returns 0.7/2000 for resumes and 0.8/1500 for
// cover letters.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		ResumeTemperature: 0.7,
		LetterTemperature: 0.8,
		ResumeMaxTokens:   2000,
		LetterMaxTokens:   1500,
	}
}

const (
	resumeSystem = `You are an expert resume writer. Write a tailored resume in Markdown for the job below.
Every bullet needs a quantified outcome. Mirror the verbs the job description uses.
Use only the facts you are given. When the candidate's name or a fact is unknown, write a bracketed placeholder such as [YOUR_NAME].
Output the resume only, with no commentary.`

	letterSystem = `You are an expert cover letter writer. Write a direct cover letter of at most 300 words in four paragraphs:
a hook about the company's current moment, one parallel experience, the pattern across roles, and a short close.
Use only the facts you are given. End with "Best regards," followed by the candidate's name, or [YOUR_NAME] when it is unknown.
Output the letter only, with no commentary.`

	descriptionLimit = 1000
)

// Generator drafts the resume and the cover letter with two completions.
// Generate matches the content stage's generator contract: it returns
// "resume" and "cover_letter" and fails with the provider's error kind.
type Generator struct {
	provider Provider
	cfg      GenerationConfig
	logger   *zap.Logger
}

// NewGenerator creates a Generator. Zero fields of cfg take the defaults.
func NewGenerator(p Provider, cfg GenerationConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultGenerationConfig()
	if cfg.ResumeTemperature <= 0 {
		cfg.ResumeTemperature = d.ResumeTemperature
	}
	if cfg.LetterTemperature <= 0 {
		cfg.LetterTemperature = d.LetterTemperature
	}
	if cfg.ResumeMaxTokens <= 0 {
		cfg.ResumeMaxTokens = d.ResumeMaxTokens
	}
	if cfg.LetterMaxTokens <= 0 {
		cfg.LetterMaxTokens = d.LetterMaxTokens
	}
	return &Generator{
		provider: p,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "llm_generator"), zap.String("provider", p.Name())),
	}
}

func (g *Generator) Generate(ctx context.Context, prompt types.Payload) (types.Payload, error) {
	brief := Brief(prompt)

	resume, resumeUsage, err := g.complete(ctx, resumeSystem, "Write the resume.\n\n"+brief,
		g.cfg.ResumeTemperature, g.cfg.ResumeMaxTokens)
	if err != nil {
		return nil, err
	}
	letter, letterUsage, err := g.complete(ctx, letterSystem, "Write the cover letter.\n\n"+brief,
		g.cfg.LetterTemperature, g.cfg.LetterMaxTokens)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("content generated",
		zap.Int("resume_tokens", resumeUsage.TotalTokens),
		zap.Int("letter_tokens", letterUsage.TotalTokens))
	return types.Payload{
		"resume":       resume,
		"cover_letter": letter,
		"provider":     g.provider.Name(),
		"usage_tokens": resumeUsage.TotalTokens + letterUsage.TotalTokens,
	}, nil
}

func (g *Generator) complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, ChatUsage, error) {
	resp, err := g.provider.Completion(ctx, &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", ChatUsage{}, err
	}
	choice, err := FirstChoice(resp)
	if err != nil {
		return "", resp.Usage, err
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", resp.Usage, types.Errorf(types.ErrMalformedResponse, "%s returned empty content", g.provider.Name())
	}
	return text, resp.Usage, nil
}

// Brief renders the content prompt as the user message: the job headline,
// a clipped description and the upstream stage outputs as indented JSON.
func Brief(prompt types.Payload) string {
	job := prompt.Map("job")
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nRole: %s\n", orUnknown(job.String("company")), orUnknown(job.String("role")))
	if name := job.String("candidate"); name != "" {
		fmt.Fprintf(&b, "Candidate: %s\n", name)
	}
	if tone := prompt.String("tone"); tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", tone)
	}
	if desc := strings.TrimSpace(job.String("description")); desc != "" {
		if r := []rune(desc); len(r) > descriptionLimit {
			desc = string(r[:descriptionLimit])
		}
		fmt.Fprintf(&b, "\nJob description:\n%s\n", desc)
	}

	keys := make([]string, 0, len(prompt))
	for k := range prompt {
		if k != "job" && k != "tone" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, err := json.MarshalIndent(prompt[k], "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s output:\n%s\n", k, data)
	}
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
