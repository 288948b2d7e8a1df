package stages

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/internal/cache"
	"github.com/BaSui01/careerflow/types"
)

// StaticFetcher serves company profiles from configuration, keyed by
// lower-cased company name.
type StaticFetcher map[string]types.Payload

// NewStaticFetcher normalises the keys of profiles.
func NewStaticFetcher(profiles map[string]types.Payload) StaticFetcher {
	f := make(StaticFetcher, len(profiles))
	for name, p := range profiles {
		f[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return f
}

func (f StaticFetcher) Fetch(_ context.Context, jobRef types.Payload) (types.Payload, error) {
	company := jobRef.String("company")
	p, ok := f[strings.ToLower(strings.TrimSpace(company))]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "no profile for company %q", company)
	}
	return p.Clone(), nil
}

// Research gathers company context for a job. Results are cached per
// company and role. A missing profile is a NOT_FOUND failure; workflows mark
// the research step optional so later stages run on the job data alone.
type Research struct {
	*agent.Base
	fetcher agent.Fetcher
	cache   *cache.Manager
	ttl     time.Duration
}

// NewResearch creates the research stage. c may be nil to disable caching.
func NewResearch(cfg ResearchConfig, fetcher agent.Fetcher, c *cache.Manager, logger *zap.Logger, opts ...agent.BaseOption) *Research {
	r := &Research{fetcher: fetcher, cache: c, ttl: cfg.CacheTTL}
	if c != nil {
		opts = append([]agent.BaseOption{agent.WithHealthCheck(c.Ping)}, opts...)
	}
	r.Base = agent.NewBase(StageResearch, r.process, logger, opts...)
	return r
}

func researchKey(company, role string) string {
	return "research:" + strings.ToLower(company) + "|" + strings.ToLower(role)
}

func (r *Research) process(ctx context.Context, input types.Payload) agent.Result {
	job := jobOf(input)
	company := strings.TrimSpace(job.String("company"))
	role := strings.TrimSpace(job.String("role"))
	if company == "" {
		return agent.Failed(types.ErrInvalidInput, "job has no company")
	}

	compute := func(ctx context.Context) (types.Payload, error) {
		if r.fetcher == nil {
			return nil, types.NewError(types.ErrNotFound, "no fetcher configured")
		}
		return r.fetcher.Fetch(ctx, types.Payload{
			"company":  company,
			"role":     role,
			"industry": job.String("industry"),
			"url":      job.String("url"),
		})
	}

	var (
		data types.Payload
		hit  bool
		err  error
	)
	if r.cache != nil {
		data, hit, err = r.cache.GetOrCompute(ctx, researchKey(company, role), r.ttl, compute)
	} else {
		data, err = compute(ctx)
	}
	if err != nil {
		if types.HasCode(err, types.ErrNotFound) {
			r.Logger().Info("no company profile", zap.String("company", company))
		}
		return agent.FailedFromError(err)
	}

	out := data.Clone()
	if out == nil {
		out = types.Payload{}
	}
	out[KeyStage] = StageResearch
	out["company"] = company
	out["role"] = role
	if out.String("industry") == "" {
		out["industry"] = job.String("industry")
	}

	return agent.Succeeded(out, types.Payload{
		"cache_hit": hit,
		"sources":   len(stringsOf(out["sources"])),
	})
}
