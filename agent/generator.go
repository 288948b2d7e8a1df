package agent

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/careerflow/internal/retry"
	"github.com/BaSui01/careerflow/types"
)

// Generation is the outcome of one logical generate call.
type Generation struct {
	Output   types.Payload
	Attempts int
}

// RetryingGenerator retries RATE_LIMITED failures of the wrapped generator
// with exponential backoff. Other failures are returned immediately.
type RetryingGenerator struct {
	next   Generator
	policy retry.Policy
	logger *zap.Logger
}

// NewRetryingGenerator wraps next with policy.
func NewRetryingGenerator(next Generator, policy retry.Policy, logger *zap.Logger) *RetryingGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingGenerator{
		next:   next,
		policy: policy,
		logger: logger.With(zap.String("component", "retrying_generator")),
	}
}

// Do calls the generator and reports how many attempts were needed.
func (g *RetryingGenerator) Do(ctx context.Context, prompt types.Payload) (Generation, error) {
	var out types.Payload
	attempts, err := retry.Do(ctx, g.policy, retry.OnlyCode(types.ErrRateLimited), g.logger,
		func(ctx context.Context, attempt int) error {
			res, err := g.next.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			out = res
			return nil
		})
	return Generation{Output: out, Attempts: attempts}, err
}

func (g *RetryingGenerator) Generate(ctx context.Context, prompt types.Payload) (types.Payload, error) {
	gen, err := g.Do(ctx, prompt)
	return gen.Output, err
}

// RateLimitedGenerator caps the call rate to the wrapped generator.
type RateLimitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator allows perSecond calls with the given burst. A
// non-positive perSecond disables limiting.
func NewRateLimitedGenerator(next Generator, perSecond float64, burst int) *RateLimitedGenerator {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (g *RateLimitedGenerator) Generate(ctx context.Context, prompt types.Payload) (types.Payload, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrTimeout, "waiting for generation slot").WithCause(err)
	}
	return g.next.Generate(ctx, prompt)
}
