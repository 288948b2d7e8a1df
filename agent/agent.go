package agent

import (
	"context"

	"github.com/BaSui01/careerflow/types"
)

// Agent is one bounded, possibly slow or fallible unit of work. Process
// never panics out to the caller; every expected failure is a failed Result.
// Agents are stateless with respect to runs and may be invoked concurrently.
type Agent interface {
	Name() string
	Process(ctx context.Context, input types.Payload) Result
}

// ProcessFunc is the variant-specific body wrapped by Base.
type ProcessFunc func(ctx context.Context, input types.Payload) Result

// Recorder receives per-call agent measurements.
type Recorder interface {
	RecordAgentCall(agent string, success bool, errorKind string, seconds float64)
}

// HealthChecker is implemented by agents that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MetricsProvider is implemented by agents that keep call statistics.
type MetricsProvider interface {
	Metrics() Metrics
}
