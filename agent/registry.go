package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/types"
)

// Registry holds the agent singletons shared by every run.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]Agent),
		logger: logger.With(zap.String("component", "agent_registry")),
	}
}

// Register adds an agent under its Name. Names are unique.
func (r *Registry) Register(a Agent) error {
	if a == nil || a.Name() == "" {
		return types.NewError(types.ErrInvalidConfig, "agent must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.Name()]; exists {
		return types.Errorf(types.ErrInvalidConfig, "agent %q already registered", a.Name())
	}
	r.agents[a.Name()] = a
	r.logger.Debug("agent registered", zap.String("agent", a.Name()))
	return nil
}

// Get 获取智能体
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Has reports whether name is registered. It satisfies the workflow engine's
// agent resolver.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Resolve returns the agent or a MISSING_AGENT error.
func (r *Registry) Resolve(name string) (Agent, error) {
	if a, ok := r.Get(name); ok {
		return a, nil
	}
	return nil, types.Errorf(types.ErrMissingAgent, "no agent bound to %q", name)
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics collects statistics from agents that keep them.
func (r *Registry) Metrics() map[string]Metrics {
	out := make(map[string]Metrics)
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if mp, ok := a.(MetricsProvider); ok {
			out[name] = mp.Metrics()
		}
	}
	return out
}

// HealthCheck probes every agent that supports it. The map holds only
// failing agents.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if hc, ok := a.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				failures[name] = err
			}
		}
	}
	return failures
}

// AttachAll attaches every registered agent to b. On error the agents
// attached so far are detached again.
func (r *Registry) AttachAll(b *bus.Bus) ([]*Attachment, error) {
	var out []*Attachment
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		att, err := Attach(b, a, r.logger)
		if err != nil {
			for _, prev := range out {
				prev.Detach()
			}
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
		out = append(out, att)
	}
	return out, nil
}
