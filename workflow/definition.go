package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/careerflow/types"
)

// ErrMalformedWorkflow matches any MALFORMED_WORKFLOW error via errors.Is.
var ErrMalformedWorkflow = types.NewError(types.ErrMalformedWorkflow, "malformed workflow")

// Step is the static definition of one pipeline stage.
type Step struct {
	// Name is unique within the workflow
	Name string `yaml:"name" json:"name"`

	// Agent is the registered agent bound to this step
	Agent string `yaml:"agent" json:"agent"`

	// DependsOn lists steps that must succeed before this one starts
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Parallel allows the step to run alongside other ready steps
	Parallel bool `yaml:"parallel,omitempty" json:"parallel,omitempty"`

	// Timeout bounds one invocation; zero means the workflow default
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// MaxRetries overrides the engine retry bound for transient failures
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// Optional steps may fail without failing the run or skipping dependents
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`

	// Params are passed to the agent under "params"
	Params types.Payload `yaml:"params,omitempty" json:"params,omitempty"`
}

// Definition is an immutable, ordered collection of steps plus metadata.
type Definition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`

	// DefaultTimeout applies to steps that declare none
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`

	// Params are workflow-level settings handed to every step as "workflow"
	Params types.Payload `yaml:"params,omitempty" json:"params,omitempty"`

	Steps []Step `yaml:"steps" json:"steps"`
}

// AgentLookup is satisfied by *agent.Registry.
type AgentLookup interface {
	Has(name string) bool
}

// Validate checks names, references and acyclicity. All problems are
// collected into one MALFORMED_WORKFLOW error.
func (d *Definition) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.Name == "" {
		add("workflow name is required")
	}
	if len(d.Steps) == 0 {
		add("workflow has no steps")
	}
	if d.DefaultTimeout < 0 {
		add("default_timeout must not be negative")
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		switch {
		case s.Name == "":
			add("step #%d has no name", i+1)
			continue
		case seen[s.Name]:
			add("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true

		if s.Agent == "" {
			add("step %q has no agent", s.Name)
		}
		if s.Timeout < 0 {
			add("step %q has a negative timeout", s.Name)
		}
		if s.MaxRetries != nil && *s.MaxRetries < 0 {
			add("step %q has negative max_retries", s.Name)
		}
	}

	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			switch {
			case dep == s.Name:
				add("step %q depends on itself", s.Name)
			case !seen[dep]:
				add("step %q depends on unknown step %q", s.Name, dep)
			}
		}
	}

	if cycle := d.findCycle(); len(cycle) > 0 {
		add("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	if len(problems) > 0 {
		return types.Errorf(types.ErrMalformedWorkflow, "workflow %q: %s", d.Name, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateAgents reports steps bound to agents the lookup does not know.
func (d *Definition) ValidateAgents(agents AgentLookup) error {
	var missing []string
	for _, s := range d.Steps {
		if !agents.Has(s.Agent) {
			missing = append(missing, fmt.Sprintf("%s (step %s)", s.Agent, s.Name))
		}
	}
	if len(missing) > 0 {
		return types.Errorf(types.ErrMissingAgent, "workflow %q: unknown agents: %s", d.Name, strings.Join(missing, ", "))
	}
	return nil
}

// findCycle runs a DFS over dependency edges in declaration order and
// returns the first cycle found, closed on its starting step.
func (d *Definition) findCycle() []string {
	deps := make(map[string][]string, len(d.Steps))
	for _, s := range d.Steps {
		deps[s.Name] = s.DependsOn
	}

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(d.Steps))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = onStack
		stack = append(stack, name)
		for _, dep := range deps[name] {
			if _, known := deps[dep]; !known || dep == name {
				continue
			}
			switch state[dep] {
			case onStack:
				for i, n := range stack {
					if n == dep {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, s := range d.Steps {
		if state[s.Name] == unvisited {
			if c := visit(s.Name); c != nil {
				return c
			}
		}
	}
	return nil
}

// StepNames returns step names in declaration order.
func (d *Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Step looks a step up by name.
func (d *Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// TimeoutFor returns the effective timeout of step, falling back to the
// workflow default and then to fallback.
func (d *Definition) TimeoutFor(s Step, fallback time.Duration) time.Duration {
	switch {
	case s.Timeout > 0:
		return s.Timeout
	case d.DefaultTimeout > 0:
		return d.DefaultTimeout
	default:
		return fallback
	}
}

// Dependents returns every step that transitively depends on name, in
// declaration order.
func (d *Definition) Dependents(name string) []string {
	affected := map[string]bool{name: true}
	// 声明顺序不保证拓扑序，迭代到不动点
	for changed := true; changed; {
		changed = false
		for _, s := range d.Steps {
			if affected[s.Name] {
				continue
			}
			for _, dep := range s.DependsOn {
				if affected[dep] {
					affected[s.Name] = true
					changed = true
					break
				}
			}
		}
	}

	var out []string
	for _, s := range d.Steps {
		if s.Name != name && affected[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}

// TopologicalOrder returns the steps in an order that respects
// dependencies, breaking ties by declaration order. It assumes Validate
// passed.
func (d *Definition) TopologicalOrder() []string {
	indegree := make(map[string]int, len(d.Steps))
	for _, s := range d.Steps {
		indegree[s.Name] = len(s.DependsOn)
	}

	order := make([]string, 0, len(d.Steps))
	placed := make(map[string]bool, len(d.Steps))
	for len(order) < len(d.Steps) {
		progressed := false
		for _, s := range d.Steps {
			if placed[s.Name] || indegree[s.Name] > 0 {
				continue
			}
			placed[s.Name] = true
			order = append(order, s.Name)
			progressed = true
			for _, other := range d.Steps {
				for _, dep := range other.DependsOn {
					if dep == s.Name {
						indegree[other.Name]--
					}
				}
			}
			break
		}
		if !progressed {
			break
		}
	}
	return order
}
