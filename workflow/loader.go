package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/careerflow/types"
)

// ParseDefinition decodes a YAML (or JSON) workflow definition and validates
// it. Unknown fields are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, types.NewError(types.ErrMalformedWorkflow, "failed to decode workflow definition").WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads one definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// Catalog holds loaded definitions keyed by name.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewCatalog creates a catalog from definitions.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*Definition)}
	for _, d := range defs {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadDir loads every *.yaml, *.yml and *.json file in dir. A file that
// fails to load fails the whole call so that broken configuration is never
// silently ignored.
func LoadDir(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	c := &Catalog{defs: make(map[string]*Definition)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		def, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.Add(def); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		logger.Debug("workflow loaded",
			zap.String("workflow", def.Name),
			zap.String("file", e.Name()),
			zap.Int("steps", len(def.Steps)))
	}
	return c, nil
}

// Add validates and registers def. Names must be unique.
func (c *Catalog) Add(def *Definition) error {
	if def == nil {
		return types.NewError(types.ErrMalformedWorkflow, "nil workflow definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Name]; exists {
		return types.Errorf(types.ErrInvalidConfig, "workflow %q defined twice", def.Name)
	}
	c.defs[def.Name] = def
	return nil
}

// Get returns the named definition.
func (c *Catalog) Get(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Names returns the sorted definition names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateAgents checks every definition against agents.
func (c *Catalog) ValidateAgents(agents AgentLookup) error {
	for _, name := range c.Names() {
		d, _ := c.Get(name)
		if err := d.ValidateAgents(agents); err != nil {
			return err
		}
	}
	return nil
}

// Default workflow names chosen by SelectForRole.
const (
	WorkflowDirectorLevel  = "director_level"
	WorkflowPrincipalLevel = "principal_level"
	WorkflowSeniorLevel    = "senior_level"
)

// SelectForRole picks a default workflow name from a role title.
func SelectForRole(role string) string {
	r := strings.ToLower(role)
	switch {
	case containsAny(r, "director", "vp", "head"):
		return WorkflowDirectorLevel
	case containsAny(r, "principal", "staff"):
		return WorkflowPrincipalLevel
	default:
		return WorkflowSeniorLevel
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
