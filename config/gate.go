// Package config loads gate definitions. A gate is a named selection of
// tests together with defaults for running them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// GatesConfig is the top level of a gates file.
type GatesConfig struct {
	Gates []GateConfig `yaml:"gates"`
}

// GateConfig represents a collection of tests and suites
type GateConfig struct {
	ID          string                 `yaml:"id"`
	Description string                 `yaml:"description"`
	Inherits    []string               `yaml:"inherits,omitempty"`
	Tests       []Selector             `yaml:"tests,omitempty"`
	Suites      map[string]SuiteConfig `yaml:"suites,omitempty"`
	Exclude     []Selector             `yaml:"exclude,omitempty"`
	Run         *RunConfig             `yaml:"run,omitempty"`
}

// SuiteConfig groups selectors under a name.
type SuiteConfig struct {
	Description string     `yaml:"description,omitempty"`
	Tests       []Selector `yaml:"tests,omitempty"`
}

// RunConfig holds run defaults. Unset fields leave the command line value
// in place.
type RunConfig struct {
	TimeLimit  *time.Duration `yaml:"time_limit,omitempty"`
	Iterations int            `yaml:"iterations,omitempty"`
	Repetition string         `yaml:"repetition,omitempty"`
	Parallel   *bool          `yaml:"parallel,omitempty"`
}

// Load reads a gates file and resolves gate inheritance.
func Load(path string) (*GatesConfig, error) {
	log.Debug("Reading gates config file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a gates document and resolves gate inheritance.
func Parse(data []byte) (*GatesConfig, error) {
	var cfg GatesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.resolveInheritance(); err != nil {
		return nil, fmt.Errorf("failed to resolve gate inheritance: %w", err)
	}
	return &cfg, nil
}

// Gate returns the gate with the given ID.
func (c *GatesConfig) Gate(id string) (*GateConfig, error) {
	for i := range c.Gates {
		if c.Gates[i].ID == id {
			return &c.Gates[i], nil
		}
	}
	return nil, fmt.Errorf("gate %q not found", id)
}

func (c *GatesConfig) resolveInheritance() error {
	gateMap := make(map[string]GateConfig)
	for _, gate := range c.Gates {
		if gate.ID == "" {
			return errors.New("gate without id")
		}
		if _, dup := gateMap[gate.ID]; dup {
			return fmt.Errorf("duplicate gate %q", gate.ID)
		}
		gateMap[gate.ID] = gate
	}

	// Check for circular inheritance before resolving
	for _, gate := range c.Gates {
		if err := checkCircularInheritance(gate.ID, gate.Inherits, gateMap, make(map[string]bool)); err != nil {
			return fmt.Errorf("circular inheritance detected: %w", err)
		}
	}

	for i := range c.Gates {
		if err := c.Gates[i].ResolveInherited(gateMap); err != nil {
			return fmt.Errorf("invalid gate inheritance: %w", err)
		}
	}
	return nil
}

// checkCircularInheritance detects circular dependencies in gate inheritance
func checkCircularInheritance(currentID string, inherits []string, gateMap map[string]GateConfig, visited map[string]bool) error {
	if visited[currentID] {
		return fmt.Errorf("circular inheritance detected at gate %s", currentID)
	}

	visited[currentID] = true
	defer delete(visited, currentID)

	for _, inheritedID := range inherits {
		inherited, exists := gateMap[inheritedID]
		if !exists {
			return fmt.Errorf("gate %s inherits from non-existent gate %s", currentID, inheritedID)
		}
		if err := checkCircularInheritance(inheritedID, inherited.Inherits, gateMap, visited); err != nil {
			return err
		}
	}
	return nil
}

// ResolveInherited merges the selections of the gates g inherits from into
// g, recursively.
//   - Suites: a parent suite is only inherited when g has none of that name.
//   - Tests and excludes: merged and deduplicated, g's own entries first.
//   - Run defaults: a field unset in g is taken from the nearest parent that
//     sets it.
func (g *GateConfig) ResolveInherited(gates map[string]GateConfig) error {
	processed := make(map[string]bool)
	return g.resolveInheritedRecursive(gates, processed)
}

func (g *GateConfig) resolveInheritedRecursive(gates map[string]GateConfig, processed map[string]bool) error {
	if len(g.Inherits) == 0 {
		return nil
	}

	mergedSuites := make(map[string]SuiteConfig)
	for k, v := range g.Suites {
		mergedSuites[k] = v
	}
	tests := newSelectorSet(g.Tests)
	excludes := newSelectorSet(g.Exclude)
	run := g.Run

	for _, inheritFrom := range g.Inherits {
		if processed[inheritFrom] {
			return fmt.Errorf("circular inheritance detected for gate %q", inheritFrom)
		}

		parent, ok := gates[inheritFrom]
		if !ok {
			return fmt.Errorf("gate %q inherits from non-existent gate %q", g.ID, inheritFrom)
		}

		processed[inheritFrom] = true
		if err := parent.resolveInheritedRecursive(gates, processed); err != nil {
			return fmt.Errorf("resolving inheritance for parent gate %q: %w", inheritFrom, err)
		}

		for k, v := range parent.Suites {
			if _, exists := mergedSuites[k]; !exists {
				mergedSuites[k] = v
			}
		}
		tests.add(parent.Tests...)
		excludes.add(parent.Exclude...)
		run = run.merge(parent.Run)

		processed[inheritFrom] = false
	}

	g.Suites = mergedSuites
	g.Tests = tests.items
	g.Exclude = excludes.items
	g.Run = run
	return nil
}

// merge fills the fields r leaves unset from parent.
func (r *RunConfig) merge(parent *RunConfig) *RunConfig {
	if parent == nil {
		return r
	}
	if r == nil {
		cp := *parent
		return &cp
	}
	out := *r
	if out.TimeLimit == nil {
		out.TimeLimit = parent.TimeLimit
	}
	if out.Iterations == 0 {
		out.Iterations = parent.Iterations
	}
	if out.Repetition == "" {
		out.Repetition = parent.Repetition
	}
	if out.Parallel == nil {
		out.Parallel = parent.Parallel
	}
	return &out
}

type selectorSet struct {
	items []Selector
	seen  map[string]bool
}

func newSelectorSet(initial []Selector) *selectorSet {
	s := &selectorSet{seen: make(map[string]bool)}
	s.add(initial...)
	return s
}

func (s *selectorSet) add(sels ...Selector) {
	for _, sel := range sels {
		key := sel.key()
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.items = append(s.items, sel)
	}
}
