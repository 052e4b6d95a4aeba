package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// Selector matches tests. Empty fields match everything.
type Selector struct {
	// Package is the module of the test. A trailing "/..." matches every
	// module below the prefix. Patterns starting with "./" are relative to
	// the module in the working directory, see ResolvePackages.
	Package string `yaml:"package,omitempty"`
	// Name matches the test ID path or any of its ancestors, for example
	// "Math" or "Math/adds".
	Name string   `yaml:"name,omitempty"`
	Tags []string `yaml:"tags,omitempty"`
}

func (s Selector) key() string {
	return s.Package + ":" + s.Name + ":" + strings.Join(s.Tags, ",")
}

// Matches reports whether t is selected.
func (s Selector) Matches(t *types.Test) bool {
	if s.Package != "" && !matchPackage(s.Package, t.ID.Module) {
		return false
	}
	if s.Name != "" {
		name := strings.Join(t.ID.Path, "/")
		if name != s.Name && !strings.HasPrefix(name, s.Name+"/") {
			return false
		}
	}
	for _, tag := range s.Tags {
		if !t.HasTag(tag) {
			return false
		}
	}
	return true
}

func matchPackage(pattern, module string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/..."); ok {
		return module == prefix || strings.HasPrefix(module, prefix+"/")
	}
	return pattern == module
}

// Selectors returns every include selector of the gate, suites included.
func (g *GateConfig) Selectors() []Selector {
	out := slices.Clone(g.Tests)
	names := make([]string, 0, len(g.Suites))
	for name := range g.Suites {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		out = append(out, g.Suites[name].Tests...)
	}
	return out
}

// Filter returns a plan filter selecting the tests of the gate. A gate
// without include selectors selects every test that is not excluded.
func (g *GateConfig) Filter() plan.Filter {
	include := g.Selectors()
	exclude := slices.Clone(g.Exclude)
	return func(t *types.Test) bool {
		for _, s := range exclude {
			if s.Matches(t) {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, s := range include {
			if s.Matches(t) {
				return true
			}
		}
		return false
	}
}

// ApplyRun copies the gate's run defaults into cfg.
func (g *GateConfig) ApplyRun(cfg *plan.Configuration) error {
	if g.Run == nil {
		return nil
	}
	if g.Run.TimeLimit != nil {
		cfg.DefaultTimeLimit = *g.Run.TimeLimit
	}
	if g.Run.Iterations > 0 {
		cfg.Repetition.MaxIterations = g.Run.Iterations
	}
	if g.Run.Repetition != "" {
		c, err := types.ParseContinuation(g.Run.Repetition)
		if err != nil {
			return fmt.Errorf("gate %s: %w", g.ID, err)
		}
		cfg.Repetition.Continuation = c
	}
	if g.Run.Parallel != nil {
		cfg.Parallel = *g.Run.Parallel
	}
	return nil
}

// ModulePath returns the module path declared by the go.mod in dir.
func ModulePath(dir string) (string, error) {
	goModPath := filepath.Join(dir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	return modFile.Module.Mod.Path, nil
}

// ResolvePackages rewrites relative package patterns of every gate into
// module paths, using the go.mod in moduleDir. It is a no-op when no gate
// uses a relative pattern.
func (c *GatesConfig) ResolvePackages(moduleDir string) error {
	var modulePath string
	resolve := func(sels []Selector) error {
		for i := range sels {
			if !strings.HasPrefix(sels[i].Package, "./") && sels[i].Package != "." {
				continue
			}
			if modulePath == "" {
				p, err := ModulePath(moduleDir)
				if err != nil {
					return err
				}
				modulePath = p
			}
			sels[i].Package = resolvePackage(modulePath, sels[i].Package)
		}
		return nil
	}

	for i := range c.Gates {
		g := &c.Gates[i]
		if err := resolve(g.Tests); err != nil {
			return fmt.Errorf("gate %s: %w", g.ID, err)
		}
		if err := resolve(g.Exclude); err != nil {
			return fmt.Errorf("gate %s: %w", g.ID, err)
		}
		for _, s := range g.Suites {
			if err := resolve(s.Tests); err != nil {
				return fmt.Errorf("gate %s: %w", g.ID, err)
			}
		}
	}
	return nil
}

func resolvePackage(modulePath, rel string) string {
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return modulePath
	}
	if cleaned == "..." {
		return modulePath + "/..."
	}
	return modulePath + "/" + cleaned
}
