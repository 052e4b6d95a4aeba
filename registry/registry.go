// Package registry discovers the tests compiled into the loaded images.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-testkit/record"
	"github.com/ethereum-optimism/infra/op-testkit/section"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// EnvDiscoveryMode selects the discovery mode when no mode is configured.
const EnvDiscoveryMode = "OP_TESTKIT_DISCOVERY_MODE"

// ErrExitTestNotFound is returned when no exit test has the requested ID.
var ErrExitTestNotFound = errors.New("exit test not found")

// ErrUnknownMode is returned for a discovery mode that is not one of the Mode
// constants.
var ErrUnknownMode = errors.New("unknown discovery mode")

// Mode selects the discovery mechanisms used.
type Mode string

const (
	// ModeNew discovers tests from records.
	ModeNew Mode = "new"
	// ModeLegacy discovers tests from registered container types.
	ModeLegacy Mode = "legacy"
	// ModeBoth uses records and falls back to legacy discovery when records
	// yield no tests.
	ModeBoth Mode = "both"
)

// ParseMode parses a mode name. The empty string is ModeBoth.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBoth:
		return ModeBoth, nil
	case ModeNew:
		return ModeNew, nil
	case ModeLegacy:
		return ModeLegacy, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
	}
}

// ModeFromEnv reads the discovery mode from EnvDiscoveryMode.
func ModeFromEnv() (Mode, error) {
	return ParseMode(os.Getenv(EnvDiscoveryMode))
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
	// Sections defaults to the process-wide locator.
	Sections section.Source
	// Legacy defaults to the process-wide legacy type table.
	Legacy func() []LegacyType
	Mode   Mode
}

// Registry discovers test content.
type Registry struct {
	config Config
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Sections == nil {
		cfg.Sections = section.Default()
	}
	if cfg.Legacy == nil {
		cfg.Legacy = LegacyTypes
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	return &Registry{config: cfg}, nil
}

// Mode returns the discovery mode in use.
func (r *Registry) Mode() Mode {
	return r.config.Mode
}

// Tests returns every discovered test, ordered by ID. The order carries no
// meaning beyond making output reproducible.
func (r *Registry) Tests(ctx context.Context) ([]*types.Test, error) {
	var (
		tests []*types.Test
		err   error
	)
	switch r.config.Mode {
	case ModeNew:
		tests, err = r.discoverRecords(ctx)
	case ModeLegacy:
		tests, err = r.discoverLegacy(ctx)
	default:
		tests, err = r.discoverRecords(ctx)
		if err != nil {
			return nil, err
		}
		if len(tests) == 0 {
			r.config.Log.Debug("No tests found in records, falling back to legacy discovery")
			tests, err = r.discoverLegacy(ctx)
		} else if n := r.countLegacyContainers(); n > 0 {
			r.config.Log.Warn("Ignoring legacy test containers because records yielded tests",
				"containers", n, "tests", len(tests), "hint", "set "+EnvDiscoveryMode+"=legacy to run them")
		}
	}
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(tests, func(a, b *types.Test) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	r.config.Log.Info("Discovered tests", "mode", r.config.Mode, "count", len(tests))
	return tests, nil
}

// discoverRecords materializes test records, one goroutine per section.
func (r *Registry) discoverRecords(ctx context.Context) ([]*types.Test, error) {
	var (
		mu     sync.Mutex
		tests  []*types.Test
		suites int
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range r.config.Sections.Sections() {
		g.Go(func() error {
			var local []*types.Test
			_, err := enumerateBounds(b, record.KindTest, func(t *types.Test, img section.Image, flags record.Flags) bool {
				if ctx.Err() != nil {
					return false
				}
				cp := *t
				if section.DynamicLoading {
					cp.Image = &img
				}
				local = append(local, &cp)
				return true
			})
			if err != nil {
				r.config.Log.Warn("Skipping corrupt test content", "image", b.Image, "err", err)
			}

			mu.Lock()
			defer mu.Unlock()
			tests = append(tests, local...)
			for _, t := range local {
				if t.IsSuite {
					suites++
				}
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to discover tests: %w", err)
	}
	r.config.Log.Debug("Discovered tests from records", "tests", len(tests), "suites", suites)
	return tests, nil
}

func (r *Registry) discoverLegacy(ctx context.Context) ([]*types.Test, error) {
	var tests []*types.Test
	for _, lt := range r.config.Legacy() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("failed to discover legacy tests: %w", err)
		}
		c, ok := isLegacyContainer(lt)
		if !ok {
			continue
		}
		found, err := c.Tests(ctx)
		if err != nil {
			r.config.Log.Error("Legacy test container failed", "type", lt.Name, "err", err)
			continue
		}
		for _, t := range found {
			if t == nil {
				continue
			}
			if section.DynamicLoading && t.Image == nil {
				img := lt.Image
				t.Image = &img
			}
			tests = append(tests, t)
		}
	}
	r.config.Log.Debug("Discovered tests from legacy containers", "tests", len(tests))
	return tests, nil
}

func (r *Registry) countLegacyContainers() int {
	n := 0
	for _, lt := range r.config.Legacy() {
		if _, ok := isLegacyContainer(lt); ok {
			n++
		}
	}
	return n
}

// ExitTests returns every exit test found in records.
func (r *Registry) ExitTests() []*types.ExitTest {
	var out []*types.ExitTest
	err := Enumerate(r.config.Sections, record.KindExitTest, func(et *types.ExitTest, _ section.Image, _ record.Flags) bool {
		cp := *et
		out = append(out, &cp)
		return true
	})
	if err != nil {
		r.config.Log.Warn("Skipping corrupt exit test content", "err", err)
	}
	return out
}

// ExitTest returns the exit test with the given ID.
func (r *Registry) ExitTest(id string) (*types.ExitTest, error) {
	var found *types.ExitTest
	err := Enumerate(r.config.Sections, record.KindExitTest, func(et *types.ExitTest, _ section.Image, _ record.Flags) bool {
		if et.ID != id {
			return true
		}
		cp := *et
		found = &cp
		return false
	})
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExitTestNotFound, id, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrExitTestNotFound, id)
}
