// Package plan arranges discovered tests into a tree and resolves what the
// runner does with each of them.
package plan

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// Filter selects tests.
type Filter func(*types.Test) bool

// CaseFilter selects the cases of a parameterized test to run.
type CaseFilter func(*types.Test, types.Case) bool

// Configuration controls how a plan is built and run.
type Configuration struct {
	// Selection keeps the tests it returns true for. Nil selects everything.
	Selection Filter
	// DefaultTimeLimit applies to cases without a time limit trait. Zero
	// means no limit.
	DefaultTimeLimit time.Duration
	Repetition       types.RepetitionPolicy
	// Parallel runs sibling tests and cases concurrently.
	Parallel bool
	// MaxConcurrency caps the number of case bodies running at once. Zero
	// picks a default based on the machine.
	MaxConcurrency int
	CaseFilter     CaseFilter
}

// Node is a position in the plan graph. The root and the per-module nodes
// carry no step; every other node carries one.
type Node struct {
	Key      string
	Depth    int
	Parent   *Node
	Step     *Step
	Children map[string]*Node

	// ordered holds the children in sequential execution order.
	ordered []*Node
	// sortLocation is the node's own source location, or the smallest one
	// in its subtree when it has none.
	sortLocation *types.SourceLocation
}

// Plan is an immutable graph of steps.
type Plan struct {
	Root   *Node
	Config Configuration

	byID map[string]*Node
}

// SortedChildren returns the children of n ordered for sequential execution:
// by source location, where a child without one takes the smallest location
// found in its subtree. Children without any location come last. Ties keep
// key order.
func (p *Plan) SortedChildren(n *Node) []*Node {
	return n.ordered
}

// Steps returns every step in sequential execution order.
func (p *Plan) Steps() []*Step {
	var out []*Step
	p.Walk(func(n *Node) bool {
		if n.Step != nil {
			out = append(out, n.Step)
		}
		return true
	})
	return out
}

// Walk visits nodes depth first in sequential execution order until visitor
// returns false.
func (p *Plan) Walk(visitor func(*Node) bool) {
	walk(p.Root, visitor)
}

func walk(n *Node, visitor func(*Node) bool) bool {
	if !visitor(n) {
		return false
	}
	for _, c := range n.ordered {
		if !walk(c, visitor) {
			return false
		}
	}
	return true
}

// Step returns the step of the test with the given ID.
func (p *Plan) Step(id types.ID) (*Step, bool) {
	n, ok := p.byID[id.String()]
	if !ok || n.Step == nil {
		return nil, false
	}
	return n.Step, true
}

// Build creates a plan from tests.
func Build(ctx context.Context, lgr log.Logger, tests []*types.Test, cfg Configuration) (*Plan, error) {
	if lgr == nil {
		lgr = log.Root()
	}
	cfg.Repetition = cfg.Repetition.Normalize()

	p := &Plan{
		Root:   &Node{Children: make(map[string]*Node)},
		Config: cfg,
		byID:   make(map[string]*Node),
	}

	selected := selectTests(lgr, dedupe(lgr, tests), cfg.Selection)
	for _, t := range selected {
		p.insert(t)
	}
	synthesized := p.synthesize(p.Root, nil)
	if err := p.resolve(ctx, p.Root); err != nil {
		return nil, err
	}
	order(p.Root)

	lgr.Info("Built test plan",
		"discovered", len(tests),
		"selected", len(selected),
		"synthesized_suites", synthesized,
		"parallel", cfg.Parallel,
		"iterations", cfg.Repetition.MaxIterations)
	return p, nil
}

// dedupe drops tests whose ID was already seen, keeping the first.
func dedupe(lgr log.Logger, tests []*types.Test) []*types.Test {
	seen := make(map[string]bool, len(tests))
	out := make([]*types.Test, 0, len(tests))
	for _, t := range tests {
		if t == nil {
			continue
		}
		if t.ID.IsModule() {
			lgr.Warn("Ignoring test without a name", "module", t.ID.Module)
			continue
		}
		key := t.ID.String()
		if seen[key] {
			lgr.Debug("Ignoring duplicate test", "id", key)
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// selectTests applies the selection filter. Declared suites survive when
// they match or contain a selected test.
func selectTests(lgr log.Logger, tests []*types.Test, filter Filter) []*types.Test {
	if filter == nil {
		return tests
	}
	var (
		kept      []*types.Test
		ancestors = make(map[string]bool)
	)
	for _, t := range tests {
		if t.IsSuite || !filter(t) {
			continue
		}
		kept = append(kept, t)
		for id := t.ID.Parent(); !id.IsModule(); id = id.Parent() {
			ancestors[id.String()] = true
		}
	}
	for _, t := range tests {
		if t.IsSuite && (ancestors[t.ID.String()] || filter(t)) {
			kept = append(kept, t)
		}
	}
	lgr.Debug("Applied test selection", "before", len(tests), "after", len(kept))
	return kept
}

func (p *Plan) insert(t *types.Test) {
	n := p.Root
	for i, key := range t.ID.Components() {
		child, ok := n.Children[key]
		if !ok {
			child = &Node{Key: key, Depth: i + 1, Parent: n, Children: make(map[string]*Node)}
			n.Children[key] = child
		}
		n = child
	}
	n.Step = &Step{Test: t, Action: Run()}
	p.byID[t.ID.String()] = n
}

// synthesize adds placeholder suites for nodes below the module level that
// no declared test occupies. path holds the keys of n's ancestors below the
// module.
func (p *Plan) synthesize(n *Node, path []string) int {
	count := 0
	if n.Depth >= 2 && n.Step == nil {
		id := types.ID{Module: moduleOf(n), Path: slices.Clone(path)}
		n.Step = &Step{
			Test: &types.Test{
				Name:        n.Key,
				ID:          id,
				IsSuite:     true,
				Synthesized: true,
			},
			Action: Run(),
		}
		p.byID[id.String()] = n
		count++
	}
	for _, c := range n.Children {
		childPath := path
		if c.Depth >= 2 {
			childPath = append(slices.Clone(path), c.Key)
		}
		count += p.synthesize(c, childPath)
	}
	return count
}

func moduleOf(n *Node) string {
	for n.Depth > 1 {
		n = n.Parent
	}
	return n.Key
}

// resolve sets the action of every step. Each step is evaluated on its own
// conditions only: a skipped suite or one that records an issue leaves the
// actions of its children untouched.
func (p *Plan) resolve(ctx context.Context, n *Node) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to resolve plan: %w", err)
	}
	if n.Step != nil {
		n.Step.Action = evaluate(ctx, n.Step.Test)
	}
	for _, c := range n.Children {
		if err := p.resolve(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// evaluate runs the condition traits of t in order. The first condition
// that disables the test decides the skip reason.
func evaluate(ctx context.Context, t *types.Test) (action Action) {
	defer func() {
		if r := recover(); r != nil {
			action = RecordIssue(types.Issue{
				Kind:           types.IssueSystem,
				Comment:        fmt.Sprintf("condition panicked: %v", r),
				SourceLocation: t.SourceLocation,
			})
		}
	}()
	for _, c := range t.Conditions() {
		if c.Evaluate == nil {
			continue
		}
		enabled, err := c.Evaluate(ctx)
		if err != nil {
			return RecordIssue(types.Issue{
				Kind:           types.IssueSystem,
				Comment:        "failed to evaluate condition",
				Err:            err,
				SourceLocation: t.SourceLocation,
			})
		}
		if !enabled {
			reason := c.Comment
			if reason == "" {
				reason = "disabled"
			}
			return Skip(reason)
		}
	}
	return Run()
}

// order fills in the sequential child order and returns the smallest
// source location in the subtree of n.
func order(n *Node) *types.SourceLocation {
	var own *types.SourceLocation
	if n.Step != nil {
		own = n.Step.Test.SourceLocation
	}
	subtreeMin := own

	n.ordered = make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		loc := order(c)
		if loc != nil && (subtreeMin == nil || loc.Compare(*subtreeMin) < 0) {
			subtreeMin = loc
		}
		n.ordered = append(n.ordered, c)
	}

	n.sortLocation = own
	if n.sortLocation == nil {
		n.sortLocation = subtreeMin
	}

	slices.SortFunc(n.ordered, func(a, b *Node) int {
		return strings.Compare(a.Key, b.Key)
	})
	slices.SortStableFunc(n.ordered, func(a, b *Node) int {
		switch {
		case a.sortLocation == nil && b.sortLocation == nil:
			return 0
		case a.sortLocation == nil:
			return 1
		case b.sortLocation == nil:
			return -1
		default:
			return a.sortLocation.Compare(*b.sortLocation)
		}
	})
	return subtreeMin
}
