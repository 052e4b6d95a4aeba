package declare

import (
	"context"
	"time"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

type displayName string

func (d displayName) Description() string {
	return "display name: " + string(d)
}

// DisplayName replaces the declared name in output.
func DisplayName(name string) types.Trait {
	return displayName(name)
}

// Enabled is a condition that always holds.
func Enabled() types.Trait {
	return types.ConditionTrait{Evaluate: func(context.Context) (bool, error) { return true, nil }}
}

// Disabled skips the test with comment as the reason.
func Disabled(comment string) types.Trait {
	return types.ConditionTrait{
		Comment:  comment,
		Evaluate: func(context.Context) (bool, error) { return false, nil },
	}
}

// EnabledIf runs the test only when fn returns true. An error from fn
// records an issue instead of running the test.
func EnabledIf(comment string, fn func(ctx context.Context) (bool, error)) types.Trait {
	return types.ConditionTrait{Comment: comment, Evaluate: fn}
}

// DisabledIf skips the test when fn returns true.
func DisabledIf(comment string, fn func(ctx context.Context) (bool, error)) types.Trait {
	return types.ConditionTrait{
		Comment: comment,
		Evaluate: func(ctx context.Context) (bool, error) {
			disabled, err := fn(ctx)
			return !disabled, err
		},
	}
}

func TimeLimit(d time.Duration) types.Trait {
	return types.TimeLimitTrait{Limit: d}
}

func Tags(tags ...string) types.Trait {
	return types.TagsTrait{Tags: tags}
}

// Serialized runs the cases and children of the test one at a time.
func Serialized() types.Trait {
	return types.SerializedTrait{}
}

// Scoped wraps the execution of a test. On a suite fn runs once around all
// of its children; on a function it runs around every case.
func Scoped(name string, fn func(ctx context.Context, test *types.Test, c *types.Case, next func(context.Context) error) error) types.Trait {
	return types.ScopeFunc{Name: name, Fn: fn}
}
