// Package declare is the producer side of test discovery. Declarations are
// made from package-level variables so they run during package
// initialization:
//
//	var _ = declare.Test("adds", func(ctx context.Context) error {
//		declare.Expect(ctx, 1+1 == 2, "1+1 should be 2")
//		return nil
//	})
//
// Each declaration registers an accessor for its test and emits a record
// into the test content section of the image being initialized.
package declare

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-testkit/record"
	"github.com/ethereum-optimism/infra/op-testkit/registry"
	"github.com/ethereum-optimism/infra/op-testkit/section"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// SuiteDecl is a declared suite. Tests declared through it are its
// children.
type SuiteDecl struct {
	module string
	path   []string
	id     types.ID
}

// ID returns the ID of the suite.
func (s *SuiteDecl) ID() types.ID {
	return s.id
}

// Test declares a top level test function.
func Test(name string, body types.Body, traits ...types.Trait) types.ID {
	module, loc := caller(2)
	return emitTest(module, nil, name, loc, traits, func(t *types.Test) {
		t.Body = body
	})
}

// Parameterized declares a top level test function that runs once per
// argument.
func Parameterized[A any](name string, args []A, body func(ctx context.Context, arg A) error, traits ...types.Trait) types.ID {
	module, loc := caller(2)
	return emitTest(module, nil, name, loc, traits, parameterize(args, body))
}

// Suite declares a top level suite.
func Suite(name string, traits ...types.Trait) *SuiteDecl {
	module, loc := caller(2)
	return emitSuite(module, nil, name, loc, traits)
}

// Test declares a test function inside s.
func (s *SuiteDecl) Test(name string, body types.Body, traits ...types.Trait) types.ID {
	_, loc := caller(2)
	return emitTest(s.module, s.path, name, loc, traits, func(t *types.Test) {
		t.Body = body
	})
}

// Suite declares a suite nested in s.
func (s *SuiteDecl) Suite(name string, traits ...types.Trait) *SuiteDecl {
	_, loc := caller(2)
	return emitSuite(s.module, s.path, name, loc, traits)
}

// ParameterizedIn declares a parameterized test function inside s.
func ParameterizedIn[A any](s *SuiteDecl, name string, args []A, body func(ctx context.Context, arg A) error, traits ...types.Trait) types.ID {
	_, loc := caller(2)
	return emitTest(s.module, s.path, name, loc, traits, parameterize(args, body))
}

func parameterize[A any](args []A, body func(ctx context.Context, arg A) error) func(*types.Test) {
	return func(t *types.Test) {
		p := &types.Parameterization{
			Body: func(ctx context.Context, arg any) error {
				return body(ctx, arg.(A))
			},
		}
		for i, a := range args {
			p.Cases = append(p.Cases, types.Case{ID: strconv.Itoa(i), Argument: a})
		}
		t.Parameterization = p
	}
}

func emitTest(module string, parent []string, name string, loc types.SourceLocation, traits []types.Trait, set func(*types.Test)) types.ID {
	path := append(append([]string(nil), parent...), name)
	t := &types.Test{
		Name:           name,
		ID:             types.ID{Module: module, Path: path, Location: &loc},
		SourceLocation: &loc,
	}
	applyTraits(t, traits)
	set(t)

	var flags record.Flags
	if t.Parameterization != nil {
		flags |= record.FlagParameterized
	}
	emit(record.KindTest, registry.ValueAccessor(*t), flags)
	return t.ID
}

func emitSuite(module string, parent []string, name string, loc types.SourceLocation, traits []types.Trait) *SuiteDecl {
	path := append(append([]string(nil), parent...), name)
	t := &types.Test{
		Name:           name,
		ID:             types.ID{Module: module, Path: path},
		SourceLocation: &loc,
		IsSuite:        true,
	}
	applyTraits(t, traits)
	emit(record.KindTest, registry.ValueAccessor(*t), record.FlagSuite)
	return &SuiteDecl{module: module, path: path, id: t.ID}
}

// applyTraits stores traits on t. Display names are lifted into the test.
func applyTraits(t *types.Test, traits []types.Trait) {
	for _, tr := range traits {
		if dn, ok := tr.(displayName); ok {
			t.DisplayName = string(dn)
			continue
		}
		t.Traits = append(t.Traits, tr)
	}
}

func emit(kind record.Kind, acc registry.Accessor, flags record.Flags) {
	section.Emit(record.Encode(kind, registry.Register(acc), flags))
}

// caller returns the package path and source location of the function skip
// frames above caller.
func caller(skip int) (string, types.SourceLocation) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", types.SourceLocation{}
	}
	module := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		module = packagePath(fn.Name())
	}
	return module, types.SourceLocation{FilePath: filepath.Base(file), Line: line}
}

// packagePath extracts the import path from a fully qualified function name
// such as "example.com/foo/bar.init.func1".
func packagePath(funcName string) string {
	slash := strings.LastIndex(funcName, "/")
	dot := strings.Index(funcName[slash+1:], ".")
	if dot < 0 {
		return funcName
	}
	return funcName[:slash+1+dot]
}

// ExitTest declares a body that is expected to terminate its process. Pass
// the result to ExpectExit from a test body.
//
// Exit tests must be declared in a package-level variable. The child process
// that runs the body finds it by the record emitted during package
// initialization, so ExitTest panics when called after tests were discovered,
// for example from inside a test body.
func ExitTest(body func()) *types.ExitTest {
	if !section.Declaring() {
		panic("declare.ExitTest must be called from a package-level variable declaration")
	}
	module, loc := caller(2)
	et := &types.ExitTest{
		ID:             fmt.Sprintf("%s/%s", module, loc),
		SourceLocation: loc,
		Body:           body,
	}
	emit(record.KindExitTest, registry.ValueAccessor(*et), 0)
	return et
}

// LegacyContainer registers v for legacy discovery. The name of v's type
// must contain registry.LegacyMarker and v must implement
// registry.TestContainer to be picked up.
func LegacyContainer(v any) {
	registry.RegisterLegacyType(v)
}
