// Package types contains shared types used across the testkit.
package types

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SourceLocation is the place a declaration appears in source.
type SourceLocation struct {
	FilePath string `json:"file"`
	Line     int    `json:"line"`
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d", l.FilePath, l.Line)
}

// Compare orders locations by file path, then line.
func (l SourceLocation) Compare(o SourceLocation) int {
	if c := cmp.Compare(l.FilePath, o.FilePath); c != 0 {
		return c
	}
	return cmp.Compare(l.Line, o.Line)
}

// ID identifies a test. Module is the import path of the package that
// declared it, Path the chain of containing suites followed by the test's own
// name. Function tests also carry their source location so that two
// declarations with the same name stay distinct.
type ID struct {
	Module   string          `json:"module"`
	Path     []string        `json:"path"`
	Location *SourceLocation `json:"location,omitempty"`
}

// Components returns the graph key path of the test: the module followed by
// one component per path element. The final component includes the source
// location when there is one.
func (id ID) Components() []string {
	out := make([]string, 0, len(id.Path)+1)
	out = append(out, id.Module)
	out = append(out, id.Path...)
	if id.Location != nil && len(id.Path) > 0 {
		out[len(out)-1] = out[len(out)-1] + "@" + id.Location.String()
	}
	return out
}

// String returns the canonical form of the ID, which is also its key.
func (id ID) String() string {
	return strings.Join(id.Components(), "/")
}

// Parent returns the ID of the containing suite. The parent of a top level
// test is the module itself, with an empty path.
func (id ID) Parent() ID {
	if len(id.Path) == 0 {
		return id
	}
	return ID{Module: id.Module, Path: slices.Clone(id.Path[:len(id.Path)-1])}
}

// IsModule reports whether the ID names a module rather than a test.
func (id ID) IsModule() bool {
	return len(id.Path) == 0
}

// Name returns the last path component.
func (id ID) Name() string {
	if len(id.Path) == 0 {
		return id.Module
	}
	return id.Path[len(id.Path)-1]
}
