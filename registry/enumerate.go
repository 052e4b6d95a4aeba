package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testkit/record"
	"github.com/ethereum-optimism/infra/op-testkit/section"
)

// Releaser is implemented by enumerated values that hold resources. Release
// is called after the enumeration callback returns.
type Releaser interface {
	Release()
}

// Enumerate materializes every record of kind from src as a T and calls fn
// with it, in section order. The value passed to fn is only valid during the
// call; fn must copy what it keeps. Records whose accessor is unknown or
// cannot produce a T are skipped. Returning false from fn stops the
// enumeration. Corrupt sections are skipped after their valid prefix and
// reported in the returned error; the other sections are still visited.
func Enumerate[T any](src section.Source, kind record.Kind, fn func(v *T, img section.Image, flags record.Flags) bool) error {
	var errs []error
	for _, b := range src.Sections() {
		stopped, err := enumerateBounds(b, kind, fn)
		if err != nil {
			errs = append(errs, fmt.Errorf("section of %s: %w", b.Image, err))
		}
		if stopped {
			break
		}
	}
	return errors.Join(errs...)
}

// enumerateBounds is Enumerate for a single section. It reports whether fn
// asked to stop.
func enumerateBounds[T any](b section.Bounds, kind record.Kind, fn func(v *T, img section.Image, flags record.Flags) bool) (bool, error) {
	var (
		scratch T
		zero    T
		stopped bool
	)
	err := record.WalkKind(b.Data, kind, func(r record.Record) bool {
		accessor, ok := accessors.lookup(r.Accessor)
		if !ok {
			return true
		}
		if !accessor(&scratch) {
			scratch = zero
			return true
		}
		defer func() {
			if rel, ok := any(&scratch).(Releaser); ok {
				rel.Release()
			}
			scratch = zero
		}()
		if !fn(&scratch, b.Image, r.Flags) {
			stopped = true
			return false
		}
		return true
	})
	return stopped, err
}
