package registry

import (
	"sync"
)

// Accessor materializes the value described by a record into out, which
// points to a zeroed value of the type the caller asked for. It reports
// false when out has a type it cannot produce.
type Accessor func(out any) bool

// accessors is the process-wide accessor table. Record payloads carry
// indices into it.
var accessors = &accessorTable{fns: map[uint64]Accessor{}}

type accessorTable struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]Accessor
}

func (t *accessorTable) register(fn Accessor) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Token 0 is never handed out so zeroed payloads do not resolve.
	t.next++
	t.fns[t.next] = fn
	return t.next
}

func (t *accessorTable) lookup(token uint64) (Accessor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.fns[token]
	return fn, ok
}

// Register adds fn to the process-wide accessor table and returns the token
// to store in a record.
func Register(fn Accessor) uint64 {
	return accessors.register(fn)
}

// ValueAccessor returns an accessor that copies v into outputs of type *T.
func ValueAccessor[T any](v T) Accessor {
	return func(out any) bool {
		p, ok := out.(*T)
		if !ok {
			return false
		}
		*p = v
		return true
	}
}
