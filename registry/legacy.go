package registry

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-testkit/section"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// LegacyMarker must appear in the name of a type for legacy discovery to
// consider it.
const LegacyMarker = "__testkit"

// TestContainer is implemented by legacy test containers.
type TestContainer interface {
	Tests(ctx context.Context) ([]*types.Test, error)
}

// LegacyType is a type registered for legacy discovery.
type LegacyType struct {
	Name  string
	Value any
	Image section.Image
}

var legacyTypes struct {
	mu      sync.Mutex
	entries []LegacyType
}

// RegisterLegacyType records the dynamic type of v against the image being
// initialized.
func RegisterLegacyType(v any) {
	entry := LegacyType{
		Name:  typeName(reflect.TypeOf(v)),
		Value: v,
		Image: section.CurrentImage(),
	}
	legacyTypes.mu.Lock()
	defer legacyTypes.mu.Unlock()
	legacyTypes.entries = append(legacyTypes.entries, entry)
}

// LegacyTypes returns a snapshot of every registered legacy type.
func LegacyTypes() []LegacyType {
	legacyTypes.mu.Lock()
	defer legacyTypes.mu.Unlock()
	out := make([]LegacyType, len(legacyTypes.entries))
	copy(out, legacyTypes.entries)
	return out
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// isLegacyContainer reports whether lt is eligible for legacy discovery.
func isLegacyContainer(lt LegacyType) (TestContainer, bool) {
	name := lt.Name
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if !strings.Contains(name, LegacyMarker) {
		return nil, false
	}
	c, ok := lt.Value.(TestContainer)
	return c, ok
}
