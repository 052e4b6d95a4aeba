package registry

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/record"
	"github.com/ethereum-optimism/infra/op-testkit/section"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

type fakeSource []section.Bounds

func (f fakeSource) Sections() []section.Bounds {
	return f
}

func testRecord(t types.Test) []byte {
	var flags record.Flags
	if t.IsSuite {
		flags |= record.FlagSuite
	}
	return record.Encode(record.KindTest, Register(ValueAccessor(t)), flags)
}

func testFor(module string, path ...string) types.Test {
	return types.Test{
		Name: path[len(path)-1],
		ID:   types.ID{Module: module, Path: path},
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	cfg.Log = log.NewLogger(log.DiscardHandler())
	if cfg.Legacy == nil {
		cfg.Legacy = func() []LegacyType { return nil }
	}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	return r
}

type resource struct {
	n        int
	released *int
}

func (r *resource) Release() {
	*r.released++
}

func TestEnumerate(t *testing.T) {
	t.Run("visits records of the requested kind in order", func(t *testing.T) {
		src := fakeSource{{Data: concat(
			testRecord(testFor("m", "a")),
			record.Encode(record.KindExitTest, Register(ValueAccessor(types.ExitTest{ID: "x"})), 0),
			testRecord(testFor("m", "b")),
		)}}

		var names []string
		err := Enumerate(src, record.KindTest, func(v *types.Test, _ section.Image, _ record.Flags) bool {
			names = append(names, v.Name)
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)
	})

	t.Run("accessor failures are skipped", func(t *testing.T) {
		src := fakeSource{{Data: concat(
			record.Encode(record.KindTest, 1<<62, 0),
			record.Encode(record.KindTest, Register(ValueAccessor(42)), 0),
			testRecord(testFor("m", "ok")),
		)}}

		var names []string
		err := Enumerate(src, record.KindTest, func(v *types.Test, _ section.Image, _ record.Flags) bool {
			names = append(names, v.Name)
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ok"}, names)
	})

	t.Run("corruption is confined to its section", func(t *testing.T) {
		corrupt := concat(testRecord(testFor("m", "first")), []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0})
		src := fakeSource{
			{Image: section.Image{ID: 1}, Data: corrupt},
			{Image: section.Image{ID: 2}, Data: testRecord(testFor("m", "second"))},
		}

		var names []string
		err := Enumerate(src, record.KindTest, func(v *types.Test, _ section.Image, _ record.Flags) bool {
			names = append(names, v.Name)
			return true
		})
		require.ErrorIs(t, err, record.ErrCorrupt)
		assert.Equal(t, []string{"first", "second"}, names)
	})

	t.Run("scratch is zeroed and released for every record", func(t *testing.T) {
		released := 0
		var seen []int
		accessor := func(out any) bool {
			p, ok := out.(*resource)
			if !ok {
				return false
			}
			seen = append(seen, p.n)
			p.n = 5
			p.released = &released
			return true
		}
		token := Register(accessor)
		src := fakeSource{{Data: concat(
			record.Encode(record.KindTest, token, 0),
			record.Encode(record.KindTest, token, 0),
		)}}

		calls := 0
		err := Enumerate(src, record.KindTest, func(v *resource, _ section.Image, _ record.Flags) bool {
			calls++
			assert.Equal(t, calls-1, released, "release runs after the callback")
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 2, released)
		assert.Equal(t, []int{0, 0}, seen)
	})

	t.Run("stop early", func(t *testing.T) {
		src := fakeSource{
			{Data: concat(testRecord(testFor("m", "a")), testRecord(testFor("m", "b")))},
			{Data: testRecord(testFor("m", "c"))},
		}
		count := 0
		err := Enumerate(src, record.KindTest, func(*types.Test, section.Image, record.Flags) bool {
			count++
			return false
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

type arith__testkit struct{}

func (arith__testkit) Tests(context.Context) ([]*types.Test, error) {
	a := testFor("legacy", "Arith", "adds")
	return []*types.Test{&a}, nil
}

type broken__testkit struct{}

func (broken__testkit) Tests(context.Context) ([]*types.Test, error) {
	return nil, errors.New("boom")
}

type unmarked struct{}

func (unmarked) Tests(context.Context) ([]*types.Test, error) {
	t := testFor("legacy", "unmarked")
	return []*types.Test{&t}, nil
}

func legacyEntries() []LegacyType {
	img := section.Image{ID: 3, Path: "/tmp/legacy.so", Dynamic: true}
	return []LegacyType{
		{Name: typeName(reflect.TypeOf(arith__testkit{})), Value: arith__testkit{}, Image: img},
		{Name: typeName(reflect.TypeOf(&broken__testkit{})), Value: &broken__testkit{}, Image: img},
		{Name: typeName(reflect.TypeOf(unmarked{})), Value: unmarked{}, Image: img},
		{Name: "pkg.plain__testkit", Value: 42, Image: img},
	}
}

func TestRegistryModes(t *testing.T) {
	img := section.Image{ID: 1, Path: "/tmp/plugin.so", Dynamic: true}
	records := fakeSource{{Image: img, Data: concat(
		testRecord(testFor("m", "b")),
		testRecord(testFor("m", "a")),
	)}}

	tests := []struct {
		name    string
		mode    Mode
		source  fakeSource
		legacy  func() []LegacyType
		want    []string
		wantErr bool
	}{
		{
			name:   "new only ignores legacy",
			mode:   ModeNew,
			source: records,
			legacy: legacyEntries,
			want:   []string{"m/a", "m/b"},
		},
		{
			name:   "legacy only ignores records",
			mode:   ModeLegacy,
			source: records,
			legacy: legacyEntries,
			want:   []string{"legacy/Arith/adds"},
		},
		{
			name:   "both prefers records",
			mode:   ModeBoth,
			source: records,
			legacy: legacyEntries,
			want:   []string{"m/a", "m/b"},
		},
		{
			name:   "both falls back to legacy",
			mode:   ModeBoth,
			legacy: legacyEntries,
			want:   []string{"legacy/Arith/adds"},
		},
		{
			name: "nothing to discover",
			mode: ModeBoth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, Config{Mode: tt.mode, Sections: tt.source, Legacy: tt.legacy})
			found, err := r.Tests(context.Background())
			require.NoError(t, err)

			var ids []string
			for _, f := range found {
				ids = append(ids, f.ID.String())
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRegistryBackAnnotation(t *testing.T) {
	img := section.Image{ID: 4, Path: "/tmp/plugin.so", Dynamic: true}
	r := newTestRegistry(t, Config{
		Mode:     ModeNew,
		Sections: fakeSource{{Image: img, Data: testRecord(testFor("m", "a"))}},
	})

	found, err := r.Tests(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	if section.DynamicLoading {
		require.NotNil(t, found[0].Image)
		assert.Equal(t, img, *found[0].Image)
	} else {
		assert.Nil(t, found[0].Image)
	}
}

func TestRegistryCancelled(t *testing.T) {
	r := newTestRegistry(t, Config{
		Mode:     ModeNew,
		Sections: fakeSource{{Data: testRecord(testFor("m", "a"))}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Tests(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistryExitTests(t *testing.T) {
	body := func() {}
	r := newTestRegistry(t, Config{
		Mode: ModeNew,
		Sections: fakeSource{{Data: concat(
			record.Encode(record.KindExitTest, Register(ValueAccessor(types.ExitTest{ID: "exit-a", Body: body})), 0),
			record.Encode(record.KindExitTest, Register(ValueAccessor(types.ExitTest{ID: "exit-b", Body: body})), 0),
		)}},
	})

	assert.Len(t, r.ExitTests(), 2)

	et, err := r.ExitTest("exit-b")
	require.NoError(t, err)
	assert.Equal(t, "exit-b", et.ID)
	assert.NotNil(t, et.Body)

	_, err = r.ExitTest("missing")
	assert.ErrorIs(t, err, ErrExitTestNotFound)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeBoth},
		{in: "both", want: ModeBoth},
		{in: "NEW", want: ModeNew},
		{in: " legacy ", want: ModeLegacy},
		{in: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModeFromEnv(t *testing.T) {
	t.Setenv(EnvDiscoveryMode, "legacy")
	mode, err := ModeFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeLegacy, mode)
}

func TestRegisterLegacyType(t *testing.T) {
	before := len(LegacyTypes())
	RegisterLegacyType(&arith__testkit{})
	entries := LegacyTypes()
	require.Len(t, entries, before+1)

	last := entries[len(entries)-1]
	assert.Equal(t, "github.com/ethereum-optimism/infra/op-testkit/registry.arith__testkit", last.Name)
	_, ok := isLegacyContainer(last)
	assert.True(t, ok)
}
