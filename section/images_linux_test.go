//go:build linux && !testkit_static

package section

import (
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMapsLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want mappedImage
		ok   bool
	}{
		{
			name: "file backed mapping",
			line: "00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon",
			want: mappedImage{path: "/usr/bin/dbus-daemon", base: 0x400000},
			ok:   true,
		},
		{
			name: "path with spaces",
			line: "7f0000000000-7f0000001000 r--p 00000000 08:02 42 /opt/my tests/plugin.so",
			want: mappedImage{path: "/opt/my tests/plugin.so", base: 0x7f0000000000},
			ok:   true,
		},
		{
			name: "anonymous mapping",
			line: "7ffd1c000000-7ffd1c021000 rw-p 00000000 00:00 0",
		},
		{
			name: "pseudo path",
			line: "7ffd1c3f8000-7ffd1c3fa000 r-xp 00000000 00:00 0 [vdso]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseMapsLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLoadedImagesIncludesExecutable(t *testing.T) {
	images, err := loadedImages()
	require.NoError(t, err)
	assert.NotEmpty(t, images)
	for _, m := range images {
		assert.NotEmpty(t, m.path)
	}
}

func TestInitResolvesMainImageOnly(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	l := NewLocator(Config{Log: log.NewLogger(log.DiscardHandler()), ResolveMainBase: true})
	assert.Empty(t, l.Sections(), "mapped images contribute no records of their own")

	images := l.Images()
	require.Len(t, images, 1)
	assert.True(t, images[0].IsMain())
	assert.Equal(t, exe, images[0].Path)
	assert.NotZero(t, images[0].Base)
	assert.Equal(t, imageBase(exe), images[0].Base)
}
