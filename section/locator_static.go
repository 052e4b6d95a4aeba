//go:build testkit_static

package section

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// Config configures a Locator. ResolveMainBase has no effect in static
// builds.
type Config struct {
	Log             log.Logger
	ResolveMainBase bool
}

// Locator serves the single section of a statically linked binary. Records
// are emitted during package initialization, which runs on one goroutine, so
// no locking is done.
type Locator struct {
	cfg        Config
	main       Image
	data       []byte
	discovered atomic.Bool
}

func NewLocator(cfg Config) *Locator {
	return &Locator{cfg: cfg, main: Image{ID: MainImageID}}
}

func (l *Locator) Emit(rec []byte) {
	l.data = append(l.data, rec...)
}

func (l *Locator) CurrentImage() Image {
	return l.main
}

// Sections returns the section of the main image. The returned bounds keep
// the records emitted so far.
func (l *Locator) Sections() []Bounds {
	l.discovered.Store(true)
	if len(l.data) == 0 {
		return nil
	}
	return []Bounds{{Image: l.main, Data: l.data[:len(l.data):len(l.data)]}}
}

// Declaring reports whether Sections has not run yet.
func (l *Locator) Declaring() bool {
	return !l.discovered.Load()
}

func (l *Locator) Images() []Image {
	return []Image{l.main}
}

func (l *Locator) Open(string) (Image, error) {
	return Image{}, ErrStaticBuild
}

func Open(path string) (Image, error) {
	return defaultLocator.Open(path)
}

const DynamicLoading = false
