//go:build !testkit_static

package section

import (
	"fmt"
	"os"
	"plugin"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Config configures a Locator.
type Config struct {
	Log log.Logger
	// ResolveMainBase looks up the load address of the main executable in
	// the process memory map when the locator initializes.
	ResolveMainBase bool
}

// Locator tracks the test content sections of loaded images.
//
// Two locks are involved. loaderMu is held for the whole duration of an image
// load, including the package initialization of the loaded image. mu guards
// the section list and the pending records and is only held to append or
// copy. Records emitted while an image initializes only ever take mu, so
// emitting from inside a load never waits on the loader.
type Locator struct {
	cfg Config

	initOnce sync.Once
	loaderMu sync.Mutex

	mu       sync.Mutex
	sections []Bounds
	pending  map[ImageID][]byte
	images   map[ImageID]Image
	order    []ImageID
	loading  *Image
	nextID   ImageID
	byPath   map[string]Image
	// discovered is set once Sections has run.
	discovered bool
}

// NewLocator creates a Locator. Records emitted before the first call to
// Sections are attributed to the main image.
func NewLocator(cfg Config) *Locator {
	main := Image{ID: MainImageID}
	return &Locator{
		cfg:     cfg,
		pending: make(map[ImageID][]byte),
		images:  map[ImageID]Image{MainImageID: main},
		nextID:  MainImageID + 1,
		byPath:  make(map[string]Image),
	}
}

func (l *Locator) log() log.Logger {
	if l.cfg.Log != nil {
		return l.cfg.Log
	}
	return log.Root()
}

// Emit appends an encoded record to the pending section of the image being
// initialized.
func (l *Locator) Emit(rec []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img := l.currentLocked()
	if _, ok := l.pending[img.ID]; !ok {
		l.order = append(l.order, img.ID)
	}
	l.pending[img.ID] = append(l.pending[img.ID], rec...)
}

// CurrentImage returns the image that Emit attributes records to.
func (l *Locator) CurrentImage() Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLocked()
}

func (l *Locator) currentLocked() Image {
	if l.loading != nil {
		return *l.loading
	}
	return l.images[MainImageID]
}

// Sections returns a snapshot of every known section. The first call
// initializes the locator. Calling it again without new images or records
// returns the same set.
func (l *Locator) Sections() []Bounds {
	l.initOnce.Do(l.init)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovered = true
	l.sealLocked()
	return slices.Clone(l.sections)
}

// Declaring reports whether records emitted now belong to an image that is
// still initializing: either no discovery has happened yet, or a plugin is
// being loaded. Records emitted at any other time are only seen by the
// current process, after discovery has already run.
func (l *Locator) Declaring() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.discovered || l.loading != nil
}

// Images returns the images the locator knows about, main image first.
func (l *Locator) Images() []Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Image, 0, len(l.images))
	for id := MainImageID; id < l.nextID; id++ {
		if img, ok := l.images[id]; ok {
			out = append(out, img)
		}
	}
	return out
}

// init records the path and load address of the main image. Records of
// images that were already loaded when the process started were emitted by
// their package initialization and are pending; nothing is read from disk.
func (l *Locator) init() {
	exe, err := os.Executable()
	if err != nil {
		l.log().Debug("Could not resolve main executable", "err", err)
	}

	var base uintptr
	if l.cfg.ResolveMainBase && exe != "" {
		base = imageBase(exe)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	main := l.images[MainImageID]
	main.Path = exe
	main.Base = base
	l.images[MainImageID] = main
	l.log().Debug("Section locator initialized", "image", main, "base", base)
}

// sealLocked moves pending records into immutable bounds. Records of an
// image that is still loading stay pending.
func (l *Locator) sealLocked() {
	var keep []ImageID
	for _, id := range l.order {
		if l.loading != nil && l.loading.ID == id {
			keep = append(keep, id)
			continue
		}
		if data := l.pending[id]; len(data) > 0 {
			l.sections = append(l.sections, Bounds{Image: l.images[id], Data: data})
		}
		delete(l.pending, id)
	}
	l.order = keep
}

// Open loads the plugin at path and records its test content. Opening the
// same path twice returns the image of the first load.
func (l *Locator) Open(path string) (Image, error) {
	l.loaderMu.Lock()
	defer l.loaderMu.Unlock()

	l.mu.Lock()
	if img, ok := l.byPath[path]; ok {
		l.mu.Unlock()
		return img, nil
	}
	img := Image{ID: l.nextID, Path: path, Dynamic: true}
	l.nextID++
	l.images[img.ID] = img
	l.loading = &img
	l.mu.Unlock()

	_, err := plugin.Open(path)
	base := imageBase(path)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = nil
	if err != nil {
		delete(l.pending, img.ID)
		delete(l.images, img.ID)
		l.order = slices.DeleteFunc(l.order, func(id ImageID) bool { return id == img.ID })
		return Image{}, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	img.Base = base
	l.images[img.ID] = img
	l.byPath[path] = img
	l.log().Info("Loaded image", "image", img, "pending_bytes", len(l.pending[img.ID]))
	return img, nil
}

// Open loads a plugin image into the process-wide locator.
func Open(path string) (Image, error) {
	return defaultLocator.Open(path)
}

// DynamicLoading reports whether images can be loaded at run time and
// records attributed to them.
const DynamicLoading = true
