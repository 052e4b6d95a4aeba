// Package section locates the test content sections of every image loaded
// into the process.
//
// An image is the main executable or a plugin loaded through Open. Each image
// owns a byte range of encoded records (see package record). Declarations emit
// records into the image that is being initialized when they run, so records
// from a plugin's package initialization are attributed to that plugin.
package section

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrStaticBuild is returned by operations that need dynamic loading in a
// binary built with the testkit_static tag.
var ErrStaticBuild = errors.New("dynamic image loading is not available in static builds")

// ImageID identifies a loaded image for the lifetime of the process.
type ImageID uint64

// MainImageID is the ID of the main executable.
const MainImageID ImageID = 0

// Image is a handle to a loaded image.
type Image struct {
	ID   ImageID
	Path string
	// Base is the load address of the image, or 0 when it is unknown.
	Base uintptr
	// Dynamic is set for images loaded after process start.
	Dynamic bool
}

func (i Image) String() string {
	if i.Path == "" {
		return fmt.Sprintf("image#%d", i.ID)
	}
	return fmt.Sprintf("image#%d(%s)", i.ID, i.Path)
}

// IsMain reports whether the image is the main executable.
func (i Image) IsMain() bool {
	return i.ID == MainImageID
}

// Bounds is the byte range of one test content section. Bounds are immutable
// once recorded.
type Bounds struct {
	Image Image
	Data  []byte
}

// Start returns the address of the first byte of the section, or 0 for an
// empty section.
func (b Bounds) Start() uintptr {
	if len(b.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.Data)))
}

// Len returns the size of the section in bytes.
func (b Bounds) Len() int {
	return len(b.Data)
}

// Source provides section bounds. *Locator implements it.
type Source interface {
	Sections() []Bounds
}

var defaultLocator = NewLocator(Config{ResolveMainBase: true})

// Default returns the process-wide locator.
func Default() *Locator {
	return defaultLocator
}

// Sections returns a snapshot of the sections known to the process-wide
// locator.
func Sections() []Bounds {
	return defaultLocator.Sections()
}

// Emit appends an encoded record to the section of the image currently being
// initialized.
func Emit(rec []byte) {
	defaultLocator.Emit(rec)
}

// Declaring reports whether the process-wide locator still accepts
// declarations, see Locator.Declaring.
func Declaring() bool {
	return defaultLocator.Declaring()
}

// CurrentImage returns the image that Emit attributes records to right now.
func CurrentImage() Image {
	return defaultLocator.CurrentImage()
}
