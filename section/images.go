//go:build !testkit_static

package section

// mappedImage is a file-backed image found in the process address space.
type mappedImage struct {
	path string
	base uintptr
}
