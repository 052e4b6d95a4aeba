//go:build !linux && !testkit_static

package section

func loadedImages() ([]mappedImage, error) {
	return nil, nil
}

func imageBase(string) uintptr {
	return 0
}
