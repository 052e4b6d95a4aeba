//go:build linux && !testkit_static

package section

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const procMaps = "/proc/self/maps"

// loadedImages lists the file-backed images mapped into the process, one
// entry per path with the lowest mapped address as its base.
func loadedImages() ([]mappedImage, error) {
	f, err := os.Open(procMaps)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", procMaps, err)
	}
	defer func() { _ = f.Close() }()

	var (
		out  []mappedImage
		seen = make(map[string]int)
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m, ok := parseMapsLine(scanner.Text())
		if !ok {
			continue
		}
		if i, ok := seen[m.path]; ok {
			if m.base < out[i].base {
				out[i].base = m.base
			}
			continue
		}
		seen[m.path] = len(out)
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", procMaps, err)
	}
	return out, nil
}

// parseMapsLine parses one line of /proc/<pid>/maps:
//
//	address           perms offset  dev   inode   pathname
//	00400000-00452000 r-xp 00000000 08:02 173521  /usr/bin/dbus-daemon
func parseMapsLine(line string) (mappedImage, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return mappedImage{}, false
	}
	path := strings.Join(fields[5:], " ")
	if !strings.HasPrefix(path, "/") {
		return mappedImage{}, false
	}
	start, _, ok := strings.Cut(fields[0], "-")
	if !ok {
		return mappedImage{}, false
	}
	base, err := strconv.ParseUint(start, 16, 64)
	if err != nil {
		return mappedImage{}, false
	}
	return mappedImage{path: path, base: uintptr(base)}, true
}

// imageBase returns the lowest mapped address of path, or 0.
func imageBase(path string) uintptr {
	images, err := loadedImages()
	if err != nil {
		return 0
	}
	for _, m := range images {
		if m.path == path {
			return m.base
		}
	}
	return 0
}
