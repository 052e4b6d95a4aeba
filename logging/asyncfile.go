package logging

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var errAsyncFileClosed = errors.New("async file is closed")

// AsyncFile writes to a file from a background goroutine so that event
// handlers never block on disk.
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	errMu   sync.Mutex
	err     error
}

// NewAsyncFile creates path and starts its writer.
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 256),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues a copy of data.
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return errAsyncFileClosed
	}
	af.queue <- append([]byte(nil), data...)
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.errMu.Lock()
			if af.err == nil {
				af.err = err
			}
			af.errMu.Unlock()
		}
	}
}

// Close flushes pending writes and closes the file. It returns the first
// write error, if any.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	closeErr := af.file.Close()

	af.errMu.Lock()
	defer af.errMu.Unlock()
	if af.err != nil {
		return fmt.Errorf("failed to write %s: %w", af.file.Name(), af.err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}
