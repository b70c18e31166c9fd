// Package display renders captured events as lines on a side channel,
// for hosts where the normal diagnostic output cannot be watched.
package display

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/loykin/logship/internal/logger"
)

// Display writes at most Max lines. Once the cap is reached further lines
// are dropped, so a long-running process cannot fill the channel.
type Display struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	max     int
	written int
	dropped int
}

// New returns a Display writing to w.
func New(w io.Writer, max int) *Display {
	return &Display{w: w, max: max}
}

// Open writes to a rotated file when path is set, otherwise to stderr.
func Open(path string, max int) *Display {
	if fw := (logger.FileConfig{Path: path}).Writer(); fw != nil {
		return &Display{w: fw, closer: fw, max: max}
	}
	return New(os.Stderr, max)
}

// Render writes line and reports whether it was written.
func (d *Display) Render(line string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.written >= d.max {
		d.dropped++
		return false
	}
	if _, err := fmt.Fprintln(d.w, line); err != nil {
		d.dropped++
		return false
	}
	d.written++
	return true
}

// Written is the number of lines rendered so far.
func (d *Display) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Dropped is the number of lines refused by the cap or a write error.
func (d *Display) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close releases the file opened by Open.
func (d *Display) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
