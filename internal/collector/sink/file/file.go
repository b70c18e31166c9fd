// Package file appends payloads to one text file per day, named
// YYYY-MM-DD.txt, through lumberjack so a busy day still rotates by size.
package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/logship/internal/collector/sink"
)

// DayFormat names the daily files.
const DayFormat = "2006-01-02"

// Sink writes each payload on its own line.
type Sink struct {
	dir string
	// MaxSizeMB rotates the current day's file; backups are kept for
	// MaxAgeDays.
	maxSizeMB  int
	maxAgeDays int

	mu  sync.Mutex
	day string
	w   *lj.Logger
}

// New creates a file sink rooted at dir, creating it if needed.
// DSN format: "file:///var/log/logship" or a plain directory.
func New(dsn string) (*Sink, error) {
	dir := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dir), "file://") {
		dir = dir[len("file://"):]
	}
	if dir == "" {
		return nil, errors.New("empty file sink directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Sink{dir: dir, maxSizeMB: 100, maxAgeDays: 30}, nil
}

// Path returns the file a record received at t is written to.
func (s *Sink) Path(t time.Time) string {
	return filepath.Join(s.dir, t.Format(DayFormat)+".txt")
}

func (s *Sink) Send(_ context.Context, r sink.Record) error {
	ts := r.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	day := ts.Format(DayFormat)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil || s.day != day {
		if s.w != nil {
			_ = s.w.Close()
		}
		s.w = &lj.Logger{Filename: s.Path(ts), MaxSize: s.maxSizeMB, MaxAge: s.maxAgeDays}
		s.day = day
	}
	_, err := s.w.Write([]byte(r.Payload + "\n"))
	return err
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
