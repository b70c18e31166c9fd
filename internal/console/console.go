// Package console holds the process-wide diagnostic entry points.
//
// Code writes diagnostics through Log, Info, Warn, Error and Debug. Each
// of them looks up the current Handle for its name, so an agent can swap
// in a capturing wrapper and later put the original back. The defaults
// print the arguments space-separated on one line: log, info and debug
// to stdout, warn and error to stderr.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/loykin/logship/internal/event"
)

// Handle is one diagnostic entry point.
type Handle func(args ...any)

var (
	mu      sync.RWMutex
	stdout  io.Writer = os.Stdout
	stderr  io.Writer = os.Stderr
	handles           = defaults()
	owners            = map[event.Kind]any{}
)

func defaults() map[event.Kind]Handle {
	return map[event.Kind]Handle{
		event.KindLog:   printer(func() io.Writer { return currentStdout() }),
		event.KindInfo:  printer(func() io.Writer { return currentStdout() }),
		event.KindDebug: printer(func() io.Writer { return currentStdout() }),
		event.KindWarn:  printer(func() io.Writer { return currentStderr() }),
		event.KindError: printer(func() io.Writer { return currentStderr() }),
	}
}

func printer(w func() io.Writer) Handle {
	return func(args ...any) {
		_, _ = fmt.Fprintln(w(), args...)
	}
}

func currentStdout() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return stdout
}

func currentStderr() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return stderr
}

// SetOutput redirects the default handles. Nil keeps the current writer.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// Lookup returns the handle currently installed for name.
func Lookup(name event.Kind) (Handle, bool) {
	mu.RLock()
	defer mu.RUnlock()
	h, ok := handles[name]
	return h, ok
}

// Swap installs h for name and returns the handle it replaced.
// Unknown names are rejected and nothing is installed.
func Swap(name event.Kind, h Handle) (Handle, bool) {
	mu.Lock()
	defer mu.Unlock()
	prev, ok := handles[name]
	if !ok {
		return nil, false
	}
	handles[name] = h
	delete(owners, name)
	return prev, true
}

// Wrap replaces the handle for name with build(current, currentOwner)
// and tags it with owner, all under one lock so no call can see the new
// handle before build has captured the old one.
func Wrap(name event.Kind, owner any, build func(prev Handle, prevOwner any) Handle) bool {
	mu.Lock()
	defer mu.Unlock()
	prev, ok := handles[name]
	if !ok {
		return false
	}
	handles[name] = build(prev, owners[name])
	owners[name] = owner
	return true
}

// Restore puts h (tagged with hOwner) back for name, but only while owner
// still holds name. It reports whether the handle was replaced.
func Restore(name event.Kind, owner any, h Handle, hOwner any) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := handles[name]; !ok || owners[name] != owner {
		return false
	}
	handles[name] = h
	if hOwner == nil {
		delete(owners, name)
	} else {
		owners[name] = hOwner
	}
	return true
}

// Owner returns the owner tag of the handle installed for name, or nil.
func Owner(name event.Kind) any {
	mu.RLock()
	defer mu.RUnlock()
	return owners[name]
}

// Reset restores the default handles and writers.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	stdout = os.Stdout
	stderr = os.Stderr
	handles = defaults()
	owners = map[event.Kind]any{}
}

// Call invokes the current handle for name.
func Call(name event.Kind, args ...any) {
	h, ok := Lookup(name)
	if !ok || h == nil {
		return
	}
	h(args...)
}

func Log(args ...any)   { Call(event.KindLog, args...) }
func Info(args ...any)  { Call(event.KindInfo, args...) }
func Warn(args ...any)  { Call(event.KindWarn, args...) }
func Error(args ...any) { Call(event.KindError, args...) }
func Debug(args ...any) { Call(event.KindDebug, args...) }
