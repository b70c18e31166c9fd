package fault

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/loykin/logship/internal/event"
)

// Emitter sends an event down the error path. The interceptor's Emit
// method satisfies it.
type Emitter interface {
	Emit(kind event.Kind, args ...any)
}

// Options selects which fault channels are captured.
type Options struct {
	CatchErrors     bool
	CatchRejections bool
	// Repanic makes Recover panic again with the original value after
	// the fault has been captured.
	Repanic bool
}

// Capture subscribes to the two fault channels: uncaught errors
// (recovered panics, Report, HandleUncaught) and unhandled background
// failures (Go, Reject). Nothing is captured until Install is called.
type Capture struct {
	emitter Emitter
	opts    Options
	log     *slog.Logger

	errors     atomic.Bool
	rejections atomic.Bool
}

func New(e Emitter, opts Options, log *slog.Logger) *Capture {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Capture{emitter: e, opts: opts, log: log}
}

// Install enables the channels selected in Options.
func (c *Capture) Install() {
	c.errors.Store(c.opts.CatchErrors)
	c.rejections.Store(c.opts.CatchRejections)
}

// Uninstall disables both channels.
func (c *Capture) Uninstall() {
	c.errors.Store(false)
	c.rejections.Store(false)
}

// CatchingErrors reports whether uncaught errors are currently captured.
func (c *Capture) CatchingErrors() bool { return c.errors.Load() }

// CatchingRejections reports whether background failures are captured.
func (c *Capture) CatchingRejections() bool { return c.rejections.Load() }

// Recover must be deferred directly. It captures a panic in progress
// together with its stack and the location that panicked. When uncaught
// errors are not being captured the panic is left alone.
func (c *Capture) Recover() {
	if !c.errors.Load() {
		return
	}
	r := recover()
	if r == nil {
		return
	}
	c.deliver(StructuredFault{Value: r, Stack: debug.Stack(), Site: panicSite()})
	if c.opts.Repanic {
		panic(r)
	}
}

// Go runs fn in its own goroutine. A returned error is captured as an
// unhandled rejection and a panic as an uncaught error.
func (c *Capture) Go(fn func() error) {
	go func() {
		defer c.Recover()
		if err := fn(); err != nil {
			c.Reject(err)
		}
	}()
}

// Report captures err as an uncaught error with the caller's stack.
func (c *Capture) Report(err error) {
	if err == nil || !c.errors.Load() {
		return
	}
	c.deliver(StructuredFault{Value: err, Stack: debug.Stack(), Site: callerSite(2)})
}

// Reject captures reason as an unhandled rejection.
func (c *Capture) Reject(reason any) {
	if !c.rejections.Load() {
		c.log.Warn("unhandled background failure", "reason", message(reason))
		return
	}
	c.deliver(RejectionFault{Reason: reason})
}

// HandleUncaught accepts a fault notification in positional form
// (message, file, line, col[, err]) or as a single value. Other argument
// lists are captured as unrecognized faults.
func (c *Capture) HandleUncaught(args ...any) {
	if !c.errors.Load() {
		return
	}
	c.deliver(Classify(args...))
}

func (c *Capture) deliver(f Fault) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("fault capture failed", "panic", fmt.Sprint(r))
			c.fallback(fmt.Sprint(r))
		}
	}()
	c.emitter.Emit(event.KindError, Normalize(f))
}

func (c *Capture) fallback(reason string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("fault fallback failed", "panic", fmt.Sprint(r))
		}
	}()
	c.emitter.Emit(event.KindError, Normalized{Title: TitleCaptureFailed, Message: reason})
}

// panicSite walks the stack of a deferred call and returns the first
// non-runtime frame below runtime.gopanic.
func panicSite() *Location {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seenPanic := false
	for {
		f, more := frames.Next()
		if f.Function == "runtime.gopanic" {
			seenPanic = true
		} else if seenPanic && !strings.HasPrefix(f.Function, "runtime.") {
			return &Location{File: f.File, Line: f.Line}
		}
		if !more {
			return nil
		}
	}
}

func callerSite(skip int) *Location {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	return &Location{File: file, Line: line}
}
