package intercept

import (
	"sync"
	"sync/atomic"

	"github.com/loykin/logship/internal/console"
	"github.com/loykin/logship/internal/event"
)

// Handler receives every captured event.
type Handler interface {
	Handle(e event.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(e event.Event)

func (f HandlerFunc) Handle(e event.Event) { f(e) }

// Interceptor replaces console handles with wrappers that forward each
// call to a Handler. The handle that was installed before wrapping is
// captured once per name and is the only thing a wrapper ever calls for
// native output, so wrappers never re-enter themselves.
type Interceptor struct {
	mu        sync.Mutex
	handler   Handler
	output    bool
	originals map[event.Kind]*wrapped
}

// wrapped is one handle this interceptor replaced. It doubles as the
// console owner tag of the wrapper.
type wrapped struct {
	orig      console.Handle
	prevOwner any
	// detached wrappers only pass calls on to orig
	detached atomic.Bool
}

// New creates an interceptor. When output is true, wrapped handles also
// invoke the original handle after dispatching.
func New(h Handler, output bool) *Interceptor {
	return &Interceptor{
		handler:   h,
		output:    output,
		originals: make(map[event.Kind]*wrapped),
	}
}

// Install wraps each named handle. Names already wrapped by this
// interceptor and names the console does not know are skipped.
// It returns the names that were newly wrapped.
func (i *Interceptor) Install(names []event.Kind) []event.Kind {
	i.mu.Lock()
	defer i.mu.Unlock()
	var done []event.Kind
	for _, name := range names {
		if _, ok := i.originals[name]; ok {
			continue
		}
		w := &wrapped{}
		ok := console.Wrap(name, w, func(prev console.Handle, prevOwner any) console.Handle {
			w.orig, w.prevOwner = prev, prevOwner
			return i.wrap(name, w)
		})
		if !ok {
			continue
		}
		i.originals[name] = w
		done = append(done, name)
	}
	return done
}

// Uninstall puts back every captured original. A handle that another
// interceptor wrapped afterwards cannot be put back; its wrapper is
// detached instead, passing calls straight through, and its name is
// returned. Uninstalling chained interceptors in reverse install order
// never leaves detached wrappers behind.
func (i *Interceptor) Uninstall() []event.Kind {
	i.mu.Lock()
	defer i.mu.Unlock()
	var stale []event.Kind
	for name, w := range i.originals {
		w.detached.Store(true)
		orig, owner := w.orig, w.prevOwner
		// skip wrappers whose interceptors are already gone
		for {
			p, ok := owner.(*wrapped)
			if !ok || !p.detached.Load() {
				break
			}
			orig, owner = p.orig, p.prevOwner
		}
		if !console.Restore(name, w, orig, owner) {
			stale = append(stale, name)
		}
	}
	i.originals = make(map[event.Kind]*wrapped)
	return stale
}

// Installed reports whether name is currently wrapped by this interceptor.
func (i *Interceptor) Installed(name event.Kind) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.originals[name]
	return ok
}

// Emit sends args down the same path a wrapped handle uses: the event is
// dispatched, then native output goes to the captured original (or the
// current handle when name is not wrapped by this interceptor).
func (i *Interceptor) Emit(name event.Kind, args ...any) {
	i.mu.Lock()
	w, ok := i.originals[name]
	i.mu.Unlock()
	var orig console.Handle
	if ok {
		orig = w.orig
	} else {
		orig, _ = console.Lookup(name)
	}
	i.emit(name, orig, args)
}

func (i *Interceptor) wrap(name event.Kind, w *wrapped) console.Handle {
	return func(args ...any) {
		if w.detached.Load() {
			if w.orig != nil {
				w.orig(args...)
			}
			return
		}
		i.emit(name, w.orig, args)
	}
}

func (i *Interceptor) emit(name event.Kind, orig console.Handle, args []any) {
	i.handler.Handle(event.New(name, args...))
	if i.output && orig != nil {
		orig(args...)
	}
}
