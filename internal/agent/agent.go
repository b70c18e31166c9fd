// Package agent assembles the capture pipeline from a validated Config:
// console interception and fault capture feed a Dispatcher, which writes
// to the memory buffer and display and delivers to the collector, with
// the durable queue and retry scheduler behind it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/logship/internal/config"
	"github.com/loykin/logship/internal/console"
	"github.com/loykin/logship/internal/dispatch"
	"github.com/loykin/logship/internal/display"
	"github.com/loykin/logship/internal/event"
	"github.com/loykin/logship/internal/fault"
	"github.com/loykin/logship/internal/intercept"
	"github.com/loykin/logship/internal/memory"
	"github.com/loykin/logship/internal/queue"
	"github.com/loykin/logship/internal/retry"
	"github.com/loykin/logship/internal/store"
	"github.com/loykin/logship/internal/store/factory"
	tlsx "github.com/loykin/logship/internal/tls"
	"github.com/loykin/logship/internal/transport"
)

// Option customizes New.
type Option func(*options)

type options struct {
	log        *slog.Logger
	deliverer  transport.Deliverer
	storage    store.Storage
	onOverflow queue.OverflowFunc
	newTicker  func(d time.Duration) retry.Ticker
}

// WithLogger sets the agent's own logger. It must not write through the
// console handles the agent intercepts.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithDeliverer replaces the HTTP transport chain.
func WithDeliverer(d transport.Deliverer) Option { return func(o *options) { o.deliverer = d } }

// WithStorage replaces the storage opened from localStorage.dsn. The agent
// closes it on Close.
func WithStorage(s store.Storage) Option { return func(o *options) { o.storage = s } }

// WithOverflowHandler is called with each payload the full queue refuses.
func WithOverflowHandler(fn queue.OverflowFunc) Option {
	return func(o *options) { o.onOverflow = fn }
}

// WithTicker overrides the retry ticker factory.
func WithTicker(fn func(d time.Duration) retry.Ticker) Option {
	return func(o *options) { o.newTicker = fn }
}

type Agent struct {
	cfg     config.Config
	log     *slog.Logger
	storage store.Storage

	memory      *memory.Buffer
	display     *display.Display
	queue       *queue.Queue
	retry       *retry.Scheduler
	dispatcher  *dispatch.Dispatcher
	interceptor *intercept.Interceptor
	faults      *fault.Capture

	mu        sync.Mutex
	installed bool
	closed    bool
}

// New builds an agent. Nothing is intercepted until Install.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}

	st := o.storage
	if st == nil {
		var err error
		st, err = factory.NewFromDSN(cfg.LocalStorage.DSN, cfg.LocalStorage.Namespace)
		if err != nil {
			return nil, fmt.Errorf("open queue storage: %w", err)
		}
	}
	if err := store.Prepare(ctx, st); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("prepare queue storage: %w", err)
	}

	a := &Agent{cfg: cfg, log: o.log, storage: st}

	q := queue.New(st, cfg.LocalStorage.Max, o.log)
	q.SetOverflowHandler(o.onOverflow)
	a.queue = q

	retryDeliverer, immediate := o.deliverer, o.deliverer
	if retryDeliverer == nil {
		var err error
		retryDeliverer, immediate, err = transportChain(cfg.Server, o.log)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	a.retry = retry.New(q, retryDeliverer, retry.Config{
		Interval:    cfg.Server.RetryRate,
		Destination: cfg.Server.URL,
		Timeout:     cfg.Server.Timeout,
		NewTicker:   o.newTicker,
	}, o.log)

	if cfg.Memory.Capture {
		a.memory = memory.New(cfg.Memory.Max)
	}
	if cfg.Element.Output {
		a.display = display.Open(cfg.Element.Path, cfg.Element.Max)
	}

	dopts := dispatch.Options{
		Memory:        a.memory,
		Timeout:       cfg.Server.Timeout,
		SaveOnFailure: cfg.LocalStorage.SaveOnFailure,
		Queue:         q,
		Retry:         a.retry,
	}
	if a.display != nil {
		dopts.Display = a.display
	}
	if cfg.Delivering() {
		dopts.Deliverer = immediate
		dopts.Destination = cfg.Server.URL
	}
	a.dispatcher = dispatch.New(dopts, o.log)
	a.interceptor = intercept.New(a.dispatcher, cfg.Console.Output)
	a.faults = fault.New(a.interceptor, fault.Options{
		CatchErrors:     cfg.Error.CatchErrors,
		CatchRejections: cfg.Error.CatchUnhandledRejections,
		Repanic:         cfg.Error.Repanic,
	}, o.log)
	return a, nil
}

// transportChain returns the deliverer used by retries (HTTP behind an
// optional breaker) and the one used for immediate sends, which adds the
// optional rate limit in front so limited sends fall back to the queue
// without counting against the breaker.
func transportChain(cfg config.ServerConfig, log *slog.Logger) (retryPath, immediate transport.Deliverer, err error) {
	tc, err := tlsx.Client(cfg.TLS)
	if err != nil {
		return nil, nil, fmt.Errorf("server tls: %w", err)
	}
	var d transport.Deliverer = transport.NewHTTP(transport.HTTPOptions{
		Timeout: cfg.Timeout,
		Headers: cfg.Headers,
		TLS:     tc,
	})
	if cfg.Breaker.Enabled {
		d = transport.NewBreaker(d, transport.BreakerOptions{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			Timeout:             cfg.Breaker.OpenTimeout,
		}, log)
	}
	if cfg.RateLimit > 0 {
		return d, transport.NewLimited(d, cfg.RateLimit, cfg.RateBurst), nil
	}
	return d, d, nil
}

// Install wraps the configured console handles and enables fault capture.
// Entries left in a durable queue by an earlier run arm the retry loop.
func (a *Agent) Install(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.installed {
		return nil
	}
	a.interceptor.Install(a.cfg.Console.HandleKinds())
	a.faults.Install()
	a.installed = true

	if !a.cfg.Delivering() {
		return nil
	}
	n, err := a.queue.Compact(ctx)
	if err != nil {
		return fmt.Errorf("inspect queue: %w", err)
	}
	if n > 0 {
		a.log.Info("resuming delivery of queued payloads", "count", n)
		a.retry.EnsureArmed()
	}
	return nil
}

// Uninstall restores the console handles and stops fault capture.
func (a *Agent) Uninstall() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uninstallLocked()
}

func (a *Agent) uninstallLocked() {
	if !a.installed {
		return
	}
	if stale := a.interceptor.Uninstall(); len(stale) > 0 {
		a.log.Warn("console handles wrapped again after install, left as pass-through",
			"handles", stale)
	}
	a.faults.Uninstall()
	a.installed = false
}

// Close stops the retry loop for good, uninstalls, and releases storage
// and the display file. Events handled after Close are ignored. Queued
// payloads stay in durable storage for the next run.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.dispatcher.Close()
	a.retry.Stop()
	a.uninstallLocked()

	var errs []error
	if a.display != nil {
		errs = append(errs, a.display.Close())
	}
	errs = append(errs, a.storage.Close())
	return errors.Join(errs...)
}

// ErrClosed is returned by Install and Flush after Close.
var ErrClosed = errors.New("agent: closed")

// Handle dispatches an event directly, bypassing the console handles.
// It does nothing after Close.
func (a *Agent) Handle(e event.Event) { a.dispatcher.Handle(e) }

// Emit sends args down the path of the named console handle. After Close
// only the native console output remains.
func (a *Agent) Emit(kind event.Kind, args ...any) {
	if a.dispatcher.Closed() {
		if a.cfg.Console.Output {
			console.Call(kind, args...)
		}
		return
	}
	a.interceptor.Emit(kind, args...)
}

// SlogHandler bridges log/slog records into the pipeline.
func (a *Agent) SlogHandler(next slog.Handler) slog.Handler {
	return a.interceptor.SlogHandler(next)
}

// Flush delivers queued payloads until the queue is empty or a delivery
// fails.
func (a *Agent) Flush(ctx context.Context) (int, error) {
	if a.dispatcher.Closed() {
		return 0, ErrClosed
	}
	if !a.cfg.Delivering() {
		return 0, transport.ErrNoDestination
	}
	return a.retry.Flush(ctx)
}

func (a *Agent) Config() config.Config       { return a.cfg }
func (a *Agent) Memory() *memory.Buffer      { return a.memory }
func (a *Agent) Queue() *queue.Queue         { return a.queue }
func (a *Agent) Scheduler() *retry.Scheduler { return a.retry }
func (a *Agent) Faults() *fault.Capture      { return a.faults }

func (a *Agent) Installed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.installed
}
