package logship

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/logship/internal/agent"
	"github.com/loykin/logship/internal/auth"
	"github.com/loykin/logship/internal/collector"
	"github.com/loykin/logship/internal/collector/sink"
	sinkfactory "github.com/loykin/logship/internal/collector/sink/factory"
	cfg "github.com/loykin/logship/internal/config"
	"github.com/loykin/logship/internal/console"
	"github.com/loykin/logship/internal/event"
	"github.com/loykin/logship/internal/metrics"
	"github.com/loykin/logship/internal/queue"
	"github.com/loykin/logship/internal/retry"
	"github.com/loykin/logship/internal/store"
	"github.com/loykin/logship/internal/transport"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Agent = agent.Agent

type Option = agent.Option

type Kind = event.Kind

type Event = event.Event

type Deliverer = transport.Deliverer

type Storage = store.Storage

type Sink = sink.Sink

type Record = sink.Record

const (
	KindLog   = event.KindLog
	KindInfo  = event.KindInfo
	KindWarn  = event.KindWarn
	KindError = event.KindError
	KindDebug = event.KindDebug
)

var (
	ErrInvalidConfig = cfg.ErrInvalidConfig
	ErrClosed        = agent.ErrClosed
	ErrDrainFailed   = retry.ErrDrainFailed
)

func WithLogger(l *slog.Logger) Option { return agent.WithLogger(l) }
func WithDeliverer(d Deliverer) Option { return agent.WithDeliverer(d) }
func WithStorage(s Storage) Option     { return agent.WithStorage(s) }

// WithOverflowHandler is told about each payload the full queue refuses.
func WithOverflowHandler(fn func(payload string)) Option {
	return agent.WithOverflowHandler(queue.OverflowFunc(fn))
}

// New builds an agent from c. Call Install to start capturing.
func New(ctx context.Context, c Config, opts ...Option) (*Agent, error) {
	return agent.New(ctx, c, opts...)
}

// Start builds an agent from c and installs it.
func Start(ctx context.Context, c Config, opts ...Option) (*Agent, error) {
	a, err := agent.New(ctx, c, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Install(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func DefaultConfig() Config { return cfg.Default() }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// Console handles. While an agent is installed these are captured.

func Log(args ...any)   { console.Log(args...) }
func Info(args ...any)  { console.Info(args...) }
func Warn(args ...any)  { console.Warn(args...) }
func Error(args ...any) { console.Error(args...) }
func Debug(args ...any) { console.Debug(args...) }

// NewCollectorHandler returns an http.Handler accepting payloads under
// basePath and appending them to s. Non-empty tokens (plain or bcrypt
// hashes) are required as a bearer token.
func NewCollectorHandler(s Sink, basePath string, log *slog.Logger, tokens ...string) (http.Handler, error) {
	t, err := auth.NewTokens(tokens)
	if err != nil {
		return nil, err
	}
	return collector.NewRouter(s, basePath, log).WithTokens(t).Handler(), nil
}

// NewCollectorServer returns an http.Server for the collector on addr.
func NewCollectorServer(addr, basePath string, s Sink, log *slog.Logger, tokens ...string) (*http.Server, error) {
	t, err := auth.NewTokens(tokens)
	if err != nil {
		return nil, err
	}
	return collector.NewServer(addr, basePath, s, t, log), nil
}

// HashToken returns a bcrypt hash usable in place of a plain token.
func HashToken(token string) (string, error) { return auth.HashToken(token) }

// OpenSink opens a collector sink from a DSN such as file:///dir or
// sqlite:///path.db.
func OpenSink(dsn string) (Sink, error) { return sinkfactory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
