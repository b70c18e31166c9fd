// Package collector receives payloads shipped by agents and appends them
// to a Sink.
package collector

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/logship/internal/auth"
	"github.com/loykin/logship/internal/collector/sink"
	"github.com/loykin/logship/internal/metrics"
)

// MaxPayloadBytes is the largest payload accepted.
const MaxPayloadBytes = 1 << 20

// Router provides embeddable HTTP handlers for receiving payloads.
// Endpoints:
//
//	POST {basePath}/          body: payload
//	GET  {basePath}/?data=... payload in the query
//	GET  {basePath}/healthz
//
// Empty payloads get 400 and payloads over MaxPayloadBytes get 413.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sink     sink.Sink
	basePath string
	log      *slog.Logger
	tokens   *auth.Tokens
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/ingest" accepts POST /ingest and /ingest/.
func NewRouter(s sink.Sink, basePath string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Router{sink: s, basePath: sanitizeBase(basePath), log: log}
}

// WithTokens requires one of tokens on the ingest endpoints. healthz stays
// open.
func (r *Router) WithTokens(tokens *auth.Tokens) *Router {
	r.tokens = tokens
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.RedirectTrailingSlash = false
	g.GET(r.basePath+"/healthz", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, okResp{OK: true})
	})
	ingest := g.Group(r.basePath, r.tokens.GinAuth())
	ingest.POST("/", r.handlePost)
	ingest.GET("/", r.handleQuery)
	if r.basePath != "" {
		ingest.POST("", r.handlePost)
		ingest.GET("", r.handleQuery)
	}
	return g
}

// NewServer returns an http.Server serving the router on addr. The caller
// runs ListenAndServe and Shutdown.
func NewServer(addr, basePath string, s sink.Sink, tokens *auth.Tokens, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s, basePath, log).WithTokens(tokens).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handlePost(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxPayloadBytes+1))
	if err != nil {
		metrics.IncCollectorReceived("error")
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	r.accept(c, string(body))
}

func (r *Router) handleQuery(c *gin.Context) {
	r.accept(c, c.Query("data"))
}

func (r *Router) accept(c *gin.Context, payload string) {
	switch {
	case len(payload) == 0:
		metrics.IncCollectorReceived("empty")
		r.log.Warn("no data", "remote", c.ClientIP())
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "empty payload"})
		return
	case len(payload) > MaxPayloadBytes:
		metrics.IncCollectorReceived("too_large")
		r.log.Warn("payload too large", "remote", c.ClientIP(), "bytes", len(payload))
		writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: "payload exceeds 1 MiB"})
		return
	}
	rec := sink.Record{ReceivedAt: time.Now(), Remote: c.ClientIP(), Payload: payload}
	if err := r.sink.Send(c.Request.Context(), rec); err != nil {
		metrics.IncCollectorReceived("error")
		r.log.Error("sink write failed", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "store payload failed"})
		return
	}
	metrics.IncCollectorReceived("ok")
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
