package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPOptions configures the HTTP deliverer.
type HTTPOptions struct {
	Timeout     time.Duration
	ContentType string
	Headers     map[string]string
	// TLS is used for https destinations when Client is nil.
	TLS    *tls.Config
	Client *http.Client
}

// HTTP POSTs each payload as the request body.
type HTTP struct {
	client      *http.Client
	contentType string
	headers     map[string]string
}

func NewHTTP(opts HTTPOptions) *HTTP {
	c := opts.Client
	if c == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c = &http.Client{Timeout: timeout}
		if opts.TLS != nil {
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = opts.TLS
			c.Transport = tr
		}
	}
	ct := opts.ContentType
	if ct == "" {
		ct = "application/json"
	}
	h := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		h[k] = v
	}
	return &HTTP{client: c, contentType: ct, headers: h}
}

func (h *HTTP) Deliver(ctx context.Context, destination, payload string) error {
	if strings.TrimSpace(destination) == "" {
		return ErrNoDestination
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", h.contentType)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
