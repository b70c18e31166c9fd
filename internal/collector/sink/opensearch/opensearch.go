// Package opensearch indexes collected payloads as OpenSearch documents.
package opensearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/loykin/logship/internal/collector/sink"
)

// document is what gets indexed. Payloads that are valid JSON are also
// stored decoded under "event" so their fields can be searched.
type document struct {
	ReceivedAt time.Time       `json:"received_at"`
	Remote     string          `json:"remote,omitempty"`
	Payload    string          `json:"payload"`
	Event      json.RawMessage `json:"event,omitempty"`
}

type Sink struct {
	client   *http.Client
	endpoint string
}

// New posts each record to baseURL/index/_doc.
func New(baseURL, index string) *Sink {
	return &Sink{
		client:   &http.Client{Timeout: 5 * time.Second},
		endpoint: strings.TrimRight(baseURL, "/") + "/" + strings.Trim(index, "/") + "/_doc",
	}
}

func (s *Sink) Send(ctx context.Context, r sink.Record) error {
	doc := document{ReceivedAt: r.ReceivedAt, Remote: r.Remote, Payload: r.Payload}
	if json.Valid([]byte(r.Payload)) {
		doc.Event = json.RawMessage(r.Payload)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
