package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/logship/internal/collector"
	"github.com/loykin/logship/internal/collector/sink"
	"github.com/loykin/logship/internal/console"
	"github.com/loykin/logship/internal/logger"
	"github.com/loykin/logship/internal/queue"
	"github.com/loykin/logship/internal/store"
	"github.com/loykin/logship/internal/store/factory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func newCollector(t *testing.T) (*httptest.Server, *sink.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := sink.NewMemory()
	srv := httptest.NewServer(collector.NewRouter(mem, "", nil).Handler())
	t.Cleanup(srv.Close)
	return srv, mem
}

func seedQueue(t *testing.T, dsn string, payloads ...string) {
	t.Helper()
	ctx := context.Background()
	st, err := factory.NewFromDSN(dsn, "logship")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := store.Prepare(ctx, st); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	q := queue.New(st, 10, nil)
	for _, p := range payloads {
		if _, err := q.Enqueue(ctx, p); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.Contains(out, "logship dev") {
		t.Fatalf("version: %q %v", out, err)
	}
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"collect", "exec", "queue", "version"} {
		if !strings.Contains(out, name) {
			t.Fatalf("help is missing %q: %s", name, out)
		}
	}
}

func TestQueueInspectAndDrain(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "queue.db")
	seedQueue(t, dsn, `"first"`, `["second",2]`)

	out, err := run(t, "queue", "len", "--dsn", dsn)
	if err != nil || strings.TrimSpace(out) != "2" {
		t.Fatalf("len: %q %v", out, err)
	}
	out, err = run(t, "queue", "peek", "--dsn", dsn)
	if err != nil || strings.TrimSpace(out) != `"first"` {
		t.Fatalf("peek: %q %v", out, err)
	}
	out, err = run(t, "queue", "list", "--dsn", dsn)
	if err != nil || !strings.Contains(out, `"index": 1`) || !strings.Contains(out, `second`) {
		t.Fatalf("list: %q %v", out, err)
	}

	srv, mem := newCollector(t)
	out, err = run(t, "queue", "drain", "--dsn", dsn, "--url", srv.URL+"/")
	if err != nil || !strings.Contains(out, "delivered 2") {
		t.Fatalf("drain: %q %v", out, err)
	}
	recs := mem.Records()
	if len(recs) != 2 || recs[0].Payload != `"first"` || recs[1].Payload != `["second",2]` {
		t.Fatalf("collector received %+v", recs)
	}
	out, _ = run(t, "queue", "len", "--dsn", dsn)
	if strings.TrimSpace(out) != "0" {
		t.Fatalf("queue not empty after drain: %q", out)
	}
}

func TestQueueDrainRequiresURL(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "queue.db")
	if _, err := run(t, "queue", "drain", "--dsn", dsn); err == nil {
		t.Fatalf("expected error without --url")
	}
	if _, err := run(t, "queue", "len"); err == nil {
		t.Fatalf("expected error without --dsn")
	}
}

func TestExecShipsChildOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	srv, mem := newCollector(t)
	cfgPath := filepath.Join(t.TempDir(), "agent.toml")
	cfg := `
[console]
output = false

[server]
url = "` + srv.URL + `/"
timeout = "2s"
retryRate = 50

[log]
level = "error"
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := run(t, "exec", "--config", cfgPath, "--", "sh", "-c", "echo hello; echo oops >&2; exit 3")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 3 {
		t.Fatalf("expected exit status 3, got %v", err)
	}

	var payloads []string
	for _, r := range mem.Records() {
		payloads = append(payloads, r.Payload)
	}
	joined := strings.Join(payloads, "\n")
	for _, want := range []string{`"hello"`, `"oops"`, "exit status 3"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("collector is missing %s in %v", want, payloads)
		}
	}
}

func TestRunCollectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runCollect(ctx, CollectFlags{Listen: "127.0.0.1:0", SinkDSN: "memory://"}, logger.Discard())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("collect returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("collect did not stop")
	}
}

func TestRunCollectBadSink(t *testing.T) {
	err := runCollect(context.Background(), CollectFlags{Listen: "127.0.0.1:0", SinkDSN: "kafka://x"}, logger.Discard())
	if err == nil || !strings.Contains(err.Error(), "open sink") {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestRunCollectTLS(t *testing.T) {
	err := runCollect(context.Background(), CollectFlags{Listen: "127.0.0.1:0", SinkDSN: "memory://", TLSDir: t.TempDir()}, logger.Discard())
	if err == nil || !strings.Contains(err.Error(), "tls") {
		t.Fatalf("expected tls error for a dir without certificates, got %v", err)
	}

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runCollect(ctx, CollectFlags{Listen: "127.0.0.1:0", SinkDSN: "memory://", TLSDir: dir, TLSAuto: true}, logger.Discard())
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("collect with tls returned %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tls.crt")); err != nil {
		t.Fatalf("certificate not generated: %v", err)
	}
}

func TestHashToken(t *testing.T) {
	out, err := run(t, "hash-token", "s3cret")
	if err != nil || !strings.HasPrefix(out, "$2") {
		t.Fatalf("hash-token: %q %v", out, err)
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	if _, err := run(t, "init", "--type", "durable", "--name", "billing", "-o", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := loadAgentConfig(path)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}
	if cfg.LocalStorage.Namespace != "billing" || !strings.HasPrefix(cfg.LocalStorage.DSN, "sqlite://") {
		t.Fatalf("unexpected config: %+v", cfg.LocalStorage)
	}
	if _, err := run(t, "init", "-o", path); err == nil {
		t.Fatalf("expected refusal to overwrite without --force")
	}
	if _, err := run(t, "init", "--type", "nope"); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestRunChildSurvivesOversizedLine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	var out, errOut bytes.Buffer
	console.Reset()
	console.SetOutput(&out, &errOut)
	t.Cleanup(console.Reset)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	script := `head -c 2097152 /dev/zero | tr '\000' x; echo; seq 1 200000`
	start := time.Now()
	err := runChild(ctx, []string{"sh", "-c", script}, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("child failed after %v: %v", time.Since(start), err)
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 200001 {
		t.Fatalf("expected 200001 lines, got %d", len(lines))
	}
	if len(lines[0]) != maxLineBytes || strings.Trim(lines[0], "x") != "" {
		t.Fatalf("long line should be cut to %d bytes, got %d", maxLineBytes, len(lines[0]))
	}
	if lines[1] != "1" || lines[len(lines)-1] != "200000" {
		t.Fatalf("lines after the long one were lost: %q ... %q", lines[1], lines[len(lines)-1])
	}
}
