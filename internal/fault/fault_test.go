package fault

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/loykin/logship/internal/event"
)

type recorder struct {
	mu     sync.Mutex
	kinds  []event.Kind
	events []Normalized
	panicN int
}

func (r *recorder) Emit(kind event.Kind, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panicN > 0 {
		r.panicN--
		panic("emitter broken")
	}
	r.kinds = append(r.kinds, kind)
	if len(args) == 1 {
		if n, ok := args[0].(Normalized); ok {
			r.events = append(r.events, n)
		}
	}
}

func (r *recorder) all() []Normalized {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Normalized(nil), r.events...)
}

func installed(opts Options) (*Capture, *recorder) {
	rec := &recorder{}
	c := New(rec, opts, nil)
	c.Install()
	return c, rec
}

func TestClassify(t *testing.T) {
	err := errors.New("x")
	cases := []struct {
		name string
		args []any
		want string
	}{
		{"positional", []any{"msg", "main.go", 3, 7}, "PositionalFault"},
		{"positional with error", []any{"msg", "main.go", 3, 7, err}, "PositionalFault"},
		{"structured", []any{err}, "StructuredFault"},
		{"nil single", []any{nil}, "UnknownFault"},
		{"empty", nil, "UnknownFault"},
		{"wrong types", []any{"msg", 3, "main.go", 7}, "UnknownFault"},
		{"two args", []any{"a", "b"}, "UnknownFault"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fmt.Sprintf("%T", Classify(tc.args...))
			if !strings.HasSuffix(got, tc.want) {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestStructuredFaultKeepsMessageAndStack(t *testing.T) {
	n := Normalize(StructuredFault{Value: errors.New("x"), Stack: []byte("goroutine 1 ...")})
	if n.Title != TitleGlobalError {
		t.Fatalf("title: %q", n.Title)
	}
	if n.Message != "x" || n.Error == nil || n.Error.Message != "x" {
		t.Fatalf("message not kept: %+v", n)
	}
	if n.Error.Stack != "goroutine 1 ..." {
		t.Fatalf("stack not kept: %q", n.Error.Stack)
	}
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("normalized record must serialize: %v", err)
	}
	if !strings.Contains(string(b), `"stack":"goroutine 1 ..."`) {
		t.Fatalf("unexpected json: %s", b)
	}
}

func TestPositionalFault(t *testing.T) {
	n := Normalize(Classify("boom", "app.go", 12, 4, fmt.Errorf("wrap: %w", syscall.ENOENT)))
	if n.Source == nil || n.Source.File != "app.go" || n.Source.Line != 12 || n.Source.Col != 4 {
		t.Fatalf("source: %+v", n.Source)
	}
	if n.Error == nil || n.Error.Code != int(syscall.ENOENT) || n.Error.Line != 12 {
		t.Fatalf("details: %+v", n.Error)
	}
	if n.Error.Description != syscall.ENOENT.Error() {
		t.Fatalf("description should hold the root cause: %q", n.Error.Description)
	}
}

func TestUnknownFaultWrapsRawArguments(t *testing.T) {
	n := Normalize(Classify("a", 1, true))
	if n.Title != TitleUnrecognized || len(n.Args) != 3 || n.Args[1] != "1" {
		t.Fatalf("unexpected: %+v", n)
	}
}

func TestRecoverCapturesPanic(t *testing.T) {
	c, rec := installed(Options{CatchErrors: true})
	func() {
		defer c.Recover()
		panic(errors.New("kaboom"))
	}()
	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	n := got[0]
	if n.Title != TitleGlobalError || n.Message != "kaboom" {
		t.Fatalf("unexpected: %+v", n)
	}
	if n.Source == nil || !strings.HasSuffix(n.Source.File, "fault_test.go") {
		t.Fatalf("panic site not found: %+v", n.Source)
	}
	if n.Error == nil || n.Error.Stack == "" {
		t.Fatalf("stack missing")
	}
	if rec.kinds[0] != event.KindError {
		t.Fatalf("kind: %v", rec.kinds[0])
	}
}

func TestRecoverRepanics(t *testing.T) {
	c, rec := installed(Options{CatchErrors: true, Repanic: true})
	defer func() {
		if r := recover(); r != "again" {
			t.Fatalf("expected repanic with original value, got %v", r)
		}
		if len(rec.all()) != 1 {
			t.Fatalf("panic not captured before repanic")
		}
	}()
	func() {
		defer c.Recover()
		panic("again")
	}()
}

func TestRecoverLeavesPanicWhenDisabled(t *testing.T) {
	c, rec := installed(Options{CatchErrors: false})
	defer func() {
		if r := recover(); r != "loose" {
			t.Fatalf("panic should propagate, got %v", r)
		}
		if len(rec.all()) != 0 {
			t.Fatalf("nothing should be captured")
		}
	}()
	func() {
		defer c.Recover()
		panic("loose")
	}()
}

func TestGoReportsErrorsAsRejections(t *testing.T) {
	c, rec := installed(Options{CatchErrors: true, CatchRejections: true})
	done := make(chan struct{})
	c.Go(func() error {
		defer close(done)
		return errors.New("late")
	})
	<-done
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := rec.all()
	if len(got) != 1 || got[0].Title != TitleRejection || got[0].Message != "late" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestRejectionsDisabled(t *testing.T) {
	c, rec := installed(Options{CatchErrors: true, CatchRejections: false})
	c.Reject(errors.New("ignored"))
	if len(rec.all()) != 0 {
		t.Fatalf("rejection captured while disabled")
	}
}

func TestUninstallStopsCapture(t *testing.T) {
	c, rec := installed(Options{CatchErrors: true, CatchRejections: true})
	c.Uninstall()
	c.Report(errors.New("a"))
	c.HandleUncaught("b")
	c.Reject("c")
	if len(rec.all()) != 0 {
		t.Fatalf("captured after uninstall: %+v", rec.all())
	}
}

func TestCaptureNeverPanics(t *testing.T) {
	rec := &recorder{panicN: 1}
	c := New(rec, Options{CatchErrors: true}, nil)
	c.Install()
	c.HandleUncaught(errors.New("first"))
	got := rec.all()
	if len(got) != 1 || got[0].Title != TitleCaptureFailed {
		t.Fatalf("expected fallback event, got %+v", got)
	}

	rec.panicN = 2
	c.Report(errors.New("second"))
}
