package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/loykin/logship/internal/store"
	"github.com/loykin/logship/internal/store/memory"
	"github.com/loykin/logship/internal/store/sqlite"
)

// plainStorage hides any Shifter implementation so the generic shift
// path is exercised.
type plainStorage struct{ store.Storage }

var backends = map[string]func(t *testing.T) store.Storage{
	"memory":  func(*testing.T) store.Storage { return memory.New() },
	"generic": func(*testing.T) store.Storage { return plainStorage{memory.New()} },
	"sqlite": func(t *testing.T) store.Storage {
		db, err := sqlite.New(":memory:", "q")
		if err != nil {
			t.Fatalf("sqlite: %v", err)
		}
		if err := store.Prepare(context.Background(), db); err != nil {
			t.Fatalf("prepare: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		return db
	},
}

func TestOverflowKeepsFirstDAndReportsRest(t *testing.T) {
	ctx := context.Background()
	for name, mk := range backends {
		for _, n := range []int{0, 1, 3, 5, 9} {
			t.Run(fmt.Sprintf("%s/N=%d", name, n), func(t *testing.T) {
				const d = 5
				q := New(mk(t), d, nil)
				var dropped []string
				q.SetOverflowHandler(func(p string) { dropped = append(dropped, p) })

				for i := 0; i < n; i++ {
					ok, err := q.Enqueue(ctx, fmt.Sprintf("e%d", i))
					if err != nil {
						t.Fatalf("enqueue: %v", err)
					}
					if ok != (i < d) {
						t.Fatalf("enqueue %d returned %v", i, ok)
					}
				}
				entries, err := q.Entries(ctx)
				if err != nil {
					t.Fatalf("entries: %v", err)
				}
				if len(entries) != min(n, d) {
					t.Fatalf("len: got %d want %d", len(entries), min(n, d))
				}
				for i, e := range entries {
					if e.Index != i || e.Payload != fmt.Sprintf("e%d", i) {
						t.Fatalf("entry %d: %+v", i, e)
					}
				}
				if len(dropped) != max(0, n-d) {
					t.Fatalf("overflow calls: got %d want %d", len(dropped), max(0, n-d))
				}
				for i, p := range dropped {
					if p != fmt.Sprintf("e%d", d+i) {
						t.Fatalf("dropped %d: %q", i, p)
					}
				}
			})
		}
	}
}

func TestShiftThenEnqueueStaysContiguous(t *testing.T) {
	ctx := context.Background()
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			q := New(mk(t), 10, nil)
			const k, j = 6, 4
			for i := 0; i < k; i++ {
				if _, err := q.Enqueue(ctx, fmt.Sprintf("p%d", i)); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
			}
			if err := q.Shift(ctx, j); err != nil {
				t.Fatalf("shift: %v", err)
			}
			entries, _ := q.Entries(ctx)
			if len(entries) != k-j {
				t.Fatalf("len after shift: %d", len(entries))
			}
			for i, e := range entries {
				if e.Index != i || e.Payload != fmt.Sprintf("p%d", j+i) {
					t.Fatalf("after shift %d: %+v", i, e)
				}
			}

			if ok, err := q.Enqueue(ctx, "new"); !ok || err != nil {
				t.Fatalf("enqueue after shift: %v %v", ok, err)
			}
			entries, _ = q.Entries(ctx)
			last := entries[len(entries)-1]
			if last.Index != k-j || last.Payload != "new" {
				t.Fatalf("new entry not appended at %d: %+v", k-j, last)
			}
		})
	}
}

func TestPeekOldest(t *testing.T) {
	ctx := context.Background()
	q := New(memory.New(), 3, nil)
	if _, ok, err := q.PeekOldest(ctx); ok || err != nil {
		t.Fatalf("empty queue peek: %v %v", ok, err)
	}
	_, _ = q.Enqueue(ctx, "a")
	_, _ = q.Enqueue(ctx, "b")
	p, ok, err := q.PeekOldest(ctx)
	if !ok || err != nil || p != "a" {
		t.Fatalf("peek: %q %v %v", p, ok, err)
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Fatalf("peek must not remove: len %d", n)
	}
}

func TestShiftValidation(t *testing.T) {
	ctx := context.Background()
	q := New(memory.New(), 3, nil)
	if err := q.Shift(ctx, -1); !errors.Is(err, ErrInvalidShift) {
		t.Fatalf("expected ErrInvalidShift, got %v", err)
	}
	if err := q.Shift(ctx, 0); err != nil {
		t.Fatalf("zero shift: %v", err)
	}
	_, _ = q.Enqueue(ctx, "x")
	if err := q.Shift(ctx, 5); err != nil {
		t.Fatalf("shift past end: %v", err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("expected empty, got %d", n)
	}
}

func TestFreeIndexFillsGaps(t *testing.T) {
	cases := []struct {
		keys []int
		cap  int
		want int
	}{
		{nil, 3, 0},
		{[]int{0, 1}, 3, 2},
		{[]int{0, 2}, 3, 1},
		{[]int{1, 2}, 3, 0},
		{[]int{0, 1, 2}, 3, -1},
		{nil, 0, -1},
	}
	for _, c := range cases {
		if got := freeIndex(c.keys, c.cap); got != c.want {
			t.Fatalf("freeIndex(%v, %d) = %d want %d", c.keys, c.cap, got, c.want)
		}
	}
}

func TestGapAtFrontIsCompacted(t *testing.T) {
	ctx := context.Background()
	st := plainStorage{memory.New()}
	// a generic shift that stopped after removing index 0
	for idx, v := range map[int]string{1: "b", 2: "c", 4: "d"} {
		if err := st.Set(ctx, idx, v); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	q := New(st, 10, nil)

	v, ok, err := q.PeekOldest(ctx)
	if err != nil || !ok || v != "b" {
		t.Fatalf("peek over a gap: %q %v %v", v, ok, err)
	}
	if ok, err := q.Enqueue(ctx, "e"); !ok || err != nil {
		t.Fatalf("enqueue: %v %v", ok, err)
	}
	entries, err := q.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	want := []string{"b", "c", "d", "e"}
	if len(entries) != len(want) {
		t.Fatalf("entries: %+v", entries)
	}
	for i, e := range entries {
		if e.Index != i || e.Payload != want[i] {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
}

func TestEnqueueAfterGapKeepsOrder(t *testing.T) {
	ctx := context.Background()
	st := plainStorage{memory.New()}
	_ = st.Set(ctx, 2, "old")
	q := New(st, 5, nil)
	if _, err := q.Enqueue(ctx, "new"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if v, _, _ := q.PeekOldest(ctx); v != "old" {
		t.Fatalf("newer payload jumped the queue: oldest is %q", v)
	}
	if n, err := q.Compact(ctx); n != 2 || err != nil {
		t.Fatalf("compact: %d %v", n, err)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	open := func() (*Queue, func()) {
		db, err := sqlite.New(path, "agent")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := store.Prepare(ctx, db); err != nil {
			t.Fatalf("prepare: %v", err)
		}
		return New(db, 10, nil), func() { _ = db.Close() }
	}

	q, closeFn := open()
	for _, p := range []string{"one", "two", "three"} {
		if _, err := q.Enqueue(ctx, p); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := q.Shift(ctx, 1); err != nil {
		t.Fatalf("shift: %v", err)
	}
	closeFn()

	q, closeFn = open()
	defer closeFn()
	entries, err := q.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Payload != "two" || entries[1].Payload != "three" {
		t.Fatalf("unexpected entries after restart: %+v", entries)
	}
}
