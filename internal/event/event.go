package event

import (
	"fmt"
	"strings"
	"time"
)

// Kind names a diagnostic entry point and the kind of event it produces.
type Kind string

const (
	KindLog   Kind = "log"
	KindInfo  Kind = "info"
	KindWarn  Kind = "warn"
	KindError Kind = "error"
	KindDebug Kind = "debug"
)

// Kinds lists every recognized kind in a stable order.
var Kinds = []Kind{KindLog, KindInfo, KindWarn, KindError, KindDebug}

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Event is a single captured unit of diagnostic output or fault.
// Fields are unexported so an Event cannot change once created; the
// payload slice is copied on the way in and on the way out.
type Event struct {
	kind      Kind
	payload   []any
	timestamp time.Time
}

// New creates an event stamped with the current time.
func New(kind Kind, args ...any) Event {
	return NewAt(kind, time.Now(), args...)
}

// NewAt creates an event with an explicit timestamp.
func NewAt(kind Kind, ts time.Time, args ...any) Event {
	p := make([]any, len(args))
	copy(p, args)
	return Event{kind: kind, payload: p, timestamp: ts}
}

func (e Event) Kind() Kind           { return e.kind }
func (e Event) Timestamp() time.Time { return e.timestamp }

// Payload returns a copy of the captured arguments.
func (e Event) Payload() []any {
	p := make([]any, len(e.payload))
	copy(p, e.payload)
	return p
}

// Len returns the number of captured arguments.
func (e Event) Len() int { return len(e.payload) }

// Serialize renders the payload in its wire form. See Serialize.
func (e Event) Serialize() string { return Serialize(e.payload) }
