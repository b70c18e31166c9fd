package event

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Format collapses a payload into the value that is stored and shipped:
// a single argument stands for itself, any other count stays an ordered
// list. Error values, at any depth, are replaced by their message since
// they usually carry no exported fields.
func Format(args []any) any {
	if len(args) == 1 {
		return plain(args[0])
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = plain(a)
	}
	return out
}

// Serialize returns the JSON form of Format(args). Values JSON cannot
// encode (channels, funcs, cyclic data) fall back to their fmt form so a
// capture never fails on an odd argument.
func Serialize(args []any) string {
	v := Format(args)
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// plain replaces errors with their message, also inside nested []any
// and map[string]any values such as slog attributes.
func plain(v any) any {
	switch x := v.(type) {
	case json.Marshaler:
		return v
	case error:
		if x != nil {
			return x.Error()
		}
	case []any:
		if x == nil {
			return v
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		if x == nil {
			return v
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	}
	return v
}
