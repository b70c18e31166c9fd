// Package fault turns runtime faults into plain-data error events.
//
// A fault arrives in one of a few shapes. Classify decides the shape and
// Normalize is the only place that looks inside it, producing a Normalized
// record that holds strings and numbers only.
package fault

import (
	"errors"
	"fmt"
	"syscall"
)

const (
	TitleGlobalError   = "global error"
	TitleRejection     = "unhandled rejection"
	TitleUnrecognized  = "unrecognized fault"
	TitleCaptureFailed = "fault capture failed"
)

// Fault is one of PositionalFault, StructuredFault, RejectionFault or
// UnknownFault.
type Fault interface {
	isFault()
}

// PositionalFault is a notification given as message, file, line, column
// and an optional error.
type PositionalFault struct {
	Message string
	File    string
	Line    int
	Col     int
	Err     error
}

// StructuredFault carries a single fault value, such as a recovered panic
// value or a reported error.
type StructuredFault struct {
	Value any
	Stack []byte
	Site  *Location
}

// RejectionFault is a failure from background work nobody waited on.
type RejectionFault struct {
	Reason any
	Stack  []byte
}

// UnknownFault wraps arguments that matched no other shape.
type UnknownFault struct {
	Args []any
}

func (PositionalFault) isFault() {}
func (StructuredFault) isFault() {}
func (RejectionFault) isFault()  {}
func (UnknownFault) isFault()    {}

// Location is a source position.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col,omitempty"`
}

// ErrorDetails holds the plain-data fields extracted from an error value.
type ErrorDetails struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Message     string `json:"message"`
	Code        int    `json:"code,omitempty"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Column      int    `json:"column,omitempty"`
	Stack       string `json:"stack,omitempty"`
}

// Normalized is the serializable record emitted for every fault.
type Normalized struct {
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Source  *Location     `json:"source,omitempty"`
	Error   *ErrorDetails `json:"error,omitempty"`
	Args    []string      `json:"args,omitempty"`
}

// Classify picks the shape of an uncaught-fault notification. Four or five
// arguments of the form (message, file, line, col[, error]) are
// positional; a single non-nil argument is structured; anything else is
// unknown.
func Classify(args ...any) Fault {
	switch len(args) {
	case 1:
		if args[0] != nil {
			return StructuredFault{Value: args[0]}
		}
	case 4, 5:
		if p, ok := positional(args); ok {
			return p
		}
	}
	return UnknownFault{Args: args}
}

func positional(args []any) (PositionalFault, bool) {
	msg, ok1 := args[0].(string)
	file, ok2 := args[1].(string)
	line, ok3 := args[2].(int)
	col, ok4 := args[3].(int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return PositionalFault{}, false
	}
	p := PositionalFault{Message: msg, File: file, Line: line, Col: col}
	if len(args) == 5 && args[4] != nil {
		err, ok := args[4].(error)
		if !ok {
			return PositionalFault{}, false
		}
		p.Err = err
	}
	return p, true
}

// Normalize converts any fault shape into a Normalized record.
func Normalize(f Fault) Normalized {
	switch v := f.(type) {
	case PositionalFault:
		n := Normalized{
			Title:   TitleGlobalError,
			Message: v.Message,
			Source:  &Location{File: v.File, Line: v.Line, Col: v.Col},
		}
		if v.Err != nil {
			d := details(v.Err, nil)
			d.File, d.Line, d.Column = v.File, v.Line, v.Col
			n.Error = d
			if n.Message == "" {
				n.Message = d.Message
			}
		}
		return n
	case StructuredFault:
		n := Normalized{Title: TitleGlobalError, Message: message(v.Value), Source: v.Site}
		n.Error = details(v.Value, v.Stack)
		if v.Site != nil && n.Error != nil {
			n.Error.File, n.Error.Line = v.Site.File, v.Site.Line
		}
		return n
	case RejectionFault:
		return Normalized{
			Title:   TitleRejection,
			Message: message(v.Reason),
			Error:   details(v.Reason, v.Stack),
		}
	case UnknownFault:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = fmt.Sprintf("%v", a)
		}
		return Normalized{Title: TitleUnrecognized, Args: args}
	default:
		return Normalized{Title: TitleUnrecognized, Message: fmt.Sprintf("%T", f)}
	}
}

func message(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case error:
		return x.Error()
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// details extracts error fields from v. Values that are not errors still
// get a record when a stack is available.
func details(v any, stack []byte) *ErrorDetails {
	err, isErr := v.(error)
	if !isErr && len(stack) == 0 {
		return nil
	}
	d := &ErrorDetails{
		Name:    fmt.Sprintf("%T", v),
		Message: message(v),
		Stack:   string(stack),
	}
	if isErr {
		d.Code = code(err)
		if cause := root(err); cause != err {
			d.Description = cause.Error()
		}
	}
	return d
}

type coder interface{ Code() int }
type exitCoder interface{ ExitCode() int }

func code(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 0
}

func root(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
