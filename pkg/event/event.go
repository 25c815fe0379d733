// Package event defines the observed-event data model: event types, single
// event occurrences and the vector timestamps used for partially ordered
// traces.
package event

import (
	"fmt"
	"strings"
)

// DefaultRelation is the relation name used for plain totally ordered traces.
const DefaultRelation = "t"

// Kind distinguishes the synthetic sentinel types from observed ones.
type Kind uint8

const (
	KindRegular Kind = iota
	KindInitial
	KindTerminal
)

// Type identifies an event kind. Types are comparable and can be used as map
// keys. A type is at most one of initial or terminal.
type Type struct {
	Label string
	// Host names the process that emitted the event in multi-host logs. It
	// is empty for single-host logs.
	Host string
	kind Kind
}

// NewType returns a regular event type.
func NewType(label string) Type {
	return Type{Label: label}
}

// NewHostType returns a regular event type bound to a host (process).
func NewHostType(label, host string) Type {
	return Type{Label: label, Host: host}
}

// Initial returns the INITIAL sentinel type.
func Initial() Type {
	return Type{Label: "INITIAL", kind: KindInitial}
}

// Terminal returns the TERMINAL sentinel type.
func Terminal() Type {
	return Type{Label: "TERMINAL", kind: KindTerminal}
}

// Kind returns the type's kind.
func (t Type) Kind() Kind { return t.kind }

// IsInitial reports whether t is the INITIAL sentinel.
func (t Type) IsInitial() bool { return t.kind == KindInitial }

// IsTerminal reports whether t is the TERMINAL sentinel.
func (t Type) IsTerminal() bool { return t.kind == KindTerminal }

// IsSentinel reports whether t is INITIAL or TERMINAL.
func (t Type) IsSentinel() bool { return t.kind != KindRegular }

// String renders the type as label or label@host.
func (t Type) String() string {
	if t.Host == "" {
		return t.Label
	}
	return t.Label + "@" + t.Host
}

// Compare orders types: INITIAL first, TERMINAL last, regular types by label
// then host.
func (t Type) Compare(o Type) int {
	if t.kind != o.kind {
		return rank(t.kind) - rank(o.kind)
	}
	if c := strings.Compare(t.Label, o.Label); c != 0 {
		return c
	}
	return strings.Compare(t.Host, o.Host)
}

func rank(k Kind) int {
	switch k {
	case KindInitial:
		return 0
	case KindRegular:
		return 1
	default:
		return 2
	}
}

// Event is one immutable occurrence of an event type.
type Event struct {
	Type Type
	// Time is the vector timestamp; nil for totally ordered traces.
	Time VectorTime
	// Source and Line record where the event was read from.
	Source string
	Line   int
}

// New creates an event of the given type with no timestamp.
func New(t Type) Event {
	return Event{Type: t}
}

// String renders the event for diagnostics.
func (e Event) String() string {
	if e.Time == nil {
		return e.Type.String()
	}
	return fmt.Sprintf("%s%s", e.Type, e.Time)
}
