// Package errors provides structured, coded errors for tracemine.
// Every error carries a code, a message, optional key/value context and the
// stack where it was created, so a failed run can say exactly which internal
// invariant broke and on which node or partition.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Input errors (1xx): rejected before mining begins.
	CodeMalformedTrace  Code = "E101"
	CodeEmptyInput      Code = "E102"
	CodeAmbiguousOrder  Code = "E103"
	CodeUnknownRelation Code = "E104"
	CodeInvalidFormat   Code = "E105"
	CodeCyclicRelation  Code = "E106"

	// Internal consistency errors (2xx): never retried, abort the run.
	CodeCoverViolated     Code = "E201"
	CodeTotalOrderOutEdge Code = "E202"
	CodeNoSplitPoint      Code = "E203"
	CodeInvalidOperation  Code = "E204"
	CodeOracleFailure     Code = "E205"
	CodeSplitBound        Code = "E206"

	// Run control (3xx)
	CodeBudgetExhausted Code = "E301"
	CodeCanceled        Code = "E302"

	// Storage (4xx)
	CodeCheckpointRead  Code = "E401"
	CodeCheckpointWrite Code = "E402"
	CodeNotFound        Code = "E403"

	// Configuration (5xx)
	CodeInvalidConfig Code = "E501"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all tracemine errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed in sorted
// order so messages are stable across runs.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// MalformedTrace reports a trace rejected at graph construction.
func MalformedTrace(trace string, reason string) *Error {
	return New(CodeMalformedTrace, reason).WithContext("trace", trace)
}

// AmbiguousOrder reports two events of one trace with identical vector time.
func AmbiguousOrder(trace string, first, second int) *Error {
	return New(CodeAmbiguousOrder, "events have identical vector time").
		WithContext("trace", trace).
		WithContext("first", first).
		WithContext("second", second)
}

// TotalOrderOutEdge reports a node with other than one outgoing edge in a
// relation declared to be a total order.
func TotalOrderOutEdge(relation string, node int, outDegree int) *Error {
	return New(CodeTotalOrderOutEdge, "total-order relation node must have exactly one outgoing edge").
		WithContext("relation", relation).
		WithContext("node", node).
		WithContext("out_degree", outDegree)
}

// CoverViolated reports a broken disjoint-cover invariant.
func CoverViolated(reason string, node int, partition int) *Error {
	return New(CodeCoverViolated, reason).
		WithContext("node", node).
		WithContext("partition", partition)
}

// NoSplitPoint reports a counterexample that maps to no valid split.
func NoSplitPoint(invariant string, path []int) *Error {
	return New(CodeNoSplitPoint, "counterexample has no split point").
		WithContext("invariant", invariant).
		WithContext("path", path)
}

// BudgetExhausted reports a run stopped by the caller's split or time budget.
func BudgetExhausted(budget string, used interface{}) *Error {
	return New(CodeBudgetExhausted, "inference budget exhausted").
		WithContext("budget", budget).
		WithContext("used", used)
}

// Canceled creates a cancellation error. Cause is usually ctx.Err() and may
// be nil.
func Canceled(operation string, cause error) *Error {
	e := New(CodeCanceled, "operation canceled")
	e.Cause = cause
	return e.WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var tmErr *Error
	if errors.As(err, &tmErr) {
		return tmErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var tmErr *Error
	if errors.As(err, &tmErr) {
		return tmErr.Code
	}
	return CodeUnknown
}

// IsFatal returns true for internal consistency failures. Such a run must
// not be retried.
func IsFatal(err error) bool {
	return strings.HasPrefix(string(GetCode(err)), "E2")
}

// IsInput returns true if the error was caused by rejected caller input.
func IsInput(err error) bool {
	return strings.HasPrefix(string(GetCode(err)), "E1")
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
