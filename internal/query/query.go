package query

import (
	"context"
	"strings"
	"time"
)

// SentinelPrefix marks failure in the plain-text result channel consumed by
// the correction loop and the answer formatter. Internally failures travel
// as typed Errors; the prefix appears only when an Error is rendered.
const SentinelPrefix = "Error: "

// Kind classifies an execution failure.
type Kind string

const (
	KindRejected   Kind = "rejected"
	KindTimeout    Kind = "timeout"
	KindExecution  Kind = "execution"
	KindConnection Kind = "connection"
)

// Result is a successful execution: columns in database order and rows in
// the database's native order. No implicit ORDER BY is ever added.
type Result struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"-"`
}

// Error is a failed execution, normalized at the executor boundary.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Sentinel renders the error in the Error:-prefixed wire form.
func (e Error) Sentinel() string {
	return SentinelPrefix + e.Message
}

// Outcome is the discriminated result of one execution: exactly one of
// Result or Err is set.
type Outcome struct {
	Result *Result `json:"result,omitempty"`
	Err    *Error  `json:"error,omitempty"`
}

func Success(result Result) Outcome {
	return Outcome{Result: &result}
}

func Failure(kind Kind, message string) Outcome {
	return Outcome{Err: &Error{Kind: kind, Message: message}}
}

func (o Outcome) IsError() bool {
	return o.Err != nil
}

// IsErrorString reports whether a rendered result string carries the
// failure sentinel.
func IsErrorString(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "Error:")
}

// Runner executes already-gated SQL. Implementations never return Go
// errors for database-level failures; those are folded into the Outcome.
type Runner interface {
	Run(ctx context.Context, sql string, args ...any) Outcome
}
