package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/sdkstore/internal/store"
)

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Args    string `json:"args,omitempty"`
	Outcome string `json:"outcome"` // "ok" or an error code name
	Result  string `json:"result,omitempty"`
}

// String renders the event as one trace line, e.g.
//
//	002 put_cache_entries on_conflict=fail entries=[A=2 B=3] -> ConstraintFailed
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%03d %s", e.Seq, e.Op)
	if e.Args != "" {
		b.WriteString(" " + e.Args)
	}
	b.WriteString(" -> " + e.Outcome)
	if e.Result != "" {
		b.WriteString(" " + e.Result)
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return store.CodeOf(err).String()
}
