package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/sdkstore/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(h *Harness, result *Result, assertions []Assertion) []string {
	var msgs []string
	for _, a := range assertions {
		if err := evaluate(h, result, a); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func evaluate(h *Harness, result *Result, a Assertion) error {
	switch a.Type {
	case AssertDeviceRecord:
		return assertDeviceRecord(h, a)
	case AssertCacheValues:
		return assertCacheValues(h, a)
	case AssertCacheCount:
		return assertCacheCount(h, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertDeviceRecord(h *Harness, a Assertion) error {
	ds, err := h.current()
	if err != nil {
		return err
	}
	record, err := ds.GetDeviceRecord()

	if a.Value == nil {
		if store.IsCode(err, store.ErrCodeRecordNotFound) {
			return nil
		}
		return &AssertionError{
			Type:     AssertDeviceRecord,
			Expected: "no device record",
			Actual:   describe(record, err),
		}
	}

	want := mustDecode(*a.Value)
	if err == nil && bytes.Equal(want, record) {
		return nil
	}
	return &AssertionError{
		Type:     AssertDeviceRecord,
		Expected: formatBytes(want),
		Actual:   describe(record, err),
	}
}

func assertCacheValues(h *Harness, a Assertion) error {
	ds, err := h.current()
	if err != nil {
		return err
	}
	keys := make([][]byte, len(a.Keys))
	for i, k := range a.Keys {
		keys[i] = mustDecode(k)
	}
	lookups, err := ds.FindCacheEntries(keys)
	if err != nil {
		return &AssertionError{Type: AssertCacheValues, Expected: "lookup to succeed", Actual: err.Error()}
	}
	if msgs := compareSlots(a.Values, lookups); len(msgs) > 0 {
		return &AssertionError{
			Type:     AssertCacheValues,
			Expected: fmt.Sprintf("values for keys %v", a.Keys),
			Actual:   strings.Join(msgs, "; "),
		}
	}
	return nil
}

func assertCacheCount(h *Harness, a Assertion) error {
	ds, err := h.current()
	if err != nil {
		return err
	}
	info, err := ds.Info()
	if err != nil {
		return &AssertionError{Type: AssertCacheCount, Expected: "info to succeed", Actual: err.Error()}
	}
	if info.CacheEntries != int64(*a.Count) {
		return &AssertionError{
			Type:     AssertCacheCount,
			Expected: fmt.Sprintf("%d cache entries", *a.Count),
			Actual:   fmt.Sprintf("%d cache entries", info.CacheEntries),
		}
	}
	return nil
}

// assertTraceCount checks that op was executed exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Op == a.Op {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s executed %d times", a.Op, *a.Count),
			Actual:   fmt.Sprintf("executed %d times", count),
		}
	}
	return nil
}

// assertTraceOrder checks that the ops appear in order. Other ops may
// appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, e := range trace {
		if next < len(a.Ops) && e.Op == a.Ops[next] {
			next++
		}
	}
	if next == len(a.Ops) {
		return nil
	}
	seen := make([]string, len(trace))
	for i, e := range trace {
		seen[i] = e.Op
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("ops in order: %v", a.Ops),
		Actual:   fmt.Sprintf("missing %s after %v in %v", a.Ops[next], a.Ops[:next], seen),
	}
}

func describe(b []byte, err error) string {
	if err != nil {
		return outcome(err)
	}
	return formatBytes(b)
}
