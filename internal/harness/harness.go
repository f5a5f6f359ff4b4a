package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/sdkstore/internal/datastore"
	"github.com/roach88/sdkstore/internal/store"
	"github.com/roach88/sdkstore/internal/testutil"
)

var errNotOpen = store.NewError(store.ErrCodeDatabaseError, "no datastore is open")

// Harness executes one scenario against one pair of store files.
type Harness struct {
	persistentPath string
	cachePath      string
	opts           datastore.Options

	ds  *datastore.Datastore
	seq int64
}

// Run executes a scenario in a fresh temporary directory and returns the
// result. The returned error reports harness failures only; unmet
// expectations are recorded in the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "sdkstore-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	return RunIn(scenario, dir, nil)
}

// RunIn executes a scenario with its store files in dir. logger may be nil.
func RunIn(scenario *Scenario, dir string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := datastore.DefaultOptions()
	opts.Logger = logger
	if scenario.JournalMode != "" {
		opts.JournalMode = scenario.JournalMode
	}

	h := &Harness{
		persistentPath: filepath.Join(dir, "persistent.db"),
		cachePath:      filepath.Join(dir, "cache.db"),
		opts:           opts,
	}
	if err := h.open(); err != nil {
		return nil, fmt.Errorf("failed to open datastore: %w", err)
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Flow {
		h.execute(i, step, result)
	}

	for _, msg := range EvaluateAssertions(h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open() error {
	h.close()
	ds, err := datastore.Open(h.persistentPath, h.cachePath, h.opts)
	if err != nil {
		return err
	}
	h.ds = ds
	return nil
}

func (h *Harness) close() error {
	if h.ds == nil {
		return nil
	}
	err := h.ds.Close()
	h.ds = nil
	return err
}

func (h *Harness) current() (*datastore.Datastore, error) {
	if h.ds == nil {
		return nil, errNotOpen
	}
	return h.ds, nil
}

func (h *Harness) target(name string) string {
	if name == TargetCache {
		return h.cachePath
	}
	return h.persistentPath
}

// stepOutput is what a successful step returned.
type stepOutput struct {
	record  []byte
	lookups []datastore.Lookup
}

func (h *Harness) execute(i int, step Step, result *Result) {
	h.seq++
	event := TraceEvent{Seq: h.seq, Op: step.Op, Args: formatArgs(step)}

	out, err := h.apply(step)
	event.Outcome = outcome(err)
	if err == nil {
		event.Result = formatOutput(step.Op, out)
	}
	result.Trace = append(result.Trace, event)

	for _, msg := range checkExpect(step, out, err) {
		result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
	}
}

func (h *Harness) apply(step Step) (stepOutput, error) {
	var out stepOutput

	switch step.Op {
	case OpOpen:
		return out, h.open()
	case OpClose:
		if h.ds == nil {
			return out, errNotOpen
		}
		// The handle is kept so later steps observe closed-handle errors.
		return out, h.ds.Close()
	case OpCorrupt:
		if err := testutil.CorruptFile(h.target(step.Target)); err != nil {
			return out, store.Classify("corrupt", err)
		}
		return out, nil
	case OpStampVersion:
		if err := testutil.StampVersion(h.target(step.Target), step.Version); err != nil {
			return out, store.Classify("stamp version", err)
		}
		return out, nil
	}

	ds, err := h.current()
	if err != nil {
		return out, err
	}

	switch step.Op {
	case OpNuke:
		err = ds.Nuke()
	case OpSetDevice:
		err = ds.SetDeviceRecord(mustDecode(*step.Value))
	case OpGetDevice:
		out.record, err = ds.GetDeviceRecord()
	case OpPutCache:
		policy, _ := store.ParseOnConflict(step.OnConflict)
		entries := make([]datastore.Entry, len(step.Entries))
		for j, e := range step.Entries {
			entries[j] = datastore.Entry{Key: mustDecode(e.Key), Value: mustDecode(e.Value)}
		}
		err = ds.PutCacheEntries(entries, policy)
	case OpFindCache:
		keys := make([][]byte, len(step.Keys))
		for j, k := range step.Keys {
			keys[j] = mustDecode(k)
		}
		out.lookups, err = ds.FindCacheEntries(keys)
	default:
		err = store.NewError(store.ErrCodeDatabaseError, "unknown op %q", step.Op)
	}
	return out, err
}

func checkExpect(step Step, out stepOutput, err error) []string {
	want := store.ErrCodeNone
	if step.Expect != nil && step.Expect.Error != "" {
		want, _ = store.ParseCode(step.Expect.Error)
	}
	if got := store.CodeOf(err); got != want {
		wantName := "ok"
		if want != store.ErrCodeNone {
			wantName = want.String()
		}
		return []string{fmt.Sprintf("expected %s, got %s (%v)", wantName, outcome(err), err)}
	}
	if err != nil || step.Expect == nil {
		return nil
	}

	var msgs []string
	if step.Expect.Value != nil && step.Op == OpGetDevice {
		if want := mustDecode(*step.Expect.Value); !bytes.Equal(want, out.record) {
			msgs = append(msgs, fmt.Sprintf("expected value %s, got %s", formatBytes(want), formatBytes(out.record)))
		}
	}
	if step.Op == OpFindCache && step.Expect.Values != nil {
		msgs = append(msgs, compareSlots(step.Expect.Values, out.lookups)...)
	}
	return msgs
}

func compareSlots(want []*string, got []datastore.Lookup) []string {
	if len(want) != len(got) {
		return []string{fmt.Sprintf("expected %d slots, got %d", len(want), len(got))}
	}
	var msgs []string
	for i, w := range want {
		switch {
		case w == nil && got[i].Found:
			msgs = append(msgs, fmt.Sprintf("slot %d: expected absent, got %s", i, formatBytes(got[i].Value)))
		case w != nil && !got[i].Found:
			msgs = append(msgs, fmt.Sprintf("slot %d: expected %s, got absent", i, *w))
		case w != nil && !bytes.Equal(mustDecode(*w), got[i].Value):
			msgs = append(msgs, fmt.Sprintf("slot %d: expected %s, got %s", i, *w, formatBytes(got[i].Value)))
		}
	}
	return msgs
}

func formatArgs(step Step) string {
	switch step.Op {
	case OpSetDevice:
		if step.Value != nil {
			return "value=" + formatBytes(mustDecode(*step.Value))
		}
	case OpPutCache:
		pairs := make([]string, len(step.Entries))
		for i, e := range step.Entries {
			pairs[i] = formatBytes(mustDecode(e.Key)) + "=" + formatBytes(mustDecode(e.Value))
		}
		return fmt.Sprintf("on_conflict=%s entries=[%s]", step.OnConflict, strings.Join(pairs, " "))
	case OpFindCache:
		keys := make([]string, len(step.Keys))
		for i, k := range step.Keys {
			keys[i] = formatBytes(mustDecode(k))
		}
		return fmt.Sprintf("keys=[%s]", strings.Join(keys, " "))
	case OpCorrupt:
		return "target=" + step.Target
	case OpStampVersion:
		return fmt.Sprintf("target=%s version=%d", step.Target, step.Version)
	}
	return ""
}

func formatOutput(op string, out stepOutput) string {
	switch op {
	case OpGetDevice:
		return "value=" + formatBytes(out.record)
	case OpFindCache:
		slots := make([]string, len(out.lookups))
		for i, l := range out.lookups {
			if l.Found {
				slots[i] = formatBytes(l.Value)
			} else {
				slots[i] = "<absent>"
			}
		}
		return fmt.Sprintf("values=[%s]", strings.Join(slots, " "))
	}
	return ""
}

// formatBytes prints b as text when it is printable without spaces,
// otherwise as hex.
func formatBytes(b []byte) string {
	if len(b) == 0 {
		return `""`
	}
	if utf8.Valid(b) && strings.IndexFunc(string(b), notPlain) < 0 {
		return string(b)
	}
	return "hex:" + hex.EncodeToString(b)
}

func notPlain(r rune) bool {
	return !unicode.IsPrint(r) || unicode.IsSpace(r) || strings.ContainsRune("=[]<>\"", r)
}
