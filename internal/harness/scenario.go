package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sdkstore/internal/store"
)

// Scenario is a sequence of datastore operations run against a fresh pair
// of store files, with expectations per step and assertions on the final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// JournalMode overrides the default journal mode.
	JournalMode string `yaml:"journal_mode,omitempty"`

	// Flow is executed in order after the datastore is opened.
	Flow []Step `yaml:"flow"`

	// Assertions are checked against the datastore after the flow.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation in a scenario flow.
//
// Byte strings are written as plain text, or as "hex:<digits>" for binary
// data.
type Step struct {
	Op string `yaml:"op"`

	// Value is the record written by set_device_record.
	Value *string `yaml:"value,omitempty"`

	// Entries and OnConflict are used by put_cache_entries.
	Entries    []EntrySpec `yaml:"entries,omitempty"`
	OnConflict string      `yaml:"on_conflict,omitempty"`

	// Keys are looked up by find_cache_entries.
	Keys []string `yaml:"keys,omitempty"`

	// Target names the file for corrupt and stamp_version:
	// "persistent" or "cache".
	Target string `yaml:"target,omitempty"`

	// Version is written by stamp_version.
	Version int `yaml:"version,omitempty"`

	// Expect checks the outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// EntrySpec is one key/value pair of a put_cache_entries batch.
type EntrySpec struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is an error code name (e.g. ConstraintFailed). Empty expects
	// success.
	Error string `yaml:"error,omitempty"`

	// Value is the expected get_device_record result.
	Value *string `yaml:"value,omitempty"`

	// Values are the expected find_cache_entries slots; null marks absent.
	Values []*string `yaml:"values,omitempty"`
}

// Operation names accepted in Step.Op.
const (
	OpOpen         = "open"
	OpClose        = "close"
	OpNuke         = "nuke"
	OpSetDevice    = "set_device_record"
	OpGetDevice    = "get_device_record"
	OpPutCache     = "put_cache_entries"
	OpFindCache    = "find_cache_entries"
	OpCorrupt      = "corrupt"
	OpStampVersion = "stamp_version"
)

// Assertion type constants.
const (
	AssertDeviceRecord = "device_record"
	AssertCacheValues  = "cache_values"
	AssertCacheCount   = "cache_count"
	AssertTraceCount   = "trace_count"
	AssertTraceOrder   = "trace_order"
)

// Targets for corrupt and stamp_version.
const (
	TargetPersistent = "persistent"
	TargetCache      = "cache"
)

// Assertion validates the trace or the final datastore state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Value is the expected device record (device_record). Absent expects
	// RecordNotFound.
	Value *string `yaml:"value,omitempty"`

	// Keys and Values are compared slot by slot (cache_values).
	Keys   []string  `yaml:"keys,omitempty"`
	Values []*string `yaml:"values,omitempty"`

	// Count is the expected number of cache entries (cache_count) or of
	// traced operations named Op (trace_count).
	Count *int   `yaml:"count,omitempty"`
	Op    string `yaml:"op,omitempty"`

	// Ops must appear in the trace in this order (trace_order).
	Ops []string `yaml:"ops,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if err := store.ValidateJournalMode(s.JournalMode); err != nil {
		return err
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	switch step.Op {
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	case OpOpen, OpClose, OpNuke, OpGetDevice:
	case OpSetDevice:
		if step.Value == nil {
			return fmt.Errorf("flow[%d]: value is required for %s", i, step.Op)
		}
		if _, err := decodeBytes(*step.Value); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	case OpPutCache:
		if _, err := store.ParseOnConflict(step.OnConflict); err != nil {
			return fmt.Errorf("flow[%d]: on_conflict must be fail, ignore or replace", i)
		}
		for j, e := range step.Entries {
			if _, err := decodeBytes(e.Key); err != nil {
				return fmt.Errorf("flow[%d].entries[%d]: %w", i, j, err)
			}
			if _, err := decodeBytes(e.Value); err != nil {
				return fmt.Errorf("flow[%d].entries[%d]: %w", i, j, err)
			}
		}
	case OpFindCache:
		for j, k := range step.Keys {
			if _, err := decodeBytes(k); err != nil {
				return fmt.Errorf("flow[%d].keys[%d]: %w", i, j, err)
			}
		}
		if step.Expect != nil && step.Expect.Error == "" && len(step.Expect.Values) != len(step.Keys) {
			return fmt.Errorf("flow[%d].expect: %d values for %d keys", i, len(step.Expect.Values), len(step.Keys))
		}
	case OpCorrupt, OpStampVersion:
		if step.Target != TargetPersistent && step.Target != TargetCache {
			return fmt.Errorf("flow[%d]: target must be %s or %s", i, TargetPersistent, TargetCache)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
	}

	if step.Expect != nil && step.Expect.Error != "" {
		if _, ok := store.ParseCode(step.Expect.Error); !ok {
			return fmt.Errorf("flow[%d].expect: unknown error code %q", i, step.Expect.Error)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDeviceRecord:
	case AssertCacheValues:
		if len(a.Keys) == 0 {
			return fmt.Errorf("assertions[%d]: keys are required for cache_values", index)
		}
		if len(a.Values) != len(a.Keys) {
			return fmt.Errorf("assertions[%d]: %d values for %d keys", index, len(a.Values), len(a.Keys))
		}
	case AssertCacheCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for cache_count", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// decodeBytes turns a scenario byte string into bytes.
func decodeBytes(s string) ([]byte, error) {
	if digits, ok := strings.CutPrefix(s, "hex:"); ok {
		b, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func mustDecode(s string) []byte {
	b, err := decodeBytes(s)
	if err != nil {
		panic(err) // validated at load
	}
	return b
}
