// ABOUTME: TrialRecord, the per-trial row of inputs and outcomes, with missing-value sentinels for unset outcomes.
// ABOUTME: Columns are the fixed core fields followed by condition keys in sorted order.
package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Result labels written into TrialRecord.Result.
const (
	ResultCorrect  = "correct"
	ResultWrong    = "wrong"
	ResultNoChoice = "nochoice"
	ResultFixBreak = "fixbreak"
	ResultNoFix    = "nofix"
)

// Optional is a value that may be missing. Missing values marshal as JSON
// null and as an empty CSV cell.
type Optional[T any] struct {
	Valid bool
	Value T
}

// Some returns a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{Valid: true, Value: v} }

// None returns a missing value.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.Value, o.Valid }

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	o.Valid = true
	return json.Unmarshal(data, &o.Value)
}

// String renders the value for tabular output; missing is "".
func (o Optional[T]) String() string {
	if !o.Valid {
		return ""
	}
	return formatCell(o.Value)
}

// TrialRecord is one trial's inputs and outcomes.
type TrialRecord struct {
	Subject string
	Session string
	Run     int
	Trial   int

	Responded     bool
	Response      Optional[int]
	Key           Optional[string]
	Correct       Optional[bool]
	RT            Optional[float64]
	Result        Optional[string]
	SaccX         Optional[float64]
	SaccY         Optional[float64]
	DroppedFrames Optional[int]

	// Conditions holds study-specific values such as the randomized
	// stimulus parameters for the trial.
	Conditions map[string]any
}

// CoreColumns are the columns every record has, in output order.
var CoreColumns = []string{
	"subject", "session", "run", "trial",
	"responded", "response", "key", "correct", "rt", "result",
	"sacc_x", "sacc_y", "dropped_frames",
}

// Set records a condition value.
func (t *TrialRecord) Set(key string, v any) {
	if t.Conditions == nil {
		t.Conditions = make(map[string]any)
	}
	t.Conditions[key] = v
}

// Float returns a numeric condition value, or NaN if absent or not numeric.
func (t *TrialRecord) Float(key string) float64 {
	switch v := t.Conditions[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return nan()
	}
}

// ConditionKeys returns the condition keys in sorted order.
func (t *TrialRecord) ConditionKeys() []string {
	return slices.Sorted(maps.Keys(t.Conditions))
}

// Columns returns the record's column names in output order.
func (t *TrialRecord) Columns() []string {
	return append(slices.Clone(CoreColumns), t.ConditionKeys()...)
}

// Row renders the values for columns, leaving unknown and missing cells empty.
func (t *TrialRecord) Row(columns []string) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = t.cell(c)
	}
	return row
}

func (t *TrialRecord) cell(col string) string {
	switch col {
	case "subject":
		return t.Subject
	case "session":
		return t.Session
	case "run":
		return strconv.Itoa(t.Run)
	case "trial":
		return strconv.Itoa(t.Trial)
	case "responded":
		return strconv.FormatBool(t.Responded)
	case "response":
		return t.Response.String()
	case "key":
		return t.Key.String()
	case "correct":
		return t.Correct.String()
	case "rt":
		return t.RT.String()
	case "result":
		return t.Result.String()
	case "sacc_x":
		return t.SaccX.String()
	case "sacc_y":
		return t.SaccY.String()
	case "dropped_frames":
		return t.DroppedFrames.String()
	}
	v, ok := t.Conditions[col]
	if !ok || v == nil {
		return ""
	}
	return formatCell(v)
}

// MarshalJSON emits a flat object: core fields then conditions.
func (t *TrialRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(CoreColumns)+len(t.Conditions))
	for k, v := range t.Conditions {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			v = nil
		}
		m[k] = v
	}
	m["subject"] = t.Subject
	m["session"] = t.Session
	m["run"] = t.Run
	m["trial"] = t.Trial
	m["responded"] = t.Responded
	m["response"] = t.Response
	m["key"] = t.Key
	m["correct"] = t.Correct
	m["rt"] = t.RT
	m["result"] = t.Result
	m["sacc_x"] = t.SaccX
	m["sacc_y"] = t.SaccY
	m["dropped_frames"] = t.DroppedFrames
	return json.Marshal(m)
}

// UnmarshalJSON reads the flat object written by MarshalJSON.
func (t *TrialRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := map[string]any{
		"subject":        &t.Subject,
		"session":        &t.Session,
		"run":            &t.Run,
		"trial":          &t.Trial,
		"responded":      &t.Responded,
		"response":       &t.Response,
		"key":            &t.Key,
		"correct":        &t.Correct,
		"rt":             &t.RT,
		"result":         &t.Result,
		"sacc_x":         &t.SaccX,
		"sacc_y":         &t.SaccY,
		"dropped_frames": &t.DroppedFrames,
	}
	for k, v := range raw {
		if dst, ok := fields[k]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("trial record field %s: %w", k, err)
			}
			continue
		}
		var cond any
		if err := json.Unmarshal(v, &cond); err != nil {
			return fmt.Errorf("trial record condition %s: %w", k, err)
		}
		t.Set(k, cond)
	}
	return nil
}

// Apply copies an acquisition outcome into the record.
func (t *TrialRecord) Apply(r *Response) {
	if r == nil {
		return
	}
	t.Responded = r.Responded
	t.Response = r.Response
	t.Key = r.Key
	t.RT = r.RT
	t.SaccX = r.SaccX
	t.SaccY = r.SaccY
	if r.Correct.Valid {
		t.Correct = r.Correct
	}
	if r.Result.Valid {
		t.Result = r.Result
	}
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (t *TrialRecord) Clone() *TrialRecord {
	c := *t
	c.Conditions = maps.Clone(t.Conditions)
	return &c
}

func nan() float64 { return math.NaN() }

func formatCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
