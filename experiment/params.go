// ABOUTME: Run parameters loaded from a YAML file of base values, named parameter sets, and display profiles.
// ABOUTME: Merge order is study defaults, base, chosen set, then command-line overrides; later wins.
package experiment

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DisplayProfile describes one physical display setup.
type DisplayProfile struct {
	RefreshHz  float64 `yaml:"refresh_hz" json:"refresh_hz"`
	WidthCM    float64 `yaml:"width_cm" json:"width_cm"`
	DistanceCM float64 `yaml:"distance_cm" json:"distance_cm"`
	Resolution [2]int  `yaml:"resolution" json:"resolution"`
}

// Params are the core run parameters. Study-specific values stay in the
// merged map and are read with Decode.
type Params struct {
	Study        string         `yaml:"study"`
	Subject      string         `yaml:"subject"`
	Session      string         `yaml:"session"`
	Run          int            `yaml:"run"`
	ParamSet     string         `yaml:"param_set"`
	DisplayName  string         `yaml:"display_name"`
	Display      DisplayProfile `yaml:"display"`
	RefreshError float64        `yaml:"refresh_error"`

	EyeFixation  bool     `yaml:"eye_fixation"`
	EyeResponse  bool     `yaml:"eye_response"`
	KeyFixation  []string `yaml:"key_fixation"`
	KeyResponse  bool     `yaml:"key_response"`
	KeyTargets   []string `yaml:"key_targets"`
	AllowBlinks  bool     `yaml:"allow_blinks"`
	FixPos       Point    `yaml:"fix_pos"`
	FixWindow    float64  `yaml:"fix_window"`
	XOffset      float64  `yaml:"x_offset"`
	YOffset      float64  `yaml:"y_offset"`
	TargetPos    []Point  `yaml:"target_pos"`
	TargetWindow float64  `yaml:"target_window"`

	EyeTargetWait float64 `yaml:"eye_target_wait"`
	EyeTargetHold float64 `yaml:"eye_target_hold"`

	NTrials     int      `yaml:"n_trials"`
	RunDuration float64  `yaml:"run_duration"`
	Trigger     []string `yaml:"trigger"`
	WaitPreRun  float64  `yaml:"wait_pre_run"`
	AbortKeys   []string `yaml:"abort_keys"`
	AckKeys     []string `yaml:"ack_keys"`
	AckTimeout  float64  `yaml:"ack_timeout"`

	TargetAccuracy *float64 `yaml:"perform_acc_target"`
	TargetRT       *float64 `yaml:"perform_rt_target"`

	raw map[string]any
}

// DefaultParams are the lowest-priority values in every merge.
func DefaultParams() map[string]any {
	return map[string]any{
		"session":         "1",
		"run":             1,
		"refresh_error":   0.5,
		"fix_pos":         []any{0.0, 0.0},
		"fix_window":      2.0,
		"target_window":   2.0,
		"eye_target_wait": 1.0,
		"eye_target_hold": 0.3,
		"abort_keys":      []any{"escape"},
		"ack_keys":        []any{"space"},
		"display": map[string]any{
			"refresh_hz": 60.0,
		},
	}
}

// ParamFile is the on-disk parameter document.
type ParamFile struct {
	Base     map[string]any            `yaml:"base"`
	Sets     map[string]map[string]any `yaml:"sets"`
	Displays map[string]DisplayProfile `yaml:"displays"`
}

// ReadParamFile parses a parameter file. A missing file is an error.
func ReadParamFile(path string) (*ParamFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	var f ParamFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse params %s: %w", path, err)
	}
	return &f, nil
}

// SelectSet resolves name to a parameter set. An exact name wins; otherwise
// name must be a prefix of exactly one set. An empty name selects nothing.
func (f *ParamFile) SelectSet(name string) (string, map[string]any, error) {
	if name == "" {
		return "", nil, nil
	}
	if set, ok := f.Sets[name]; ok {
		return name, set, nil
	}
	var matches []string
	for k := range f.Sets {
		if strings.HasPrefix(k, name) {
			matches = append(matches, k)
		}
	}
	slices.Sort(matches)
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownParamSet, name)
	case 1:
		return matches[0], f.Sets[matches[0]], nil
	default:
		return "", nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguousParamSet, name, strings.Join(matches, ", "))
	}
}

// LoadOptions selects and overrides values when building Params.
type LoadOptions struct {
	Defaults  map[string]any
	Set       string
	Overrides map[string]any
}

// LoadParams reads path and builds the merged parameters.
func LoadParams(path string, opts LoadOptions) (*Params, error) {
	f, err := ReadParamFile(path)
	if err != nil {
		return nil, err
	}
	return BuildParams(f, opts)
}

// BuildParams merges f with opts. f may be nil when running from defaults.
func BuildParams(f *ParamFile, opts LoadOptions) (*Params, error) {
	if f == nil {
		f = &ParamFile{}
	}
	setName, set, err := f.SelectSet(opts.Set)
	if err != nil {
		return nil, err
	}

	merged := DefaultParams()
	maps.Copy(merged, opts.Defaults)
	maps.Copy(merged, f.Base)
	maps.Copy(merged, set)
	maps.Copy(merged, opts.Overrides)
	if setName != "" {
		merged["param_set"] = setName
	}

	if name, _ := merged["display_name"].(string); name != "" {
		profile, ok := f.Displays[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingDisplay, name)
		}
		merged["display"] = map[string]any{
			"refresh_hz":  profile.RefreshHz,
			"width_cm":    profile.WidthCM,
			"distance_cm": profile.DistanceCM,
			"resolution":  []any{profile.Resolution[0], profile.Resolution[1]},
		}
	}

	p := &Params{raw: merged}
	if err := decodeVia(merged, p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	p.raw = merged
	return p, nil
}

// Decode fills v, a yaml-tagged study struct, from the merged parameters.
func (p *Params) Decode(v any) error {
	return decodeVia(p.raw, v)
}

// JSON renders the merged parameters for persistence.
func (p *Params) JSON() ([]byte, error) {
	return json.MarshalIndent(jsonSafe(p.raw), "", "  ")
}

// SetGaze records live gaze parameter edits in both the typed fields and
// the merged map so persistence sees the final values.
func (p *Params) SetGaze(offsets Point, fixWindow float64) {
	p.XOffset, p.YOffset, p.FixWindow = offsets.X, offsets.Y, fixWindow
	if p.raw == nil {
		p.raw = map[string]any{}
	}
	p.raw["x_offset"] = offsets.X
	p.raw["y_offset"] = offsets.Y
	p.raw["fix_window"] = fixWindow
}

func decodeVia(m map[string]any, v any) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, v)
}

// jsonSafe converts yaml-decoded maps to string-keyed maps and drops
// non-finite floats, both of which encoding/json rejects.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = jsonSafe(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = jsonSafe(val)
		}
		return out
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	default:
		return v
	}
}

// UnmarshalYAML reads a point written as [x, y].
func (p *Point) UnmarshalYAML(node *yaml.Node) error {
	var xy []float64
	if err := node.Decode(&xy); err != nil {
		return err
	}
	if len(xy) != 2 {
		return fmt.Errorf("point at line %d: want [x, y], got %d values", node.Line, len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// MarshalYAML writes a point as [x, y].
func (p Point) MarshalYAML() (any, error) {
	return []float64{p.X, p.Y}, nil
}

// MarshalJSON writes [x, y], or null when either component is missing.
func (p Point) MarshalJSON() ([]byte, error) {
	if !p.Finite() {
		return []byte("null"), nil
	}
	return json.Marshal([2]float64{p.X, p.Y})
}
