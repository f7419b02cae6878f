// ABOUTME: Trial-generation helpers: flexible value settings, repeat-limited random sequences, and trial counting.
// ABOUTME: A value setting is a scalar, a list to choose from, or a named distribution with arguments.
package experiment

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"slices"

	"gopkg.in/yaml.v3"
)

// maxRejections bounds rejection sampling against limits a distribution can
// practically never satisfy.
const maxRejections = 10_000

// Values is a flexible value setting.
//
//	iti: 2.5                     # always 2.5
//	coherence: [0.1, 0.2, 0.4]   # uniform choice
//	iti: [expon, 1.0, 2.0]       # expon(loc=1, scale=2)
type Values struct {
	Scalar  *float64
	Choices []float64
	Dist    string
	Args    []float64
}

// Scalar returns a Values that always yields v.
func Scalar(v float64) Values { return Values{Scalar: &v} }

// Choice returns a Values that picks uniformly from vs.
func Choice(vs ...float64) Values { return Values{Choices: vs} }

// Dist returns a Values that draws from a named distribution.
func Dist(name string, args ...float64) Values { return Values{Dist: name, Args: args} }

// UnmarshalYAML accepts a scalar, a numeric list, or a list headed by a
// distribution name.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Scalar(f)
		return nil
	case yaml.SequenceNode:
		if len(node.Content) > 0 && node.Content[0].ShortTag() == "!!str" {
			args := make([]float64, 0, len(node.Content)-1)
			for _, n := range node.Content[1:] {
				var f float64
				if err := n.Decode(&f); err != nil {
					return fmt.Errorf("distribution %s argument: %w", node.Content[0].Value, err)
				}
				args = append(args, f)
			}
			*v = Dist(node.Content[0].Value, args...)
			return nil
		}
		var fs []float64
		if err := node.Decode(&fs); err != nil {
			return err
		}
		*v = Choice(fs...)
		return nil
	default:
		return fmt.Errorf("line %d: value setting must be a number or a list", node.Line)
	}
}

// MarshalYAML writes the setting back in the form UnmarshalYAML reads.
func (v Values) MarshalYAML() (any, error) {
	switch {
	case v.Scalar != nil:
		return *v.Scalar, nil
	case v.Dist != "":
		out := []any{v.Dist}
		for _, a := range v.Args {
			out = append(out, a)
		}
		return out, nil
	default:
		return v.Choices, nil
	}
}

// Sample draws one value with no limits.
func (v Values) Sample(rng *rand.Rand) (float64, error) {
	return v.SampleWithin(rng, math.Inf(-1), math.Inf(1))
}

// SampleWithin draws one value, rejecting distribution draws below lo or
// above hi. Scalars and choices are returned as given.
func (v Values) SampleWithin(rng *rand.Rand, lo, hi float64) (float64, error) {
	switch {
	case v.Scalar != nil:
		return *v.Scalar, nil
	case len(v.Choices) > 0:
		return v.Choices[rng.IntN(len(v.Choices))], nil
	case v.Dist == "":
		return 0, fmt.Errorf("%w: empty value setting", ErrUsage)
	}

	draw, err := distribution(v.Dist, v.Args)
	if err != nil {
		return 0, err
	}
	for range maxRejections {
		x := draw(rng)
		if x >= lo && x <= hi {
			return x, nil
		}
	}
	return 0, fmt.Errorf("%s%v: no sample within [%g, %g] after %d draws", v.Dist, v.Args, lo, hi, maxRejections)
}

func distribution(name string, args []float64) (func(*rand.Rand) float64, error) {
	arg := func(i int, def float64) float64 {
		if i < len(args) {
			return args[i]
		}
		return def
	}
	switch name {
	case "norm":
		loc, scale := arg(0, 0), arg(1, 1)
		return func(r *rand.Rand) float64 { return loc + scale*r.NormFloat64() }, nil
	case "uniform":
		loc, scale := arg(0, 0), arg(1, 1)
		return func(r *rand.Rand) float64 { return loc + scale*r.Float64() }, nil
	case "expon":
		loc, scale := arg(0, 0), arg(1, 1)
		return func(r *rand.Rand) float64 { return loc + scale*r.ExpFloat64() }, nil
	case "truncexpon":
		b, loc, scale := arg(0, 1), arg(1, 0), arg(2, 1)
		if b <= 0 {
			return nil, fmt.Errorf("%w: truncexpon needs b > 0", ErrUsage)
		}
		norm := -math.Expm1(-b)
		return func(r *rand.Rand) float64 {
			return loc + scale*(-math.Log1p(-r.Float64()*norm))
		}, nil
	case "randint":
		lo, hi := int(arg(0, 0)), int(arg(1, 2))
		if hi <= lo {
			return nil, fmt.Errorf("%w: randint needs high > low", ErrUsage)
		}
		return func(r *rand.Rand) float64 { return float64(lo + r.IntN(hi-lo)) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown distribution %q", ErrUsage, name)
	}
}

// LimitedRepeatSequence yields an endless random sequence drawn from values
// in which no value appears more than maxRepeats times in a row.
func LimitedRepeatSequence[T comparable](values []T, maxRepeats int, rng *rand.Rand) iter.Seq[T] {
	return func(yield func(T) bool) {
		if len(values) == 0 {
			return
		}
		if maxRepeats < 1 {
			maxRepeats = 1
		}
		var last T
		run := 0
		for {
			next := values[rng.IntN(len(values))]
			if run > 0 && next == last {
				if run >= maxRepeats {
					if !slices.ContainsFunc(values, func(v T) bool { return v != last }) {
						return
					}
					continue
				}
				run++
			} else {
				last, run = next, 1
			}
			if !yield(next) {
				return
			}
		}
	}
}
