// ABOUTME: Error taxonomy for the experiment controller: configuration failures, usage errors, and the abort path.
// ABOUTME: Abort is a sentinel checked with errors.Is; it is a clean termination, not a failure.
package experiment

import (
	"errors"
	"fmt"
)

var (
	// ErrAbort signals an intentional, experimenter-requested end of the run.
	ErrAbort = errors.New("experiment: run aborted")
	// ErrUsage marks a caller passing an invalid combination of options.
	ErrUsage = errors.New("experiment: invalid usage")
	// ErrAmbiguousParamSet is returned when a parameter-set prefix matches more than one set.
	ErrAmbiguousParamSet = errors.New("experiment: ambiguous parameter set")
	// ErrUnknownParamSet is returned when no parameter set matches the requested name.
	ErrUnknownParamSet = errors.New("experiment: unknown parameter set")
	// ErrMissingDisplay is returned when display_name names no configured display profile.
	ErrMissingDisplay = errors.New("experiment: missing display profile")
	// ErrRefreshMismatch is wrapped by RefreshRateError.
	ErrRefreshMismatch = errors.New("experiment: display refresh rate mismatch")
	// ErrUnknownStimulus is returned when drawing a name with no stimulus behind it.
	ErrUnknownStimulus = errors.New("experiment: unknown stimulus")
)

// RefreshRateError reports a measured refresh rate outside tolerance of the
// display profile.
type RefreshRateError struct {
	Measured  float64
	Expected  float64
	Tolerance float64
}

func (e *RefreshRateError) Error() string {
	return fmt.Sprintf("measured refresh rate %.2f Hz differs from profile %.2f Hz by more than %.2f Hz",
		e.Measured, e.Expected, e.Tolerance)
}

func (e *RefreshRateError) Unwrap() error { return ErrRefreshMismatch }

// ConfigError wraps an initialization failure. Runs that fail this way never
// reach the trial loop.
type ConfigError struct {
	Step string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("experiment init (%s): %v", e.Step, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TrialPanicError is returned when a study's trial body panics.
type TrialPanicError struct {
	Trial int
	Value any
}

func (e *TrialPanicError) Error() string {
	return fmt.Sprintf("trial %d panicked: %v", e.Trial, e.Value)
}
