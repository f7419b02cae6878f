// ABOUTME: End-of-run performance summary: mean accuracy and reaction time over the trial log.
// ABOUTME: Missing values are excluded from each mean rather than counted as zero.
package experiment

import "fmt"

// Metric is one summary statistic with its optional target.
type Metric struct {
	Name   string
	Value  Optional[float64]
	Target Optional[float64]
	// HigherIsBetter controls the direction of the target comparison.
	HigherIsBetter bool
}

// Met reports whether the value reaches the target. Without a target or a
// value it reports false.
func (m Metric) Met() bool {
	v, ok := m.Value.Get()
	t, hasTarget := m.Target.Get()
	if !ok || !hasTarget {
		return false
	}
	if m.HigherIsBetter {
		return v >= t
	}
	return v <= t
}

// Line renders the metric for the summary screen.
func (m Metric) Line() string {
	v, ok := m.Value.Get()
	if !ok {
		return fmt.Sprintf("%s: n/a", m.Name)
	}
	s := fmt.Sprintf("%s: %.3g", m.Name, v)
	if t, has := m.Target.Get(); has {
		verdict := "below target"
		if m.Met() {
			verdict = "target met"
		}
		s += fmt.Sprintf(" (target %.3g, %s)", t, verdict)
	}
	return s
}

// Summary is the end-of-run performance report.
type Summary struct {
	Trials    int
	Responded int
	Metrics   []Metric
}

// Lines renders the summary for a Presenter.
func (s Summary) Lines() []string {
	lines := []string{fmt.Sprintf("Trials: %d (responded %d)", s.Trials, s.Responded)}
	for _, m := range s.Metrics {
		lines = append(lines, m.Line())
	}
	return lines
}

// Summarize computes mean accuracy and mean RT over trials.
func Summarize(p *Params, trials []*TrialRecord) Summary {
	s := Summary{Trials: len(trials)}
	var correct, nCorrect, rt, nRT float64
	for _, t := range trials {
		if t.Responded {
			s.Responded++
		}
		if c, ok := t.Correct.Get(); ok {
			nCorrect++
			if c {
				correct++
			}
		}
		if r, ok := t.RT.Get(); ok {
			nRT++
			rt += r
		}
	}

	acc := Metric{Name: "Accuracy", HigherIsBetter: true}
	if nCorrect > 0 {
		acc.Value = Some(correct / nCorrect)
	}
	meanRT := Metric{Name: "Mean RT (s)"}
	if nRT > 0 {
		meanRT.Value = Some(rt / nRT)
	}
	if p != nil {
		if p.TargetAccuracy != nil {
			acc.Target = Some(*p.TargetAccuracy)
		}
		if p.TargetRT != nil {
			meanRT.Target = Some(*p.TargetRT)
		}
	}
	s.Metrics = []Metric{acc, meanRT}
	return s
}
