// ABOUTME: Random-dot motion direction discrimination study with fixation, motion viewing, and saccade or key choice.
// ABOUTME: Randomizes coherence, direction, and inter-trial interval per trial from the study parameters.
package dotmotion

import (
	"fmt"
	"iter"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/2389-research/visigoth/display"
	"github.com/2389-research/visigoth/experiment"
	"github.com/2389-research/visigoth/frameclock"
)

// Name is the study's registry name.
const Name = "dotmotion"

// Params are the study-specific parameters.
type Params struct {
	Coherence  experiment.Values `yaml:"coherence"`
	Directions []float64         `yaml:"directions"`
	MaxRepeat  int               `yaml:"max_repeat"`
	ITI        experiment.Values `yaml:"iti"`
	ITIMin     float64           `yaml:"iti_min"`
	ITIMax     float64           `yaml:"iti_max"`

	WaitFix      float64 `yaml:"wait_fix"`
	WaitStart    float64 `yaml:"wait_start"`
	WaitDots     float64 `yaml:"wait_dots"`
	WaitResp     float64 `yaml:"wait_resp"`
	WaitFeedback float64 `yaml:"wait_feedback"`

	DotCount int     `yaml:"dot_count"`
	DotSpeed float64 `yaml:"dot_speed"`
	Aperture float64 `yaml:"aperture"`
	// DotUpdateFrames is the number of refreshes between dot field steps.
	DotUpdateFrames int    `yaml:"dot_update_frames"`
	FixColor        string `yaml:"fix_color"`
	Seed            uint64 `yaml:"seed"`
	AllowRetry      bool   `yaml:"allow_retry"`
}

// Defaults are merged under the parameter file.
func Defaults() map[string]any {
	return map[string]any{
		"study":             Name,
		"eye_fixation":      true,
		"eye_response":      true,
		"target_pos":        []any{[]any{7.0, 0.0}, []any{-7.0, 0.0}},
		"coherence":         []any{0.0, 0.064, 0.128, 0.256, 0.512},
		"directions":        []any{0.0, 180.0},
		"max_repeat":        3,
		"iti":               []any{"truncexpon", 4.0, 1.0, 0.5},
		"iti_min":           0.5,
		"iti_max":           3.0,
		"wait_fix":          5.0,
		"wait_start":        0.5,
		"wait_dots":         1.0,
		"wait_resp":         1.0,
		"wait_feedback":     0.5,
		"dot_count":         60,
		"dot_speed":         0.1,
		"aperture":          4.0,
		"dot_update_frames": 1,
		"fix_color":         "15",
		"n_trials":          20,
	}
}

// Phase is the epoch of the current trial.
type Phase int

const (
	PhaseITI Phase = iota
	PhaseFixation
	PhaseMotion
	PhaseResponse
	PhaseFeedback
)

// TrialState is what a simulated observer needs to know about the trial.
type TrialState struct {
	Trial     int
	Phase     Phase
	Coherence float64
	Target    int
	Onset     time.Time
}

// Study implements experiment.Study for the dot motion task.
type Study struct {
	win *display.Window
	p   Params
	rng *rand.Rand

	field *display.DotField

	mu    sync.Mutex
	state TrialState
}

// New creates the study drawing onto win.
func New(win *display.Window) *Study {
	return &Study{win: win}
}

func (s *Study) Name() string { return Name }

// Params returns the decoded study parameters.
func (s *Study) Params() Params { return s.p }

// State returns the current trial state.
func (s *Study) State() TrialState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Study) setState(f func(*TrialState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.state)
}

// CreateStimuli decodes the parameters and builds the fixation point, the
// two choice targets, and the dot field.
func (s *Study) CreateStimuli(e *experiment.Experiment) (map[string]experiment.Drawable, error) {
	if err := e.P.Decode(&s.p); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", Name, err)
	}
	if len(e.P.TargetPos) != 2 {
		return nil, fmt.Errorf("%s needs exactly 2 target positions, got %d", Name, len(e.P.TargetPos))
	}
	if len(s.p.Directions) != 2 {
		return nil, fmt.Errorf("%s needs exactly 2 directions, got %d", Name, len(s.p.Directions))
	}
	seed := s.p.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s.rng = rand.New(rand.NewPCG(seed, seed>>1|1))

	s.field = display.NewDotField(s.win, "dots", e.P.FixPos, s.p.Aperture, s.p.DotSpeed, s.p.DotCount, seed)
	return map[string]experiment.Drawable{
		"fix":  display.NewDot(s.win, "fix", "+", s.p.FixColor, e.P.FixPos),
		"t1":   display.NewDot(s.win, "t1", "○", "252", e.P.TargetPos[0]),
		"t2":   display.NewDot(s.win, "t2", "○", "252", e.P.TargetPos[1]),
		"dots": s.field,
	}, nil
}

// GenerateTrials yields trials until n_trials or run_duration is reached.
// Direction i is rewarded at target i.
func (s *Study) GenerateTrials(e *experiment.Experiment) iter.Seq[*experiment.TrialRecord] {
	return func(yield func(*experiment.TrialRecord) bool) {
		next, stop := iter.Pull(experiment.LimitedRepeatSequence([]int{0, 1}, s.p.MaxRepeat, s.rng))
		defer stop()
		for trial := range e.TrialCount(e.P.NTrials) {
			target, _ := next()
			coh, err := s.p.Coherence.SampleWithin(s.rng, -0.001, 1.001)
			if err != nil {
				log.Printf("component=dotmotion action=sample_failed field=coherence err=%v", err)
				coh = 0
			}
			iti, err := s.p.ITI.SampleWithin(s.rng, s.p.ITIMin, s.p.ITIMax)
			if err != nil {
				log.Printf("component=dotmotion action=sample_failed field=iti err=%v", err)
				iti = s.p.ITIMin
			}
			t := e.NewTrialRecord(trial)
			t.Set("coherence", coh)
			t.Set("direction", s.p.Directions[target])
			t.Set("target", target)
			t.Set("iti", iti)
			if !yield(t) {
				return
			}
		}
	}
}

// RunTrial runs one trial: ITI, fixation acquisition, fixation hold,
// motion viewing with response, then feedback.
func (s *Study) RunTrial(e *experiment.Experiment, t *experiment.TrialRecord) (*experiment.TrialRecord, error) {
	coh := t.Float("coherence")
	target := int(t.Float("target"))
	iti := time.Duration(t.Float("iti") * float64(time.Second))
	s.setState(func(st *TrialState) {
		*st = TrialState{Trial: t.Trial, Phase: PhaseITI, Coherence: coh, Target: target}
	})

	opts := experiment.WaitOptions{Timeout: experiment.Forever, PollInterval: time.Millisecond, CheckAbort: true}
	if _, _, err := experiment.WaitUntil(e, e.ITIEnd(iti), opts); err != nil {
		return t, err
	}

	s.setState(func(st *TrialState) { st.Phase = PhaseFixation })
	e.Keyboard.Clear()
	fix := experiment.NewAcquireFixation(e)
	_, ok, err := experiment.WaitUntil(e, fix.Condition(), experiment.WaitOptions{
		Timeout: seconds(s.p.WaitFix), Draw: []string{"fix"},
	})
	if err != nil {
		return t, err
	}
	if !ok {
		return s.finish(e, t, experiment.ResultNoFix)
	}

	hold, err := e.FrameRange(frameclock.Seconds(s.p.WaitStart), false)
	if err != nil {
		return t, err
	}
	for range hold.All() {
		if err := e.Draw("fix", "t1", "t2"); err != nil {
			return t, err
		}
		if e.P.EyeFixation && !e.CheckFixation(e.P.AllowBlinks) {
			return s.finish(e, t, experiment.ResultFixBreak)
		}
	}

	s.field.SetMotion(coh, t.Float("direction"))
	s.setState(func(st *TrialState) { st.Phase, st.Onset = PhaseMotion, e.Now() })
	acquire := experiment.NewAcquireTarget(e, experiment.Some(target), s.p.AllowRetry)
	motion, err := e.FrameRange(frameclock.Seconds(s.p.WaitDots), true)
	if err != nil {
		return t, err
	}
	var res *experiment.Response
	for frame, skipped := range motion.All() {
		if updateDue(frame, skipped, s.p.DotUpdateFrames) {
			s.field.Update()
		}
		if err := e.Draw("fix", "t1", "t2", "dots"); err != nil {
			return t, err
		}
		if r, done := acquire.Check(); done {
			res = r
			break
		}
	}
	t.DroppedFrames = experiment.Some(motion.DroppedCount())

	if res == nil {
		s.setState(func(st *TrialState) { st.Phase = PhaseResponse })
		res, ok, err = experiment.WaitUntil(e, acquire.Condition(), experiment.WaitOptions{
			Timeout: seconds(s.p.WaitResp), Draw: []string{"t1", "t2"},
		})
		if err != nil {
			return t, err
		}
		if !ok {
			res = &experiment.Response{Result: experiment.Some(experiment.ResultNoChoice)}
		}
	}
	t.Apply(res)
	result, _ := t.Result.Get()
	return s.finish(e, t, result)
}

func (s *Study) finish(e *experiment.Experiment, t *experiment.TrialRecord, result string) (*experiment.TrialRecord, error) {
	if result != "" {
		t.Result = experiment.Some(result)
	}
	s.setState(func(st *TrialState) { st.Phase = PhaseFeedback })
	e.Feedback(result)
	err := experiment.Wait(e, experiment.WaitOptions{Timeout: seconds(s.p.WaitFeedback), Draw: []string{"t1", "t2"}})
	return t, err
}

// updateDue reports whether the dot field steps on frame. The field steps
// every `every` frames, and once more when a dropped refresh swallowed a step.
func updateDue(frame int, skipped []int, every int) bool {
	if every <= 1 {
		return true
	}
	return frame%every == 0 || frameclock.Missed(skipped, every)
}

// Summarize adds accuracy at the highest coherence to the default metrics.
func (s *Study) Summarize(e *experiment.Experiment, trials []*experiment.TrialRecord) experiment.Summary {
	sum := experiment.Summarize(e.P, trials)
	top := math.Inf(-1)
	for _, t := range trials {
		top = math.Max(top, t.Float("coherence"))
	}
	var n, correct float64
	for _, t := range trials {
		c, ok := t.Correct.Get()
		if !ok || t.Float("coherence") != top {
			continue
		}
		n++
		if c {
			correct++
		}
	}
	m := experiment.Metric{Name: "Accuracy at top coherence", HigherIsBetter: true}
	if n > 0 {
		m.Value = experiment.Some(correct / n)
	}
	sum.Metrics = append(sum.Metrics, m)
	return sum
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var (
	_ experiment.Study      = (*Study)(nil)
	_ experiment.Summarizer = (*Study)(nil)
)
