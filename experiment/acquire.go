// ABOUTME: Fixation and target acquisition predicates polled once per frame by WaitUntil.
// ABOUTME: AcquireTarget is an explicit state machine over pre-break and choosing phases with optional retry.
package experiment

import (
	"math"
	"slices"
	"time"
)

// Response is the outcome of a target acquisition.
type Response struct {
	Responded   bool
	KeyResponse bool
	EyeResponse bool
	Response    Optional[int]
	Key         Optional[string]
	RT          Optional[float64]
	Correct     Optional[bool]
	Result      Optional[string]
	SaccX       Optional[float64]
	SaccY       Optional[float64]
}

// FixationConfig configures AcquireFixation.
type FixationConfig struct {
	Eye    bool
	Keys   []string
	Pos    Point
	Radius float64
}

// AcquireFixation reports whether the subject has acquired fixation. With
// both channels enabled, both must be satisfied on the same check.
type AcquireFixation struct {
	cfg     FixationConfig
	tracker Tracker
	kb      Keyboard
}

// NewAcquireFixation builds a fixation predicate from the run parameters.
func NewAcquireFixation(e *Experiment) *AcquireFixation {
	return NewAcquireFixationWith(FixationConfig{
		Eye:    e.P.EyeFixation,
		Keys:   e.P.KeyFixation,
		Pos:    e.P.FixPos,
		Radius: e.P.FixWindow,
	}, e.Tracker, e.Keyboard)
}

// NewAcquireFixationWith builds a fixation predicate from explicit settings.
func NewAcquireFixationWith(cfg FixationConfig, tracker Tracker, kb Keyboard) *AcquireFixation {
	return &AcquireFixation{cfg: cfg, tracker: tracker, kb: kb}
}

// Check consumes pending fixation keys and samples gaze once.
func (a *AcquireFixation) Check() bool {
	fixation := true
	if len(a.cfg.Keys) > 0 && a.kb != nil {
		fixation = len(a.kb.Keys(a.cfg.Keys)) > 0 && fixation
	}
	if a.cfg.Eye && a.tracker != nil {
		fixation = a.tracker.CheckFixation(a.cfg.Pos, a.cfg.Radius, true) && fixation
	}
	return fixation
}

// Condition adapts Check for WaitUntil.
func (a *AcquireFixation) Condition() func() (bool, bool) {
	return func() (bool, bool) {
		ok := a.Check()
		return ok, ok
	}
}

// TargetConfig configures AcquireTarget.
type TargetConfig struct {
	Eye          bool
	Keys         []string
	FixPos       Point
	FixWindow    float64
	TargetPos    []Point
	TargetWindow float64
	WaitTime     time.Duration
	HoldTime     time.Duration
	// Correct is the index of the correct target, if the trial has one.
	Correct     Optional[int]
	AllowRetry  bool
	AllowBlinks bool
}

// TargetPhase is the state of an AcquireTarget.
type TargetPhase int

const (
	// PhasePreBreak waits for gaze to leave the fixation window.
	PhasePreBreak TargetPhase = iota
	// PhaseChoosing follows a fixation break until a target is held or lost.
	PhaseChoosing
)

func (p TargetPhase) String() string {
	if p == PhaseChoosing {
		return "choosing"
	}
	return "pre_break"
}

// AcquireTarget waits for an eye or key response among several targets.
// Construct one per trial; it is not reusable across trials.
type AcquireTarget struct {
	cfg     TargetConfig
	tracker Tracker
	kb      Keyboard
	clock   Clock
	start   time.Time

	phase    TargetPhase
	breakAt  time.Time
	chosen   int
	targetAt time.Time
}

// NewAcquireTarget builds a target predicate from the run parameters.
func NewAcquireTarget(e *Experiment, correct Optional[int], allowRetry bool) *AcquireTarget {
	return NewAcquireTargetWith(TargetConfig{
		Eye:          e.P.EyeResponse,
		Keys:         e.keyTargets(),
		FixPos:       e.P.FixPos,
		FixWindow:    e.P.FixWindow,
		TargetPos:    e.P.TargetPos,
		TargetWindow: e.P.TargetWindow,
		WaitTime:     seconds(e.P.EyeTargetWait),
		HoldTime:     seconds(e.P.EyeTargetHold),
		Correct:      correct,
		AllowRetry:   allowRetry,
		AllowBlinks:  e.P.AllowBlinks,
	}, e.Tracker, e.Keyboard, e.Clock)
}

// NewAcquireTargetWith builds a target predicate from explicit settings.
// Reaction times are measured from construction.
func NewAcquireTargetWith(cfg TargetConfig, tracker Tracker, kb Keyboard, clock Clock) *AcquireTarget {
	if clock == nil {
		clock = WallClock()
	}
	return &AcquireTarget{
		cfg:     cfg,
		tracker: tracker,
		kb:      kb,
		clock:   clock,
		start:   clock.Now(),
		chosen:  -1,
	}
}

// Phase reports the current state.
func (a *AcquireTarget) Phase() TargetPhase { return a.phase }

// Condition adapts Check for WaitUntil.
func (a *AcquireTarget) Condition() func() (*Response, bool) {
	return a.Check
}

// Check advances the state machine by one sample. It returns ok=true with
// a definitive response, or ok=false to keep waiting.
func (a *AcquireTarget) Check() (*Response, bool) {
	if len(a.cfg.Keys) > 0 && a.kb != nil {
		if presses := a.kb.Keys(a.cfg.Keys); len(presses) > 0 {
			return a.keyResponse(presses[0]), true
		}
	}
	if !a.cfg.Eye || a.tracker == nil {
		return nil, false
	}

	now := a.clock.Now()
	gaze := a.tracker.ReadGaze(true, true)

	if a.phase == PhasePreBreak {
		if CheckGaze(gaze, a.cfg.FixPos, a.cfg.FixWindow) {
			return nil, false
		}
		if a.cfg.AllowBlinks && !gaze.Finite() {
			return nil, false
		}
		a.breakAt = now
		a.phase = PhaseChoosing
	}

	inside := a.containingTarget(gaze)
	failed := false
	switch {
	case a.chosen < 0 && inside >= 0:
		a.chosen = inside
		a.targetAt = now
	case a.chosen >= 0 && inside != a.chosen:
		// Left the chosen target, either for nothing or for another target.
		failed = true
	}

	if !failed && a.chosen >= 0 && now.Sub(a.targetAt) >= a.cfg.HoldTime {
		return a.eyeResponse(gaze), true
	}
	if a.chosen < 0 && now.Sub(a.breakAt) >= a.cfg.WaitTime {
		failed = true
	}
	if !failed {
		return nil, false
	}

	if a.cfg.AllowRetry {
		a.reset()
		return nil, false
	}
	end := a.saccadeEnd(gaze)
	return &Response{
		Result: Some(ResultNoChoice),
		SaccX:  finite(end.X),
		SaccY:  finite(end.Y),
	}, true
}

// saccadeEnd is gaze, or the last finite sample when the choice failed
// during a blink or tracking loss.
func (a *AcquireTarget) saccadeEnd(gaze Point) Point {
	if gaze.Finite() {
		return gaze
	}
	if h, ok := a.tracker.(SampleHistory); ok {
		if _, p, ok := h.LastValidSample(true); ok {
			return p
		}
	}
	return gaze
}

// reset is the retry transition from a failed choice back to PhasePreBreak.
func (a *AcquireTarget) reset() {
	a.phase = PhasePreBreak
	a.breakAt = time.Time{}
	a.chosen = -1
	a.targetAt = time.Time{}
}

// containingTarget returns the chosen target if gaze is in its window,
// else the first target whose window contains gaze, else -1.
func (a *AcquireTarget) containingTarget(gaze Point) int {
	found := -1
	for i, pos := range a.cfg.TargetPos {
		if !CheckGaze(gaze, pos, a.cfg.TargetWindow) {
			continue
		}
		if i == a.chosen {
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}

func (a *AcquireTarget) keyResponse(p KeyPress) *Response {
	idx := slices.Index(a.cfg.Keys, p.Key)
	res := &Response{
		Responded:   true,
		KeyResponse: true,
		Response:    Some(idx),
		Key:         Some(p.Key),
		RT:          Some(p.At.Sub(a.start).Seconds()),
	}
	a.score(res, idx)
	return res
}

func (a *AcquireTarget) eyeResponse(gaze Point) *Response {
	res := &Response{
		Responded:   true,
		EyeResponse: true,
		Response:    Some(a.chosen),
		RT:          Some(a.breakAt.Sub(a.start).Seconds()),
		SaccX:       finite(gaze.X),
		SaccY:       finite(gaze.Y),
	}
	a.score(res, a.chosen)
	return res
}

func (a *AcquireTarget) score(res *Response, response int) {
	correct, ok := a.cfg.Correct.Get()
	if !ok {
		return
	}
	res.Correct = Some(response == correct)
	if response == correct {
		res.Result = Some(ResultCorrect)
	} else {
		res.Result = Some(ResultWrong)
	}
}

func finite(f float64) Optional[float64] {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return None[float64]()
	}
	return Some(f)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
