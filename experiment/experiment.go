// ABOUTME: The trial controller: initializes collaborators, runs the trial loop, and always shuts down cleanly.
// ABOUTME: Owns the streaming queues and server, and exposes the per-frame helpers trial bodies call.
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/2389-research/visigoth/clientserver"
	"github.com/2389-research/visigoth/frameclock"
)

// Config holds everything a run needs.
type Config struct {
	Params   *Params
	Study    Study
	Display  Display
	Tracker  Tracker
	Keyboard Keyboard
	Clock    Clock // nil = WallClock

	Feedback   Feedback  // optional
	Presenter  Presenter // optional; summaries are logged without one
	Persisters []Persister

	// ServerAddr enables console streaming when non-empty.
	ServerAddr        string
	ParamTimeout      time.Duration // default 150ms
	ServerJoinTimeout time.Duration // default 1s

	Calibrate    bool
	Watchdog     *WatchdogConfig // nil = DefaultWatchdogConfig
	EventHandler func(Event)
	RunID        string // empty = generated
	Debug        bool
}

// RunData is the complete record of a run handed to persisters.
type RunData struct {
	ID        string
	Study     string
	Params    *Params
	Trials    []*TrialRecord
	Summary   *Summary
	State     RunState
	Aborted   bool
	Err       string
	StartedAt time.Time
	EndedAt   time.Time
}

// Experiment is one run of a study.
type Experiment struct {
	P        *Params
	S        map[string]Drawable
	Display  Display
	Tracker  Tracker
	Keyboard Keyboard
	Clock    Clock

	cfg    Config
	study  Study
	id     string
	ctx    context.Context
	queues *clientserver.Queues
	server *clientserver.Server
	live   atomic.Pointer[clientserver.Server]
	gaze   atomic.Pointer[clientserver.GazeParams]

	watchdog      *Watchdog
	state         RunState
	trials        []*TrialRecord
	summary       *Summary
	frameInterval time.Duration
	startedAt     time.Time
	lastTrialEnd  time.Time
	lastDropped   int
}

// New validates cfg and creates an experiment in StateUninitialized.
func New(cfg Config) (*Experiment, error) {
	switch {
	case cfg.Params == nil:
		return nil, fmt.Errorf("%w: params are required", ErrUsage)
	case cfg.Study == nil:
		return nil, fmt.Errorf("%w: a study is required", ErrUsage)
	case cfg.Display == nil || cfg.Tracker == nil || cfg.Keyboard == nil:
		return nil, fmt.Errorf("%w: display, tracker, and keyboard are required", ErrUsage)
	}
	if cfg.Clock == nil {
		cfg.Clock = WallClock()
	}
	if cfg.ParamTimeout <= 0 {
		cfg.ParamTimeout = 150 * time.Millisecond
	}
	if cfg.ServerJoinTimeout <= 0 {
		cfg.ServerJoinTimeout = time.Second
	}
	if cfg.RunID == "" {
		cfg.RunID = NewRunID()
	}
	wd := DefaultWatchdogConfig()
	if cfg.Watchdog != nil {
		wd = *cfg.Watchdog
	}

	e := &Experiment{
		P:        cfg.Params,
		S:        map[string]Drawable{},
		Display:  cfg.Display,
		Tracker:  cfg.Tracker,
		Keyboard: cfg.Keyboard,
		Clock:    cfg.Clock,
		cfg:      cfg,
		study:    cfg.Study,
		id:       cfg.RunID,
		ctx:      context.Background(),
		state:    StateUninitialized,
	}
	e.watchdog = NewWatchdog(wd, e.forward)
	return e, nil
}

// ID returns the run identifier.
func (e *Experiment) ID() string { return e.id }

// State returns the lifecycle state. Only the trial loop goroutine may call it.
func (e *Experiment) State() RunState { return e.state }

// Trials returns the trial log so far.
func (e *Experiment) Trials() []*TrialRecord { return e.trials }

// Run executes the whole lifecycle. An abort is not an error: the returned
// RunData has Aborted set and err is nil unless shutdown itself failed.
func (e *Experiment) Run(ctx context.Context) (*RunData, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx = ctx
	e.startedAt = e.Clock.Now()
	e.lastTrialEnd = e.startedAt

	e.emit(Event{Type: EventRunStarted, Data: map[string]any{"study": e.study.Name(), "subject": e.P.Subject}})
	e.setState(StateInitializing)
	if err := e.initialize(ctx); err != nil {
		log.Printf("component=experiment action=init_failed run=%s err=%v", e.id, err)
		if sErr := e.shutdown(ctx, nil); sErr != nil {
			log.Printf("component=experiment action=shutdown_failed run=%s err=%v", e.id, sErr)
		}
		e.emit(Event{Type: EventRunFailed, Data: map[string]any{"error": err.Error()}})
		return nil, err
	}
	e.watchdog.Start(ctx)

	runErr := e.execute()
	aborted := runErr != nil
	if aborted {
		e.setState(StateAborted)
		if errors.Is(runErr, ErrAbort) {
			log.Printf("component=experiment action=aborted run=%s reason=%q trials=%d", e.id, runErr, len(e.trials))
			e.emit(Event{Type: EventRunAborted, Data: map[string]any{"reason": runErr.Error()}})
			runErr = nil
		} else {
			log.Printf("component=experiment action=failed run=%s err=%v trials=%d", e.id, runErr, len(e.trials))
			e.emit(Event{Type: EventRunFailed, Data: map[string]any{"error": runErr.Error()}})
		}
	}

	data := e.runData(aborted, runErr)
	if err := e.shutdown(ctx, data); err != nil {
		runErr = errors.Join(runErr, err)
	}
	data.EndedAt = e.Clock.Now()
	if !aborted {
		e.emit(Event{Type: EventRunCompleted, Data: map[string]any{"trials": len(e.trials)}})
	}
	return data, runErr
}

func (e *Experiment) initialize(ctx context.Context) error {
	if e.cfg.ServerAddr != "" {
		e.queues = clientserver.NewQueues(0)
		scfg := clientserver.DefaultServerConfig(e.cfg.ServerAddr)
		scfg.GazeParams = e.GazeParams
		scfg.ParamTimeout = e.cfg.ParamTimeout
		e.server = clientserver.NewServer(scfg, e.queues)
		if err := e.server.Listen(); err != nil {
			e.server = nil
			return &ConfigError{Step: "server", Err: err}
		}
		e.server.Start(ctx)
		e.live.Store(e.server)
	}

	e.Tracker.SetOffsets(Point{X: e.P.XOffset, Y: e.P.YOffset})
	e.Tracker.SetFixWindow(e.P.FixWindow)
	e.publishGaze()
	if e.cfg.Calibrate {
		if err := e.Tracker.RunCalibration(ctx); err != nil {
			return &ConfigError{Step: "eyetracker", Err: err}
		}
	}

	measured := e.Display.RefreshRate()
	if measured <= 0 {
		return &ConfigError{Step: "display", Err: fmt.Errorf("display reports refresh rate %g", measured)}
	}
	if want := e.P.Display.RefreshHz; want > 0 && e.P.RefreshError > 0 {
		if math.Abs(measured-want) > e.P.RefreshError {
			return &ConfigError{Step: "display", Err: &RefreshRateError{Measured: measured, Expected: want, Tolerance: e.P.RefreshError}}
		}
	}
	e.frameInterval = time.Duration(float64(time.Second) / measured)
	e.lastDropped = e.Display.DroppedFrames()

	stims, err := e.study.CreateStimuli(e)
	if err != nil {
		return &ConfigError{Step: "stimuli", Err: err}
	}
	for name, s := range stims {
		e.S[name] = s
	}

	if err := e.Tracker.StartRun(); err != nil {
		return &ConfigError{Step: "eyetracker", Err: err}
	}
	log.Printf("component=experiment action=initialized run=%s study=%s refresh_hz=%.2f stimuli=%d server=%t",
		e.id, e.study.Name(), measured, len(e.S), e.server != nil)
	return nil
}

func (e *Experiment) execute() error {
	if len(e.P.Trigger) > 0 {
		e.setState(StateWaitingForTrigger)
		e.show([]string{"Waiting for trigger"})
		trigger := func() (struct{}, bool) { return struct{}{}, len(e.Keyboard.Keys(e.P.Trigger)) > 0 }
		if _, _, err := WaitUntil(e, trigger, WaitOptions{Timeout: Forever, PollInterval: time.Millisecond, CheckAbort: true}); err != nil {
			return err
		}
	}
	if e.P.WaitPreRun > 0 {
		e.setState(StateWaitingPreRun)
		if err := Wait(e, WaitOptions{Timeout: seconds(e.P.WaitPreRun), Draw: e.available("fix"), CheckAbort: true}); err != nil {
			return err
		}
	}

	e.setState(StateRunning)
	e.startedAt = e.Clock.Now()
	e.lastTrialEnd = e.startedAt
	for t := range e.study.GenerateTrials(e) {
		if err := e.runTrial(t); err != nil {
			return err
		}
	}

	e.setState(StateEndedCleanly)
	return e.endOfRun()
}

func (e *Experiment) runTrial(t *TrialRecord) error {
	e.emit(Event{Type: EventTrialStarted, Trial: t.Trial})
	rec, err := e.callTrial(t)
	e.lastTrialEnd = e.Clock.Now()
	if err != nil {
		e.emit(Event{Type: EventTrialCompleted, Trial: t.Trial, Data: map[string]any{"error": err.Error()}})
		return err
	}

	e.trials = append(e.trials, rec)
	e.emit(Event{Type: EventTrialCompleted, Trial: rec.Trial, Record: rec.Clone()})
	e.updateClient(rec)
	e.updateParams()
	return e.CheckAbort()
}

func (e *Experiment) callTrial(t *TrialRecord) (rec *TrialRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, &TrialPanicError{Trial: t.Trial, Value: r}
		}
	}()
	rec, err = e.study.RunTrial(e, t)
	if err == nil && rec == nil {
		err = fmt.Errorf("trial %d returned no record", t.Trial)
	}
	return rec, err
}

// updateClient queues rec for the console while the server is still waiting
// for or serving one, so a console that attaches late receives every trial.
func (e *Experiment) updateClient(rec *TrialRecord) {
	if e.queues == nil || e.server == nil {
		return
	}
	select {
	case <-e.server.Done():
		return
	default:
	}
	b, err := json.Marshal(rec)
	if err != nil {
		log.Printf("component=experiment action=encode_trial_failed trial=%d err=%v", rec.Trial, err)
		return
	}
	if err := e.queues.PutTrial(e.ctx, b); err != nil {
		log.Printf("component=experiment action=enqueue_trial_failed trial=%d err=%v", rec.Trial, err)
	}
}

// updateParams pulls gaze parameter edits from the console, if one is
// connected, waiting at most ParamTimeout.
func (e *Experiment) updateParams() {
	if !e.Connected() {
		return
	}
	e.queues.RequestParams()
	b, ok := e.queues.WaitParams(e.cfg.ParamTimeout)
	if !ok {
		return
	}
	gp, err := clientserver.DecodeGazeParams(b)
	if err != nil {
		log.Printf("component=experiment action=decode_params_failed err=%v", err)
		return
	}
	e.applyGaze(gp)
}

func (e *Experiment) applyGaze(gp clientserver.GazeParams) {
	offsets := Point{X: gp.XOffset, Y: gp.YOffset}
	e.Tracker.SetOffsets(offsets)
	e.Tracker.SetFixWindow(gp.FixWindow)
	e.P.SetGaze(offsets, gp.FixWindow)
	e.publishGaze()
	log.Printf("component=experiment action=params_updated x_offset=%g y_offset=%g fix_window=%g", gp.XOffset, gp.YOffset, gp.FixWindow)
	e.emit(Event{Type: EventParamsUpdated, Data: map[string]any{
		"x_offset": gp.XOffset, "y_offset": gp.YOffset, "fix_window": gp.FixWindow,
	}})
}

func (e *Experiment) publishGaze() {
	off := e.Tracker.Offsets()
	e.gaze.Store(&clientserver.GazeParams{XOffset: off.X, YOffset: off.Y, FixWindow: e.Tracker.FixWindow()})
}

// GazeParams is a snapshot of the live gaze parameters. Safe from any goroutine.
func (e *Experiment) GazeParams() clientserver.GazeParams {
	if p := e.gaze.Load(); p != nil {
		return *p
	}
	return clientserver.GazeParams{}
}

// Connected reports whether a console is attached. It is safe to call from
// any goroutine.
func (e *Experiment) Connected() bool {
	s := e.live.Load()
	return s != nil && s.Connected()
}

// ConsoleLink describes the console connection for status reporting.
type ConsoleLink struct {
	Connected     bool
	ConnID        string
	PendingTrials int
}

// ConsoleLink reports the console connection. It is safe to call from any
// goroutine and is zero when no server is running.
func (e *Experiment) ConsoleLink() ConsoleLink {
	s := e.live.Load()
	if s == nil {
		return ConsoleLink{}
	}
	return ConsoleLink{Connected: s.Connected(), ConnID: s.ConnectionID(), PendingTrials: s.PendingTrials()}
}

func (e *Experiment) endOfRun() error {
	var sum Summary
	if s, ok := e.study.(Summarizer); ok {
		sum = s.Summarize(e, e.trials)
	} else {
		sum = Summarize(e.P, e.trials)
	}
	e.summary = &sum
	for _, line := range sum.Lines() {
		log.Printf("component=experiment action=summary run=%s line=%q", e.id, line)
	}
	e.show(sum.Lines())

	if len(e.P.AckKeys) == 0 {
		return nil
	}
	timeout := Forever
	if e.P.AckTimeout > 0 {
		timeout = seconds(e.P.AckTimeout)
	}
	ack := func() (struct{}, bool) { return struct{}{}, len(e.Keyboard.Keys(e.P.AckKeys)) > 0 }
	_, _, err := WaitUntil(e, ack, WaitOptions{Timeout: timeout, PollInterval: 10 * time.Millisecond, CheckAbort: true})
	if errors.Is(err, ErrAbort) {
		// The run is complete; an abort here only skips the acknowledgment.
		return nil
	}
	return err
}

// shutdown always stops the server, disconnects the tracker, persists data
// when there is a run to persist, and closes the display, collecting every
// failure.
func (e *Experiment) shutdown(ctx context.Context, data *RunData) error {
	e.setState(StateShuttingDown)
	var errs []error

	if e.server != nil {
		e.live.Store(nil)
		if err := e.server.Close(e.cfg.ServerJoinTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}
	if err := e.Tracker.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("tracker shutdown: %w", err))
	}
	if data != nil {
		pctx := context.WithoutCancel(ctx)
		for _, p := range e.cfg.Persisters {
			if err := p.Persist(pctx, data); err != nil {
				log.Printf("component=experiment action=persist_failed run=%s err=%v", e.id, err)
				errs = append(errs, fmt.Errorf("persist: %w", err))
			}
		}
	}
	if err := e.Display.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close display: %w", err))
	}

	e.setState(StateTerminated)
	return errors.Join(errs...)
}

func (e *Experiment) runData(aborted bool, err error) *RunData {
	d := &RunData{
		ID:        e.id,
		Study:     e.study.Name(),
		Params:    e.P,
		Trials:    e.trials,
		Summary:   e.summary,
		State:     e.state,
		Aborted:   aborted,
		StartedAt: e.startedAt,
		EndedAt:   e.Clock.Now(),
	}
	if err != nil {
		d.Err = err.Error()
	}
	return d
}

func (e *Experiment) setState(s RunState) {
	if e.state == s {
		return
	}
	log.Printf("component=experiment action=state run=%s from=%s to=%s", e.id, e.state, s)
	e.state = s
	e.emit(Event{Type: EventRunState, State: s})
}

func (e *Experiment) emit(evt Event) {
	evt.RunID = e.id
	if evt.State == "" {
		evt.State = e.state
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.watchdog.HandleEvent(evt)
	e.forward(evt)
}

func (e *Experiment) forward(evt Event) {
	if evt.RunID == "" {
		evt.RunID = e.id
	}
	if e.cfg.EventHandler != nil {
		e.cfg.EventHandler(evt)
	}
}

func (e *Experiment) show(lines []string) {
	if e.cfg.Presenter == nil {
		return
	}
	if err := e.cfg.Presenter.Show(lines); err != nil {
		log.Printf("component=experiment action=present_failed err=%v", err)
	}
}

// available filters names down to stimuli that exist.
func (e *Experiment) available(names ...string) []string {
	var out []string
	for _, n := range names {
		if _, ok := e.S[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

func (e *Experiment) keyTargets() []string {
	if !e.P.KeyResponse {
		return nil
	}
	return e.P.KeyTargets
}

// Now implements Host.
func (e *Experiment) Now() time.Time { return e.Clock.Now() }

// Sleep implements Host.
func (e *Experiment) Sleep(d time.Duration) { e.Clock.Sleep(d) }

// FrameInterval implements Host.
func (e *Experiment) FrameInterval() time.Duration { return e.frameInterval }

// CheckAbort returns an error wrapping ErrAbort when an abort key was
// pressed or the run's context was cancelled.
func (e *Experiment) CheckAbort() error {
	if err := e.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAbort, err)
	}
	if len(e.P.AbortKeys) == 0 {
		return nil
	}
	if keys := e.Keyboard.Keys(e.P.AbortKeys); len(keys) > 0 {
		return fmt.Errorf("%w: key %q", ErrAbort, keys[0].Key)
	}
	return nil
}

// DrawFrame implements Host: it draws names in order, flips, and streams
// the resulting screen state to the console.
func (e *Experiment) DrawFrame(names []string) error {
	for _, n := range names {
		s, ok := e.S[n]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStimulus, n)
		}
		s.Draw()
	}
	if err := e.Display.Flip(); err != nil {
		return fmt.Errorf("flip: %w", err)
	}
	if e.cfg.Debug {
		if d := e.Display.DroppedFrames(); d != e.lastDropped {
			log.Printf("component=experiment action=dropped_frames new=%d total=%d", d-e.lastDropped, d)
			e.lastDropped = d
		}
	}
	e.publishScreen(names)
	return nil
}

func (e *Experiment) publishScreen(names []string) {
	if !e.Connected() {
		return
	}
	gaze := e.Tracker.ReadGaze(false, false)
	state := clientserver.ScreenState{
		Gaze:  clientserver.Coord{X: gaze.X, Y: gaze.Y},
		Stims: make(map[string]clientserver.Coord, len(names)),
	}
	for _, n := range names {
		c := clientserver.MissingCoord()
		if p, ok := e.S[n].(Positionable); ok {
			pos := p.Pos()
			c = clientserver.Coord{X: pos.X, Y: pos.Y}
		}
		state.Stims[n] = c
	}
	b, err := clientserver.EncodeScreen(state)
	if err != nil {
		log.Printf("component=experiment action=encode_screen_failed err=%v", err)
		return
	}
	e.queues.PutScreen(b)
}

// Draw draws the named stimuli for one frame.
func (e *Experiment) Draw(names ...string) error {
	return e.DrawFrame(names)
}

// Feedback signals result to the subject.
func (e *Experiment) Feedback(result string) {
	if e.cfg.Feedback != nil {
		e.cfg.Feedback.Play(result)
	}
}

// CheckFixation samples gaze against the fixation window. With allowBlinks,
// a sample taken while the eye is closed still counts as fixating.
func (e *Experiment) CheckFixation(allowBlinks bool) bool {
	if e.Tracker.CheckFixation(e.P.FixPos, e.P.FixWindow, true) {
		return true
	}
	return allowBlinks && !e.Tracker.CheckEyeOpen(false)
}

// ITIEnd is a WaitUntil condition that completes once iti has elapsed
// since the previous trial ended.
func (e *Experiment) ITIEnd(iti time.Duration) func() (bool, bool) {
	return func() (bool, bool) {
		done := e.Clock.Now().Sub(e.lastTrialEnd) >= iti
		return done, done
	}
}

// TrialCount yields 1, 2, ... until max trials (0 = unbounded) or the
// run_duration parameter has elapsed.
func (e *Experiment) TrialCount(max int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for trial := 1; ; trial++ {
			if max > 0 && trial > max {
				return
			}
			if e.P.RunDuration > 0 && e.Clock.Now().Sub(e.startedAt) > seconds(e.P.RunDuration) {
				return
			}
			if !yield(trial) {
				return
			}
		}
	}
}

// NewTrialRecord returns a record for trial with identity fields filled in
// and every outcome missing.
func (e *Experiment) NewTrialRecord(trial int) *TrialRecord {
	return &TrialRecord{
		Subject:    e.P.Subject,
		Session:    e.P.Session,
		Run:        e.P.Run,
		Trial:      trial,
		Conditions: map[string]any{},
	}
}

// FrameRange starts a frame sequence for span that skips ahead past
// frames the display reports dropped.
func (e *Experiment) FrameRange(span frameclock.Span, compensate bool) (*frameclock.Range, error) {
	n, err := span.Resolve(e.Display.RefreshRate())
	if err != nil {
		return nil, err
	}
	return frameclock.NewRange(e.Display, n, compensate), nil
}
