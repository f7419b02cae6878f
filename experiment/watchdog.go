// ABOUTME: Background watchdog that reports trial bodies running longer than a stall timeout.
// ABOUTME: Purely observational; it never interrupts the trial loop.
package experiment

import (
	"context"
	"sync"
	"time"
)

// WatchdogConfig holds configuration for the trial stall watchdog.
type WatchdogConfig struct {
	StallTimeout  time.Duration
	CheckInterval time.Duration
}

// DefaultWatchdogConfig returns a 2 minute stall timeout checked every 5 seconds.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		StallTimeout:  2 * time.Minute,
		CheckInterval: 5 * time.Second,
	}
}

// Watchdog tracks the active trial and emits EventTrialStalled once per
// trial that exceeds StallTimeout.
type Watchdog struct {
	config  WatchdogConfig
	emit    func(Event)
	mu      sync.Mutex
	active  map[int]time.Time
	warned  map[int]bool
	nowFunc func() time.Time
}

// NewWatchdog creates a Watchdog. emit is called from the watchdog goroutine.
func NewWatchdog(cfg WatchdogConfig, emit func(Event)) *Watchdog {
	return &Watchdog{
		config:  cfg,
		emit:    emit,
		active:  make(map[int]time.Time),
		warned:  make(map[int]bool),
		nowFunc: time.Now,
	}
}

// Start launches the monitoring goroutine. It stops when ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	if w.config.CheckInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(w.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
}

// TrialStarted begins tracking a trial.
func (w *Watchdog) TrialStarted(trial int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active[trial] = w.nowFunc()
	delete(w.warned, trial)
}

// TrialFinished stops tracking a trial.
func (w *Watchdog) TrialFinished(trial int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, trial)
	delete(w.warned, trial)
}

// HandleEvent routes controller events to TrialStarted and TrialFinished.
func (w *Watchdog) HandleEvent(evt Event) {
	switch evt.Type {
	case EventTrialStarted:
		w.TrialStarted(evt.Trial)
	case EventTrialCompleted:
		w.TrialFinished(evt.Trial)
	}
}

// check emits outside the lock so handlers may take their own locks.
func (w *Watchdog) check() {
	w.mu.Lock()
	var toEmit []Event
	now := w.nowFunc()
	for trial, started := range w.active {
		if w.warned[trial] {
			continue
		}
		elapsed := now.Sub(started)
		if elapsed > w.config.StallTimeout {
			w.warned[trial] = true
			toEmit = append(toEmit, Event{
				Type:      EventTrialStalled,
				Trial:     trial,
				Timestamp: now,
				Data: map[string]any{
					"elapsed":       elapsed.String(),
					"stall_timeout": w.config.StallTimeout.String(),
				},
			})
		}
	}
	w.mu.Unlock()

	for _, evt := range toEmit {
		if w.emit != nil {
			w.emit(evt)
		}
	}
}
