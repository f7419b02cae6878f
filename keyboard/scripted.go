// ABOUTME: Scripted keyboard that releases presses on a schedule against the controller clock.
// ABOUTME: Drives demo runs and tests without a human at the keys.
package keyboard

import (
	"sort"
	"sync"
	"time"

	"github.com/2389-research/visigoth/experiment"
)

// Scripted releases each queued key once the clock reaches its time.
type Scripted struct {
	clock experiment.Clock
	buf   Buffer

	mu     sync.Mutex
	queued []experiment.KeyPress
}

// NewScripted creates an empty script on clock.
func NewScripted(clock experiment.Clock) *Scripted {
	return &Scripted{clock: clock}
}

// At schedules key for after d from now.
func (s *Scripted) At(d time.Duration, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, experiment.KeyPress{Key: key, At: s.clock.Now().Add(d)})
	sort.SliceStable(s.queued, func(i, j int) bool { return s.queued[i].At.Before(s.queued[j].At) })
}

func (s *Scripted) release() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(s.queued) && !s.queued[n].At.After(now) {
		s.buf.Press(s.queued[n])
		n++
	}
	s.queued = s.queued[n:]
}

// Keys releases due presses, then consumes those in accept.
func (s *Scripted) Keys(accept []string) []experiment.KeyPress {
	s.release()
	return s.buf.Keys(accept)
}

// Clear drops released presses. Future scheduled presses stay queued.
func (s *Scripted) Clear() {
	s.release()
	s.buf.Clear()
}

var _ experiment.Keyboard = (*Scripted)(nil)
