// ABOUTME: Keyboard input for the controller: a timestamped press buffer fed by a raw-mode terminal reader.
// ABOUTME: Decodes escape sequences, control bytes, and printable keys into named keys.
package keyboard

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"sync"

	"github.com/2389-research/visigoth/experiment"
	"golang.org/x/term"
)

// Buffer holds presses until they are consumed. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	presses []experiment.KeyPress
}

// Press appends a key press.
func (b *Buffer) Press(p experiment.KeyPress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presses = append(b.presses, p)
}

// Keys consumes presses whose key is in accept, leaving the rest buffered.
// A nil accept matches every key.
func (b *Buffer) Keys(accept []string) []experiment.KeyPress {
	b.mu.Lock()
	defer b.mu.Unlock()
	var got, keep []experiment.KeyPress
	for _, p := range b.presses {
		if accept == nil || slices.Contains(accept, p.Key) {
			got = append(got, p)
		} else {
			keep = append(keep, p)
		}
	}
	b.presses = keep
	return got
}

// Clear discards all pending presses.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presses = nil
}

// Decode turns a chunk of raw terminal input into key names. Arrow
// sequences become up/down/right/left, a lone escape is "escape", and
// Ctrl+C is "ctrl+c". Unknown control bytes are dropped.
func Decode(buf []byte) []string {
	var keys []string
	for i := 0; i < len(buf); {
		b := buf[i]
		switch {
		case b == 0x1b:
			if i+2 < len(buf) && buf[i+1] == '[' {
				switch buf[i+2] {
				case 'A':
					keys = append(keys, "up")
				case 'B':
					keys = append(keys, "down")
				case 'C':
					keys = append(keys, "right")
				case 'D':
					keys = append(keys, "left")
				}
				i += 3
				continue
			}
			keys = append(keys, "escape")
			i++
		case b == 3:
			keys = append(keys, "ctrl+c")
			i++
		case b == '\r' || b == '\n':
			keys = append(keys, "return")
			i++
		case b == ' ':
			keys = append(keys, "space")
			i++
		case b == '\t':
			keys = append(keys, "tab")
			i++
		case b == 0x7f:
			keys = append(keys, "backspace")
			i++
		case b > ' ' && b < 0x7f:
			keys = append(keys, string(rune(b)))
			i++
		default:
			i++
		}
	}
	return keys
}

// Terminal reads keys from a terminal in raw mode into a Buffer.
type Terminal struct {
	*Buffer
	clock experiment.Clock
	fd    int
	state *term.State
	done  chan struct{}
}

// Open puts f into raw mode when it is a terminal and starts reading keys.
func Open(f *os.File, clock experiment.Clock) (*Terminal, error) {
	t := &Terminal{Buffer: &Buffer{}, clock: clock, fd: int(f.Fd()), done: make(chan struct{})}
	if t.clock == nil {
		t.clock = experiment.WallClock()
	}
	if term.IsTerminal(t.fd) {
		state, err := term.MakeRaw(t.fd)
		if err != nil {
			return nil, fmt.Errorf("enable raw mode: %w", err)
		}
		t.state = state
	}
	go t.read(f)
	return t, nil
}

// Listen reads keys from r without touching terminal state.
func Listen(r io.Reader, clock experiment.Clock) *Terminal {
	t := &Terminal{Buffer: &Buffer{}, clock: clock, fd: -1, done: make(chan struct{})}
	if t.clock == nil {
		t.clock = experiment.WallClock()
	}
	go t.read(r)
	return t
}

// Done is closed when the reader hits end of input or an error.
func (t *Terminal) Done() <-chan struct{} { return t.done }

func (t *Terminal) read(r io.Reader) {
	defer close(t.done)
	buf := make([]byte, 32)
	for {
		n, err := r.Read(buf)
		at := t.clock.Now()
		for _, k := range Decode(buf[:n]) {
			t.Press(experiment.KeyPress{Key: k, At: at})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Printf("component=keyboard action=read_failed err=%v", err)
			}
			return
		}
	}
}

// Close restores the terminal state saved by Open.
func (t *Terminal) Close() error {
	if t.state == nil {
		return nil
	}
	state := t.state
	t.state = nil
	return term.Restore(t.fd, state)
}

var _ experiment.Keyboard = (*Terminal)(nil)
