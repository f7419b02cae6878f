// ABOUTME: Tests for the remote console model: queue polling, trial log, parameter edits, and rendering.
// ABOUTME: Uses an in-memory queue fake so no network connection is needed.
package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/visigoth/clientserver"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeQueues struct {
	screens [][]byte
	trials  [][]byte
	params  [][]byte
	edits   [][]byte
	fetches int
}

func pop(q *[][]byte) ([]byte, bool) {
	if len(*q) == 0 {
		return nil, false
	}
	b := (*q)[0]
	*q = (*q)[1:]
	return b, true
}

func (f *fakeQueues) TakeScreen() ([]byte, bool) { return pop(&f.screens) }
func (f *fakeQueues) TakeTrial() ([]byte, bool)  { return pop(&f.trials) }
func (f *fakeQueues) TakeParams() ([]byte, bool) { return pop(&f.params) }
func (f *fakeQueues) SubmitEdits(b []byte)       { f.edits = append(f.edits, b) }
func (f *fakeQueues) FetchParams()               { f.fetches++ }

func newTestModel(q *fakeQueues) Model {
	m := NewModel(context.Background(), Config{Addr: "127.0.0.1:50001", Step: 0.5}, q, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func gazeBytes(t *testing.T, p clientserver.GazeParams) []byte {
	t.Helper()
	b, err := clientserver.EncodeGazeParams(p)
	if err != nil {
		t.Fatalf("EncodeGazeParams: %v", err)
	}
	return b
}

func TestInitFetchesParams(t *testing.T) {
	q := &fakeQueues{}
	m := NewModel(context.Background(), Config{}, q, nil)
	if cmd := m.Init(); cmd == nil {
		t.Error("Init should schedule the tick")
	}
	if q.fetches != 1 {
		t.Errorf("fetches: got %d, want 1", q.fetches)
	}
}

func TestTickDrainsTrials(t *testing.T) {
	q := &fakeQueues{trials: [][]byte{
		[]byte(`{"trial":1,"responded":true,"correct":true,"rt":0.5,"result":"correct","response":0}`),
		[]byte(`{"trial":2,"responded":true,"correct":false,"rt":0.6,"result":"wrong","response":1}`),
		[]byte(`not json`),
	}}
	m := update(t, newTestModel(q), TickMsg(time.Now()))

	if got := len(m.Trials()); got != 2 {
		t.Fatalf("trials: got %d, want 2", got)
	}
	view := m.View()
	if !strings.Contains(view, "50%") {
		t.Errorf("accuracy missing from view:\n%s", view)
	}
	if !strings.Contains(view, "rt=0.600") {
		t.Errorf("trial line missing from view:\n%s", view)
	}
}

func TestScreenRendersGaze(t *testing.T) {
	screen, err := clientserver.EncodeScreen(clientserver.ScreenState{
		Gaze:  clientserver.Coord{X: 1, Y: 1},
		Stims: map[string]clientserver.Coord{"fix": {}, "cue": clientserver.MissingCoord()},
	})
	if err != nil {
		t.Fatalf("EncodeScreen: %v", err)
	}
	q := &fakeQueues{screens: [][]byte{screen}, params: [][]byte{gazeBytes(t, clientserver.GazeParams{FixWindow: 2})}}
	m := update(t, newTestModel(q), TickMsg(time.Now()))

	view := m.View()
	if !strings.Contains(view, "●") || !strings.Contains(view, "+") {
		t.Errorf("screen panel should show gaze and fixation:\n%s", view)
	}
}

func TestEditRequiresParams(t *testing.T) {
	q := &fakeQueues{}
	m := update(t, newTestModel(q), key("left"))
	if m.dirty {
		t.Error("edits without known params should be ignored")
	}
}

func TestEditAndSubmit(t *testing.T) {
	q := &fakeQueues{params: [][]byte{gazeBytes(t, clientserver.GazeParams{XOffset: 1, YOffset: 0, FixWindow: 2})}}
	m := update(t, newTestModel(q), TickMsg(time.Now()))

	m = update(t, m, key("left"))
	m = update(t, m, key("up"))
	m = update(t, m, key("+"))
	edited := m.edited
	if !m.dirty {
		t.Fatal("expected staged edits")
	}
	if edited.XOffset != 0.5 || edited.YOffset != 0.5 || edited.FixWindow != 2.5 {
		t.Errorf("edited: got %+v", edited)
	}

	m = update(t, m, key("enter"))
	if len(q.edits) != 1 {
		t.Fatalf("submitted edits: got %d, want 1", len(q.edits))
	}
	sent, err := clientserver.DecodeGazeParams(q.edits[0])
	if err != nil {
		t.Fatalf("decode sent edits: %v", err)
	}
	if sent != edited {
		t.Errorf("sent: got %+v, want %+v", sent, edited)
	}
	if m.dirty {
		t.Error("edits should be clean after submit")
	}
	update(t, m, key("enter"))
	if len(q.edits) != 1 {
		t.Error("enter without edits should not submit")
	}
}

func TestRevertEdits(t *testing.T) {
	q := &fakeQueues{params: [][]byte{gazeBytes(t, clientserver.GazeParams{FixWindow: 2})}}
	m := update(t, newTestModel(q), TickMsg(time.Now()))
	m = update(t, m, key("-"))
	m = update(t, m, key("-"))
	m = update(t, m, key("-"))
	m = update(t, m, key("-"))
	if m.edited.FixWindow != 0.5 {
		t.Errorf("window should floor at one step, got %v", m.edited.FixWindow)
	}
	m = update(t, m, key("r"))
	if m.dirty || m.edited.FixWindow != 2 {
		t.Errorf("after revert: got %+v dirty=%v", m.edited, m.dirty)
	}
}

func TestFetchAndQuitKeys(t *testing.T) {
	q := &fakeQueues{}
	m := update(t, newTestModel(q), key("p"))
	if q.fetches != 1 {
		t.Errorf("fetches: got %d, want 1", q.fetches)
	}
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestClientDoneShowsError(t *testing.T) {
	m := update(t, newTestModel(&fakeQueues{}), ClientDoneMsg{Err: errors.New("connection reset")})
	if m.Err() == nil {
		t.Fatal("expected error to be kept")
	}
	if !strings.Contains(m.View(), "disconnected: connection reset") {
		t.Errorf("status bar should show the error:\n%s", m.View())
	}
}

type stubRunner struct{ err error }

func (s stubRunner) Run(context.Context) error { return s.err }

func TestRunClientCmd(t *testing.T) {
	msg := RunClientCmd(context.Background(), stubRunner{err: errors.New("boom")})()
	done, ok := msg.(ClientDoneMsg)
	if !ok || done.Err == nil || done.Err.Error() != "boom" {
		t.Errorf("msg: got %#v", msg)
	}
}

func TestSmallTerminal(t *testing.T) {
	m := NewModel(context.Background(), Config{}, &fakeQueues{}, nil)
	if m.View() != "Initializing..." {
		t.Errorf("before size: got %q", m.View())
	}
	m = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 5})
	if !strings.Contains(m.View(), "too small") {
		t.Errorf("small view: got %q", m.View())
	}
}
