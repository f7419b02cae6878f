// ABOUTME: Bubble Tea messages and commands that connect the console model to its client goroutine.
// ABOUTME: The tick polls the client queues; RunClientCmd reports when the connection ends.
package remote

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// TickMsg drives queue polling and redraws.
type TickMsg time.Time

// TickCmd schedules the next TickMsg.
func TickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// ClientDoneMsg reports that the client goroutine returned.
type ClientDoneMsg struct {
	Err error
}

// Runner is the client side of the connection.
type Runner interface {
	Run(ctx context.Context) error
}

// RunClientCmd runs the client until ctx ends or the connection drops.
func RunClientCmd(ctx context.Context, r Runner) tea.Cmd {
	return func() tea.Msg {
		return ClientDoneMsg{Err: r.Run(ctx)}
	}
}
