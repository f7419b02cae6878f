// ABOUTME: Text presenter and outcome feedback for the terminal display.
// ABOUTME: Text screens are boxed with lipgloss; feedback rings the bell and logs the result.
package display

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/2389-research/visigoth/experiment"
	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 3)
	lineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// TextScreen writes boxed text screens to a writer.
type TextScreen struct {
	Out io.Writer
}

// Show clears the screen and writes lines centered in a rounded box.
func (s TextScreen) Show(lines []string) error {
	if s.Out == nil {
		return nil
	}
	body := lineStyle.Render(strings.Join(lines, "\n"))
	box := boxStyle.Align(lipgloss.Center).Render(body)
	_, err := fmt.Fprint(s.Out, "\033[2J\033[H"+strings.ReplaceAll(box, "\n", "\r\n")+"\r\n")
	return err
}

// Feedback rings the terminal bell on errors and records every result.
type Feedback struct {
	Out io.Writer

	mu     sync.Mutex
	played []string
}

// Play signals result. Correct responses are silent.
func (f *Feedback) Play(result string) {
	f.mu.Lock()
	f.played = append(f.played, result)
	f.mu.Unlock()
	log.Printf("component=display action=feedback result=%s", result)
	if f.Out != nil && result != experiment.ResultCorrect {
		fmt.Fprint(f.Out, "\a")
	}
}

var (
	_ experiment.Presenter = TextScreen{}
	_ experiment.Feedback  = (*Feedback)(nil)
)
