// ABOUTME: Lipgloss styles for the remote console panels, result colors, and status bar.
// ABOUTME: StyleForResult maps trial result labels to their display style.
package remote

import (
	"github.com/2389-research/visigoth/experiment"
	"github.com/charmbracelet/lipgloss"
)

var (
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	GazeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	StimulusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	WindowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	CorrectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	WrongStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	MissStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(12)
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	EditedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// StyleForResult returns the style for a trial result label.
func StyleForResult(result string) lipgloss.Style {
	switch result {
	case experiment.ResultCorrect:
		return CorrectStyle
	case experiment.ResultWrong, experiment.ResultFixBreak:
		return WrongStyle
	default:
		return MissStyle
	}
}
