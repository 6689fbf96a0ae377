// Package cli holds the shared look-and-feel for fyreflow's terminal
// client: color styles, a run-timeline renderer, and the run-start/
// approval prompts.
package cli

import "github.com/charmbracelet/lipgloss"

var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	StatusInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	Bold        = lipgloss.NewStyle().Bold(true)
	Header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
	SymbolRun   = "●"
)

func RenderOK(msg string) string    { return StatusOK.Render(SymbolOK) + " " + msg }
func RenderWarn(msg string) string  { return StatusWarn.Render(SymbolWarn) + " " + msg }
func RenderError(msg string) string { return StatusError.Render(SymbolError) + " " + msg }

// StepStatusStyle picks a color for a step status label, falling back to
// Muted for any status this renderer doesn't specially recognize.
func StepStatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "passed":
		return StatusOK
	case "failed", "blocked":
		return StatusError
	case "running", "awaiting_approval":
		return StatusWarn
	default:
		return Muted
	}
}
