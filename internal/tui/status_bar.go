package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBar renders workspace, model and run progress.
type StatusBar struct {
	workspace string
	model     string
	session   string
	state     string
	detail    string
	turn      int
	elapsed   time.Duration
}

func (s StatusBar) View(width int) string {
	left := fmt.Sprintf("%s | %s | %s", truncate(s.workspace, 24), s.model, truncate(s.session, 8))
	right := s.state
	if s.turn > 0 {
		right = fmt.Sprintf("turn %d | %s", s.turn, s.state)
	}
	if s.detail != "" {
		right += " | " + truncate(s.detail, 32)
	}
	if s.elapsed > 0 {
		right += " | " + s.elapsed.Round(100*time.Millisecond).String()
	}
	padding := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return statusStyle.Render(left + strings.Repeat(" ", padding) + right)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
