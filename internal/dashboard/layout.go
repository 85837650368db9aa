package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	// LogSectionHeight is the fixed height of the global log section,
	// including its title and rule.
	LogSectionHeight = 10
	minDriveSection  = 3
	fallbackWidth    = 80
	fallbackHeight   = 24
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	ruleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// Layout renders a snapshot into exactly height lines of at most width
// cells. The log section takes LogSectionHeight lines and the remaining
// height is split evenly across drives.
func Layout(snap Snapshot, width, height int) string {
	if width < 20 {
		width = fallbackWidth
	}
	if height <= 0 {
		height = fallbackHeight
	}

	lines := make([]string, 0, height)
	lines = append(lines, section("Recent Logs:", logTexts(snap.Logs), LogSectionHeight, width)...)

	if n := len(snap.Drives); n > 0 {
		per := (height - LogSectionHeight) / n
		if per < minDriveSection {
			per = minDriveSection
		}
		for _, drive := range snap.Drives {
			lines = append(lines, section(driveTitle(drive), drive.Lines, per, width)...)
		}
	}
	if snap.Dropped > 0 && len(lines) > 0 {
		lines[0] = fit(fmt.Sprintf("Recent Logs: (%d output lines dropped)", snap.Dropped), width)
		lines[0] = titleStyle.Render(lines[0])
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func section(title string, body []string, height, width int) []string {
	out := make([]string, 0, height)
	out = append(out, titleStyle.Render(fit(title, width)))
	out = append(out, ruleStyle.Render(strings.Repeat("-", width)))
	room := height - 2
	if room < 0 {
		room = 0
	}
	if len(body) > room {
		body = body[len(body)-room:]
	}
	for _, line := range body {
		out = append(out, styleLine(fit(line, width)))
	}
	for len(out) < height {
		out = append(out, "")
	}
	return out
}

func driveTitle(drive DriveView) string {
	title := fmt.Sprintf("Drive %d Output", drive.Index)
	if drive.Device != "" {
		title += " (" + drive.Device + ")"
	}
	if drive.Status != "" {
		title += ": " + drive.Status
	}
	return title
}

func logTexts(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Text
	}
	return out
}

func styleLine(line string) string {
	switch {
	case strings.Contains(line, " ERROR "):
		return errorStyle.Render(line)
	case strings.Contains(line, " WARN "):
		return warnStyle.Render(line)
	default:
		return line
	}
}

// fit truncates s to width runes and strips characters that would break
// the fixed layout.
func fit(s string, width int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	runes := []rune(s)
	if len(runes) > width {
		runes = runes[:width]
	}
	return string(runes)
}
