package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colors of rendered panels.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	On      lipgloss.Color
	Off     lipgloss.Color
}

// DefaultTheme is the default green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	On:      lipgloss.Color("#3fb950"),
	Off:     lipgloss.Color("#f85149"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Dim    lipgloss.Style
	On     lipgloss.Style
	Off    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
		Dim:    lipgloss.NewStyle().Foreground(t.Dim),
		On:     lipgloss.NewStyle().Foreground(t.On),
		Off:    lipgloss.NewStyle().Foreground(t.Off),
	}
}

// Row is one labeled line of a panel.
type Row struct {
	Label string
	Value string
}

// Panel is a bordered block of labeled rows.
type Panel struct {
	Styles Styles
	Title  string
	Rows   []Row
}

// Add appends a row.
func (p *Panel) Add(label, value string) {
	p.Rows = append(p.Rows, Row{Label: label, Value: value})
}

// Check renders a boolean as a colored mark.
func (s Styles) Check(v bool) string {
	if v {
		return s.On.Render("yes")
	}
	return s.Off.Render("no")
}

// Render renders the panel. Labels are padded to the widest one.
func (p Panel) Render() string {
	width := 0
	for _, r := range p.Rows {
		width = max(width, lipgloss.Width(r.Label))
	}
	var lines []string
	if p.Title != "" {
		lines = append(lines, p.Styles.Title.Render(p.Title), "")
	}
	for _, r := range p.Rows {
		pad := strings.Repeat(" ", width-lipgloss.Width(r.Label))
		lines = append(lines, p.Styles.Label.Render(r.Label)+pad+"  "+r.Value)
	}
	return p.Styles.Border.Render(strings.Join(lines, "\n"))
}

// Table renders rows of cells with aligned columns. The first row is the
// header.
func Table(s Styles, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	var lines []string
	for n, row := range rows {
		var cells []string
		for i, cell := range row {
			cells = append(cells, cell+strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if n == 0 {
			line = s.Label.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
