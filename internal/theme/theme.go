// Package theme holds the colors and styles used for terminal output.
package theme

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines all colors for CLI output
type Theme struct {
	Primary lipgloss.Color
	Accent  lipgloss.Color

	Text      lipgloss.Color
	TextMuted lipgloss.Color

	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color

	Border lipgloss.Color
}

// DefaultTheme returns the warm default theme
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#D2A679"),
		Accent:    lipgloss.Color("#D2A679"),
		Text:      lipgloss.Color("#F0F0F0"),
		TextMuted: lipgloss.Color("#888888"),
		Success:   lipgloss.Color("#10B981"),
		Warning:   lipgloss.Color("#F59E0B"),
		Error:     lipgloss.Color("#EF4444"),
		Info:      lipgloss.Color("#7AA2F7"),
		Border:    lipgloss.Color("#3d3d3d"),
	}
}

// TokyoNight returns a Tokyo Night inspired theme
func TokyoNight() Theme {
	return Theme{
		Primary:   lipgloss.Color("#7AA2F7"),
		Accent:    lipgloss.Color("#FF9E64"),
		Text:      lipgloss.Color("#C0CAF5"),
		TextMuted: lipgloss.Color("#565F89"),
		Success:   lipgloss.Color("#9ECE6A"),
		Warning:   lipgloss.Color("#E0AF68"),
		Error:     lipgloss.Color("#F7768E"),
		Info:      lipgloss.Color("#7AA2F7"),
		Border:    lipgloss.Color("#3B4261"),
	}
}

var themes = map[string]func() Theme{
	"default":    DefaultTheme,
	"tokyonight": TokyoNight,
}

// Names lists the selectable themes
func Names() []string {
	names := make([]string, 0, len(themes))
	for n := range themes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByName returns the named theme. An empty name selects the default.
func ByName(name string) (Theme, error) {
	if name == "" {
		return DefaultTheme(), nil
	}
	f, ok := themes[strings.ToLower(name)]
	if !ok {
		return Theme{}, fmt.Errorf("unknown theme %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(), nil
}

// Styles are the rendered styles derived from a Theme
type Styles struct {
	Title     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Muted     lipgloss.Style
	Key       lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	Rule      lipgloss.Style
}

// NewStyles builds the styles for t
func NewStyles(t Theme) Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		User:      lipgloss.NewStyle().Foreground(t.Info).Bold(true),
		Assistant: lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		Muted:     lipgloss.NewStyle().Foreground(t.TextMuted),
		Key:       lipgloss.NewStyle().Foreground(t.Accent),
		Success:   lipgloss.NewStyle().Foreground(t.Success),
		Warning:   lipgloss.NewStyle().Foreground(t.Warning),
		Error:     lipgloss.NewStyle().Foreground(t.Error).Bold(true),
		Info:      lipgloss.NewStyle().Foreground(t.Info),
		Rule:      lipgloss.NewStyle().Foreground(t.Border),
	}
}

// Current holds the active styles
var Current = NewStyles(DefaultTheme())

// Use makes the named theme current
func Use(name string) error {
	t, err := ByName(name)
	if err != nil {
		return err
	}
	Current = NewStyles(t)
	return nil
}
