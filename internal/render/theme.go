package render

import (
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	darkmode "github.com/thiagokokada/dark-mode-go"
)

type Theme int

const (
	ThemeAuto Theme = iota
	ThemeLight
	ThemeDark
)

func (t Theme) String() string {
	switch t {
	case ThemeLight:
		return "light"
	case ThemeDark:
		return "dark"
	default:
		return "auto"
	}
}

func ThemeFromString(raw string) Theme {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ThemeDark.String():
		return ThemeDark
	case ThemeLight.String():
		return ThemeLight
	default:
		return ThemeAuto
	}
}

// Palette maps graph color keys to terminal colors.
type Palette struct {
	Name   string
	Lanes  map[string]lipgloss.Color
	Hash   lipgloss.Color
	Ref    lipgloss.Color
	Muted  lipgloss.Color
	Chroma string
}

var (
	lightPalette = Palette{
		Name: "light",
		Lanes: map[string]lipgloss.Color{
			"blue":   "#1f6feb",
			"green":  "#1a7f37",
			"purple": "#8250df",
			"orange": "#bc4c00",
			"cyan":   "#0a7ea4",
			"yellow": "#9a6700",
			"red":    "#cf222e",
		},
		Hash:   "#9a6700",
		Ref:    "#0a7ea4",
		Muted:  "#6e7781",
		Chroma: "github",
	}
	darkPalette = Palette{
		Name: "dark",
		Lanes: map[string]lipgloss.Color{
			"blue":   "#58a6ff",
			"green":  "#3fb950",
			"purple": "#bc8cff",
			"orange": "#f0883e",
			"cyan":   "#39c5cf",
			"yellow": "#d29922",
			"red":    "#f85149",
		},
		Hash:   "#d29922",
		Ref:    "#39c5cf",
		Muted:  "#8b949e",
		Chroma: "github-dark",
	}
	detectDarkMode = darkmode.IsDarkMode
)

// PaletteFor resolves ThemeAuto through the desktop color scheme and falls
// back to light.
func PaletteFor(t Theme) Palette {
	switch t {
	case ThemeDark:
		return darkPalette
	case ThemeLight:
		return lightPalette
	default:
		if detectDarkMode != nil {
			if dark, err := detectDarkMode(); err == nil {
				if dark {
					return darkPalette
				}
			} else {
				slog.Debug("detect dark-mode", slog.Any("error", err))
			}
		}
		return lightPalette
	}
}

// Lane returns the color for a graph color key. Unknown keys are muted.
func (p Palette) Lane(key string) lipgloss.Color {
	if c, ok := p.Lanes[key]; ok {
		return c
	}
	return p.Muted
}
