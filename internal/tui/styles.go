package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorNavy  = lipgloss.Color("#1E2A44")
	ColorGray  = lipgloss.Color("245")
	ColorWhite = lipgloss.Color("255")
	ColorGreen = lipgloss.Color("#44FF44")
	ColorAmber = lipgloss.Color("#FFAA00")
	ColorRed   = lipgloss.Color("#FF4444")
	ColorBlue  = lipgloss.Color("39")
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite).
			Padding(0, 1)

	bannerStyle = lipgloss.NewStyle().
			Background(ColorRed).
			Foreground(ColorWhite).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray)

	chartTitleStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	tabStyle       = lipgloss.NewStyle().Foreground(ColorGray).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Foreground(ColorWhite).Background(ColorBlue).Padding(0, 1)

	helpStyle    = lipgloss.NewStyle().Foreground(ColorGray)
	promptStyle  = lipgloss.NewStyle().Foreground(ColorAmber).Bold(true)
	noteStyle    = lipgloss.NewStyle().Foreground(ColorGreen)
	errTextStyle = lipgloss.NewStyle().Foreground(ColorRed)
)

// typeStyles colors the Type column of the log table.
var typeStyles = map[string]lipgloss.Style{
	"page_view":        lipgloss.NewStyle().Foreground(ColorBlue),
	"api_call":         lipgloss.NewStyle().Foreground(ColorGreen),
	"component_render": lipgloss.NewStyle().Foreground(ColorGray),
	"error":            lipgloss.NewStyle().Foreground(ColorRed),
	"custom_event":     lipgloss.NewStyle().Foreground(ColorAmber),
}
