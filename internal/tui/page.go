package tui

import tea "github.com/charmbracelet/bubbletea"

// Page represents a top-level screen in the TUI (dashboard, insight detail).
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// Enterer is implemented by pages that take parameters when navigated to.
type Enterer interface {
	Enter(params any) tea.Cmd
}

// PageNav is returned from Update to request a page switch.
type PageNav struct {
	PageID string
	Params any
}
