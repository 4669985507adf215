package tui

import tea "github.com/charmbracelet/bubbletea"

// App is the top-level Bubble Tea model that routes between pages.
type App struct {
	pages      map[string]Page
	order      []string
	activePage string
	width      int
	height     int
}

// NewApp creates a new App with the given pages. The first page is the default.
func NewApp(pages ...Page) *App {
	pageMap := make(map[string]Page, len(pages))
	order := make([]string, 0, len(pages))
	for _, p := range pages {
		pageMap[p.ID()] = p
		order = append(order, p.ID())
	}
	a := &App{pages: pageMap, order: order}
	if len(order) > 0 {
		a.activePage = order[0]
	}
	return a
}

// ActivePage returns the id of the page currently shown.
func (a *App) ActivePage() string { return a.activePage }

func (a *App) Init() tea.Cmd {
	if p, ok := a.pages[a.activePage]; ok {
		return p.Init()
	}
	return nil
}

// Update sends key presses to the active page only. Every other message
// (data refreshes, ticks, window size) reaches all pages so background
// polling keeps running while a secondary page is open.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		a.width = wsm.Width
		a.height = wsm.Height
	}

	if _, isKey := msg.(tea.KeyMsg); isKey {
		p, ok := a.pages[a.activePage]
		if !ok {
			return a, nil
		}
		cmd, nav := p.Update(msg)
		return a, tea.Batch(cmd, a.navigate(nav))
	}

	var cmds []tea.Cmd
	var nav *PageNav
	for _, id := range a.order {
		cmd, n := a.pages[id].Update(msg)
		cmds = append(cmds, cmd)
		if id == a.activePage {
			nav = n
		}
	}
	cmds = append(cmds, a.navigate(nav))
	return a, tea.Batch(cmds...)
}

func (a *App) navigate(nav *PageNav) tea.Cmd {
	if nav == nil {
		return nil
	}
	next, ok := a.pages[nav.PageID]
	if !ok {
		return nil
	}
	a.activePage = nav.PageID
	if e, ok := next.(Enterer); ok {
		return e.Enter(nav.Params)
	}
	return nil
}

func (a *App) View() string {
	if p, ok := a.pages[a.activePage]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}
