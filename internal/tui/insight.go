package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const InsightPageID = "insight"

// InsightPage lists every visit to one path. It reads the dashboard's
// latest insights so it stays live while open.
type InsightPage struct {
	dash   *Dashboard
	keys   KeyMap
	path   string
	visits table.Model
}

// NewInsightPage creates the per-path visit page.
func NewInsightPage(dash *Dashboard) *InsightPage {
	return &InsightPage{
		dash: dash,
		keys: DefaultKeyMap(),
		visits: newTable([]table.Column{
			{Title: "Start", Width: timeColWidth},
			{Title: "End", Width: timeColWidth},
			{Title: "Duration", Width: 10},
			{Title: "Records", Width: 8},
		}, true),
	}
}

func (p *InsightPage) ID() string    { return InsightPageID }
func (p *InsightPage) Init() tea.Cmd { return nil }

// Enter takes the path to show.
func (p *InsightPage) Enter(params any) tea.Cmd {
	if path, ok := params.(string); ok {
		p.path = path
	}
	p.visits.SetCursor(0)
	p.refresh()
	return nil
}

// Path returns the path currently shown.
func (p *InsightPage) Path() string { return p.path }

func (p *InsightPage) current() (model.PageInsight, bool) {
	for _, in := range p.dash.Insights() {
		if in.Path == p.path {
			return in, true
		}
	}
	return model.PageInsight{}, false
}

func (p *InsightPage) refresh() {
	in, _ := p.current()
	rows := make([]table.Row, 0, len(in.Visits))
	for i := len(in.Visits) - 1; i >= 0; i-- {
		v := in.Visits[i]
		end, dur := "ongoing", "-"
		if v.EndTime != nil {
			end = formatClock(*v.EndTime)
		}
		if v.Duration != nil {
			dur = formatMillis(float64(*v.Duration))
		}
		rows = append(rows, table.Row{formatClock(v.StartTime), end, dur, strconv.Itoa(len(v.LogIDs))})
	}
	p.visits.SetRows(rows)
}

func (p *InsightPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.visits.SetHeight(max(msg.Height-6, 3))
	case refreshMsg:
		// The dashboard handles the same message first, so its insights
		// are already current.
		p.refresh()
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.ForceQuit), key.Matches(msg, p.keys.Quit):
			return tea.Quit, nil
		case key.Matches(msg, p.keys.Escape):
			return nil, &PageNav{PageID: DashboardPageID}
		}
		var cmd tea.Cmd
		p.visits, cmd = p.visits.Update(msg)
		return cmd, nil
	}
	return nil, nil
}

func (p *InsightPage) View(width, _ int) string {
	if width == 0 {
		width = 80
	}
	in, ok := p.current()
	title := headerStyle.Width(width).Render("glimpse • " + p.path)
	if !ok {
		return lipgloss.JoinVertical(lipgloss.Left, title, helpStyle.Render("no data"),
			helpStyle.Render("esc back • q quit"))
	}

	avg := "-"
	if in.AvgDuration != nil {
		avg = formatMillis(*in.AvgDuration)
	}
	stats := fmt.Sprintf("%d visits • avg %s • %d api calls • %d errors • %d renders • %d events • first %s",
		len(in.Visits), avg, in.APICalls, in.Errors, in.ComponentRenders, in.CustomEvents, formatClock(in.FirstViewedAt))

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		chartTitleStyle.Render(stats),
		p.visits.View(),
		helpStyle.Render("esc back • q quit"),
	)
}
