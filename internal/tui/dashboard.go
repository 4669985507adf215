package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tinytelemetry/glimpse/internal/analytics"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const (
	DashboardPageID = "dashboard"

	// longPollWait is how long one WaitForLogs call may block server-side.
	longPollWait = 20 * time.Second
	minInterval  = 100 * time.Millisecond
)

// Backend is the read/control surface the dashboard drives. The socket
// RPC client satisfies it.
type Backend interface {
	AllLogs() ([]model.LogRecord, error)
	ClearLogs() error
	Start() (bool, error)
	Stop() (bool, error)
	Toggle() (bool, error)
	Status() (model.Status, error)
	AddCustomEvent(name string, details map[string]any) error
}

// Waiter long-polls for new records. It should be a separate connection
// from the Backend so control calls are not queued behind a wait.
type Waiter interface {
	WaitForLogs(since uint64, wait time.Duration) (uint64, error)
}

type viewID int

const (
	viewLogs viewID = iota
	viewInsights
	viewCharts
	viewCount
)

var viewTitles = [viewCount]string{"Logs", "Insights", "Charts"}

type (
	tickMsg    time.Time
	refreshMsg struct {
		logs   []model.LogRecord
		status model.Status
		err    error
	}
	logsChangedMsg struct {
		gen uint64
		err error
	}
	waitRetryMsg struct{}
	controlMsg   struct {
		active bool
		err    error
	}
	actionMsg struct {
		note string
		err  error
	}
)

// Dashboard is the main page: live log table, page insights, summary
// counts and charts.
type Dashboard struct {
	backend  Backend
	waiter   Waiter
	interval time.Duration
	source   string
	keys     KeyMap
	help     help.Model

	view          viewID
	logTable      table.Model
	insightTable  table.Model
	width, height int

	logs     []model.LogRecord
	insights []model.PageInsight
	summary  model.Summary
	status   model.Status
	gen      uint64

	connErr      error
	confirmClear bool
	note         string
	lastRefresh  time.Time
}

// NewDashboard creates the dashboard page. waiter may be nil, in which case
// only the update-interval polling refreshes the data.
func NewDashboard(backend Backend, waiter Waiter, interval time.Duration, source string) *Dashboard {
	if interval < minInterval {
		interval = model.DefaultUpdateInterval
	}
	d := &Dashboard{
		backend:  backend,
		waiter:   waiter,
		interval: interval,
		source:   source,
		keys:     DefaultKeyMap(),
		help:     help.New(),
	}
	d.logTable = newTable(logColumns(80), true)
	d.insightTable = newTable(insightColumns(80), false)
	return d
}

func newTable(cols []table.Column, focused bool) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(focused),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Foreground(ColorWhite).Bold(true)
	s.Selected = s.Selected.Foreground(ColorWhite).Background(ColorNavy)
	t.SetStyles(s)
	return t
}

func (d *Dashboard) ID() string { return DashboardPageID }

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.fetchCmd(), d.tickCmd(), d.waitCmd(0))
}

// Insights returns the insights derived at the last refresh.
func (d *Dashboard) Insights() []model.PageInsight { return d.insights }

func (d *Dashboard) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.resize(msg.Width, msg.Height)
		return nil, nil

	case tickMsg:
		return tea.Batch(d.fetchCmd(), d.tickCmd()), nil

	case refreshMsg:
		d.applyRefresh(msg)
		return nil, nil

	case logsChangedMsg:
		if msg.err != nil {
			return d.retryWaitCmd(), nil
		}
		var cmds []tea.Cmd
		if msg.gen != d.gen {
			cmds = append(cmds, d.fetchCmd())
		}
		cmds = append(cmds, d.waitCmd(msg.gen))
		return tea.Batch(cmds...), nil

	case waitRetryMsg:
		return d.waitCmd(d.gen), nil

	case controlMsg:
		if msg.err != nil {
			d.note = ""
			d.connErr = msg.err
			return nil, nil
		}
		d.status.Active = msg.active
		d.note = "monitoring " + activeLabel(msg.active)
		return d.fetchCmd(), nil

	case actionMsg:
		if msg.err != nil {
			d.note = ""
			d.connErr = msg.err
			return nil, nil
		}
		d.note = msg.note
		return d.fetchCmd(), nil

	case tea.KeyMsg:
		return d.handleKey(msg)
	}
	return nil, nil
}

func (d *Dashboard) handleKey(msg tea.KeyMsg) (tea.Cmd, *PageNav) {
	if key.Matches(msg, d.keys.ForceQuit) {
		return tea.Quit, nil
	}

	if d.confirmClear {
		switch {
		case key.Matches(msg, d.keys.Confirm):
			d.confirmClear = false
			return d.clearCmd(), nil
		case key.Matches(msg, d.keys.Cancel):
			d.confirmClear = false
			d.note = "clear cancelled"
		}
		return nil, nil
	}

	switch {
	case key.Matches(msg, d.keys.Quit):
		return tea.Quit, nil
	case key.Matches(msg, d.keys.Start):
		return d.controlCmd(d.backend.Start), nil
	case key.Matches(msg, d.keys.Stop):
		return d.controlCmd(d.backend.Stop), nil
	case key.Matches(msg, d.keys.Toggle):
		return d.controlCmd(d.backend.Toggle), nil
	case key.Matches(msg, d.keys.Clear):
		d.confirmClear = true
		return nil, nil
	case key.Matches(msg, d.keys.Event):
		return d.eventCmd(), nil
	case key.Matches(msg, d.keys.NextView):
		d.setView((d.view + 1) % viewCount)
		return nil, nil
	case key.Matches(msg, d.keys.PrevView):
		d.setView((d.view + viewCount - 1) % viewCount)
		return nil, nil
	case key.Matches(msg, d.keys.Enter):
		if d.view == viewInsights {
			if row := d.insightTable.SelectedRow(); len(row) > 0 {
				return nil, &PageNav{PageID: InsightPageID, Params: row[0]}
			}
		}
		return nil, nil
	}

	var cmd tea.Cmd
	switch d.view {
	case viewLogs:
		d.logTable, cmd = d.logTable.Update(msg)
	case viewInsights:
		d.insightTable, cmd = d.insightTable.Update(msg)
	}
	return cmd, nil
}

func (d *Dashboard) setView(v viewID) {
	d.view = v
	if v == viewInsights {
		d.logTable.Blur()
		d.insightTable.Focus()
	} else {
		d.insightTable.Blur()
		d.logTable.Focus()
	}
}

func (d *Dashboard) applyRefresh(msg refreshMsg) {
	d.lastRefresh = time.Now()
	if msg.err != nil {
		d.connErr = msg.err
		// Keep the status when only the log read failed so the DB banner
		// stays accurate.
		if msg.status != (model.Status{}) {
			d.status = msg.status
			d.gen = msg.status.Generation
		}
		d.setLogs(nil)
		return
	}
	d.connErr = nil
	d.status = msg.status
	d.gen = msg.status.Generation
	d.setLogs(msg.logs)
}

func (d *Dashboard) setLogs(logs []model.LogRecord) {
	d.logs = analytics.SortByTimestamp(logs)
	d.insights = analytics.DeriveInsights(d.logs)
	d.summary = analytics.Summarize(d.logs)
	d.logTable.SetRows(logRows(d.logs))
	d.insightTable.SetRows(insightRows(d.insights))
}

func (d *Dashboard) resize(width, height int) {
	d.width, d.height = width, height
	d.help.Width = width
	// header, banner, tabs, note and footer take up to six lines.
	tableHeight := max(height-8, 3)
	d.logTable.SetColumns(logColumns(width))
	d.logTable.SetHeight(tableHeight)
	d.insightTable.SetColumns(insightColumns(width))
	d.insightTable.SetHeight(tableHeight)
}

func (d *Dashboard) fetchCmd() tea.Cmd {
	b := d.backend
	return func() tea.Msg {
		status, err := b.Status()
		if err != nil {
			return refreshMsg{err: err}
		}
		logs, err := b.AllLogs()
		return refreshMsg{logs: logs, status: status, err: err}
	}
}

func (d *Dashboard) tickCmd() tea.Cmd {
	return tea.Tick(d.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (d *Dashboard) waitCmd(since uint64) tea.Cmd {
	if d.waiter == nil {
		return nil
	}
	w := d.waiter
	return func() tea.Msg {
		gen, err := w.WaitForLogs(since, longPollWait)
		return logsChangedMsg{gen: gen, err: err}
	}
}

func (d *Dashboard) retryWaitCmd() tea.Cmd {
	if d.waiter == nil {
		return nil
	}
	return tea.Tick(d.interval, func(time.Time) tea.Msg { return waitRetryMsg{} })
}

func (d *Dashboard) controlCmd(fn func() (bool, error)) tea.Cmd {
	return func() tea.Msg {
		active, err := fn()
		return controlMsg{active: active, err: err}
	}
}

func (d *Dashboard) clearCmd() tea.Cmd {
	b := d.backend
	return func() tea.Msg {
		if err := b.ClearLogs(); err != nil {
			return actionMsg{err: fmt.Errorf("clear logs: %w", err)}
		}
		return actionMsg{note: "logs cleared"}
	}
}

func (d *Dashboard) eventCmd() tea.Cmd {
	b := d.backend
	source := d.source
	return func() tea.Msg {
		details := map[string]any{"source": source}
		if err := b.AddCustomEvent("dashboard_marker", details); err != nil {
			return actionMsg{err: fmt.Errorf("add event: %w", err)}
		}
		return actionMsg{note: "marker event added"}
	}
}

func activeLabel(active bool) string {
	if active {
		return "started"
	}
	return "stopped"
}
