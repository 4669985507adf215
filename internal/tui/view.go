package tui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const (
	timeColWidth = 12
	typeColWidth = 16
)

func (d *Dashboard) View(width, height int) string {
	if width == 0 {
		width, height = 80, 24
	}

	parts := []string{d.renderHeader(width)}
	if banner := d.renderBanner(width); banner != "" {
		parts = append(parts, banner)
	}
	parts = append(parts, d.renderTabs())

	switch d.view {
	case viewLogs:
		if len(d.logs) == 0 {
			parts = append(parts, helpStyle.Render("no data"))
		} else {
			parts = append(parts, d.logTable.View())
		}
	case viewInsights:
		if len(d.insights) == 0 {
			parts = append(parts, helpStyle.Render("no data"))
		} else {
			parts = append(parts, d.insightTable.View())
		}
	case viewCharts:
		parts = append(parts, d.renderCharts(width, height))
	}

	parts = append(parts, d.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (d *Dashboard) renderHeader(width int) string {
	dot := lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorRed).Render("●")
	state := "paused"
	if d.status.Active {
		dot = lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorGreen).Render("●")
		state = "recording"
	}
	left := fmt.Sprintf("glimpse %s %s", dot, state)
	right := fmt.Sprintf("%d records • gen %d • %s", len(d.logs), d.gen, d.source)
	if !d.lastRefresh.IsZero() {
		right += " • " + d.lastRefresh.Format("15:04:05")
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return headerStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

// renderBanner shows storage and connection failures. It persists until a
// refresh succeeds.
func (d *Dashboard) renderBanner(width int) string {
	var msgs []string
	if d.status.DBError != "" {
		msgs = append(msgs, d.status.DBError)
	}
	if d.connErr != nil && d.connErr.Error() != d.status.DBError {
		msgs = append(msgs, d.connErr.Error())
	}
	if len(msgs) == 0 {
		return ""
	}
	return bannerStyle.Width(width).Render(strings.Join(msgs, " • "))
}

func (d *Dashboard) renderTabs() string {
	tabs := make([]string, 0, viewCount)
	for i, title := range viewTitles {
		if viewID(i) == d.view {
			tabs = append(tabs, activeTabStyle.Render(title))
		} else {
			tabs = append(tabs, tabStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (d *Dashboard) renderFooter() string {
	if d.confirmClear {
		return promptStyle.Render("Clear all logs? Settings are kept. (y/n)")
	}
	footer := d.help.View(d.keys)
	if d.note != "" {
		footer = noteStyle.Render(d.note) + "  " + footer
	}
	return footer
}

func logColumns(width int) []table.Column {
	summary := max(width-timeColWidth-typeColWidth-6, 20)
	return []table.Column{
		{Title: "Time", Width: timeColWidth},
		{Title: "Type", Width: typeColWidth},
		{Title: "Detail", Width: summary},
	}
}

func insightColumns(width int) []table.Column {
	path := max(width-6*9-14, 16)
	return []table.Column{
		{Title: "Path", Width: path},
		{Title: "Visits", Width: 7},
		{Title: "Avg", Width: 9},
		{Title: "API", Width: 7},
		{Title: "Errors", Width: 7},
		{Title: "Renders", Width: 8},
		{Title: "Last seen", Width: timeColWidth},
	}
}

// logRows lists newest records first.
func logRows(logs []model.LogRecord) []table.Row {
	rows := make([]table.Row, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		r := logs[i]
		rows = append(rows, table.Row{formatClock(r.Timestamp), string(r.Type), describeRecord(r)})
	}
	return rows
}

func insightRows(insights []model.PageInsight) []table.Row {
	rows := make([]table.Row, 0, len(insights))
	for _, in := range insights {
		avg := "-"
		if in.AvgDuration != nil {
			avg = formatMillis(*in.AvgDuration)
		}
		rows = append(rows, table.Row{
			in.Path,
			strconv.Itoa(len(in.Visits)),
			avg,
			strconv.Itoa(in.APICalls),
			strconv.Itoa(in.Errors),
			strconv.Itoa(in.ComponentRenders),
			formatClock(in.LastViewedAt),
		})
	}
	return rows
}

func describeRecord(r model.LogRecord) string {
	switch r.Type {
	case model.TypePageView:
		if r.PageView == nil {
			break
		}
		if r.PageView.Referrer != "" {
			return fmt.Sprintf("%s ← %s", r.PageView.Path, r.PageView.Referrer)
		}
		return r.PageView.Path
	case model.TypeAPICall:
		c := r.APICall
		if c == nil {
			break
		}
		if c.Error != "" {
			return fmt.Sprintf("%s %s → failed: %s (%s)", c.Method, c.URL, c.Error, formatMillis(c.Duration))
		}
		return fmt.Sprintf("%s %s → %d (%s)", c.Method, c.URL, c.StatusCode, formatMillis(c.Duration))
	case model.TypeComponentRender:
		c := r.ComponentRender
		if c == nil {
			break
		}
		if c.EventType == model.RenderUnmount {
			return fmt.Sprintf("%s %s", c.ComponentName, c.EventType)
		}
		return fmt.Sprintf("%s %s %s", c.ComponentName, c.EventType, formatMillis(c.Duration))
	case model.TypeError:
		if r.Error == nil {
			break
		}
		return fmt.Sprintf("%s @ %s", r.Error.Message, r.Error.Source)
	case model.TypeCustomEvent:
		e := r.CustomEvent
		if e == nil {
			break
		}
		if len(e.Details) == 0 {
			return e.EventName
		}
		details, err := json.Marshal(e.Details)
		if err != nil {
			return e.EventName
		}
		return e.EventName + " " + string(details)
	}
	return "(malformed record)"
}

func formatClock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05.000")
}

func formatMillis(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%.1fms", ms)
}
