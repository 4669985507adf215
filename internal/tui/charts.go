package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/glimpse/internal/analytics"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const (
	maxEndpointBars = 8
	chartHeight     = 8
)

var endpointPalette = []lipgloss.Color{"39", "208", "201", "214", "12", "9", "10", "244"}

func (d *Dashboard) renderCharts(width, _ int) string {
	inner := max(width-4, 24)

	summary := sectionStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		chartTitleStyle.Render("Summary"),
		renderSummary(d.summary),
	))
	endpoints := sectionStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		chartTitleStyle.Render("Average duration by endpoint"),
		renderEndpointChart(analytics.AverageDurationByEndpoint(d.logs), inner-2),
	))
	bucket := navigationBucketFor(d.logs)
	navigation := sectionStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		chartTitleStyle.Render("Page views per "+bucketLabel(bucket)),
		renderNavigationChart(analytics.NavigationVolume(d.logs, bucket), inner-2),
	))
	return lipgloss.JoinVertical(lipgloss.Left, summary, endpoints, navigation)
}

func renderSummary(s model.Summary) string {
	items := []struct {
		t     model.LogType
		label string
		count int
	}{
		{model.TypePageView, "page views", s.PageViews},
		{model.TypeAPICall, "api calls", s.APICalls},
		{model.TypeComponentRender, "renders", s.ComponentRenders},
		{model.TypeError, "errors", s.Errors},
		{model.TypeCustomEvent, "events", s.CustomEvents},
	}
	parts := []string{fmt.Sprintf("%d total", s.Total)}
	for _, it := range items {
		parts = append(parts, typeStyles[string(it.t)].Render(fmt.Sprintf("%d %s", it.count, it.label)))
	}
	if s.FailedAPICalls > 0 {
		parts = append(parts, errTextStyle.Render(fmt.Sprintf("%d failed calls", s.FailedAPICalls)))
	}
	return strings.Join(parts, " • ")
}

// renderEndpointChart draws one bar per endpoint (slowest first) with a
// legend underneath.
func renderEndpointChart(stats []model.EndpointDuration, width int) string {
	if len(stats) == 0 {
		return helpStyle.Render("no data")
	}
	if len(stats) > maxEndpointBars {
		stats = stats[:maxEndpointBars]
	}

	bc := barchart.New(max(width, len(stats)*4), chartHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(3),
		barchart.WithNoAxis(),
	)
	legend := make([]string, 0, len(stats))
	for i, st := range stats {
		color := endpointPalette[i%len(endpointPalette)]
		style := lipgloss.NewStyle().Foreground(color).Background(color)
		bc.Push(barchart.BarData{
			Values: []barchart.BarValue{{Name: st.Endpoint, Value: st.AvgDuration, Style: style}},
		})
		legend = append(legend, fmt.Sprintf("%s %-6s %s  %s (%d)",
			lipgloss.NewStyle().Foreground(color).Render("■"),
			st.Method, st.Endpoint, formatMillis(st.AvgDuration), st.Calls))
	}
	bc.Draw()
	return lipgloss.JoinVertical(lipgloss.Left, bc.View(), strings.Join(legend, "\n"))
}

// renderNavigationChart draws the most recent buckets that fit, left-padded
// with empty bars so the newest bucket is always on the right edge.
func renderNavigationChart(buckets []model.NavigationBucket, width int) string {
	if len(buckets) == 0 {
		return helpStyle.Render("no data")
	}
	maxBars := max(width/2, 1)
	if len(buckets) > maxBars {
		buckets = buckets[len(buckets)-maxBars:]
	}

	bc := barchart.New(width, chartHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)
	style := lipgloss.NewStyle().Foreground(ColorBlue).Background(ColorBlue)
	for i := len(buckets); i < maxBars; i++ {
		bc.Push(barchart.BarData{Values: []barchart.BarValue{{Name: "empty", Value: 0, Style: style}}})
	}
	peak := 0
	for _, b := range buckets {
		peak = max(peak, b.Count)
		bc.Push(barchart.BarData{
			Values: []barchart.BarValue{{Name: "views", Value: float64(b.Count), Style: style}},
		})
	}
	bc.Draw()

	first, last := buckets[0].Start, buckets[len(buckets)-1].Start
	caption := helpStyle.Render(fmt.Sprintf("%s → %s • peak %d", formatClock(first), formatClock(last), peak))
	return lipgloss.JoinVertical(lipgloss.Left, bc.View(), caption)
}

// navigationBucketFor picks a bucket width that keeps the series short
// enough to read: seconds for short sessions, up to hours for long ones.
func navigationBucketFor(logs []model.LogRecord) time.Duration {
	if len(logs) < 2 {
		return time.Minute
	}
	span := time.Duration(logs[len(logs)-1].Timestamp-logs[0].Timestamp) * time.Millisecond
	for _, b := range []time.Duration{time.Second, 10 * time.Second, time.Minute, 10 * time.Minute, time.Hour} {
		if span/b <= 60 {
			return b
		}
	}
	return 6 * time.Hour
}

func bucketLabel(b time.Duration) string {
	switch b {
	case time.Second:
		return "second"
	case time.Minute:
		return "minute"
	case 10 * time.Second:
		return "10s"
	case 10 * time.Minute:
		return "10m"
	case time.Hour:
		return "hour"
	}
	return b.String()
}
