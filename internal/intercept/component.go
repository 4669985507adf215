package intercept

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// RenderTimer measures component lifecycle phases.
type RenderTimer struct {
	sink Sink
}

// NewRenderTimer creates a RenderTimer writing to sink.
func NewRenderTimer(sink Sink) *RenderTimer {
	return &RenderTimer{sink: sink}
}

// Begin starts timing a mount or update of name. Call the returned func
// when the phase is done.
func (t *RenderTimer) Begin(name string, event model.RenderEvent) func() {
	start := time.Now()
	return func() {
		t.sink.RecordComponentRender(name, event, time.Since(start))
	}
}

// Unmount records that name was torn down.
func (t *RenderTimer) Unmount(name string) {
	t.sink.RecordComponentRender(name, model.RenderUnmount, 0)
}

// TrackModel wraps a Bubble Tea model so Init is recorded as a mount and
// each Update as an update. View is passed through.
func TrackModel(sink Sink, name string, m tea.Model) tea.Model {
	return &trackedModel{timer: NewRenderTimer(sink), name: name, inner: m}
}

type trackedModel struct {
	timer *RenderTimer
	name  string
	inner tea.Model
}

func (m *trackedModel) Init() tea.Cmd {
	done := m.timer.Begin(m.name, model.RenderMount)
	cmd := m.inner.Init()
	done()
	return cmd
}

func (m *trackedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	done := m.timer.Begin(m.name, model.RenderUpdate)
	next, cmd := m.inner.Update(msg)
	done()
	m.inner = next
	return m, cmd
}

func (m *trackedModel) View() string {
	return m.inner.View()
}
