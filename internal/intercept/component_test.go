package intercept

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

type counterModel struct{ n int }

func (m counterModel) Init() tea.Cmd { return nil }

func (m counterModel) Update(tea.Msg) (tea.Model, tea.Cmd) {
	m.n++
	return m, nil
}

func (m counterModel) View() string {
	if m.n == 0 {
		return "zero"
	}
	return "more"
}

func TestRenderTimer_BeginAndUnmount(t *testing.T) {
	sink := newFakeSink(true)
	timer := NewRenderTimer(sink)

	done := timer.Begin("Header", model.RenderMount)
	time.Sleep(2 * time.Millisecond)
	done()
	timer.Unmount("Header")

	calls := sink.renderCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Header", calls[0].name)
	assert.Equal(t, model.RenderMount, calls[0].event)
	assert.GreaterOrEqual(t, calls[0].duration, 2*time.Millisecond)
	assert.Equal(t, model.RenderUnmount, calls[1].event)
	assert.Zero(t, calls[1].duration)
}

func TestTrackModel_RecordsMountAndUpdates(t *testing.T) {
	sink := newFakeSink(true)
	m := TrackModel(sink, "Counter", counterModel{})

	assert.Nil(t, m.Init())
	assert.Equal(t, "zero", m.View())

	next, _ := m.Update(tea.KeyMsg{})
	next, _ = next.Update(tea.KeyMsg{})
	assert.Equal(t, "more", next.View())

	calls := sink.renderCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, model.RenderMount, calls[0].event)
	assert.Equal(t, model.RenderUpdate, calls[1].event)
	assert.Equal(t, model.RenderUpdate, calls[2].event)
	for _, c := range calls {
		assert.Equal(t, "Counter", c.name)
	}
}
