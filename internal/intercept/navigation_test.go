package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

func newTrackedHistory(t *testing.T, sink *fakeSink, initial string) (*Navigation, *MemoryHistory) {
	t.Helper()
	hist := NewMemoryHistory(initial)
	nav, err := NewNavigation(sink, hist)
	require.NoError(t, err)
	t.Cleanup(nav.Close)
	return nav, hist
}

func TestNavigation_RecordsInitialLocation(t *testing.T) {
	sink := newFakeSink(true)
	newTrackedHistory(t, sink, "/home?tab=1")

	assert.Equal(t, []model.PageView{{Path: "/home"}}, sink.pageViews())
}

func TestNavigation_PushRecordsChangeWithReferrer(t *testing.T) {
	sink := newFakeSink(true)
	nav, _ := newTrackedHistory(t, sink, "/home")

	nav.PushState(nil, "", "/profile")
	nav.ReplaceState(nil, "", "/settings/")

	assert.Equal(t, []model.PageView{
		{Path: "/home"},
		{Path: "/profile", Referrer: "/home"},
		{Path: "/settings", Referrer: "/profile"},
	}, sink.pageViews())
	assert.Equal(t, "/settings/", nav.Location())
}

func TestNavigation_UnchangedPathEmitsNothing(t *testing.T) {
	sink := newFakeSink(true)
	nav, hist := newTrackedHistory(t, sink, "/home")

	nav.PushState(nil, "", "?q=1")
	nav.ReplaceState(nil, "", "/home")
	nav.PushState(nil, "", "")
	hist.SetHash("section")

	assert.Len(t, sink.pageViews(), 1)
	assert.Equal(t, "/home#section", nav.Location())
}

func TestNavigation_BackAndForwardAreObserved(t *testing.T) {
	sink := newFakeSink(true)
	nav, hist := newTrackedHistory(t, sink, "/a")

	nav.PushState(nil, "", "/b")
	hist.Back()
	hist.Forward()
	hist.Forward()

	assert.Equal(t, []model.PageView{
		{Path: "/a"},
		{Path: "/b", Referrer: "/a"},
		{Path: "/a", Referrer: "/b"},
		{Path: "/b", Referrer: "/a"},
	}, sink.pageViews())
}

func TestNavigation_TracksPathWhileInactive(t *testing.T) {
	sink := newFakeSink(false)
	nav, _ := newTrackedHistory(t, sink, "/a")

	nav.PushState(nil, "", "/b")
	sink.active.Store(true)
	nav.PushState(nil, "", "/c")

	assert.Equal(t, []model.PageView{{Path: "/c", Referrer: "/b"}}, sink.pageViews())
}

func TestNavigation_CloseStopsRecording(t *testing.T) {
	sink := newFakeSink(true)
	nav, hist := newTrackedHistory(t, sink, "/a")

	nav.Close()
	nav.PushState(nil, "", "/b")
	hist.Back()

	assert.Len(t, sink.pageViews(), 1)
	assert.Equal(t, "/a", hist.Location())
}

func TestNavigation_SetupFailures(t *testing.T) {
	sink := newFakeSink(true)

	_, err := NewNavigation(sink, nil)
	assert.ErrorIs(t, err, ErrInterceptUnavailable)

	hist := NewMemoryHistory("/")
	hist.Freeze()
	_, err = NewNavigation(sink, hist)
	assert.ErrorIs(t, err, ErrInterceptUnavailable)
	assert.Empty(t, sink.pageViews())
}

func TestMemoryHistory_PushDropsForwardEntries(t *testing.T) {
	hist := NewMemoryHistory("")
	hist.PushState(nil, "", "/a")
	hist.PushState(nil, "", "/b")
	hist.Back()
	hist.PushState(nil, "", "/c")
	hist.Forward()

	assert.Equal(t, "/c", hist.Location())
	hist.Go(-10)
	assert.Equal(t, "/", hist.Location())
}
