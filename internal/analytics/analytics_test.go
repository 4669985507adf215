package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

func pageView(id string, ts int64, path string) model.LogRecord {
	return model.LogRecord{ID: id, Timestamp: ts, Type: model.TypePageView, PageView: &model.PageView{Path: path}}
}

func apiCall(id string, ts int64, method, url string, dur float64, status int) model.LogRecord {
	return model.LogRecord{ID: id, Timestamp: ts, Type: model.TypeAPICall, APICall: &model.APICall{
		URL: url, Method: method, Duration: dur, StatusCode: status,
	}}
}

func errorRec(id string, ts int64) model.LogRecord {
	return model.LogRecord{ID: id, Timestamp: ts, Type: model.TypeError, Error: &model.ErrorEvent{Message: "x", Source: "test"}}
}

func ptr[T any](v T) *T { return &v }

func TestSortByTimestamp_StableAndPure(t *testing.T) {
	logs := []model.LogRecord{
		pageView("c", 20, "/"),
		pageView("a", 10, "/"),
		pageView("b", 10, "/"),
	}
	sorted := SortByTimestamp(logs)

	assert.Equal(t, []string{"a", "b", "c"}, ids(sorted))
	assert.Equal(t, []string{"c", "a", "b"}, ids(logs), "input is not mutated")
}

func TestReconstructVisits_TwoPagesAttribution(t *testing.T) {
	logs := []model.LogRecord{
		errorRec("late", 15),
		pageView("b", 10, "/b"),
		errorRec("early", 5),
		pageView("a", 0, "/a"),
	}

	visits := ReconstructVisits(logs)
	require.Len(t, visits, 2)

	assert.Equal(t, "/a", visits[0].Path)
	assert.Equal(t, ptr(int64(10)), visits[0].EndTime)
	assert.Equal(t, ptr(int64(10)), visits[0].Duration)
	assert.Equal(t, []string{"a", "early"}, visits[0].LogIDs)

	assert.Equal(t, "/b", visits[1].Path)
	assert.True(t, visits[1].Ongoing())
	assert.Nil(t, visits[1].Duration)
	assert.Equal(t, []string{"b", "late"}, visits[1].LogIDs)
}

func TestReconstructVisits_RecordAtBoundaryBelongsToNextVisit(t *testing.T) {
	logs := []model.LogRecord{
		pageView("a", 0, "/a"),
		errorRec("edge", 10),
		pageView("b", 10, "/b"),
	}

	visits := ReconstructVisits(logs)
	require.Len(t, visits, 2)
	assert.Equal(t, []string{"a"}, visits[0].LogIDs)
	assert.Equal(t, []string{"b", "edge"}, visits[1].LogIDs)
}

func TestReconstructVisits_RecordsBeforeFirstPageViewAreUnattributed(t *testing.T) {
	logs := []model.LogRecord{
		errorRec("boot", 1),
		pageView("a", 5, "/a"),
	}

	visits := ReconstructVisits(logs)
	require.Len(t, visits, 1)
	assert.Equal(t, []string{"a"}, visits[0].LogIDs)
}

func TestDeriveInsights_ExampleScenario(t *testing.T) {
	logs := []model.LogRecord{
		pageView("pv-home", 1000, "/home"),
		apiCall("api-x", 1020, "GET", "/api/x", 50, 200),
		pageView("pv-profile", 1100, "/profile"),
	}

	insights := DeriveInsights(logs)
	require.Len(t, insights, 2)

	profile, home := insights[0], insights[1]
	assert.Equal(t, "/profile", profile.Path)
	require.Len(t, profile.Visits, 1)
	assert.True(t, profile.Visits[0].Ongoing())
	assert.Nil(t, profile.AvgDuration)

	assert.Equal(t, "/home", home.Path)
	require.Len(t, home.Visits, 1)
	assert.Equal(t, ptr(int64(100)), home.Visits[0].Duration)
	assert.Contains(t, home.Visits[0].LogIDs, "api-x")
	assert.Equal(t, 1, home.APICalls)
	assert.Equal(t, ptr(100.0), home.AvgDuration)
}

func TestDeriveInsights_NoPageViews(t *testing.T) {
	assert.Empty(t, DeriveInsights(nil))
	assert.Empty(t, DeriveInsights([]model.LogRecord{errorRec("e", 1)}))
	assert.NotNil(t, DeriveInsights(nil))
}

func TestDeriveInsights_SinglePageViewIsOngoing(t *testing.T) {
	insights := DeriveInsights([]model.LogRecord{pageView("a", 7, "/only")})
	require.Len(t, insights, 1)
	require.Len(t, insights[0].Visits, 1)
	assert.True(t, insights[0].Visits[0].Ongoing())
	assert.Nil(t, insights[0].AvgDuration)
	assert.Equal(t, int64(7), insights[0].FirstViewedAt)
}

func TestDeriveInsights_SamePathVisitedTwice(t *testing.T) {
	logs := []model.LogRecord{
		pageView("1", 0, "/a"),
		errorRec("e1", 5),
		pageView("2", 10, "/b"),
		pageView("3", 40, "/a?ref=x"),
		errorRec("e2", 45),
		pageView("4", 60, "/c"),
	}

	insights := DeriveInsights(logs)
	require.Len(t, insights, 3)
	assert.Equal(t, []string{"/c", "/a", "/b"}, []string{insights[0].Path, insights[1].Path, insights[2].Path})

	a := insights[1]
	require.Len(t, a.Visits, 2)
	assert.Equal(t, 2, a.Errors)
	assert.Equal(t, int64(0), a.FirstViewedAt)
	assert.Equal(t, int64(40), a.LastViewedAt)
	assert.Equal(t, ptr(15.0), a.AvgDuration)
}

func TestDeriveInsights_Idempotent(t *testing.T) {
	logs := []model.LogRecord{
		pageView("1", 0, "/a"),
		apiCall("x", 3, "POST", "/api", 12, 201),
		pageView("2", 10, "/b"),
		errorRec("e", 12),
	}
	assert.Equal(t, DeriveInsights(logs), DeriveInsights(logs))
}

func TestSummarize(t *testing.T) {
	logs := []model.LogRecord{
		pageView("1", 0, "/a"),
		apiCall("2", 1, "GET", "/ok", 10, 200),
		apiCall("3", 2, "GET", "/missing", 10, 404),
		apiCall("4", 3, "GET", "/down", 10, 0),
		errorRec("5", 4),
		{ID: "6", Type: model.TypeCustomEvent, CustomEvent: &model.CustomEvent{EventName: "click"}},
		{ID: "7", Type: model.TypeComponentRender, ComponentRender: &model.ComponentRender{ComponentName: "X"}},
	}

	assert.Equal(t, model.Summary{
		Total:            7,
		PageViews:        1,
		APICalls:         3,
		ComponentRenders: 1,
		Errors:           1,
		CustomEvents:     1,
		FailedAPICalls:   2,
	}, Summarize(logs))
	assert.Equal(t, model.Summary{}, Summarize(nil))
}

func TestAverageDurationByEndpoint(t *testing.T) {
	logs := []model.LogRecord{
		apiCall("1", 0, "GET", "/api/users?page=1", 10, 200),
		apiCall("2", 1, "GET", "/api/users?page=2", 30, 200),
		apiCall("3", 2, "POST", "/api/users", 5, 201),
		apiCall("4", 3, "GET", "/api/slow", 100, 200),
		pageView("5", 4, "/"),
	}

	assert.Equal(t, []model.EndpointDuration{
		{Endpoint: "/api/slow", Method: "GET", Calls: 1, AvgDuration: 100},
		{Endpoint: "/api/users", Method: "GET", Calls: 2, AvgDuration: 20},
		{Endpoint: "/api/users", Method: "POST", Calls: 1, AvgDuration: 5},
	}, AverageDurationByEndpoint(logs))
}

func TestNavigationVolume(t *testing.T) {
	logs := []model.LogRecord{
		pageView("1", 1000, "/a"),
		pageView("2", 1500, "/b"),
		pageView("3", 3200, "/c"),
		errorRec("e", 2000),
	}

	assert.Equal(t, []model.NavigationBucket{
		{Start: 1000, Count: 2},
		{Start: 2000, Count: 0},
		{Start: 3000, Count: 1},
	}, NavigationVolume(logs, time.Second))
	assert.Nil(t, NavigationVolume(logs, 0))
	assert.Empty(t, NavigationVolume(nil, time.Second))
}

func TestNavigationVolume_SparseWhenSpanIsHuge(t *testing.T) {
	logs := []model.LogRecord{
		pageView("1", 0, "/a"),
		pageView("2", int64(maxFilledBuckets)*10_000, "/b"),
	}

	got := NavigationVolume(logs, time.Millisecond)
	assert.Equal(t, []model.NavigationBucket{
		{Start: 0, Count: 1},
		{Start: int64(maxFilledBuckets) * 10_000, Count: 1},
	}, got)
}

func TestFilters(t *testing.T) {
	logs := []model.LogRecord{
		pageView("1", 0, "/a"),
		apiCall("2", 5, "GET", "/x", 1, 200),
		errorRec("3", 10),
	}

	assert.Equal(t, []string{"2", "3"}, ids(FilterByType(logs, model.TypeAPICall, model.TypeError)))
	assert.Equal(t, []string{"1", "2", "3"}, ids(FilterByType(logs)))
	assert.Equal(t, []string{"2"}, ids(FilterByTimeRange(logs, 5, 10)))
	assert.Equal(t, []string{"2", "3"}, ids(FilterByTimeRange(logs, 1, 0)))
}

func ids(logs []model.LogRecord) []string {
	out := make([]string, 0, len(logs))
	for _, r := range logs {
		out = append(out, r.ID)
	}
	return out
}
