// Package analytics derives visits, insights and chart series from stored
// log records. Every function is pure: inputs are never mutated and equal
// inputs give equal outputs.
package analytics

import (
	"cmp"
	"slices"
	"sort"

	"github.com/tinytelemetry/glimpse/internal/model"
)

// SortByTimestamp returns a copy of logs in ascending timestamp order. Ties
// keep their input order.
func SortByTimestamp(logs []model.LogRecord) []model.LogRecord {
	sorted := slices.Clone(logs)
	slices.SortStableFunc(sorted, func(a, b model.LogRecord) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return sorted
}

// ReconstructVisits splits the timeline at each page view. A visit spans
// [its page view, the next page view); the last visit is ongoing. Every
// record at or after the first page view is attributed to exactly one
// visit. Records before the first page view belong to none.
func ReconstructVisits(logs []model.LogRecord) []model.PageVisit {
	sorted := SortByTimestamp(logs)

	var visits []model.PageVisit
	var starts []int64
	for _, r := range sorted {
		if r.Type != model.TypePageView || r.PageView == nil {
			continue
		}
		visits = append(visits, model.PageVisit{
			Path:      model.NormalizePath(r.PageView.Path),
			StartTime: r.Timestamp,
			LogIDs:    []string{r.ID},
		})
		starts = append(starts, r.Timestamp)
	}
	if len(visits) == 0 {
		return nil
	}
	for i := range len(visits) - 1 {
		end := visits[i+1].StartTime
		dur := end - visits[i].StartTime
		visits[i].EndTime = &end
		visits[i].Duration = &dur
	}

	// The opening page view leads LogIDs; the rest follow in time order.
	for _, r := range sorted {
		if r.Type == model.TypePageView && r.PageView != nil {
			continue
		}
		idx := sort.Search(len(starts), func(i int) bool { return starts[i] > r.Timestamp }) - 1
		if idx < 0 {
			continue
		}
		visits[idx].LogIDs = append(visits[idx].LogIDs, r.ID)
	}
	return visits
}

// DeriveInsights groups visits by path and counts the records attributed to
// them. Insights are ordered by most recent visit first. avgDuration covers
// completed visits only.
func DeriveInsights(logs []model.LogRecord) []model.PageInsight {
	visits := ReconstructVisits(logs)
	if len(visits) == 0 {
		return []model.PageInsight{}
	}

	byID := make(map[string]model.LogType, len(logs))
	for _, r := range logs {
		byID[r.ID] = r.Type
	}

	index := make(map[string]int)
	var insights []model.PageInsight
	for _, v := range visits {
		i, ok := index[v.Path]
		if !ok {
			i = len(insights)
			index[v.Path] = i
			insights = append(insights, model.PageInsight{
				Path:          v.Path,
				FirstViewedAt: v.StartTime,
				LastViewedAt:  v.StartTime,
			})
		}
		in := &insights[i]
		in.Visits = append(in.Visits, v)
		in.FirstViewedAt = min(in.FirstViewedAt, v.StartTime)
		in.LastViewedAt = max(in.LastViewedAt, v.StartTime)
		for _, id := range v.LogIDs {
			switch byID[id] {
			case model.TypeAPICall:
				in.APICalls++
			case model.TypeError:
				in.Errors++
			case model.TypeComponentRender:
				in.ComponentRenders++
			case model.TypeCustomEvent:
				in.CustomEvents++
			}
		}
	}

	for i := range insights {
		insights[i].AvgDuration = avgCompleted(insights[i].Visits)
	}
	slices.SortStableFunc(insights, func(a, b model.PageInsight) int {
		if c := cmp.Compare(b.LastViewedAt, a.LastViewedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return insights
}

func avgCompleted(visits []model.PageVisit) *float64 {
	var sum int64
	var n int
	for _, v := range visits {
		if v.Duration != nil {
			sum += *v.Duration
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := float64(sum) / float64(n)
	return &avg
}
