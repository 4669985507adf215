package analytics

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/tinytelemetry/glimpse/internal/model"
)

// maxFilledBuckets bounds how many empty buckets NavigationVolume will fill.
const maxFilledBuckets = 1000

// Summarize counts records per type. An api_call with status 0 or >= 400
// also counts as failed.
func Summarize(logs []model.LogRecord) model.Summary {
	s := model.Summary{Total: len(logs)}
	for _, r := range logs {
		switch r.Type {
		case model.TypePageView:
			s.PageViews++
		case model.TypeAPICall:
			s.APICalls++
			if r.APICall != nil && (r.APICall.StatusCode == 0 || r.APICall.StatusCode >= 400) {
				s.FailedAPICalls++
			}
		case model.TypeComponentRender:
			s.ComponentRenders++
		case model.TypeError:
			s.Errors++
		case model.TypeCustomEvent:
			s.CustomEvents++
		}
	}
	return s
}

// AverageDurationByEndpoint groups api calls by method and URL (query and
// fragment dropped). Slowest endpoints come first.
func AverageDurationByEndpoint(logs []model.LogRecord) []model.EndpointDuration {
	type key struct{ method, endpoint string }
	sums := make(map[key]float64)
	counts := make(map[key]int)
	var order []key
	for _, r := range logs {
		if r.Type != model.TypeAPICall || r.APICall == nil {
			continue
		}
		k := key{method: r.APICall.Method, endpoint: endpointOf(r.APICall.URL)}
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		sums[k] += r.APICall.Duration
		counts[k]++
	}

	out := make([]model.EndpointDuration, 0, len(order))
	for _, k := range order {
		out = append(out, model.EndpointDuration{
			Endpoint:    k.endpoint,
			Method:      k.method,
			Calls:       counts[k],
			AvgDuration: sums[k] / float64(counts[k]),
		})
	}
	slices.SortStableFunc(out, func(a, b model.EndpointDuration) int {
		if c := cmp.Compare(b.AvgDuration, a.AvgDuration); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Endpoint, b.Endpoint); c != 0 {
			return c
		}
		return cmp.Compare(a.Method, b.Method)
	})
	return out
}

func endpointOf(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// NavigationVolume counts page views per fixed bucket, oldest first. Gaps
// between the first and last bucket are filled with zero counts unless the
// span would exceed maxFilledBuckets, in which case only non-empty buckets
// are returned.
func NavigationVolume(logs []model.LogRecord, bucket time.Duration) []model.NavigationBucket {
	width := bucket.Milliseconds()
	if width <= 0 {
		return nil
	}
	counts := make(map[int64]int)
	var first, last int64
	for _, r := range logs {
		if r.Type != model.TypePageView {
			continue
		}
		start := floorDiv(r.Timestamp, width) * width
		if len(counts) == 0 || start < first {
			first = start
		}
		if len(counts) == 0 || start > last {
			last = start
		}
		counts[start]++
	}
	if len(counts) == 0 {
		return []model.NavigationBucket{}
	}

	if (last-first)/width < maxFilledBuckets {
		out := make([]model.NavigationBucket, 0, (last-first)/width+1)
		for s := first; s <= last; s += width {
			out = append(out, model.NavigationBucket{Start: s, Count: counts[s]})
		}
		return out
	}
	out := make([]model.NavigationBucket, 0, len(counts))
	for s, n := range counts {
		out = append(out, model.NavigationBucket{Start: s, Count: n})
	}
	slices.SortFunc(out, func(a, b model.NavigationBucket) int { return cmp.Compare(a.Start, b.Start) })
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}

// FilterByType keeps records of the given types. No types keeps everything.
func FilterByType(logs []model.LogRecord, types ...model.LogType) []model.LogRecord {
	if len(types) == 0 {
		return slices.Clone(logs)
	}
	out := make([]model.LogRecord, 0, len(logs))
	for _, r := range logs {
		if slices.Contains(types, r.Type) {
			out = append(out, r)
		}
	}
	return out
}

// FilterByTimeRange keeps records with from <= timestamp < to. A zero to
// means no upper bound.
func FilterByTimeRange(logs []model.LogRecord, from, to int64) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(logs))
	for _, r := range logs {
		if r.Timestamp < from || (to != 0 && r.Timestamp >= to) {
			continue
		}
		out = append(out, r)
	}
	return out
}
