package glimpse

import (
	"net/http"

	"github.com/tinytelemetry/glimpse/internal/intercept"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// Record and derived view types.
type (
	LogRecord   = model.LogRecord
	LogType     = model.LogType
	PageView    = model.PageView
	APICall     = model.APICall
	PageVisit   = model.PageVisit
	PageInsight = model.PageInsight
	Summary     = model.Summary
	Status      = model.Status
	RenderEvent = model.RenderEvent
)

// Record type discriminators.
const (
	TypePageView        = model.TypePageView
	TypeAPICall         = model.TypeAPICall
	TypeComponentRender = model.TypeComponentRender
	TypeError           = model.TypeError
	TypeCustomEvent     = model.TypeCustomEvent
)

// Component lifecycle phases.
const (
	RenderMount   = model.RenderMount
	RenderUpdate  = model.RenderUpdate
	RenderUnmount = model.RenderUnmount
)

// Interception primitives.
type (
	History          = intercept.History
	LocationNotifier = intercept.LocationNotifier
	MemoryHistory    = intercept.MemoryHistory
	FetchFunc        = intercept.FetchFunc
	RequestInit      = intercept.RequestInit
)

// ErrInterceptUnavailable reports that a primitive could not be wrapped.
var ErrInterceptUnavailable = intercept.ErrInterceptUnavailable

// NewMemoryHistory returns an in-memory History starting at initial.
func NewMemoryHistory(initial string) *MemoryHistory {
	return intercept.NewMemoryHistory(initial)
}

// NewFetch returns a FetchFunc that performs requests with client.
func NewFetch(client *http.Client) FetchFunc {
	return intercept.NewFetch(client)
}
