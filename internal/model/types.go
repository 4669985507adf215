package model

// LogType discriminates the LogRecord variants.
type LogType string

const (
	TypePageView        LogType = "page_view"
	TypeAPICall         LogType = "api_call"
	TypeComponentRender LogType = "component_render"
	TypeError           LogType = "error"
	TypeCustomEvent     LogType = "custom_event"
)

// AllLogTypes lists every LogType in display order.
var AllLogTypes = []LogType{
	TypePageView,
	TypeAPICall,
	TypeComponentRender,
	TypeError,
	TypeCustomEvent,
}

// Valid reports whether t is a known LogType.
func (t LogType) Valid() bool {
	switch t {
	case TypePageView, TypeAPICall, TypeComponentRender, TypeError, TypeCustomEvent:
		return true
	}
	return false
}

// RenderEvent is the lifecycle phase of a ComponentRender record.
type RenderEvent string

const (
	RenderMount   RenderEvent = "mount"
	RenderUpdate  RenderEvent = "update"
	RenderUnmount RenderEvent = "unmount"
)

func (e RenderEvent) Valid() bool {
	return e == RenderMount || e == RenderUpdate || e == RenderUnmount
}

// LogRecord is one immutable observed event. It is the canonical type for
// storage, transport (socket RPC, HTTP), and display.
//
// Exactly one payload pointer is set, matching Type.
type LogRecord struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // ms since epoch, observation time
	Type      LogType `json:"type"`

	PageView        *PageView        `json:"pageView,omitempty"`
	APICall         *APICall         `json:"apiCall,omitempty"`
	ComponentRender *ComponentRender `json:"componentRender,omitempty"`
	Error           *ErrorEvent      `json:"error,omitempty"`
	CustomEvent     *CustomEvent     `json:"customEvent,omitempty"`
}

// PageView is the payload of a page_view record.
type PageView struct {
	Path     string `json:"path"`
	Referrer string `json:"referrer,omitempty"`
}

// APICall is the payload of an api_call record. StatusCode 0 means the
// request never produced an HTTP response.
type APICall struct {
	URL          string  `json:"url"`
	Method       string  `json:"method"`
	Duration     float64 `json:"duration"` // ms
	StatusCode   int     `json:"statusCode"`
	RequestBody  string  `json:"requestBody,omitempty"`
	ResponseBody string  `json:"responseBody,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// ComponentRender is the payload of a component_render record.
type ComponentRender struct {
	ComponentName string      `json:"componentName"`
	EventType     RenderEvent `json:"eventType"`
	Duration      float64     `json:"duration"` // ms, 0 for unmount
}

// ErrorEvent is the payload of an error record.
type ErrorEvent struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Source  string `json:"source"`
}

// CustomEvent is the payload of a custom_event record.
type CustomEvent struct {
	EventName string         `json:"eventName"`
	Details   map[string]any `json:"details,omitempty"`
}

// Payload returns the variant payload matching r.Type, or nil when it is
// missing.
func (r *LogRecord) Payload() any {
	switch r.Type {
	case TypePageView:
		if r.PageView != nil {
			return r.PageView
		}
	case TypeAPICall:
		if r.APICall != nil {
			return r.APICall
		}
	case TypeComponentRender:
		if r.ComponentRender != nil {
			return r.ComponentRender
		}
	case TypeError:
		if r.Error != nil {
			return r.Error
		}
	case TypeCustomEvent:
		if r.CustomEvent != nil {
			return r.CustomEvent
		}
	}
	return nil
}

// PageVisit is a reconstructed interval between one page view and the next.
// EndTime and Duration are nil while the visit is ongoing.
type PageVisit struct {
	Path      string   `json:"path"`
	StartTime int64    `json:"startTime"`
	EndTime   *int64   `json:"endTime,omitempty"`
	Duration  *int64   `json:"duration,omitempty"`
	LogIDs    []string `json:"logIds"`
}

// Ongoing reports whether the visit has no end yet.
func (v PageVisit) Ongoing() bool { return v.EndTime == nil }

// PageInsight aggregates every visit to one normalized path.
type PageInsight struct {
	Path             string      `json:"path"`
	Visits           []PageVisit `json:"visits"`
	APICalls         int         `json:"apiCalls"`
	Errors           int         `json:"errors"`
	ComponentRenders int         `json:"componentRenders"`
	CustomEvents     int         `json:"customEvents"`
	FirstViewedAt    int64       `json:"firstViewedAt"`
	LastViewedAt     int64       `json:"lastViewedAt"`
	AvgDuration      *float64    `json:"avgDuration,omitempty"` // completed visits only
}

// Summary holds per-type record counts.
type Summary struct {
	Total            int `json:"total"`
	PageViews        int `json:"pageViews"`
	APICalls         int `json:"apiCalls"`
	ComponentRenders int `json:"componentRenders"`
	Errors           int `json:"errors"`
	CustomEvents     int `json:"customEvents"`
	FailedAPICalls   int `json:"failedApiCalls"`
}

// EndpointDuration is the mean API duration for one method+endpoint.
type EndpointDuration struct {
	Endpoint    string  `json:"endpoint"`
	Method      string  `json:"method"`
	Calls       int     `json:"calls"`
	AvgDuration float64 `json:"avgDuration"`
}

// NavigationBucket counts page views in one fixed time bucket.
type NavigationBucket struct {
	Start int64 `json:"start"` // ms since epoch, bucket-aligned
	Count int   `json:"count"`
}

// Status is the dashboard's view of the monitor's control state.
type Status struct {
	Active     bool   `json:"active"`
	Generation uint64 `json:"generation"`
	DBError    string `json:"dbError,omitempty"`
}
