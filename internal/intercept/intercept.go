// Package intercept wraps the host's network and navigation primitives so
// that every call is observed and recorded without changing what the
// caller sees.
package intercept

import (
	"errors"
	"time"

	"github.com/tinytelemetry/glimpse/internal/model"
)

// ErrInterceptUnavailable reports that a primitive cannot be wrapped. The
// caller should log it and leave that channel unmonitored.
var ErrInterceptUnavailable = errors.New("intercept: primitive cannot be wrapped")

// Sink is the slice of the logging facade the interceptors need. Record is
// already a no-op while monitoring is inactive; IsActive lets interceptors
// skip snapshot work entirely.
type Sink interface {
	IsActive() bool
	RecordPageView(path, referrer string)
	RecordAPICall(call model.APICall)
	RecordComponentRender(name string, event model.RenderEvent, duration time.Duration)
}
