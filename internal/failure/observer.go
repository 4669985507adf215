// Package failure turns panics and unhandled asynchronous errors into Error
// records.
package failure

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Source tags written on Error records.
const (
	SourceUnhandledRejection = "unhandled_rejection"
	sourceGlobalPrefix       = "global_error"
)

const unserializableReason = "Unhandled rejection with unserializable reason"

// Reporter is the slice of the logging facade the observer writes to.
type Reporter interface {
	IsActive() bool
	RecordError(message, stack, source string)
}

// Observer records failures that would otherwise escape the host.
type Observer struct {
	rep   Reporter
	log   logr.Logger
	group errgroup.Group
}

// New creates an Observer writing to rep.
func New(rep Reporter, log ...logr.Logger) *Observer {
	o := &Observer{rep: rep, log: logr.Discard()}
	if len(log) > 0 && log[0].GetSink() != nil {
		o.log = log[0].WithName("failure")
	}
	return o
}

// Recover records an in-flight panic and re-panics with the original value.
// It must be deferred directly:
//
//	defer obs.Recover()
func (o *Observer) Recover() {
	if r := recover(); r != nil {
		o.Repanic(r)
	}
}

// Repanic records a value just taken from recover() and panics with it
// again. It is for deferred functions that wrap Recover, since recover only
// works when called by the deferred function itself.
func (o *Observer) Repanic(value any) {
	o.reportPanic(value, panicSite())
	panic(value)
}

// Go runs fn on its own goroutine. A returned error is reported as an
// unhandled rejection; a panic is recorded and swallowed.
func (o *Observer) Go(fn func() error) {
	o.group.Go(func() error {
		defer o.recoverAsync()
		if err := fn(); err != nil {
			o.ReportRejection(err)
		}
		return nil
	})
}

// Wait blocks until every goroutine started with Go has returned.
func (o *Observer) Wait() {
	_ = o.group.Wait()
}

func (o *Observer) recoverAsync() {
	r := recover()
	if r == nil {
		return
	}
	o.reportPanic(r, panicSite())
	o.log.Info("recovered panic in observed goroutine", "panic", fmt.Sprint(r))
}

// ReportPanic records a panic value the host recovered itself.
func (o *Observer) ReportPanic(value any) {
	o.reportPanic(value, callerSite(2))
}

func (o *Observer) reportPanic(value any, site string) {
	if !o.rep.IsActive() {
		return
	}
	o.rep.RecordError(describe(value), string(debug.Stack()), site)
}

// Report records a handled error under a caller-chosen source tag.
func (o *Observer) Report(err error, source string) {
	if err == nil || !o.rep.IsActive() {
		return
	}
	msg, stack := errorText(err)
	o.rep.RecordError(msg, stack, source)
}

// ReportRejection records reason as an unhandled rejection. Errors keep
// their message and, when "%+v" adds detail, that detail as the stack.
// Strings are used verbatim, anything else is JSON encoded. It never panics.
func (o *Observer) ReportRejection(reason any) {
	if !o.rep.IsActive() {
		return
	}
	msg, stack := rejectionText(reason)
	o.rep.RecordError(msg, stack, SourceUnhandledRejection)
}

func rejectionText(reason any) (msg, stack string) {
	defer func() {
		if recover() != nil {
			msg, stack = unserializableReason, ""
		}
	}()
	switch v := reason.(type) {
	case error:
		return errorText(v)
	case string:
		return v, ""
	}
	b, err := json.Marshal(reason)
	if err != nil {
		return unserializableReason, ""
	}
	return string(b), ""
}

func errorText(err error) (msg, stack string) {
	msg = err.Error()
	if detail := fmt.Sprintf("%+v", err); detail != msg {
		stack = detail
	}
	return msg, stack
}

func describe(value any) (msg string) {
	defer func() {
		if recover() != nil {
			msg = fmt.Sprintf("panic: %T", value)
		}
	}()
	switch v := value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	}
	return fmt.Sprint(value)
}

// panicSite locates the frame that panicked. It is called from a deferred
// function, so the first non-runtime frame after runtime.gopanic is the
// panicking one.
func panicSite() string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	inPanic := false
	for {
		f, more := frames.Next()
		switch {
		case f.Function == "runtime.gopanic":
			inPanic = true
		case inPanic && !strings.HasPrefix(f.Function, "runtime."):
			return formatSource(f.File, f.Line)
		}
		if !more {
			return formatSource("", 0)
		}
	}
}

func callerSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return formatSource("", 0)
	}
	return formatSource(file, line)
}

// formatSource renders global_error:<file>:<line>:<col>. Go frames carry no
// column, so col is always 0.
func formatSource(file string, line int) string {
	if file == "" {
		file = "unknown"
	} else {
		file = filepath.Base(file)
	}
	return fmt.Sprintf("%s:%s:%d:%d", sourceGlobalPrefix, file, line, 0)
}
