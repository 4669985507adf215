package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/pkg/glimpse"
)

// runner plays a Scenario the way a real host would behave: it navigates
// through the monitored history, calls the upstream with an instrumented
// client, and lets failures reach the monitor's hooks.
type runner struct {
	mon    *glimpse.Monitor
	client *http.Client
	base   string
	log    logr.Logger
}

func newRunner(mon *glimpse.Monitor, client *http.Client, baseURL string, log logr.Logger) *runner {
	return &runner{mon: mon, client: client, base: strings.TrimRight(baseURL, "/"), log: log.WithName("scenario")}
}

// Run plays sc once, or until ctx is done when sc.Loop is set.
func (r *runner) Run(ctx context.Context, sc Scenario) error {
	for round := 1; ; round++ {
		r.log.V(1).Info("round", "scenario", sc.Name, "round", round)
		for _, st := range sc.Steps {
			if err := ctx.Err(); err != nil {
				return nil
			}
			if err := r.step(ctx, st); err != nil {
				return err
			}
		}
		if !sc.Loop {
			return nil
		}
		if !sleep(ctx, sc.Pause) {
			return nil
		}
	}
}

func (r *runner) step(ctx context.Context, st Step) error {
	switch {
	case st.Navigate != "":
		r.mon.History().PushState(nil, "", st.Navigate)
	case st.Fetch != nil:
		r.fetch(ctx, *st.Fetch)
	case st.Render != nil:
		r.render(ctx, *st.Render)
	case st.Panic != "":
		r.crash(st.Panic)
	case st.Reject != "":
		reason := st.Reject
		r.mon.Go(func() error { return errors.New(reason) })
	case st.Event != nil:
		r.mon.AddCustomEvent(st.Event.Name, st.Event.Details)
	case st.Sleep > 0:
		sleep(ctx, st.Sleep)
	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

// fetch failures are the host's business; the monitor has already
// recorded them.
func (r *runner) fetch(ctx context.Context, f FetchStep) {
	method := f.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if f.Body != "" {
		body = strings.NewReader(f.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+f.Path, body)
	if err != nil {
		r.log.Error(err, "build request", "path", f.Path)
		return
	}
	if f.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Info("request failed", "path", f.Path, "error", err.Error())
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (r *runner) render(ctx context.Context, rs RenderStep) {
	ev := glimpse.RenderEvent(rs.Event)
	if ev == glimpse.RenderUnmount {
		r.mon.Unmount(rs.Component)
		return
	}
	done := r.mon.BeginRender(rs.Component, ev)
	sleep(ctx, rs.Duration)
	done()
}

// crash panics inside a monitored frame and survives it, like a host whose
// top-level handler recovers after the monitor has seen the panic.
func (r *runner) crash(msg string) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Info("host recovered panic", "panic", fmt.Sprint(v))
		}
	}()
	defer r.mon.Recover()
	panic(msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
