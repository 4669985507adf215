package intercept

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/glimpse/internal/model"
)

type renderCall struct {
	name     string
	event    model.RenderEvent
	duration time.Duration
}

// fakeSink collects what the interceptors emit.
type fakeSink struct {
	active atomic.Bool

	mu      sync.Mutex
	views   []model.PageView
	calls   []model.APICall
	renders []renderCall
}

func newFakeSink(active bool) *fakeSink {
	s := &fakeSink{}
	s.active.Store(active)
	return s
}

func (s *fakeSink) IsActive() bool { return s.active.Load() }

func (s *fakeSink) RecordPageView(path, referrer string) {
	if !s.IsActive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, model.PageView{Path: path, Referrer: referrer})
}

func (s *fakeSink) RecordAPICall(call model.APICall) {
	if !s.IsActive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSink) RecordComponentRender(name string, event model.RenderEvent, d time.Duration) {
	if !s.IsActive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, renderCall{name, event, d})
}

func (s *fakeSink) apiCalls() []model.APICall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.APICall(nil), s.calls...)
}

func (s *fakeSink) pageViews() []model.PageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PageView(nil), s.views...)
}

func (s *fakeSink) renderCalls() []renderCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]renderCall(nil), s.renders...)
}
