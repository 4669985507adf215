package intercept

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/glimpse/internal/model"
)

// History is the host's navigation primitive.
type History interface {
	PushState(state any, title, url string)
	ReplaceState(state any, title, url string)
	Location() string
}

// LocationNotifier is implemented by histories that can change location on
// their own (back, forward, hash changes).
type LocationNotifier interface {
	OnLocationChange(fn func()) (cancel func())
}

// freezer is implemented by histories that refuse to be wrapped.
type freezer interface {
	Frozen() bool
}

// Navigation wraps a History and records a PageView whenever the normalized
// path changes. It is itself a History; hosts route pushes through it.
type Navigation struct {
	sink     Sink
	hist     History
	cancel   func()
	detached atomic.Bool

	mu      sync.Mutex
	current string
}

var _ History = (*Navigation)(nil)

// NewNavigation wraps hist. The current location is recorded as the first
// page view. Location changes signalled through LocationNotifier are
// observed until Close.
func NewNavigation(sink Sink, hist History) (*Navigation, error) {
	if hist == nil {
		return nil, fmt.Errorf("%w: nil history", ErrInterceptUnavailable)
	}
	if f, ok := hist.(freezer); ok && f.Frozen() {
		return nil, fmt.Errorf("%w: history is frozen", ErrInterceptUnavailable)
	}
	n := &Navigation{sink: sink, hist: hist}
	if ln, ok := hist.(LocationNotifier); ok {
		n.cancel = ln.OnLocationChange(n.check)
	}
	n.check()
	return n, nil
}

// PushState forwards to the wrapped history, then records the change.
func (n *Navigation) PushState(state any, title, url string) {
	n.hist.PushState(state, title, url)
	n.check()
}

// ReplaceState forwards to the wrapped history, then records the change.
func (n *Navigation) ReplaceState(state any, title, url string) {
	n.hist.ReplaceState(state, title, url)
	n.check()
}

// Location returns the wrapped history's location.
func (n *Navigation) Location() string { return n.hist.Location() }

// Unwrap returns the wrapped history.
func (n *Navigation) Unwrap() History { return n.hist }

// CurrentPath returns the last path seen.
func (n *Navigation) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close stops recording. The wrapper keeps forwarding calls.
func (n *Navigation) Close() {
	if n.detached.Swap(true) {
		return
	}
	if n.cancel != nil {
		n.cancel()
	}
}

// check compares the current location with the last one seen and emits a
// PageView on change. The tracked path moves even while monitoring is
// inactive so referrers stay accurate.
func (n *Navigation) check() {
	if n.detached.Load() {
		return
	}
	path := model.NormalizePath(n.hist.Location())
	n.mu.Lock()
	prev := n.current
	if path == prev {
		n.mu.Unlock()
		return
	}
	n.current = path
	n.mu.Unlock()
	n.sink.RecordPageView(path, prev)
}

// MemoryHistory is an in-memory history stack. Back, Forward, Go and SetHash
// notify location listeners; PushState and ReplaceState do not.
type MemoryHistory struct {
	mu        sync.Mutex
	entries   []string
	index     int
	frozen    bool
	listeners map[int]func()
	nextID    int
}

var (
	_ History          = (*MemoryHistory)(nil)
	_ LocationNotifier = (*MemoryHistory)(nil)
)

// NewMemoryHistory creates a history positioned at initial ("/" if empty).
func NewMemoryHistory(initial string) *MemoryHistory {
	if initial == "" {
		initial = "/"
	}
	return &MemoryHistory{
		entries:   []string{initial},
		listeners: make(map[int]func()),
	}
}

// PushState appends url after the current entry, dropping forward entries.
func (h *MemoryHistory) PushState(_ any, _ string, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := resolve(h.entries[h.index], url)
	h.entries = append(h.entries[:h.index+1], next)
	h.index++
}

// ReplaceState overwrites the current entry.
func (h *MemoryHistory) ReplaceState(_ any, _ string, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = resolve(h.entries[h.index], url)
}

// Location returns the current entry.
func (h *MemoryHistory) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

// Back moves one entry back.
func (h *MemoryHistory) Back() { h.Go(-1) }

// Forward moves one entry forward.
func (h *MemoryHistory) Forward() { h.Go(1) }

// Go moves delta entries, clamped to the stack. Listeners fire on a move.
func (h *MemoryHistory) Go(delta int) {
	h.mu.Lock()
	idx := min(max(h.index+delta, 0), len(h.entries)-1)
	moved := idx != h.index
	h.index = idx
	h.mu.Unlock()
	if moved {
		h.notify()
	}
}

// SetHash pushes the current entry with a new fragment and notifies.
func (h *MemoryHistory) SetHash(hash string) {
	h.mu.Lock()
	cur := h.entries[h.index]
	if i := strings.IndexByte(cur, '#'); i >= 0 {
		cur = cur[:i]
	}
	h.entries = append(h.entries[:h.index+1], cur+"#"+strings.TrimPrefix(hash, "#"))
	h.index++
	h.mu.Unlock()
	h.notify()
}

// OnLocationChange registers fn for location changes made by the history
// itself.
func (h *MemoryHistory) OnLocationChange(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Freeze marks the history as not wrappable.
func (h *MemoryHistory) Freeze() {
	h.mu.Lock()
	h.frozen = true
	h.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (h *MemoryHistory) Frozen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frozen
}

func (h *MemoryHistory) notify() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// resolve applies url to cur the way a browser resolves a same-document
// push: "" keeps the location, "?q" and "#h" replace only that part.
func resolve(cur, url string) string {
	switch {
	case url == "":
		return cur
	case strings.HasPrefix(url, "#"):
		if i := strings.IndexByte(cur, '#'); i >= 0 {
			cur = cur[:i]
		}
		return cur + url
	case strings.HasPrefix(url, "?"):
		if i := strings.IndexAny(cur, "?#"); i >= 0 {
			cur = cur[:i]
		}
		return cur + url
	}
	return url
}
