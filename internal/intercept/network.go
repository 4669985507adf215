package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/model"
)

// RequestInit carries the optional per-call settings of a fetch.
// Body may be a string, []byte, json.RawMessage, url.Values or io.Reader.
type RequestInit struct {
	Method string
	Header http.Header
	Body   any
}

// FetchFunc is the host's network primitive. target is a string, *url.URL,
// fmt.Stringer or *http.Request.
type FetchFunc func(ctx context.Context, target any, init *RequestInit) (*http.Response, error)

// NewFetch returns a FetchFunc backed by client. A nil client uses
// http.DefaultClient.
func NewFetch(client *http.Client) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, target any, init *RequestInit) (*http.Response, error) {
		req, err := buildRequest(ctx, target, init)
		if err != nil {
			return nil, err
		}
		return client.Do(req)
	}
}

func buildRequest(ctx context.Context, target any, init *RequestInit) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r, ok := target.(*http.Request); ok {
		req := r.Clone(ctx)
		if init != nil {
			if init.Method != "" {
				req.Method = strings.ToUpper(init.Method)
			}
			for k, vs := range init.Header {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
		}
		return req, nil
	}

	method, rawURL := describeTarget(target, init)
	var body io.Reader
	var contentType string
	if init != nil {
		switch b := init.Body.(type) {
		case nil:
		case string:
			body = strings.NewReader(b)
		case []byte:
			body = bytes.NewReader(b)
		case json.RawMessage:
			body, contentType = bytes.NewReader(b), "application/json"
		case url.Values:
			body, contentType = strings.NewReader(b.Encode()), "application/x-www-form-urlencoded"
		case io.Reader:
			body = b
		default:
			return nil, fmt.Errorf("fetch: unsupported body type %T", b)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if init != nil {
		for k, vs := range init.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// describeTarget extracts method and URL the way the primitive would see
// them. init.Method overrides a request's own method.
func describeTarget(target any, init *RequestInit) (method, rawURL string) {
	switch t := target.(type) {
	case string:
		rawURL = t
	case *url.URL:
		if t != nil {
			rawURL = t.String()
		}
	case *http.Request:
		if t != nil {
			method = t.Method
			if t.URL != nil {
				rawURL = t.URL.String()
			}
		}
	case fmt.Stringer:
		rawURL = t.String()
	default:
		rawURL = fmt.Sprint(target)
	}
	if init != nil && init.Method != "" {
		method = init.Method
	}
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method), rawURL
}

// NetworkConfig tunes a Network.
type NetworkConfig struct {
	// MaxBodySnapshot caps request/response snapshots in bytes.
	MaxBodySnapshot int
	Logger          logr.Logger
}

// Network records every settled network call as an ApiCall.
type Network struct {
	sink    Sink
	maxBody int
	log     logr.Logger

	mu        sync.Mutex
	installed map[*http.Client]http.RoundTripper
}

// NewNetwork creates a network interceptor writing to sink.
func NewNetwork(sink Sink, conf ...NetworkConfig) *Network {
	n := &Network{
		sink:      sink,
		maxBody:   DefaultMaxBodySnapshot,
		log:       logr.Discard(),
		installed: make(map[*http.Client]http.RoundTripper),
	}
	if len(conf) > 0 {
		c := conf[0]
		if c.MaxBodySnapshot > 0 {
			n.maxBody = c.MaxBodySnapshot
		}
		if c.Logger.GetSink() != nil {
			n.log = c.Logger.WithName("network")
		}
	}
	return n
}

// WrapFetch returns fn wrapped so that each invocation produces exactly one
// ApiCall record. The wrapper returns whatever fn returns.
func (n *Network) WrapFetch(fn FetchFunc) FetchFunc {
	return func(ctx context.Context, target any, init *RequestInit) (*http.Response, error) {
		if !n.sink.IsActive() {
			return fn(ctx, target, init)
		}
		method, rawURL := describeTarget(target, init)
		var reqBody string
		if init != nil && init.Body != nil {
			reqBody = requestBodySnapshot(init.Body, n.maxBody)
		} else if r, ok := target.(*http.Request); ok && r != nil {
			reqBody = httpRequestBodySnapshot(r, n.maxBody)
		}
		ctx = withObserved(ctx)
		return n.observe(method, rawURL, reqBody, func() (*http.Response, error) {
			return fn(ctx, target, init)
		})
	}
}

// Install swaps client's transport for a recording one. Each round trip,
// redirect hops included, becomes one ApiCall.
func (n *Network) Install(client *http.Client) error {
	if client == nil {
		return fmt.Errorf("%w: nil http client", ErrInterceptUnavailable)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := client.Transport.(*recordingTransport); ok {
		return fmt.Errorf("%w: client transport already intercepted", ErrInterceptUnavailable)
	}
	n.installed[client] = client.Transport
	client.Transport = n.Transport(client.Transport)
	return nil
}

// Uninstall restores the transport Install replaced. It leaves the client
// alone if someone else has swapped the transport since.
func (n *Network) Uninstall(client *http.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uninstallLocked(client)
}

// UninstallAll restores every client this Network installed into.
func (n *Network) UninstallAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.installed {
		n.uninstallLocked(c)
	}
}

func (n *Network) uninstallLocked(client *http.Client) {
	orig, ok := n.installed[client]
	if !ok {
		return
	}
	delete(n.installed, client)
	if rt, ok := client.Transport.(*recordingTransport); ok && rt.n == n {
		client.Transport = orig
	}
}

// Transport wraps base in a recording RoundTripper. A nil base uses
// http.DefaultTransport.
func (n *Network) Transport(base http.RoundTripper) http.RoundTripper {
	return &recordingTransport{base: base, n: n}
}

type recordingTransport struct {
	base http.RoundTripper
	n    *Network
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if !t.n.sink.IsActive() || isObserved(req.Context()) {
		return base.RoundTrip(req)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return t.n.observe(method, req.URL.String(), httpRequestBodySnapshot(req, t.n.maxBody), func() (*http.Response, error) {
		return base.RoundTrip(req)
	})
}

// observedKey marks a context whose call a wrapped fetch already records,
// so an instrumented client underneath it stays silent.
type observedKey struct{}

func withObserved(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, observedKey{}, true)
}

func isObserved(ctx context.Context) bool {
	v, _ := ctx.Value(observedKey{}).(bool)
	return v
}

// observe times call up to the response headers and records its outcome.
// A textual response body is handed back behind a tee and the record is
// emitted once the caller drains or closes it.
func (n *Network) observe(method, rawURL, reqBody string, call func() (*http.Response, error)) (*http.Response, error) {
	start := time.Now()
	resp, err := call()
	rec := model.APICall{
		URL:         rawURL,
		Method:      method,
		Duration:    float64(time.Since(start)) / float64(time.Millisecond),
		RequestBody: reqBody,
	}
	if err != nil {
		rec.Error = err.Error()
		n.sink.RecordAPICall(rec)
		return resp, err
	}
	if resp == nil {
		n.sink.RecordAPICall(rec)
		return resp, nil
	}
	rec.StatusCode = resp.StatusCode
	if placeholder, ok := responseBodyPlaceholder(resp); ok {
		rec.ResponseBody = placeholder
		n.sink.RecordAPICall(rec)
		return resp, nil
	}
	resp.Body = newTeeBody(resp.Body, resp.ContentLength, n.maxBody, func(snapshot string) {
		rec.ResponseBody = snapshot
		n.sink.RecordAPICall(rec)
	})
	return resp, nil
}
