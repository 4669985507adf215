package intercept

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultMaxBodySnapshot bounds how much of a body is copied into a record.
const DefaultMaxBodySnapshot = 64 << 10

const truncatedSuffix = "…[truncated]"

// requestBodySnapshot captures an outgoing fetch body without consuming it.
// Only in-memory bodies are read; streams get a placeholder.
func requestBodySnapshot(body any, limit int) string {
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		return truncate(b, limit)
	case []byte:
		return bytesSnapshot(b, limit)
	case json.RawMessage:
		return bytesSnapshot(b, limit)
	case url.Values:
		return truncate(b.Encode(), limit)
	case io.Reader:
		return fmt.Sprintf("[stream body: %T]", b)
	default:
		return fmt.Sprintf("[unsupported body: %T]", b)
	}
}

// httpRequestBodySnapshot captures req's body through GetBody so req.Body
// stays untouched for the transport.
func httpRequestBodySnapshot(req *http.Request, limit int) string {
	if req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	if ct := req.Header.Get("Content-Type"); ct != "" && !isTextual(ct) {
		return fmt.Sprintf("[binary body: %s]", mediaType(ct))
	}
	if req.GetBody == nil {
		return "[stream body]"
	}
	rc, err := req.GetBody()
	if err != nil {
		return "[unreadable body]"
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, int64(limit)+1))
	if err != nil {
		return "[unreadable body]"
	}
	return bytesSnapshot(data, limit)
}

// responseBodyPlaceholder describes a response body that is never read.
// ok is false for textual bodies, which are captured by teeBody instead.
func responseBodyPlaceholder(resp *http.Response) (placeholder string, ok bool) {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return "", true
	}
	ct := resp.Header.Get("Content-Type")
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return fmt.Sprintf("[encoded response body: %s]", enc), true
	}
	if ct == "" {
		return "[response body: unknown content type]", true
	}
	if mediaType(ct) == "text/event-stream" {
		return "[streaming response body]", true
	}
	if !isTextual(ct) {
		return fmt.Sprintf("[non-text response body: %s]", mediaType(ct)), true
	}
	return "", false
}

// teeBody passes the response body through to the caller untouched and
// keeps a copy of the first limit+1 bytes. done runs exactly once, at EOF,
// on a read error, or at Close, whichever comes first.
type teeBody struct {
	rc    io.ReadCloser
	limit int
	size  int64
	done  func(snapshot string)

	mu   sync.Mutex
	buf  []byte
	read int64
	once sync.Once
}

func newTeeBody(rc io.ReadCloser, size int64, limit int, done func(string)) *teeBody {
	return &teeBody{rc: rc, size: size, limit: limit, done: done}
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.mu.Lock()
		b.read += int64(n)
		if room := b.limit + 1 - len(b.buf); room > 0 {
			b.buf = append(b.buf, p[:min(n, room)]...)
		}
		b.mu.Unlock()
	}
	switch {
	case err == io.EOF:
		b.finish(nil, true)
	case err != nil:
		b.finish(err, false)
	}
	return n, err
}

func (b *teeBody) Close() error {
	err := b.rc.Close()
	b.mu.Lock()
	complete := b.size >= 0 && b.read >= b.size
	b.mu.Unlock()
	b.finish(nil, complete)
	return err
}

func (b *teeBody) finish(readErr error, complete bool) {
	b.once.Do(func() {
		b.mu.Lock()
		data := b.buf
		b.mu.Unlock()
		switch {
		case readErr != nil:
			b.done(fmt.Sprintf("[unreadable response body: %v]", readErr))
		case len(data) == 0 && !complete:
			b.done("[response body not read]")
		default:
			b.done(bytesSnapshot(data, b.limit))
		}
	})
}

func bytesSnapshot(b []byte, limit int) string {
	if !utf8.Valid(trimPartialRune(b, limit)) {
		return fmt.Sprintf("[binary body: %d bytes]", len(b))
	}
	return truncate(string(b), limit)
}

// trimPartialRune returns the part of b that would survive truncation to
// limit, without a rune split at the cut.
func trimPartialRune(b []byte, limit int) []byte {
	if len(b) <= limit {
		return b
	}
	b = b[:limit]
	for len(b) > 0 && !utf8.Valid(b) {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + truncatedSuffix
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// isTextual reports whether a content type is safe to snapshot as text.
func isTextual(contentType string) bool {
	mt := mediaType(contentType)
	switch {
	case strings.HasPrefix(mt, "text/"):
		return mt != "text/event-stream"
	case mt == "application/json", strings.HasSuffix(mt, "+json"):
		return true
	case mt == "application/xml", strings.HasSuffix(mt, "+xml"):
		return true
	case mt == "application/x-www-form-urlencoded",
		mt == "application/javascript",
		mt == "application/graphql":
		return true
	}
	return false
}
