package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.DashboardAPI over a Unix domain socket,
// plus the derived views the dashboard renders.
//
//   Method            Params                                     Result
//   ──────────────    ─────────────────────────────────────────   ──────────────────
//   AllLogs           (none)                                     []LogRecord
//   ClearLogs         (none)                                     bool
//   Start             (none)                                     bool (new state)
//   Stop              (none)                                     bool (new state)
//   Toggle            (none)                                     bool (new state)
//   Status            (none)                                     Status
//   AddCustomEvent    {Name: string, Details: map}               bool
//   Insights          (none)                                     []PageInsight
//   Summary           (none)                                     Summary
//   WaitForLogs       {Since: uint64, TimeoutMs: int64}          uint64
//
// WaitForLogs returns the current generation when the timeout elapses
// without new data; it is not an error.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (storage failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/glimpse/glimpse.sock, falling back to
// ~/.local/state/glimpse/glimpse.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "glimpse", "glimpse.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/glimpse.sock"
	}
	return filepath.Join(home, ".local", "state", "glimpse", "glimpse.sock")
}
