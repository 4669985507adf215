package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/glimpse/internal/model"
)

// callTimeout bounds ordinary calls; WaitForLogs extends it by its own wait.
const callTimeout = 30 * time.Second

// Client calls a Server over a Unix domain socket using JSON-RPC 2.0. Calls
// on one Client are serialized; use a second Client for long-polling.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	var paramsData json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("socketrpc: marshal params: %w", err)
		}
		paramsData = data
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) AllLogs() ([]model.LogRecord, error) {
	var result []model.LogRecord
	err := c.call("AllLogs", nil, &result, callTimeout)
	return result, err
}

func (c *Client) ClearLogs() error {
	return c.call("ClearLogs", nil, nil, callTimeout)
}

func (c *Client) Start() (bool, error) {
	var active bool
	err := c.call("Start", nil, &active, callTimeout)
	return active, err
}

func (c *Client) Stop() (bool, error) {
	var active bool
	err := c.call("Stop", nil, &active, callTimeout)
	return active, err
}

func (c *Client) Toggle() (bool, error) {
	var active bool
	err := c.call("Toggle", nil, &active, callTimeout)
	return active, err
}

func (c *Client) Status() (model.Status, error) {
	var result model.Status
	err := c.call("Status", nil, &result, callTimeout)
	return result, err
}

func (c *Client) AddCustomEvent(name string, details map[string]any) error {
	return c.call("AddCustomEvent", map[string]any{"Name": name, "Details": details}, nil, callTimeout)
}

func (c *Client) Insights() ([]model.PageInsight, error) {
	var result []model.PageInsight
	err := c.call("Insights", nil, &result, callTimeout)
	return result, err
}

func (c *Client) Summary() (model.Summary, error) {
	var result model.Summary
	err := c.call("Summary", nil, &result, callTimeout)
	return result, err
}

// WaitForLogs long-polls until the data generation moves past since or
// wait elapses, and returns the generation seen.
func (c *Client) WaitForLogs(since uint64, wait time.Duration) (uint64, error) {
	var gen uint64
	err := c.call("WaitForLogs", map[string]any{"Since": since, "TimeoutMs": wait.Milliseconds()}, &gen, callTimeout+wait)
	return gen, err
}
