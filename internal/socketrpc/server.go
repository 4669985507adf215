package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/analytics"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024

	// maxWait caps a WaitForLogs long-poll below the client's call deadline.
	maxWait = 25 * time.Second
)

// Server exposes a model.DashboardAPI over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	api        model.DashboardAPI
	log        logr.Logger
	listener   net.Listener
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopOnce sync.Once
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, api model.DashboardAPI, log ...logr.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		socketPath: socketPath,
		api:        api,
		log:        logr.Discard(),
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
	if len(log) > 0 && log[0].GetSink() != nil {
		s.log = log[0].WithName("socketrpc")
	}
	return s
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener and open connections, waits for handlers to
// return, and removes the socket file. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.log.Error(err, "accept failed")
				// Keep serving on transient errors such as fd exhaustion.
				continue
			}
		}
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: codeParseError, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	ctx := s.ctx

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "AllLogs":
		return marshalResult(s.api.AllLogs(ctx))

	case "ClearLogs":
		return marshalResult(true, s.api.ClearLogs(ctx))

	case "Start":
		s.api.Start()
		return marshalResult(s.api.IsActive(), nil)

	case "Stop":
		s.api.Stop()
		return marshalResult(s.api.IsActive(), nil)

	case "Toggle":
		return marshalResult(s.api.Toggle(), nil)

	case "Status":
		return marshalResult(s.api.Status(), nil)

	case "AddCustomEvent":
		var p struct {
			Name    string
			Details map[string]any
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if p.Name == "" {
			return invalidParams(fmt.Errorf("Name is required"))
		}
		s.api.AddCustomEvent(p.Name, p.Details)
		return marshalResult(true, nil)

	case "Insights":
		logs, err := s.api.AllLogs(ctx)
		if err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(analytics.DeriveInsights(logs), nil)

	case "Summary":
		logs, err := s.api.AllLogs(ctx)
		if err != nil {
			return marshalResult(nil, err)
		}
		return marshalResult(analytics.Summarize(logs), nil)

	case "WaitForLogs":
		var p struct {
			Since     uint64
			TimeoutMs int64
		}
		// Allow empty/null params: wait from generation 0 with the cap.
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		wait := time.Duration(p.TimeoutMs) * time.Millisecond
		if wait <= 0 || wait > maxWait {
			wait = maxWait
		}
		wctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		gen, err := s.api.WaitForLogs(wctx, p.Since)
		if err != nil {
			if s.ctx.Err() != nil {
				return marshalResult(nil, fmt.Errorf("server shutting down"))
			}
			return marshalResult(s.api.Generation(), nil)
		}
		return marshalResult(gen, nil)

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
