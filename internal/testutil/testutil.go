// Package testutil provides test helper utilities for unit and integration tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

// RPCHandler answers a single JSON-RPC method. Returning an error produces a
// JSON-RPC error object.
type RPCHandler func(params []json.RawMessage) (any, error)

// RPCServer is a minimal JSON-RPC 2.0 endpoint for unit tests.
type RPCServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]RPCHandler
	calls    map[string]int
	header   http.Header
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// NewRPCServer starts a JSON-RPC server. Unknown methods return a
// "method not found" error. The server is closed when the test completes.
func NewRPCServer(t *testing.T) *RPCServer {
	t.Helper()

	s := &RPCServer{
		handlers: make(map[string]RPCHandler),
		calls:    make(map[string]int),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))

	t.Cleanup(s.Close)

	return s
}

// Handle registers the handler for method.
func (s *RPCServer) Handle(method string, h RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[method] = h
}

// HandleResult registers a handler that always returns result.
func (s *RPCServer) HandleResult(method string, result any) {
	s.Handle(method, func([]json.RawMessage) (any, error) {
		return result, nil
	})
}

// Calls returns how many times method was invoked.
func (s *RPCServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[method]
}

// LastHeader returns the headers of the most recent request.
func (s *RPCServer) LastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.header.Clone()
}

func (s *RPCServer) serve(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	s.mu.Lock()
	s.header = r.Header.Clone()
	s.calls[req.Method]++
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	if !ok {
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method)}
	} else if result, err := h(req.Params); err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(resp)
}

// ClickHouseConnection holds ClickHouse connection details.
type ClickHouseConnection struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Addr returns the ClickHouse address in host:port format.
func (c ClickHouseConnection) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClickHouseContainer creates a real ClickHouse container for integration tests.
// The container is automatically cleaned up when the test completes.
func NewClickHouseContainer(t *testing.T) ClickHouseConnection {
	t.Helper()

	ctx := context.Background()

	c, err := tcclickhouse.Run(ctx, "clickhouse/clickhouse-server:latest",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
	)
	if err != nil {
		t.Fatalf("failed to start clickhouse container: %v", err)
	}

	testcontainers.CleanupContainer(t, c)

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get clickhouse host: %v", err)
	}

	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("failed to get clickhouse port: %v", err)
	}

	return ClickHouseConnection{
		Host:     host,
		Port:     port.Int(),
		Database: "default",
		Username: "default",
		Password: "",
	}
}
