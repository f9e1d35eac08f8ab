package clickhouse

import (
	"context"
	"sync"

	"github.com/ClickHouse/ch-go/proto"
)

var _ ClientInterface = (*MockClient)(nil)

// MockClient is an in-memory ClientInterface for tests. Unset function fields
// fall back to succeeding with empty results.
type MockClient struct {
	StartFunc       func() error
	StopFunc        func() error
	ExecuteFunc     func(ctx context.Context, query string) error
	QueryUInt64Func func(ctx context.Context, query string, column string) (*uint64, error)
	InsertFunc      func(ctx context.Context, table string, input proto.Input) error

	mu      sync.Mutex
	calls   []MockCall
	network string
}

// MockCall records a single method invocation.
type MockCall struct {
	Method string
	Args   []any
}

// NewMockClient creates a mock whose methods all succeed.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Method: method, Args: args})
}

func (m *MockClient) Start() error {
	m.record("Start")

	if m.StartFunc != nil {
		return m.StartFunc()
	}

	return nil
}

func (m *MockClient) Stop() error {
	m.record("Stop")

	if m.StopFunc != nil {
		return m.StopFunc()
	}

	return nil
}

func (m *MockClient) SetNetwork(network string) {
	m.record("SetNetwork", network)

	m.mu.Lock()
	m.network = network
	m.mu.Unlock()
}

// Network returns the last value passed to SetNetwork.
func (m *MockClient) Network() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.network
}

func (m *MockClient) Execute(ctx context.Context, query string) error {
	m.record("Execute", query)

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, query)
	}

	return nil
}

func (m *MockClient) QueryUInt64(ctx context.Context, query string, column string) (*uint64, error) {
	m.record("QueryUInt64", query, column)

	if m.QueryUInt64Func != nil {
		return m.QueryUInt64Func(ctx, query, column)
	}

	return nil, nil
}

func (m *MockClient) Insert(ctx context.Context, table string, input proto.Input) error {
	m.record("Insert", table, input)

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, table, input)
	}

	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)

	return out
}

// CallCount returns how many times method was called.
func (m *MockClient) CallCount(method string) int {
	count := 0

	for _, call := range m.Calls() {
		if call.Method == method {
			count++
		}
	}

	return count
}

// LastCall returns the most recent call of method and whether one exists.
func (m *MockClient) LastCall(method string) (MockCall, bool) {
	calls := m.Calls()

	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i], true
		}
	}

	return MockCall{}, false
}

// Reset clears all recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = nil
}
