package execution_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

// MockDataSource implements execution.DataSource for testing.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) BlockNumber(ctx context.Context) (*uint64, error) {
	args := m.Called(ctx)

	val, _ := args.Get(0).(*uint64)

	return val, args.Error(1)
}

func (m *MockDataSource) TraceBlockCalls(ctx context.Context, number uint64, opts execution.TraceOptions) ([]calltrace.TxCall, error) {
	args := m.Called(ctx, number, opts)

	val, _ := args.Get(0).([]calltrace.TxCall)

	return val, args.Error(1)
}

func (m *MockDataSource) TraceTransactionCalls(ctx context.Context, hash string, opts execution.TraceOptions) (*calltrace.Call, error) {
	args := m.Called(ctx, hash, opts)

	val, _ := args.Get(0).(*calltrace.Call)

	return val, args.Error(1)
}

func (m *MockDataSource) ChainID() int64 {
	args := m.Called()

	val, _ := args.Get(0).(int64)

	return val
}

func (m *MockDataSource) ClientType() string {
	return m.Called().String(0)
}

func (m *MockDataSource) IsSynced() bool {
	return m.Called().Bool(0)
}

func newTestNode(t *testing.T) (*execution.EmbeddedNode, *MockDataSource) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	ds := new(MockDataSource)

	return execution.NewEmbeddedNode(log, "test-node", ds), ds
}

func TestEmbeddedNode_Creation(t *testing.T) {
	node, _ := newTestNode(t)

	require.NotNil(t, node)
	assert.Equal(t, "test-node", node.Name())
	assert.False(t, node.IsReady())
}

func TestEmbeddedNode_StartDoesNotMarkReady(t *testing.T) {
	node, _ := newTestNode(t)

	require.NoError(t, node.Start(context.Background()))
	assert.False(t, node.IsReady())
	require.NoError(t, node.Stop(context.Background()))
}

func TestEmbeddedNode_MarkReady_ExecutesCallbacksInOrder(t *testing.T) {
	node, _ := newTestNode(t)
	ctx := context.Background()

	var (
		order []int
		mu    sync.Mutex
	)

	for i := 1; i <= 3; i++ {
		node.OnReady(ctx, func(_ context.Context) error {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, i)

			return nil
		})
	}

	require.NoError(t, node.MarkReady(ctx))
	assert.True(t, node.IsReady())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmbeddedNode_MarkReady_CallbackError(t *testing.T) {
	node, _ := newTestNode(t)
	ctx := context.Background()

	expectedErr := errors.New("callback failed")
	called := 0

	node.OnReady(ctx, func(_ context.Context) error {
		called++

		return expectedErr
	})
	node.OnReady(ctx, func(_ context.Context) error {
		called++

		return nil
	})

	assert.ErrorIs(t, node.MarkReady(ctx), expectedErr)
	assert.Equal(t, 1, called)
}

func TestEmbeddedNode_DelegatesTraceBlockCalls(t *testing.T) {
	node, ds := newTestNode(t)
	ctx := context.Background()
	opts := execution.DefaultTraceOptions()

	expected := []calltrace.TxCall{
		{TxHash: common.Hash{0x01}, Result: &calltrace.Call{Type: calltrace.CallTypeCall}},
	}

	ds.On("TraceBlockCalls", ctx, uint64(100), opts).Return(expected, nil)

	result, err := node.TraceBlockCalls(ctx, 100, opts)
	require.NoError(t, err)
	assert.Equal(t, expected, result)

	ds.AssertExpectations(t)
}

func TestEmbeddedNode_DelegatesTraceTransactionCalls(t *testing.T) {
	node, ds := newTestNode(t)
	ctx := context.Background()
	opts := execution.DefaultTraceOptions()

	ds.On("TraceTransactionCalls", ctx, "0xabc", opts).Return(nil, errors.New("not found"))

	result, err := node.TraceTransactionCalls(ctx, "0xabc", opts)
	assert.Error(t, err)
	assert.Nil(t, result)

	ds.AssertExpectations(t)
}

func TestEmbeddedNode_DelegatesMetadata(t *testing.T) {
	node, ds := newTestNode(t)

	head := uint64(12345)

	ds.On("BlockNumber", mock.Anything).Return(&head, nil)
	ds.On("ChainID").Return(int64(1))
	ds.On("ClientType").Return("geth/v1.15.11")
	ds.On("IsSynced").Return(true)

	got, err := node.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, head, *got)
	assert.Equal(t, int64(1), node.ChainID())
	assert.Equal(t, "geth/v1.15.11", node.ClientType())
	assert.True(t, node.IsSynced())
}

func TestTraceOptions_TracerConfig(t *testing.T) {
	cfg := execution.DefaultTraceOptions().TracerConfig()

	assert.Equal(t, "callTracer", cfg["tracer"])
	assert.Equal(t, "30s", cfg["timeout"])
	assert.Equal(t, map[string]any{"onlyTopCall": false}, cfg["tracerConfig"])

	cfg = execution.TraceOptions{OnlyTopCall: true}.TracerConfig()

	_, hasTimeout := cfg["timeout"]
	assert.False(t, hasTimeout)
	assert.Equal(t, map[string]any{"onlyTopCall": true}, cfg["tracerConfig"])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      execution.Config
		expectError bool
	}{
		{"valid", execution.Config{Name: "geth", NodeAddress: "http://localhost:8545"}, false},
		{"missing name", execution.Config{NodeAddress: "http://localhost:8545"}, true},
		{"missing address", execution.Config{Name: "geth"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
