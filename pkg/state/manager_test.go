package state

import (
	"context"
	"errors"
	"testing"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flattrace/pkg/clickhouse"
)

// MockClickHouseClient is a mock implementation of clickhouse.ClientInterface.
type MockClickHouseClient struct {
	mock.Mock
}

var _ clickhouse.ClientInterface = (*MockClickHouseClient)(nil)

func (m *MockClickHouseClient) QueryUInt64(ctx context.Context, query string, columnName string) (*uint64, error) {
	args := m.Called(ctx, query, columnName)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	val, _ := args.Get(0).(*uint64)

	return val, args.Error(1)
}

func (m *MockClickHouseClient) Execute(ctx context.Context, query string) error {
	args := m.Called(ctx, query)

	return args.Error(0)
}

func (m *MockClickHouseClient) Insert(ctx context.Context, table string, input proto.Input) error {
	args := m.Called(ctx, table, input)

	return args.Error(0)
}

func (m *MockClickHouseClient) Start() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockClickHouseClient) Stop() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockClickHouseClient) SetNetwork(network string) {
	m.Called(network)
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func newTestManager(client clickhouse.ClientInterface, startBlock uint64) *Manager {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewManagerWithClient(log, client, &Config{Table: "flat_call_blocks", StartBlock: startBlock})
}

func TestNextBlock(t *testing.T) {
	tests := []struct {
		name       string
		last       *uint64
		startBlock uint64
		chainHead  uint64
		want       uint64
		wantErr    error
	}{
		{name: "empty storage uses start block", last: nil, startBlock: 0, chainHead: 100, want: 0},
		{name: "empty storage uses configured start", last: nil, startBlock: 50, chainHead: 100, want: 50},
		{name: "block 0 stored", last: uint64Ptr(0), chainHead: 100, want: 1},
		{name: "resumes after last", last: uint64Ptr(41), chainHead: 100, want: 42},
		{name: "start block ahead of storage", last: uint64Ptr(10), startBlock: 20, chainHead: 100, want: 20},
		{name: "at head", last: uint64Ptr(99), chainHead: 100, want: 100},
		{name: "past head", last: uint64Ptr(100), chainHead: 100, wantErr: ErrNoMoreBlocks},
		{name: "start past head", last: nil, startBlock: 200, chainHead: 100, wantErr: ErrNoMoreBlocks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockClickHouseClient)
			client.On("QueryUInt64", mock.Anything, mock.MatchedBy(func(q string) bool {
				return assert.Contains(t, q, "FROM flat_call_blocks FINAL") &&
					assert.Contains(t, q, "processor = 'flat_call'") &&
					assert.Contains(t, q, "meta_network_name = 'mainnet'")
			}), "block_number").Return(tt.last, nil)

			got, err := newTestManager(client, tt.startBlock).NextBlock(context.Background(), "flat_call", "mainnet", tt.chainHead)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			client.AssertExpectations(t)
		})
	}
}

func TestNextBlock_QueryError(t *testing.T) {
	client := new(MockClickHouseClient)
	queryErr := errors.New("connection refused")
	client.On("QueryUInt64", mock.Anything, mock.Anything, "block_number").Return(nil, queryErr)

	_, err := newTestManager(client, 0).NextBlock(context.Background(), "flat_call", "mainnet", 100)
	require.ErrorIs(t, err, queryErr)
	assert.NotErrorIs(t, err, ErrNoMoreBlocks)
}

func TestMarkBlockProcessed(t *testing.T) {
	client := new(MockClickHouseClient)
	client.On("Execute", mock.Anything, mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "INSERT INTO flat_call_blocks") &&
			assert.Contains(t, q, ", 12345, 'flat_call', 'sepolia')")
	})).Return(nil)

	require.NoError(t, newTestManager(client, 0).MarkBlockProcessed(context.Background(), 12345, "sepolia", "flat_call"))
	client.AssertExpectations(t)
}

func TestMarkBlockProcessed_Error(t *testing.T) {
	client := new(MockClickHouseClient)
	client.On("Execute", mock.Anything, mock.Anything).Return(errors.New("readonly"))

	err := newTestManager(client, 0).MarkBlockProcessed(context.Background(), 1, "mainnet", "flat_call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 1")
}

func TestStart_RetriesUntilConnected(t *testing.T) {
	client := new(MockClickHouseClient)
	client.On("Start").Return(errors.New("dial tcp: connection refused")).Twice()
	client.On("Start").Return(nil).Once()

	require.NoError(t, newTestManager(client, 0).Start(context.Background()))
	client.AssertNumberOfCalls(t, "Start", 3)
}

func TestStart_CreatesTable(t *testing.T) {
	client := new(MockClickHouseClient)
	client.On("Start").Return(nil)
	client.On("Execute", mock.Anything, mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "CREATE TABLE IF NOT EXISTS flat_call_blocks") &&
			assert.Contains(t, q, "ReplacingMergeTree(updated_date_time)")
	})).Return(nil)

	log := logrus.New()
	manager := NewManagerWithClient(log, client, &Config{Table: "flat_call_blocks", CreateTable: true})

	require.NoError(t, manager.Start(context.Background()))
	client.AssertExpectations(t)
}

func TestStart_ContextCancelled(t *testing.T) {
	client := new(MockClickHouseClient)
	client.On("Start").Return(errors.New("dial tcp: connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, newTestManager(client, 0).Start(ctx))
}

func TestSetNetwork(t *testing.T) {
	client := new(MockClickHouseClient)
	client.On("SetNetwork", "hoodi").Return()

	newTestManager(client, 0).SetNetwork("hoodi")
	client.AssertExpectations(t)
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrTableRequired)
	assert.ErrorIs(t, (&Config{Table: "t"}).Validate(), clickhouse.ErrAddrRequired)
	assert.NoError(t, (&Config{Table: "t", Config: clickhouse.Config{Addr: "localhost:9000"}}).Validate())
}
