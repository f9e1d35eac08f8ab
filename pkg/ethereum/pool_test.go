package ethereum_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
	"github.com/ethpandaops/flattrace/pkg/ethereum"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

// staticSource serves fixed call trees.
type staticSource struct {
	blocks map[uint64][]calltrace.TxCall
	txs    map[string]*calltrace.Call
}

func (s *staticSource) BlockNumber(context.Context) (*uint64, error) {
	var head uint64

	for n := range s.blocks {
		head = max(head, n)
	}

	return &head, nil
}

func (s *staticSource) TraceBlockCalls(_ context.Context, number uint64, _ execution.TraceOptions) ([]calltrace.TxCall, error) {
	return s.blocks[number], nil
}

func (s *staticSource) TraceTransactionCalls(_ context.Context, hash string, _ execution.TraceOptions) (*calltrace.Call, error) {
	call, ok := s.txs[hash]
	if !ok {
		return nil, execution.ErrTransactionNotFound
	}

	return call, nil
}

func (s *staticSource) ChainID() int64     { return 1 }
func (s *staticSource) ClientType() string { return "static" }
func (s *staticSource) IsSynced() bool     { return true }

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func rpcConfig(addresses ...string) *ethereum.Config {
	cfg := &ethereum.Config{}

	for i, addr := range addresses {
		cfg.Execution = append(cfg.Execution, &execution.Config{
			Name:        "test-node-" + string(rune('a'+i)),
			NodeAddress: addr,
		})
	}

	return cfg
}

func TestPool_Creation(t *testing.T) {
	pool := ethereum.NewPool(newLogger(), "test", rpcConfig("http://localhost:8545", "http://localhost:8546"))
	require.NotNil(t, pool)
	assert.True(t, pool.HasExecutionNodes())
	assert.False(t, pool.HasHealthyNodes())
}

func TestPool_EmptyConfig(t *testing.T) {
	pool := ethereum.NewPool(newLogger(), "test", &ethereum.Config{})
	require.NotNil(t, pool)
	assert.False(t, pool.HasExecutionNodes())
	assert.False(t, pool.HasHealthyNodes())
	assert.Nil(t, pool.HealthyNode())
	assert.Empty(t, pool.HealthyNodes())
}

func TestPool_StartStop(t *testing.T) {
	pool := ethereum.NewPool(newLogger(), "test", rpcConfig("http://localhost:8545"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pool.Start(ctx)

	time.Sleep(100 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()

	assert.NoError(t, pool.Stop(stopCtx))
}

func TestPool_WaitForHealthyNode_NoNodes(t *testing.T) {
	pool := ethereum.NewPool(newLogger(), "test", &ethereum.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	node, err := pool.WaitForHealthyNode(ctx)
	assert.ErrorIs(t, err, ethereum.ErrNoExecutionNodes)
	assert.Nil(t, node)
}

func TestPool_WaitForHealthyNode_Timeout(t *testing.T) {
	source := &staticSource{}
	node := execution.NewEmbeddedNode(newLogger(), "never-ready", source)
	pool := ethereum.NewPoolWithNodes(newLogger(), "test", []execution.Node{node}, nil)

	pool.Start(context.Background())

	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := pool.WaitForHealthyNode(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, got)
	assert.Greater(t, time.Since(start), 150*time.Millisecond)
}

func TestPool_EmbeddedNodeBecomesHealthy(t *testing.T) {
	source := &staticSource{}
	node := execution.NewEmbeddedNode(newLogger(), "embedded", source)
	pool := ethereum.NewPoolWithNodes(newLogger(), "test", []execution.Node{node}, nil)

	ctx := context.Background()

	pool.Start(ctx)

	t.Cleanup(func() { _ = pool.Stop(ctx) })

	assert.False(t, pool.HasHealthyNodes())

	require.NoError(t, node.MarkReady(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	got, err := pool.WaitForHealthyNode(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "embedded", got.Name())
	assert.Len(t, pool.HealthyNodes(), 1)
}

func TestPool_TraceRouting(t *testing.T) {
	to := common.HexToAddress("0x2")
	tree := &calltrace.Call{
		Type:  calltrace.CallTypeCall,
		From:  common.HexToAddress("0x1"),
		To:    &to,
		Calls: []calltrace.Call{{Type: calltrace.CallTypeStaticCall, From: to}},
	}
	hash := common.HexToHash("0xabc")

	source := &staticSource{
		blocks: map[uint64][]calltrace.TxCall{7: {{TxHash: hash, Result: tree}}},
		txs:    map[string]*calltrace.Call{hash.Hex(): tree},
	}
	node := execution.NewEmbeddedNode(newLogger(), "embedded", source)
	pool := ethereum.NewPoolWithNodes(newLogger(), "test", []execution.Node{node}, nil)

	ctx := context.Background()

	_, err := pool.TraceBlockCalls(ctx, 7)
	assert.ErrorIs(t, err, ethereum.ErrNoHealthyNode)

	pool.Start(ctx)

	t.Cleanup(func() { _ = pool.Stop(ctx) })

	require.NoError(t, node.MarkReady(ctx))

	txs, err := pool.TraceBlockCalls(ctx, 7)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Len(t, calltrace.FlattenTxCalls(txs), 2)

	call, err := pool.TraceTransactionCalls(ctx, hash.Hex())
	require.NoError(t, err)
	assert.Same(t, tree, call)

	_, err = pool.TraceTransactionCalls(ctx, "0xmissing")
	assert.ErrorIs(t, err, execution.ErrTransactionNotFound)
}

func TestPool_ConcurrentAccess(t *testing.T) {
	pool := ethereum.NewPool(newLogger(), "test", rpcConfig("http://localhost:8545", "http://localhost:8546"))

	pool.Start(context.Background())

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		assert.NoError(t, pool.Stop(stopCtx))
	}()

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 5 {
				pool.HasHealthyNodes()
				pool.HealthyNode()
				pool.HealthyNodes()
				time.Sleep(1 * time.Millisecond)
			}
		}()
	}

	wg.Wait()
}

func TestPool_Network(t *testing.T) {
	testCases := []struct {
		name         string
		override     *string
		chainID      int64
		expectedName string
		expectError  bool
	}{
		{name: "with override", override: stringPtr("custom-network"), chainID: 1, expectedName: "custom-network"},
		{name: "without override mainnet", chainID: 1, expectedName: "mainnet"},
		{name: "without override hoodi", chainID: 560048, expectedName: "hoodi"},
		{name: "without override unknown", chainID: 999999, expectError: true},
		{name: "empty override", override: stringPtr(""), chainID: 1, expectedName: "mainnet"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := rpcConfig("http://localhost:8545")
			config.NetworkName = tc.override

			network, err := ethereum.NewPool(newLogger(), "test", config).Network(tc.chainID)

			if tc.expectError {
				assert.ErrorIs(t, err, ethereum.ErrUnsupportedChainID)
				assert.Nil(t, network)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedName, network.Name)
			assert.Equal(t, tc.chainID, network.ID)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, (&ethereum.Config{}).Validate(), ethereum.ErrNoExecutionNodes)

	cfg := rpcConfig("http://localhost:8545")
	require.NoError(t, cfg.Validate())

	cfg.Trace.Timeout = "soon"
	assert.Error(t, cfg.Validate())

	cfg.Trace.Timeout = "45s"
	cfg.Trace.OnlyTopCall = true

	opts, err := cfg.Trace.Options()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, opts.Timeout)
	assert.True(t, opts.OnlyTopCall)

	cfg.Execution = append(cfg.Execution, &execution.Config{Name: "broken"})
	assert.Error(t, cfg.Validate())
}

func stringPtr(s string) *string {
	return &s
}
