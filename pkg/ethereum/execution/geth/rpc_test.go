package geth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flattrace/internal/testutil"
	"github.com/ethpandaops/flattrace/internal/version"
	"github.com/ethpandaops/flattrace/pkg/calltrace"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

const blockTraceFixture = `[
  {
    "txHash": "0x1111111111111111111111111111111111111111111111111111111111111111",
    "result": {
      "type": "CALL",
      "from": "0x00000000000000000000000000000000000000aa",
      "to": "0x00000000000000000000000000000000000000bb",
      "gas": "0x5208",
      "gasUsed": "0x5208",
      "value": "0x0",
      "input": "0x",
      "calls": [
        {"type": "STATICCALL", "from": "0x00000000000000000000000000000000000000bb", "to": "0x00000000000000000000000000000000000000cc", "gas": "0x10", "gasUsed": "0x1", "input": "0x"}
      ]
    }
  }
]`

func startedNode(t *testing.T, srv *testutil.RPCServer) *RPCNode {
	t.Helper()

	srv.HandleResult("web3_clientVersion", "Geth/v1.15.11-stable")
	srv.HandleResult("eth_chainId", "0x1")
	srv.HandleResult("eth_syncing", false)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	node := NewRPCNode(log, &execution.Config{
		Name:        "geth-test",
		NodeAddress: srv.URL,
		NodeHeaders: map[string]string{"Authorization": "Bearer test"},
	})

	ready := make(chan struct{})

	node.OnReady(context.Background(), func(context.Context) error {
		close(ready)

		return nil
	})

	require.NoError(t, node.Start(context.Background()))

	t.Cleanup(func() { _ = node.Stop(context.Background()) })

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("node did not become ready")
	}

	return node
}

func TestRPCNode_NotStarted(t *testing.T) {
	node := NewRPCNode(logrus.New(), &execution.Config{Name: "idle", NodeAddress: "http://localhost:1"})

	_, err := node.BlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = node.TraceBlockCalls(context.Background(), 1, execution.DefaultTraceOptions())
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = node.TraceTransactionCalls(context.Background(), "0x01", execution.DefaultTraceOptions())
	assert.ErrorIs(t, err, ErrNotStarted)

	assert.Zero(t, node.ChainID())
	assert.Empty(t, node.ClientType())
	assert.False(t, node.IsSynced())
}

func TestRPCNode_Metadata(t *testing.T) {
	node := startedNode(t, testutil.NewRPCServer(t))

	assert.Equal(t, "geth-test", node.Name())
	assert.Equal(t, int64(1), node.ChainID())
	assert.Equal(t, "Geth/v1.15.11-stable", node.ClientType())
	assert.True(t, node.IsSynced())
	assert.NotNil(t, node.Metadata())
}

func TestRPCNode_BlockNumber(t *testing.T) {
	srv := testutil.NewRPCServer(t)
	srv.HandleResult("eth_blockNumber", "0x2a")

	node := startedNode(t, srv)

	head, err := node.BlockNumber(context.Background())
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, uint64(42), *head)
}

func TestRPCNode_TraceBlockCalls(t *testing.T) {
	srv := testutil.NewRPCServer(t)

	var gotParams []json.RawMessage

	srv.Handle("debug_traceBlockByNumber", func(params []json.RawMessage) (any, error) {
		gotParams = params

		return json.RawMessage(blockTraceFixture), nil
	})

	node := startedNode(t, srv)

	txs, err := node.TraceBlockCalls(context.Background(), 100, execution.TraceOptions{Timeout: 10 * time.Second})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	require.Len(t, gotParams, 2)
	assert.JSONEq(t, `"0x64"`, string(gotParams[0]))
	assert.JSONEq(t, `{"tracer":"callTracer","tracerConfig":{"onlyTopCall":false},"timeout":"10s"}`, string(gotParams[1]))

	flat := calltrace.FlattenTxCalls(txs)
	require.Len(t, flat, 2)
	assert.Equal(t, []int{0}, flat[0].TraceAddress)
	assert.Equal(t, 1, flat[0].Subtraces)
	assert.Equal(t, []int{0, 0}, flat[1].TraceAddress)
	assert.Equal(t, calltrace.CallTypeStaticCall, flat[1].Action.Type)
}

func TestRPCNode_TraceTransactionCalls(t *testing.T) {
	srv := testutil.NewRPCServer(t)

	srv.Handle("debug_traceTransaction", func(params []json.RawMessage) (any, error) {
		var hash string
		if err := json.Unmarshal(params[0], &hash); err != nil {
			return nil, err
		}

		switch hash {
		case "0x01":
		case "0x03":
			return nil, errors.New("transaction 0x03 not found")
		case "0x04":
			return nil, errors.New("tracing failed: insufficient funds")
		default:
			return nil, nil
		}

		return map[string]any{
			"type":    "CREATE",
			"from":    "0x00000000000000000000000000000000000000aa",
			"gas":     "0x100",
			"gasUsed": "0x80",
			"input":   "0x6000",
			"output":  "0x",
		}, nil
	})

	node := startedNode(t, srv)

	call, err := node.TraceTransactionCalls(context.Background(), "0x01", execution.DefaultTraceOptions())
	require.NoError(t, err)
	assert.Equal(t, calltrace.CallTypeCreate, call.Type)
	assert.Nil(t, call.To)

	// An absent result and a "not found" error both mean an unknown hash.
	_, err = node.TraceTransactionCalls(context.Background(), "0x02", execution.DefaultTraceOptions())
	assert.ErrorIs(t, err, execution.ErrTransactionNotFound)

	_, err = node.TraceTransactionCalls(context.Background(), "0x03", execution.DefaultTraceOptions())
	assert.ErrorIs(t, err, execution.ErrTransactionNotFound)

	_, err = node.TraceTransactionCalls(context.Background(), "0x04", execution.DefaultTraceOptions())
	require.Error(t, err)
	assert.NotErrorIs(t, err, execution.ErrTransactionNotFound)
}

func TestRPCNode_TraceError(t *testing.T) {
	srv := testutil.NewRPCServer(t)
	node := startedNode(t, srv)

	_, err := node.TraceBlockCalls(context.Background(), 1, execution.DefaultTraceOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to trace block 1")
}

func TestWithTraceTimeout(t *testing.T) {
	ctx, cancel := withTraceTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(defaultTraceTimeout), deadline, time.Second)

	parent, parentCancel := context.WithTimeout(context.Background(), time.Second)
	defer parentCancel()

	same, sameCancel := withTraceTimeout(parent)
	defer sameCancel()

	assert.Equal(t, parent, same)
}

func TestRPCNode_SendsHeaders(t *testing.T) {
	srv := testutil.NewRPCServer(t)
	srv.HandleResult("eth_blockNumber", "0x1")

	node := startedNode(t, srv)

	_, err := node.BlockNumber(context.Background())
	require.NoError(t, err)

	header := srv.LastHeader()
	assert.Equal(t, "Bearer test", header.Get("Authorization"))
	assert.Equal(t, version.UserAgent(), header.Get("User-Agent"))
}
