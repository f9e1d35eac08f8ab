package geth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
	pcommon "github.com/ethpandaops/flattrace/pkg/common"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

const (
	statusError   = "error"
	statusSuccess = "success"

	defaultTraceTimeout = 60 * time.Second

	methodNotFoundCode = -32601
)

// ErrNotStarted is returned when a call is made before Start.
var ErrNotStarted = errors.New("execution node not started")

// observe records duration and outcome of an RPC call.
func (n *RPCNode) observe(method string, start time.Time, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	chainID := strconv.FormatInt(n.ChainID(), 10)

	pcommon.RPCCallDuration.WithLabelValues(chainID, n.config.Name, method, status).Observe(time.Since(start).Seconds())
	pcommon.RPCCallsTotal.WithLabelValues(chainID, n.config.Name, method, status).Inc()
}

// withTraceTimeout adds a timeout if the context doesn't already have one.
func withTraceTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, defaultTraceTimeout)
}

func (n *RPCNode) blockNumber(ctx context.Context) (*uint64, error) {
	n.mu.RLock()
	client := n.client
	n.mu.RUnlock()

	if client == nil {
		return nil, ErrNotStarted
	}

	start := time.Now()

	blockNumber, err := client.BlockNumber(ctx)

	n.observe("eth_blockNumber", start, err)

	if err != nil {
		return nil, err
	}

	return &blockNumber, nil
}

// traceBlockCalls runs debug_traceBlockByNumber with the call tracer.
func (n *RPCNode) traceBlockCalls(ctx context.Context, number uint64, opts execution.TraceOptions) ([]calltrace.TxCall, error) {
	n.mu.RLock()
	rpcClient := n.rpcClient
	n.mu.RUnlock()

	if rpcClient == nil {
		return nil, ErrNotStarted
	}

	ctx, cancel := withTraceTimeout(ctx)
	defer cancel()

	var result []calltrace.TxCall

	start := time.Now()

	err := rpcClient.CallContext(ctx, &result, "debug_traceBlockByNumber", hexutil.EncodeUint64(number), opts.TracerConfig())

	n.observe("debug_traceBlockByNumber", start, err)

	if err != nil {
		return nil, fmt.Errorf("failed to trace block %d: %w", number, err)
	}

	return result, nil
}

// traceTransactionCalls runs debug_traceTransaction with the call tracer.
func (n *RPCNode) traceTransactionCalls(ctx context.Context, hash string, opts execution.TraceOptions) (*calltrace.Call, error) {
	n.mu.RLock()
	rpcClient := n.rpcClient
	n.mu.RUnlock()

	if rpcClient == nil {
		return nil, ErrNotStarted
	}

	ctx, cancel := withTraceTimeout(ctx)
	defer cancel()

	var result *calltrace.Call

	start := time.Now()

	err := rpcClient.CallContext(ctx, &result, "debug_traceTransaction", hash, opts.TracerConfig())

	n.observe("debug_traceTransaction", start, err)

	if isNotFound(err) {
		return nil, fmt.Errorf("transaction %s: %w", hash, execution.ErrTransactionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to trace transaction %s: %w", hash, err)
	}

	if result == nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, execution.ErrTransactionNotFound)
	}

	return result, nil
}

// isNotFound reports whether a trace call failed because the node does not
// know the transaction: either an empty response or a "not found" error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, rpc.ErrNoResult) {
		return true
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() == methodNotFoundCode {
		return false
	}

	return strings.Contains(strings.ToLower(rpcErr.Error()), "not found")
}
