package execution

import (
	"context"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
)

// Node defines the interface for call trace providers.
//
// Implementations include:
//   - geth.RPCNode: connects to execution clients via JSON-RPC over HTTP
//   - EmbeddedNode: receives data directly from host application via DataSource
//
// All methods must be safe for concurrent use by multiple goroutines.
//
// Lifecycle:
//  1. Create node with appropriate constructor (geth.NewRPCNode or NewEmbeddedNode)
//  2. Register OnReady callbacks before calling Start
//  3. Call Start to begin initialization
//  4. Node signals readiness by executing OnReady callbacks
//  5. Call Stop for graceful shutdown
type Node interface {
	// Start initializes the node and begins any background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the node and releases resources.
	Stop(ctx context.Context) error

	// OnReady registers a callback to be invoked when the node becomes ready.
	// Multiple callbacks can be registered and will execute in registration order.
	OnReady(ctx context.Context, callback func(ctx context.Context) error)

	// BlockNumber returns the current block number from the execution client.
	BlockNumber(ctx context.Context) (*uint64, error)

	// TraceBlockCalls returns the call tree of every transaction in the block,
	// in transaction order.
	TraceBlockCalls(ctx context.Context, number uint64, opts TraceOptions) ([]calltrace.TxCall, error)

	// TraceTransactionCalls returns the call tree of a single transaction.
	TraceTransactionCalls(ctx context.Context, hash string, opts TraceOptions) (*calltrace.Call, error)

	// ChainID returns the chain ID reported by the execution client.
	ChainID() int64

	// ClientType returns the client type/version string (e.g., "geth/1.10.0").
	ClientType() string

	// IsSynced returns true if the execution client is fully synced.
	IsSynced() bool

	// Name returns the configured name for this node.
	Name() string
}
