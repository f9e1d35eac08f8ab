package execution

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
)

// DataSource is the interface host applications implement to provide call
// traces directly without JSON-RPC. This enables embedding the flattener as a
// library within an execution client.
//
// All methods must be safe for concurrent calls from multiple goroutines.
// Context cancellation should be respected for all I/O operations.
type DataSource interface {
	// BlockNumber returns the current block number.
	BlockNumber(ctx context.Context) (*uint64, error)

	// TraceBlockCalls returns the call tree of every transaction in the block.
	TraceBlockCalls(ctx context.Context, number uint64, opts TraceOptions) ([]calltrace.TxCall, error)

	// TraceTransactionCalls returns the call tree of a single transaction.
	TraceTransactionCalls(ctx context.Context, hash string, opts TraceOptions) (*calltrace.Call, error)

	// ChainID returns the chain ID.
	ChainID() int64

	// ClientType returns the client type/version string.
	ClientType() string

	// IsSynced returns true if the data source is fully synced.
	IsSynced() bool
}

// Compile-time check that EmbeddedNode implements Node interface.
var _ Node = (*EmbeddedNode)(nil)

// EmbeddedNode implements Node by delegating to a DataSource.
//
// Lifecycle:
//  1. Create with NewEmbeddedNode(log, name, dataSource)
//  2. Register OnReady callbacks (optional)
//  3. Pool calls Start() (no-op for embedded)
//  4. Host calls MarkReady() when DataSource is ready to serve data
//  5. Callbacks execute in registration order, node becomes healthy in pool
//  6. Pool calls Stop() on shutdown (no-op for embedded)
type EmbeddedNode struct {
	log              logrus.FieldLogger
	name             string
	source           DataSource
	ready            bool
	onReadyCallbacks []func(ctx context.Context) error
	mu               sync.RWMutex
}

// NewEmbeddedNode creates a new EmbeddedNode with the given DataSource.
// The returned node is not yet ready. Call MarkReady() when the DataSource
// is ready to serve data.
func NewEmbeddedNode(log logrus.FieldLogger, name string, source DataSource) *EmbeddedNode {
	return &EmbeddedNode{
		log:              log.WithFields(logrus.Fields{"type": "execution", "source": name, "mode": "embedded"}),
		name:             name,
		source:           source,
		onReadyCallbacks: make([]func(ctx context.Context) error, 0),
	}
}

// Start is a no-op for EmbeddedNode. The host controls readiness via MarkReady().
func (n *EmbeddedNode) Start(_ context.Context) error {
	n.log.Info("EmbeddedNode started - waiting for host to call MarkReady()")

	return nil
}

// Stop is a no-op for EmbeddedNode. The host manages the DataSource lifecycle.
func (n *EmbeddedNode) Stop(_ context.Context) error {
	n.log.Info("EmbeddedNode stopped")

	return nil
}

// MarkReady is called by the host application when the DataSource is ready.
// Callbacks run in registration order and the first failure is returned.
func (n *EmbeddedNode) MarkReady(ctx context.Context) error {
	n.mu.Lock()
	n.ready = true
	callbacks := n.onReadyCallbacks
	n.mu.Unlock()

	n.log.WithField("callback_count", len(callbacks)).Info("EmbeddedNode marked as ready, executing callbacks")

	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			n.log.WithError(err).Error("Failed to execute OnReady callback")

			return err
		}
	}

	return nil
}

func (n *EmbeddedNode) OnReady(_ context.Context, callback func(ctx context.Context) error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onReadyCallbacks = append(n.onReadyCallbacks, callback)
}

// IsReady returns true if the node has been marked as ready.
func (n *EmbeddedNode) IsReady() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.ready
}

func (n *EmbeddedNode) BlockNumber(ctx context.Context) (*uint64, error) {
	return n.source.BlockNumber(ctx)
}

func (n *EmbeddedNode) TraceBlockCalls(ctx context.Context, number uint64, opts TraceOptions) ([]calltrace.TxCall, error) {
	return n.source.TraceBlockCalls(ctx, number, opts)
}

func (n *EmbeddedNode) TraceTransactionCalls(ctx context.Context, hash string, opts TraceOptions) (*calltrace.Call, error) {
	return n.source.TraceTransactionCalls(ctx, hash, opts)
}

func (n *EmbeddedNode) ChainID() int64 {
	return n.source.ChainID()
}

func (n *EmbeddedNode) ClientType() string {
	return n.source.ClientType()
}

func (n *EmbeddedNode) IsSynced() bool {
	return n.source.IsSynced()
}

func (n *EmbeddedNode) Name() string {
	return n.name
}
