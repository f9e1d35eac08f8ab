// Package geth implements execution.Node on top of the go-ethereum JSON-RPC client.
package geth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/internal/version"
	"github.com/ethpandaops/flattrace/pkg/calltrace"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution/geth/services"
)

// Compile-time check that RPCNode implements execution.Node interface.
var _ execution.Node = (*RPCNode)(nil)

// headerTransport sets the flattrace user agent and custom headers, and
// respects context cancellation.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())

	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	return t.base.RoundTrip(req)
}

// RPCNode implements execution.Node using JSON-RPC connections.
type RPCNode struct {
	config    *execution.Config
	log       logrus.FieldLogger
	client    *ethclient.Client
	rpcClient *rpc.Client
	metadata  *services.MetadataService

	onReadyCallbacks []func(ctx context.Context) error

	mu     sync.RWMutex
	cancel context.CancelFunc
}

// NewRPCNode creates a new RPC-based execution node.
func NewRPCNode(log logrus.FieldLogger, conf *execution.Config) *RPCNode {
	return &RPCNode{
		config: conf,
		log:    log.WithFields(logrus.Fields{"type": "execution", "source": conf.Name}),
	}
}

func (n *RPCNode) OnReady(_ context.Context, callback func(ctx context.Context) error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onReadyCallbacks = append(n.onReadyCallbacks, callback)
}

func newHTTPClient(headers map[string]string) *http.Client {
	// No client timeout; every call is bounded by its context.
	return &http.Client{
		Transport: &headerTransport{
			headers: headers,
			base: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func (n *RPCNode) Start(ctx context.Context) error {
	n.log.WithField("node_address", n.config.NodeAddress).Info("Starting execution node")

	nodeCtx, cancel := context.WithCancel(ctx)

	rpcClient, err := rpc.DialOptions(nodeCtx, n.config.NodeAddress, rpc.WithHTTPClient(newHTTPClient(n.config.NodeHeaders)))
	if err != nil {
		cancel()

		n.log.WithError(err).Error("Failed to create RPC client")

		return fmt.Errorf("failed to create RPC client for %s: %w", n.config.NodeAddress, err)
	}

	metadata := services.NewMetadataService(n.log, rpcClient)

	n.mu.Lock()
	n.cancel = cancel
	n.rpcClient = rpcClient
	n.client = ethclient.NewClient(rpcClient)
	n.metadata = metadata
	callbacks := n.onReadyCallbacks
	n.mu.Unlock()

	metadata.OnReady(nodeCtx, func(_ context.Context) error {
		n.log.WithFields(logrus.Fields{
			"client_type": metadata.Client(),
			"chain_id":    metadata.ChainID(),
		}).Info("Execution node is ready")

		for _, callback := range callbacks {
			callbackCtx, callbackCancel := context.WithTimeout(context.Background(), 10*time.Second)

			if err := callback(callbackCtx); err != nil {
				n.log.WithError(err).Error("Failed to run on ready callback")
			}

			callbackCancel()
		}

		return nil
	})

	if err := metadata.Start(nodeCtx); err != nil {
		return fmt.Errorf("failed to start metadata service: %w", err)
	}

	return nil
}

func (n *RPCNode) Stop(ctx context.Context) error {
	n.log.Info("Stopping execution node")

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}

	if n.metadata != nil {
		if err := n.metadata.Stop(ctx); err != nil {
			n.log.WithError(err).Error("Failed to stop metadata service")
		}
	}

	if n.rpcClient != nil {
		n.rpcClient.Close()
	}

	return nil
}

// Metadata returns the metadata service for this node, nil before Start.
func (n *RPCNode) Metadata() *services.MetadataService {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.metadata
}

func (n *RPCNode) Name() string {
	return n.config.Name
}

func (n *RPCNode) ChainID() int64 {
	if meta := n.Metadata(); meta != nil {
		return meta.ChainID()
	}

	return 0
}

func (n *RPCNode) ClientType() string {
	if meta := n.Metadata(); meta != nil {
		return meta.ClientVersion()
	}

	return ""
}

func (n *RPCNode) IsSynced() bool {
	if meta := n.Metadata(); meta != nil {
		return meta.IsSynced()
	}

	return false
}

func (n *RPCNode) BlockNumber(ctx context.Context) (*uint64, error) {
	return n.blockNumber(ctx)
}

func (n *RPCNode) TraceBlockCalls(ctx context.Context, number uint64, opts execution.TraceOptions) ([]calltrace.TxCall, error) {
	return n.traceBlockCalls(ctx, number, opts)
}

func (n *RPCNode) TraceTransactionCalls(ctx context.Context, hash string, opts execution.TraceOptions) (*calltrace.Call, error) {
	return n.traceTransactionCalls(ctx, hash, opts)
}
