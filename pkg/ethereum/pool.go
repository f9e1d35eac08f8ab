package ethereum

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

// Pool tracks a set of execution nodes and routes trace requests to a
// healthy one.
type Pool struct {
	log     logrus.FieldLogger
	nodes   []execution.Node
	metrics *Metrics
	config  *Config

	mu      sync.RWMutex
	healthy map[execution.Node]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPoolWithNodes creates a pool from already constructed nodes, for example
// an EmbeddedNode backed by the host application's trace source.
//
//	node := execution.NewEmbeddedNode(log, "local", source)
//	pool := ethereum.NewPoolWithNodes(log, "flattrace", []execution.Node{node}, nil)
//	pool.Start(ctx)
//	node.MarkReady(ctx)
func NewPoolWithNodes(log logrus.FieldLogger, namespace string, nodes []execution.Node, config *Config) *Pool {
	if config == nil {
		config = &Config{}
	}

	return &Pool{
		log:     log.WithField("module", "ethereum/pool"),
		nodes:   nodes,
		healthy: make(map[execution.Node]bool, len(nodes)),
		metrics: GetMetricsInstance(fmt.Sprintf("%s_ethereum", namespace)),
		config:  config,
	}
}

func (p *Pool) HasExecutionNodes() bool {
	return len(p.nodes) > 0
}

func (p *Pool) HasHealthyNodes() bool {
	return len(p.HealthyNodes()) > 0
}

// HealthyNodes returns every node that has signalled readiness.
func (p *Pool) HealthyNodes() []execution.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nodes := make([]execution.Node, 0, len(p.healthy))

	for node, ok := range p.healthy {
		if ok {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// HealthyNode returns a random healthy node, or nil when there is none.
func (p *Pool) HealthyNode() execution.Node {
	nodes := p.HealthyNodes()
	if len(nodes) == 0 {
		return nil
	}

	//nolint:gosec // load spreading only
	return nodes[rand.IntN(len(nodes))]
}

// WaitForHealthyNode blocks until a node is ready or ctx is done.
func (p *Pool) WaitForHealthyNode(ctx context.Context) (execution.Node, error) {
	if len(p.nodes) == 0 {
		return nil, ErrNoExecutionNodes
	}

	start := time.Now()

	p.log.WithField("total_nodes", len(p.nodes)).Info("Waiting for healthy execution node")

	check := time.NewTicker(time.Second)
	defer check.Stop()

	status := time.NewTicker(10 * time.Second)
	defer status.Stop()

	for {
		if node := p.HealthyNode(); node != nil {
			p.log.WithFields(logrus.Fields{
				"node":     node.Name(),
				"duration": time.Since(start).Round(time.Millisecond),
			}).Info("Found healthy execution node")

			return node, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-status.C:
			p.log.WithFields(logrus.Fields{
				"total_nodes": len(p.nodes),
				"waiting_for": time.Since(start).Round(time.Second),
			}).Info("Still waiting for healthy execution node")
		case <-check.C:
		}
	}
}

// TraceOptions returns the configured call tracer options.
func (p *Pool) TraceOptions() execution.TraceOptions {
	opts, err := p.config.Trace.Options()
	if err != nil {
		return execution.DefaultTraceOptions()
	}

	return opts
}

// TraceBlockCalls traces a block on a random healthy node.
func (p *Pool) TraceBlockCalls(ctx context.Context, number uint64) ([]calltrace.TxCall, error) {
	node := p.HealthyNode()
	if node == nil {
		return nil, ErrNoHealthyNode
	}

	return node.TraceBlockCalls(ctx, number, p.TraceOptions())
}

// TraceTransactionCalls traces a transaction on a random healthy node.
func (p *Pool) TraceTransactionCalls(ctx context.Context, hash string) (*calltrace.Call, error) {
	node := p.HealthyNode()
	if node == nil {
		return nil, ErrNoHealthyNode
	}

	return node.TraceTransactionCalls(ctx, hash, p.TraceOptions())
}

// Start starts every node and marks each healthy once it reports ready.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.updateNodeMetrics()

	// Node start errors are logged, not propagated; other nodes keep running.
	g := new(errgroup.Group)

	for _, node := range p.nodes {
		node.OnReady(ctx, func(context.Context) error {
			p.mu.Lock()
			p.healthy[node] = true
			p.mu.Unlock()

			p.updateNodeMetrics()

			return nil
		})

		g.Go(func() error {
			if err := node.Start(ctx); err != nil {
				return fmt.Errorf("node %s: %w", node.Name(), err)
			}

			return nil
		})
	}

	p.wg.Add(2)

	go func() {
		defer p.wg.Done()

		if err := g.Wait(); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("Failed to start execution node")
		}
	}()

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.updateNodeMetrics()

				p.log.WithField("healthy_execution_nodes", fmt.Sprintf("%d/%d", len(p.HealthyNodes()), len(p.nodes))).
					Info("Pool status")
			}
		}
	}()
}

func (p *Pool) updateNodeMetrics() {
	healthy := len(p.HealthyNodes())

	p.metrics.setNodes(healthy, len(p.nodes)-healthy)
}

// Stop cancels background work and stops every node.
func (p *Pool) Stop(ctx context.Context) error {
	p.log.Info("Stopping pool")

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("Timeout waiting for pool goroutines to stop")
	}

	for _, node := range p.nodes {
		if err := node.Stop(ctx); err != nil {
			p.log.WithError(err).WithField("node", node.Name()).Error("Failed to stop execution node")
		}
	}

	return nil
}

// Network resolves the network name for chainID. A configured NetworkName wins
// over the built-in chain id table.
func (p *Pool) Network(chainID int64) (*Network, error) {
	if p.config.NetworkName != nil && *p.config.NetworkName != "" {
		return &Network{ID: chainID, Name: *p.config.NetworkName}, nil
	}

	return GetNetworkByChainID(chainID)
}
