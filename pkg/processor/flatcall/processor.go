// Package flatcall stores the flat trace of every block in ClickHouse.
package flatcall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/clickhouse"
	"github.com/ethpandaops/flattrace/pkg/ethereum"
	"github.com/ethpandaops/flattrace/pkg/rowbuffer"
)

// ProcessorName labels this processor in state, logs and metrics.
const ProcessorName = "flat_call"

const createTableQuery = `
CREATE TABLE IF NOT EXISTS %s (
	updated_date_time DateTime,
	block_number UInt64,
	transaction_hash String,
	transaction_index UInt32,
	trace_address Array(UInt32),
	trace_address_path String,
	depth UInt32,
	subtraces UInt32,
	call_type LowCardinality(String),
	from_address String,
	to_address String,
	gas UInt64,
	gas_used UInt64,
	value UInt256,
	input String,
	output String,
	error Nullable(String),
	revert_reason Nullable(String),
	meta_network_name String
) ENGINE = ReplacingMergeTree(updated_date_time)
ORDER BY (meta_network_name, block_number, transaction_index, trace_address_path)`

// StateProvider tracks which blocks have been stored.
type StateProvider interface {
	NextBlock(ctx context.Context, processor, network string, chainHead uint64) (uint64, error)
	MarkBlockProcessed(ctx context.Context, blockNumber uint64, network, processor string) error
}

// Dependencies contains the dependencies needed for the processor.
type Dependencies struct {
	Log     logrus.FieldLogger
	Pool    *ethereum.Pool
	Network *ethereum.Network
	State   StateProvider
}

// Processor flattens block traces and writes one row per flat call.
type Processor struct {
	log        logrus.FieldLogger
	pool       *ethereum.Pool
	state      StateProvider
	clickhouse clickhouse.ClientInterface
	config     *Config
	network    *ethereum.Network
	buffer     *rowbuffer.Buffer[Row]

	// Reused between flushes.
	columns sync.Pool
}

// New creates a flat call processor with its own ClickHouse client.
func New(deps *Dependencies, config *Config) (*Processor, error) {
	clickhouseConfig := config.Config
	clickhouseConfig.Network = deps.Network.Name
	clickhouseConfig.Processor = ProcessorName

	client, err := clickhouse.New(&clickhouseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse client for %s: %w", ProcessorName, err)
	}

	return NewWithClient(deps, config, client), nil
}

// NewWithClient creates a flat call processor on an existing ClickHouse client.
func NewWithClient(deps *Dependencies, config *Config, client clickhouse.ClientInterface) *Processor {
	p := &Processor{
		log:        deps.Log.WithField("processor", ProcessorName),
		pool:       deps.Pool,
		state:      deps.State,
		clickhouse: client,
		config:     config,
		network:    deps.Network,
	}

	bufferConfig := config.Buffer
	bufferConfig.Processor = ProcessorName
	bufferConfig.Table = config.Table

	p.buffer = rowbuffer.New(bufferConfig, p.insertRows, p.log)
	p.columns.New = func() any { return NewColumns() }

	p.log.WithFields(logrus.Fields{
		"network":     p.network.Name,
		"table":       config.Table,
		"concurrency": config.Concurrency,
	}).Info("Detected network")

	return p
}

// Start connects to ClickHouse and starts the row buffer.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.clickhouse.Start(); err != nil {
		return fmt.Errorf("failed to start ClickHouse client: %w", err)
	}

	if p.config.CreateTable {
		if err := p.clickhouse.Execute(ctx, fmt.Sprintf(createTableQuery, p.config.Table)); err != nil {
			p.stopClient()

			return fmt.Errorf("failed to create %s: %w", p.config.Table, err)
		}
	}

	if err := p.buffer.Start(ctx); err != nil {
		p.stopClient()

		return fmt.Errorf("failed to start row buffer: %w", err)
	}

	p.log.Info("Flat call processor ready")

	return nil
}

// Stop flushes buffered rows and closes the ClickHouse client.
func (p *Processor) Stop(ctx context.Context) error {
	p.log.Info("Stopping flat call processor")

	bufErr := p.buffer.Stop(ctx)

	if err := p.clickhouse.Stop(); err != nil {
		return fmt.Errorf("failed to stop ClickHouse client: %w", err)
	}

	if bufErr != nil {
		return fmt.Errorf("failed to flush row buffer: %w", bufErr)
	}

	return nil
}

// stopClient closes the ClickHouse client after a failed Start.
func (p *Processor) stopClient() {
	if err := p.clickhouse.Stop(); err != nil {
		p.log.WithError(err).Warn("Failed to stop ClickHouse client")
	}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return ProcessorName
}

// Run processes blocks until ctx is cancelled, pausing for the configured
// interval whenever it catches up with the chain head or a block fails.
func (p *Processor) Run(ctx context.Context) error {
	p.log.WithField("interval", p.config.Interval).Info("Starting block processing loop")

	for {
		processed, err := p.ProcessNextBlock(ctx)
		if ctx.Err() != nil {
			return nil //nolint:nilerr // cancellation is a clean shutdown
		}

		if err != nil {
			p.log.WithError(err).Error("Failed to process block")
		}

		if processed && err == nil {
			continue
		}

		timer := time.NewTimer(p.config.Interval)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil
		case <-timer.C:
		}
	}
}

// insertRows is the row buffer flush function.
func (p *Processor) insertRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	cols, _ := p.columns.Get().(*Columns)
	cols.Reset()

	defer p.columns.Put(cols)

	now := time.Now()

	for i := range rows {
		cols.Append(now, &rows[i], p.network.Name)
	}

	if err := p.clickhouse.Insert(ctx, p.config.Table, cols.Input()); err != nil {
		return fmt.Errorf("failed to insert flat calls: %w", err)
	}

	return nil
}
