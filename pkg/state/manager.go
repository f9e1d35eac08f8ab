// Package state records which blocks have been flattened and stored.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/clickhouse"
)

// ErrNoMoreBlocks is returned by NextBlock once the chain head has been reached.
var ErrNoMoreBlocks = errors.New("no more blocks to process")

const createTableQuery = `
CREATE TABLE IF NOT EXISTS %s (
	updated_date_time DateTime64(3),
	block_number UInt64,
	processor LowCardinality(String),
	meta_network_name LowCardinality(String)
) ENGINE = ReplacingMergeTree(updated_date_time)
ORDER BY (meta_network_name, processor, block_number)`

type Manager struct {
	log        logrus.FieldLogger
	client     clickhouse.ClientInterface
	table      string
	startBlock uint64
	create     bool
}

// NewManager creates a manager backed by its own ClickHouse client.
func NewManager(log logrus.FieldLogger, config *Config) (*Manager, error) {
	chConfig := config.Config
	chConfig.Processor = "state"

	client, err := clickhouse.New(&chConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create state clickhouse client: %w", err)
	}

	return NewManagerWithClient(log, client, config), nil
}

// NewManagerWithClient creates a manager on an existing client.
func NewManagerWithClient(log logrus.FieldLogger, client clickhouse.ClientInterface, config *Config) *Manager {
	return &Manager{
		log:        log.WithField("component", "state"),
		client:     client,
		table:      config.Table,
		startBlock: config.StartBlock,
		create:     config.CreateTable,
	}
}

// SetNetwork sets the network name for metrics labeling.
func (s *Manager) SetNetwork(network string) {
	s.client.SetNetwork(network)
}

// Start connects to ClickHouse, retrying until it is reachable or ctx is done.
func (s *Manager) Start(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	notify := func(err error, delay time.Duration) {
		s.log.WithError(err).WithField("delay", delay).Warn("Failed to start state client, retrying")
	}

	if err := backoff.RetryNotify(s.client.Start, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to start state client: %w", err)
	}

	if s.create {
		if err := s.client.Execute(ctx, fmt.Sprintf(createTableQuery, s.table)); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.table, err)
		}
	}

	return nil
}

func (s *Manager) Stop(_ context.Context) error {
	if err := s.client.Stop(); err != nil {
		return fmt.Errorf("failed to stop state client: %w", err)
	}

	return nil
}

// LastProcessedBlock returns the highest stored block, or nil if none is stored.
func (s *Manager) LastProcessedBlock(ctx context.Context, processor, network string) (*uint64, error) {
	// ORDER BY/LIMIT instead of max() so an empty table yields no row rather than 0.
	query := fmt.Sprintf(`
		SELECT block_number
		FROM %s FINAL
		WHERE processor = '%s'
		  AND meta_network_name = '%s'
		ORDER BY block_number DESC
		LIMIT 1
	`, s.table, processor, network)

	last, err := s.client.QueryUInt64(ctx, query, "block_number")
	if err != nil {
		return nil, fmt.Errorf("failed to get last processed block from %s: %w", s.table, err)
	}

	return last, nil
}

// NextBlock returns the block after the last stored one, or the configured
// start block when nothing is stored. It returns ErrNoMoreBlocks when that
// block is beyond chainHead.
func (s *Manager) NextBlock(ctx context.Context, processor, network string, chainHead uint64) (uint64, error) {
	last, err := s.LastProcessedBlock(ctx, processor, network)
	if err != nil {
		return 0, err
	}

	next := s.startBlock
	if last != nil {
		next = max(*last+1, s.startBlock)
	}

	log := s.log.WithFields(logrus.Fields{
		"processor":  processor,
		"network":    network,
		"next_block": next,
		"chain_head": chainHead,
	})

	if next > chainHead {
		log.Debug("Caught up with chain head")

		return 0, ErrNoMoreBlocks
	}

	log.Debug("Resolved next block")

	return next, nil
}

// MarkBlockProcessed records that every flat call of blockNumber is stored.
func (s *Manager) MarkBlockProcessed(ctx context.Context, blockNumber uint64, network, processor string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (updated_date_time, block_number, processor, meta_network_name) VALUES ('%s', %d, '%s', '%s')",
		s.table, time.Now().UTC().Format("2006-01-02 15:04:05.000"), blockNumber, processor, network,
	)

	if err := s.client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to mark block %d as processed in %s: %w", blockNumber, s.table, err)
	}

	s.log.WithFields(logrus.Fields{
		"block_number": blockNumber,
		"processor":    processor,
		"network":      network,
	}).Debug("Marked block as processed")

	return nil
}
