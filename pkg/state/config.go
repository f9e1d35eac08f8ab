package state

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/flattrace/pkg/clickhouse"
)

// ErrTableRequired is returned when no state table is configured.
var ErrTableRequired = errors.New("state table is required")

// Config locates the block progress table.
type Config struct {
	clickhouse.Config `yaml:",inline"`

	Table string `yaml:"table" default:"flat_call_blocks"`
	// StartBlock is the first block flattened when the table holds no progress.
	StartBlock uint64 `yaml:"startBlock"`
	// CreateTable creates Table on Start if it does not exist.
	CreateTable bool `yaml:"createTable"`
}

func (c *Config) Validate() error {
	if c.Table == "" {
		return ErrTableRequired
	}

	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("state clickhouse config: %w", err)
	}

	return nil
}
