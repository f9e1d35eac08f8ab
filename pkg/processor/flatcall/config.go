package flatcall

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/flattrace/pkg/clickhouse"
	"github.com/ethpandaops/flattrace/pkg/rowbuffer"
)

// ErrTableRequired is returned when an enabled processor has no table.
var ErrTableRequired = errors.New("flat call table is required when enabled")

// Config holds configuration for the flat call processor.
type Config struct {
	clickhouse.Config `yaml:",inline"`
	Enabled           bool   `yaml:"enabled"`
	Table             string `yaml:"table" default:"flat_calls"`
	// CreateTable creates Table on Start if it does not exist.
	CreateTable bool `yaml:"createTable"`

	// Interval is the pause between polls once the chain head is reached.
	Interval time.Duration `yaml:"interval" default:"12s"`
	// Concurrency bounds how many transactions of a block are converted and
	// submitted at once.
	Concurrency int `yaml:"concurrency" default:"16"`

	Buffer rowbuffer.Config `yaml:"buffer"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("clickhouse config validation failed: %w", err)
	}

	if c.Table == "" {
		return ErrTableRequired
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}

	return nil
}
