package ethereum

import (
	"fmt"
	"time"

	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
)

// Config lists the execution nodes call traces are fetched from.
type Config struct {
	Execution []*execution.Config `yaml:"execution"`
	// NetworkName overrides the chain id lookup for custom networks.
	NetworkName *string `yaml:"networkName"`
	// Trace holds the call tracer options sent with every debug_trace* request.
	Trace TraceConfig `yaml:"trace"`
}

// TraceConfig is the yaml form of execution.TraceOptions.
type TraceConfig struct {
	Timeout     string `yaml:"timeout" default:"30s"`
	OnlyTopCall bool   `yaml:"onlyTopCall"`
}

func (c *Config) Validate() error {
	if len(c.Execution) == 0 {
		return ErrNoExecutionNodes
	}

	for i, node := range c.Execution {
		if err := node.Validate(); err != nil {
			return fmt.Errorf("invalid execution configuration at index %d: %w", i, err)
		}
	}

	if _, err := c.Trace.Options(); err != nil {
		return err
	}

	return nil
}

// Options converts the yaml trace settings to execution.TraceOptions.
func (c TraceConfig) Options() (execution.TraceOptions, error) {
	opts := execution.DefaultTraceOptions()
	opts.OnlyTopCall = c.OnlyTopCall

	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return opts, fmt.Errorf("invalid trace timeout %q: %w", c.Timeout, err)
		}

		opts.Timeout = d
	}

	return opts, nil
}
