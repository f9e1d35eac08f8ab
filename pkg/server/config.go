package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/flattrace/pkg/ethereum"
	"github.com/ethpandaops/flattrace/pkg/processor/flatcall"
	"github.com/ethpandaops/flattrace/pkg/state"
)

// ErrNothingToServe is returned when neither the processor nor the API is enabled.
var ErrNothingToServe = errors.New("either flatCall.enabled or apiAddr must be set")

type Config struct {
	// MetricsAddr is the address to listen on for metrics.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// HealthCheckAddr is the address to listen on for healthcheck.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// APIAddr is the address to listen on for the flat trace API.
	APIAddr *string `yaml:"apiAddr"`
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// Ethereum is the ethereum network configuration.
	Ethereum ethereum.Config `yaml:"ethereum"`
	// StateManager is the state manager configuration.
	StateManager state.Config `yaml:"stateManager"`
	// FlatCall is the flat call processor configuration.
	FlatCall flatcall.Config `yaml:"flatCall"`
	// MemoryMonitor configures runtime memory reporting.
	MemoryMonitor MemoryMonitorConfig `yaml:"memoryMonitor"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

func (c *Config) Validate() error {
	if !c.FlatCall.Enabled && c.APIAddr == nil {
		return ErrNothingToServe
	}

	if err := c.Ethereum.Validate(); err != nil {
		return fmt.Errorf("invalid ethereum configuration: %w", err)
	}

	if !c.FlatCall.Enabled {
		return nil
	}

	if err := c.StateManager.Validate(); err != nil {
		return fmt.Errorf("invalid state manager configuration: %w", err)
	}

	if err := c.FlatCall.Validate(); err != nil {
		return fmt.Errorf("invalid flat call configuration: %w", err)
	}

	return nil
}
