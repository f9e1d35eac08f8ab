package clickhouse

import (
	"errors"
	"fmt"
	"time"
)

// ErrAddrRequired is returned by Validate when no address is configured.
var ErrAddrRequired = errors.New("addr is required")

// Config holds configuration for the ch-go native client.
//
//nolint:tagliatelle // YAML config uses snake_case by convention
type Config struct {
	Addr     string `yaml:"addr"` // native protocol address, e.g. "localhost:9000"
	Database string `yaml:"database" default:"default"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	MaxConns          int32         `yaml:"max_conns" default:"10"`
	MinConns          int32         `yaml:"min_conns" default:"2"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" default:"1h"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" default:"30m"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" default:"1m"`
	DialTimeout       time.Duration `yaml:"dial_timeout" default:"10s"`

	// lz4, zstd or none
	Compression string `yaml:"compression" default:"lz4"`

	MaxRetries     int           `yaml:"max_retries" default:"3"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" default:"100ms"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" default:"10s"`

	// Per attempt.
	QueryTimeout time.Duration `yaml:"query_timeout" default:"60s"`

	// Metrics labels
	Network   string `yaml:"network"`
	Processor string `yaml:"processor"`
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrAddrRequired
	}

	switch c.Compression {
	case "", "lz4", "zstd", "none":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}

	return nil
}

// SetDefaults fills zero fields with the values of their default tags.
// It is also the creasty/defaults setter hook, so it must not call defaults.Set.
func (c *Config) SetDefaults() {
	if c.Database == "" {
		c.Database = "default"
	}

	if c.MaxConns == 0 {
		c.MaxConns = 10
	}

	if c.MinConns == 0 {
		c.MinConns = 2
	}

	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}

	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 30 * time.Minute
	}

	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = time.Minute
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}

	if c.Compression == "" {
		c.Compression = "lz4"
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}

	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 10 * time.Second
	}

	if c.QueryTimeout == 0 {
		c.QueryTimeout = 60 * time.Second
	}
}
