package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/chpool"
	"github.com/ClickHouse/ch-go/compress"
	"github.com/ClickHouse/ch-go/proto"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/common"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// ErrNotStarted is returned by queries issued before Start succeeded.
var ErrNotStarted = errors.New("clickhouse client not started")

var _ ClientInterface = (*Client)(nil)

// Client implements ClientInterface using the ch-go native protocol.
type Client struct {
	config      *Config
	compression ch.Compression
	processor   string
	log         logrus.FieldLogger

	mu      sync.RWMutex
	pool    *chpool.Pool
	network string

	metricsDone chan struct{}
	metricsWg   sync.WaitGroup
}

// isRetryableError reports whether err is transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ch.ErrClosed) {
		return false
	}

	if exc, ok := ch.AsException(err); ok {
		return exc.IsCode(
			proto.ErrTimeoutExceeded,
			proto.ErrNoFreeConnection,
			proto.ErrTooManySimultaneousQueries,
			proto.ErrSocketTimeout,
			proto.ErrNetworkError,
		)
	}

	var corrupted *compress.CorruptedDataErr
	if errors.As(err, &corrupted) {
		return false
	}

	// syscall.Errno implements net.Error, so check these first.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"timeout",
		"temporary failure",
		"server is overloaded",
		"too many connections",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// New creates a client. It does not connect until Start.
func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	compression := ch.CompressionLZ4

	switch cfg.Compression {
	case "zstd":
		compression = ch.CompressionZSTD
	case "none":
		compression = ch.CompressionDisabled
	}

	return &Client{
		config:      cfg,
		compression: compression,
		network:     cfg.Network,
		processor:   cfg.Processor,
		log:         logrus.WithFields(logrus.Fields{"component": "clickhouse", "processor": cfg.Processor}),
	}, nil
}

// newBackOff returns the retry schedule: MaxRetries attempts after the
// first, doubling from RetryBaseDelay up to RetryMaxDelay.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryBaseDelay
	b.MaxInterval = c.config.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	//nolint:gosec // MaxRetries is a small non-negative config value
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.config.MaxRetries, 0))), ctx)
}

// withQueryTimeout applies QueryTimeout unless ctx already has a deadline.
func (c *Client) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.QueryTimeout == 0 {
		return ctx, func() {}
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.config.QueryTimeout)
}

// retry runs fn until it succeeds, fails permanently or the retry budget is spent.
func (c *Client) retry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		attemptCtx, cancel := c.withQueryTimeout(ctx)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, delay time.Duration) {
		common.ClickHouseRetries.WithLabelValues(operation).Inc()

		c.log.WithFields(logrus.Fields{
			"operation": operation,
			"delay":     delay,
		}).WithError(err).Debug("Retrying after transient error")
	}

	return backoff.RetryNotify(attempt, c.newBackOff(ctx), notify)
}

// Start dials ClickHouse, retrying transient failures.
func (c *Client) Start() error {
	if c.getPool() != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout*time.Duration(c.config.MaxRetries+1))
	defer cancel()

	var pool *chpool.Pool

	err := c.retry(ctx, "dial", func(ctx context.Context) error {
		var err error

		pool, err = chpool.Dial(ctx, chpool.Options{
			ClientOptions: ch.Options{
				Address:     c.config.Addr,
				Database:    c.config.Database,
				User:        c.config.Username,
				Password:    c.config.Password,
				Compression: c.compression,
				DialTimeout: c.config.DialTimeout,
			},
			MaxConns:          c.config.MaxConns,
			MinConns:          c.config.MinConns,
			MaxConnLifetime:   c.config.ConnMaxLifetime,
			MaxConnIdleTime:   c.config.ConnMaxIdleTime,
			HealthCheckPeriod: c.config.HealthCheckPeriod,
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to dial clickhouse: %w", err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.pool = pool
	c.metricsDone = done
	c.mu.Unlock()

	c.log.WithField("addr", c.config.Addr).Info("Connected to ClickHouse")

	c.metricsWg.Add(1)

	go c.collectPoolMetrics(pool, done)

	return nil
}

// Stop closes the connection pool.
func (c *Client) Stop() error {
	c.mu.Lock()
	pool, done := c.pool, c.metricsDone
	c.pool, c.metricsDone = nil, nil
	c.mu.Unlock()

	if done != nil {
		close(done)
		c.metricsWg.Wait()
	}

	if pool != nil {
		pool.Close()
		c.log.Info("Closed ClickHouse connection pool")
	}

	return nil
}

// SetNetwork updates the network name for metrics labeling.
func (c *Client) SetNetwork(network string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.network = network
}

func (c *Client) getPool() *chpool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pool
}

// QueryUInt64 executes a query and returns the first UInt64 of column.
// Returns nil if no rows are found.
func (c *Client) QueryUInt64(ctx context.Context, query string, column string) (*uint64, error) {
	pool := c.getPool()
	if pool == nil {
		return nil, ErrNotStarted
	}

	var (
		result *uint64
		col    = new(proto.ColUInt64)
	)

	err := c.observe("query_uint64", extractTableName(query), func() error {
		return c.retry(ctx, "query_uint64", func(ctx context.Context) error {
			col.Reset()

			result = nil

			return pool.Do(ctx, ch.Query{
				Body:   query,
				Result: proto.Results{{Name: column, Data: col}},
				OnResult: func(context.Context, proto.Block) error {
					if result == nil && col.Rows() > 0 {
						v := col.Row(0)
						result = &v
					}

					return nil
				},
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return result, nil
}

// Execute runs a query without expecting results.
func (c *Client) Execute(ctx context.Context, query string) error {
	pool := c.getPool()
	if pool == nil {
		return ErrNotStarted
	}

	err := c.observe("execute", extractTableName(query), func() error {
		return c.retry(ctx, "execute", func(ctx context.Context) error {
			return pool.Do(ctx, ch.Query{Body: query})
		})
	})
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	return nil
}

// Insert writes the columns in input as one block into table.
func (c *Client) Insert(ctx context.Context, table string, input proto.Input) error {
	pool := c.getPool()
	if pool == nil {
		return ErrNotStarted
	}

	rows := 0
	if len(input) > 0 {
		rows = input[0].Data.Rows()
	}

	err := c.observe("insert", table, func() error {
		return c.retry(ctx, "insert", func(ctx context.Context) error {
			return pool.Do(ctx, ch.Query{
				Body:  input.Into(table),
				Input: input,
			})
		})
	})
	if err != nil {
		return fmt.Errorf("insert into %s failed: %w", table, err)
	}

	c.mu.RLock()
	network := c.network
	c.mu.RUnlock()

	common.ClickHouseInsertedRows.WithLabelValues(network, c.processor, table).Add(float64(rows))

	return nil
}

// extractTableName returns the table a query targets, or "" if unknown.
func extractTableName(query string) string {
	fields := strings.Fields(query)

	for i, field := range fields {
		switch strings.ToUpper(field) {
		case "INTO", "TABLE", "FROM":
		default:
			continue
		}

		j := i + 1
		for j < len(fields) && slices.Contains([]string{"IF", "NOT", "EXISTS"}, strings.ToUpper(fields[j])) {
			j++
		}

		if j >= len(fields) || strings.EqualFold(fields[j], "FINAL") {
			return ""
		}

		name := strings.Trim(fields[j], "`'\"")

		// INSERT INTO t(a, b) has no space before the column list.
		if idx := strings.IndexByte(name, '('); idx >= 0 {
			name = name[:idx]
		}

		return name
	}

	return ""
}

func (c *Client) observe(operation, table string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := statusSuccess
	if err != nil {
		status = statusFailed
	}

	c.mu.RLock()
	network := c.network
	c.mu.RUnlock()

	common.ClickHouseOperationDuration.WithLabelValues(network, c.processor, operation, table, status).Observe(time.Since(start).Seconds())
	common.ClickHouseOperationTotal.WithLabelValues(network, c.processor, operation, table, status).Inc()

	return err
}

// collectPoolMetrics exports pool statistics until done is closed.
func (c *Client) collectPoolMetrics(pool *chpool.Pool, done <-chan struct{}) {
	defer c.metricsWg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var prevEmptyAcquire int64

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.RLock()
			network := c.network
			c.mu.RUnlock()

			stat := pool.Stat()

			common.ClickHousePoolAcquiredResources.WithLabelValues(network, c.processor).Set(float64(stat.AcquiredResources()))
			common.ClickHousePoolIdleResources.WithLabelValues(network, c.processor).Set(float64(stat.IdleResources()))
			common.ClickHousePoolTotalResources.WithLabelValues(network, c.processor).Set(float64(stat.TotalResources()))

			emptyAcquire := stat.EmptyAcquireCount()
			if delta := emptyAcquire - prevEmptyAcquire; prevEmptyAcquire > 0 && delta > 0 {
				common.ClickHousePoolEmptyAcquireTotal.WithLabelValues(network, c.processor).Add(float64(delta))
			}

			prevEmptyAcquire = emptyAcquire
		}
	}
}
