// Package rowbuffer batches rows from concurrent producers into bulk inserts.
// Producers block in Submit until the batch holding their rows is flushed,
// which happens when the row limit is reached or the flush interval elapses.
package rowbuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/common"
)

// ErrNotStarted is returned by Submit before Start or after Stop.
var ErrNotStarted = errors.New("row buffer is not started")

const (
	triggerSize     = "size"
	triggerTimer    = "timer"
	triggerShutdown = "shutdown"
)

// FlushFunc writes a batch of rows to storage.
type FlushFunc[R any] func(ctx context.Context, rows []R) error

// Config holds configuration for the row buffer.
type Config struct {
	MaxRows       int           `yaml:"maxRows" default:"50000"`
	FlushInterval time.Duration `yaml:"flushInterval" default:"1s"`

	// Metric labels.
	Processor string `yaml:"-"`
	Table     string `yaml:"-"`
}

type waiter struct {
	done chan<- error
}

// Buffer accumulates rows until a flush trigger fires.
type Buffer[R any] struct {
	mu      sync.Mutex
	rows    []R
	waiters []waiter
	started bool

	config  Config
	flushFn FlushFunc[R]
	log     logrus.FieldLogger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Buffer that hands full batches to flushFn.
func New[R any](cfg Config, flushFn FlushFunc[R], log logrus.FieldLogger) *Buffer[R] {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 50000
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	return &Buffer[R]{
		config:  cfg,
		flushFn: flushFn,
		log:     log.WithFields(logrus.Fields{"component": "rowbuffer", "table": cfg.Table}),
	}
}

// Start starts the flush timer. Calling Start on a running buffer is a no-op.
func (b *Buffer[R]) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	b.started = true
	b.stop = make(chan struct{})
	b.rows = make([]R, 0, b.config.MaxRows)

	stop := b.stop

	b.wg.Go(func() { b.runTimer(ctx, stop) })

	b.log.WithFields(logrus.Fields{
		"max_rows":       b.config.MaxRows,
		"flush_interval": b.config.FlushInterval,
	}).Debug("Row buffer started")

	return nil
}

// Stop stops the timer and flushes whatever is still buffered.
func (b *Buffer[R]) Stop(ctx context.Context) error {
	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return nil
	}

	b.started = false
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	rows, waiters := b.takeLocked()
	b.mu.Unlock()

	if err := b.flush(ctx, rows, waiters, triggerShutdown); err != nil {
		return fmt.Errorf("failed to flush remaining rows: %w", err)
	}

	b.log.Debug("Row buffer stopped")

	return nil
}

// Submit adds rows and blocks until they are flushed, the flush fails or ctx
// is done. An empty submission returns immediately.
func (b *Buffer[R]) Submit(ctx context.Context, rows []R) error {
	if len(rows) == 0 {
		return nil
	}

	done := make(chan error, 1)

	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return ErrNotStarted
	}

	b.rows = append(b.rows, rows...)
	b.waiters = append(b.waiters, waiter{done: done})

	common.RowBufferPendingRows.WithLabelValues(b.config.Processor, b.config.Table).Set(float64(len(b.rows)))

	var (
		batch        []R
		batchWaiters []waiter
	)

	full := len(b.rows) >= b.config.MaxRows
	if full {
		batch, batchWaiters = b.takeLocked()
	}

	b.mu.Unlock()

	if full {
		go func() {
			_ = b.flush(context.Background(), batch, batchWaiters, triggerSize)
		}()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takeLocked detaches the pending batch. b.mu must be held.
func (b *Buffer[R]) takeLocked() ([]R, []waiter) {
	rows, waiters := b.rows, b.waiters

	b.rows = make([]R, 0, b.config.MaxRows)
	b.waiters = nil

	return rows, waiters
}

func (b *Buffer[R]) runTimer(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()

			if len(b.rows) == 0 {
				b.mu.Unlock()

				continue
			}

			rows, waiters := b.takeLocked()
			b.mu.Unlock()

			_ = b.flush(ctx, rows, waiters, triggerTimer)
		}
	}
}

// flush writes rows and reports the outcome to every waiter of the batch.
func (b *Buffer[R]) flush(ctx context.Context, rows []R, waiters []waiter, trigger string) error {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	err := b.flushFn(ctx, rows)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "failed"
	}

	common.RowBufferFlushTotal.WithLabelValues(b.config.Processor, b.config.Table, trigger, status).Inc()
	common.RowBufferFlushDuration.WithLabelValues(b.config.Processor, b.config.Table).Observe(duration.Seconds())
	common.RowBufferFlushSize.WithLabelValues(b.config.Processor, b.config.Table).Observe(float64(len(rows)))

	b.mu.Lock()
	common.RowBufferPendingRows.WithLabelValues(b.config.Processor, b.config.Table).Set(float64(len(b.rows)))
	b.mu.Unlock()

	log := b.log.WithFields(logrus.Fields{
		"rows":     len(rows),
		"waiters":  len(waiters),
		"trigger":  trigger,
		"duration": duration,
	})

	if err != nil {
		log.WithError(err).Error("Row buffer flush failed")
	} else {
		log.Debug("Row buffer flush completed")
	}

	// done is buffered with capacity one and written once.
	for _, w := range waiters {
		w.done <- err
	}

	return err
}

// Len returns the number of buffered rows.
func (b *Buffer[R]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.rows)
}

// WaiterCount returns the number of submissions waiting for a flush.
func (b *Buffer[R]) WaiterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.waiters)
}
