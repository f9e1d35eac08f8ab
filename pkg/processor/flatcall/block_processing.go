package flatcall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
	pcommon "github.com/ethpandaops/flattrace/pkg/common"
	"github.com/ethpandaops/flattrace/pkg/state"
)

// ErrNoBlockNumber is returned when a node reports no head block.
var ErrNoBlockNumber = errors.New("execution node returned no block number")

// ProcessNextBlock processes the block after the last stored one. It returns
// false without error when the chain head has already been processed.
func (p *Processor) ProcessNextBlock(ctx context.Context) (bool, error) {
	node, err := p.pool.WaitForHealthyNode(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get healthy node: %w", err)
	}

	head, err := node.BlockNumber(ctx)
	if err != nil {
		p.recordError("block_number", err)

		return false, fmt.Errorf("failed to get chain head from %s: %w", node.Name(), err)
	}

	if head == nil {
		return false, ErrNoBlockNumber
	}

	pcommon.BlockHeight.WithLabelValues(p.network.Name, ProcessorName).Set(float64(*head))

	next, err := p.state.NextBlock(ctx, ProcessorName, p.network.Name, *head)
	if errors.Is(err, state.ErrNoMoreBlocks) {
		pcommon.HeadDistance.WithLabelValues(p.network.Name, ProcessorName).Set(0)

		return false, nil
	}

	if err != nil {
		p.recordError("next_block", err)

		return false, fmt.Errorf("failed to get next block: %w", err)
	}

	pcommon.HeadDistance.WithLabelValues(p.network.Name, ProcessorName).Set(float64(*head - next))

	if _, err := p.ProcessBlock(ctx, next); err != nil {
		return false, err
	}

	return true, nil
}

// ProcessBlock traces, flattens and stores one block, then records it as
// processed. It returns the number of flat calls written.
func (p *Processor) ProcessBlock(ctx context.Context, number uint64) (int, error) {
	start := time.Now()
	log := p.log.WithField("block_number", number)

	txs, err := p.pool.TraceBlockCalls(ctx, number)
	if err != nil {
		p.recordError("trace_block", err)

		return 0, fmt.Errorf("failed to trace block %d: %w", number, err)
	}

	perTx := make([][]Row, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.config.Concurrency, 1))

	for i := range txs {
		g.Go(func() error {
			rows, err := p.processTransaction(gctx, number, i, &txs[i])
			perTx[i] = rows

			return err
		})
	}

	if err := g.Wait(); err != nil {
		p.recordError("process_transactions", err)

		return 0, fmt.Errorf("failed to process block %d: %w", number, err)
	}

	rows := make([]Row, 0, countRows(perTx))
	for _, txRows := range perTx {
		rows = append(rows, txRows...)
	}

	if err := p.buffer.Submit(ctx, rows); err != nil {
		p.recordError("insert", err)

		return 0, fmt.Errorf("failed to store block %d: %w", number, err)
	}

	if err := p.state.MarkBlockProcessed(ctx, number, p.network.Name, ProcessorName); err != nil {
		p.recordError("mark_processed", err)

		return 0, fmt.Errorf("failed to mark block %d processed: %w", number, err)
	}

	total := len(rows)
	duration := time.Since(start)

	pcommon.BlocksProcessed.WithLabelValues(p.network.Name, ProcessorName).Inc()
	pcommon.BlockProcessingDuration.WithLabelValues(p.network.Name, ProcessorName).Observe(duration.Seconds())
	pcommon.FlatCallsProduced.WithLabelValues(p.network.Name, ProcessorName).Add(float64(total))

	log.WithFields(logrus.Fields{
		"transactions": len(txs),
		"flat_calls":   total,
		"duration":     duration,
	}).Info("Processed block")

	return total, nil
}

// processTransaction flattens one transaction at its block position.
func (p *Processor) processTransaction(ctx context.Context, number uint64, index int, tx *calltrace.TxCall) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if tx.Result == nil {
		// The position stays reserved so later transactions keep their index.
		p.log.WithFields(logrus.Fields{
			"block_number": number,
			"tx_hash":      tx.TxHash.Hex(),
			"tx_index":     index,
			"trace_error":  tx.Error,
		}).Warn("Transaction has no call trace")

		pcommon.TransactionsProcessed.WithLabelValues(p.network.Name, ProcessorName, "skipped").Inc()

		return nil, nil
	}

	flat := calltrace.FlattenCall(tx.Result, index)

	rows, err := NewRows(number, tx.TxHash, uint32(index), flat) //nolint:gosec // index is bounded by the block's transaction count
	if err != nil {
		pcommon.TransactionsProcessed.WithLabelValues(p.network.Name, ProcessorName, "failed").Inc()

		return nil, fmt.Errorf("tx %s: %w", tx.TxHash.Hex(), err)
	}

	depth := pcommon.FlatCallDepth.WithLabelValues(p.network.Name, ProcessorName)
	for i := range flat {
		depth.Observe(float64(flat[i].Depth()))
	}

	pcommon.TransactionsProcessed.WithLabelValues(p.network.Name, ProcessorName, "success").Inc()

	return rows, nil
}

func countRows(perTx [][]Row) int {
	n := 0
	for _, rows := range perTx {
		n += len(rows)
	}

	return n
}

func (p *Processor) recordError(operation string, err error) {
	errorType := "unknown"

	switch {
	case errors.Is(err, context.Canceled):
		errorType = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		errorType = "timeout"
	case errors.Is(err, ErrGasOverflow), errors.Is(err, ErrValueOverflow):
		errorType = "overflow"
	}

	pcommon.ProcessorErrors.WithLabelValues(p.network.Name, ProcessorName, operation, errorType).Inc()
}
