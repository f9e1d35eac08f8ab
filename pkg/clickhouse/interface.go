package clickhouse

import (
	"context"

	"github.com/ClickHouse/ch-go/proto"
)

// ClientInterface is the subset of ClickHouse operations flattrace needs.
type ClientInterface interface {
	// Start dials the server. It is safe to call again after a failure.
	Start() error
	// Stop closes the connection pool.
	Stop() error
	// SetNetwork updates the network label used for metrics.
	SetNetwork(network string)
	// Execute runs a statement without a result set.
	Execute(ctx context.Context, query string) error
	// QueryUInt64 returns the first value of column, or nil when no rows match.
	QueryUInt64(ctx context.Context, query string, column string) (*uint64, error)
	// Insert writes a columnar block into table.
	Insert(ctx context.Context, table string, input proto.Input) error
}
