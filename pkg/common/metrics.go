package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlockHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_block_height",
		Help: "Last block flattened and stored",
	}, []string{"network", "processor"})

	HeadDistance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_head_distance",
		Help: "Distance between the next block to flatten and the execution node head",
	}, []string{"network", "processor"})

	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_blocks_processed_total",
		Help: "Total number of blocks flattened",
	}, []string{"network", "processor"})

	BlockProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_block_processing_duration_seconds",
		Help:    "Time taken to trace, flatten and store a block",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"network", "processor"})

	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_transactions_processed_total",
		Help: "Total number of transactions flattened, by outcome",
	}, []string{"network", "processor", "status"})

	FlatCallsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_flat_calls_total",
		Help: "Total number of flat call records produced",
	}, []string{"network", "processor"})

	FlatCallDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_flat_call_depth",
		Help:    "Length of the trace address of produced flat calls",
		Buckets: prometheus.LinearBuckets(1, 2, 10),
	}, []string{"network", "processor"})

	ProcessorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_processor_errors_total",
		Help: "Total number of processor errors",
	}, []string{"network", "processor", "operation", "error_type"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_rpc_call_duration_seconds",
		Help:    "Duration of RPC calls to execution nodes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"chain_id", "node", "method", "status"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_rpc_calls_total",
		Help: "Total RPC calls made to execution nodes",
	}, []string{"chain_id", "node", "method", "status"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_api_requests_total",
		Help: "Total HTTP API requests",
	}, []string{"endpoint", "code"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_api_request_duration_seconds",
		Help:    "Duration of HTTP API requests",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"endpoint"})

	ClickHouseOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_clickhouse_operation_duration_seconds",
		Help:    "Duration of ClickHouse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"network", "processor", "operation", "table", "status"})

	ClickHouseOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_clickhouse_operation_total",
		Help: "Total number of ClickHouse operations",
	}, []string{"network", "processor", "operation", "table", "status"})

	ClickHouseInsertedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_clickhouse_inserted_rows_total",
		Help: "Total number of rows inserted into ClickHouse",
	}, []string{"network", "processor", "table"})

	ClickHouseRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_clickhouse_retries_total",
		Help: "Total number of retried ClickHouse operations",
	}, []string{"operation"})

	ClickHousePoolAcquiredResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_clickhouse_pool_acquired_resources",
		Help: "Number of currently acquired resources in the ClickHouse connection pool",
	}, []string{"network", "processor"})

	ClickHousePoolIdleResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_clickhouse_pool_idle_resources",
		Help: "Number of currently idle resources in the ClickHouse connection pool",
	}, []string{"network", "processor"})

	ClickHousePoolTotalResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_clickhouse_pool_total_resources",
		Help: "Total number of resources in the ClickHouse connection pool",
	}, []string{"network", "processor"})

	ClickHousePoolEmptyAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_clickhouse_pool_empty_acquire_total",
		Help: "Total number of acquires that waited for a resource because the pool was empty",
	}, []string{"network", "processor"})

	RowBufferFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_row_buffer_flush_total",
		Help: "Total number of row buffer flushes",
	}, []string{"processor", "table", "trigger", "status"})

	RowBufferFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_row_buffer_flush_duration_seconds",
		Help:    "Duration of row buffer flushes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"processor", "table"})

	RowBufferFlushSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flattrace_row_buffer_flush_size_rows",
		Help:    "Number of rows per flush",
		Buckets: prometheus.ExponentialBuckets(100, 2, 12),
	}, []string{"processor", "table"})

	RowBufferPendingRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_row_buffer_pending_rows",
		Help: "Current number of rows waiting in the buffer",
	}, []string{"processor", "table"})

	MemoryUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flattrace_memory_usage_bytes",
		Help: "Go runtime memory usage by kind",
	}, []string{"kind"})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flattrace_goroutines",
		Help: "Current number of goroutines",
	})

	MemoryPressureEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flattrace_memory_pressure_events_total",
		Help: "Number of times allocated memory crossed a configured threshold",
	}, []string{"level"})
)
