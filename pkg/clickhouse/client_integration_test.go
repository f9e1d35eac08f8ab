//go:build integration

package clickhouse

import (
	"testing"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flattrace/internal/testutil"
)

// Integration tests using testcontainers - run with: go test -tags=integration ./...

func containerClient(t *testing.T) *Client {
	t.Helper()

	conn := testutil.NewClickHouseContainer(t)

	client, err := New(&Config{
		Addr:     conn.Addr(),
		Database: conn.Database,
		Username: conn.Username,
		Password: conn.Password,
		Network:  "test",
	})
	require.NoError(t, err)
	require.NoError(t, client.Start())

	t.Cleanup(func() { _ = client.Stop() })

	return client
}

func TestClient_Integration_Container_StartIsIdempotent(t *testing.T) {
	client := containerClient(t)

	require.NoError(t, client.Start())
	require.NoError(t, client.Execute(t.Context(), "SELECT 1"))
}

func TestClient_Integration_Container_InsertArrays(t *testing.T) {
	client := containerClient(t)

	require.NoError(t, client.Execute(t.Context(), `
		CREATE TABLE flattrace_array_test (
			block_number UInt64,
			trace_address Array(UInt32)
		) ENGINE = Memory
	`))

	blocks := new(proto.ColUInt64)
	addresses := new(proto.ColUInt32).Array()

	blocks.Append(1)
	addresses.Append([]uint32{})
	blocks.Append(1)
	addresses.Append([]uint32{0, 2})

	require.NoError(t, client.Insert(t.Context(), "flattrace_array_test", proto.Input{
		{Name: "block_number", Data: blocks},
		{Name: "trace_address", Data: addresses},
	}))

	deepest, err := client.QueryUInt64(t.Context(), "SELECT max(length(trace_address)) AS deepest FROM flattrace_array_test", "deepest")
	require.NoError(t, err)
	require.NotNil(t, deepest)
	assert.Equal(t, uint64(2), *deepest)
}
