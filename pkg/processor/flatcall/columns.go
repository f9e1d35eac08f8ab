package flatcall

import (
	"time"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/holiman/uint256"
)

// Columns holds all columns for flat call batch insert using ch-go columnar protocol.
type Columns struct {
	UpdatedDateTime  proto.ColDateTime
	BlockNumber      proto.ColUInt64
	TransactionHash  proto.ColStr
	TransactionIndex proto.ColUInt32
	TraceAddress     *proto.ColArr[uint32]
	TraceAddressPath proto.ColStr
	Depth            proto.ColUInt32
	Subtraces        proto.ColUInt32
	CallType         *proto.ColLowCardinality[string]
	FromAddress      proto.ColStr
	ToAddress        proto.ColStr
	Gas              proto.ColUInt64
	GasUsed          proto.ColUInt64
	Value            proto.ColUInt256
	CallInput        proto.ColStr
	CallOutput       proto.ColStr
	Error            *proto.ColNullable[string]
	RevertReason     *proto.ColNullable[string]
	MetaNetworkName  proto.ColStr
}

// NewColumns creates a new Columns instance with all columns initialized.
func NewColumns() *Columns {
	return &Columns{
		TraceAddress: new(proto.ColUInt32).Array(),
		CallType:     proto.NewLowCardinality[string](new(proto.ColStr)),
		Error:        new(proto.ColStr).Nullable(),
		RevertReason: new(proto.ColStr).Nullable(),
	}
}

// Append adds a row to all columns.
func (c *Columns) Append(updatedDateTime time.Time, row *Row, network string) {
	c.UpdatedDateTime.Append(updatedDateTime)
	c.BlockNumber.Append(row.BlockNumber)
	c.TransactionHash.Append(row.TransactionHash)
	c.TransactionIndex.Append(row.TransactionIndex)
	c.TraceAddress.Append(row.TraceAddress)
	c.TraceAddressPath.Append(row.TraceAddressPath)
	c.Depth.Append(row.Depth)
	c.Subtraces.Append(row.Subtraces)
	c.CallType.Append(row.CallType)
	c.FromAddress.Append(row.From)
	c.ToAddress.Append(row.To)
	c.Gas.Append(row.Gas)
	c.GasUsed.Append(row.GasUsed)
	c.Value.Append(toProtoUInt256(&row.Value))
	c.CallInput.Append(row.Input)
	c.CallOutput.Append(row.Output)
	c.Error.Append(nullableStr(row.Error))
	c.RevertReason.Append(nullableStr(row.RevertReason))
	c.MetaNetworkName.Append(network)
}

// Reset clears all columns for reuse.
func (c *Columns) Reset() {
	c.UpdatedDateTime.Reset()
	c.BlockNumber.Reset()
	c.TransactionHash.Reset()
	c.TransactionIndex.Reset()
	c.TraceAddress.Reset()
	c.TraceAddressPath.Reset()
	c.Depth.Reset()
	c.Subtraces.Reset()
	c.CallType.Reset()
	c.FromAddress.Reset()
	c.ToAddress.Reset()
	c.Gas.Reset()
	c.GasUsed.Reset()
	c.Value.Reset()
	c.CallInput.Reset()
	c.CallOutput.Reset()
	c.Error.Reset()
	c.RevertReason.Reset()
	c.MetaNetworkName.Reset()
}

// Input returns the proto.Input for inserting data.
func (c *Columns) Input() proto.Input {
	return proto.Input{
		{Name: "updated_date_time", Data: &c.UpdatedDateTime},
		{Name: "block_number", Data: &c.BlockNumber},
		{Name: "transaction_hash", Data: &c.TransactionHash},
		{Name: "transaction_index", Data: &c.TransactionIndex},
		{Name: "trace_address", Data: c.TraceAddress},
		{Name: "trace_address_path", Data: &c.TraceAddressPath},
		{Name: "depth", Data: &c.Depth},
		{Name: "subtraces", Data: &c.Subtraces},
		{Name: "call_type", Data: c.CallType},
		{Name: "from_address", Data: &c.FromAddress},
		{Name: "to_address", Data: &c.ToAddress},
		{Name: "gas", Data: &c.Gas},
		{Name: "gas_used", Data: &c.GasUsed},
		{Name: "value", Data: &c.Value},
		{Name: "input", Data: &c.CallInput},
		{Name: "output", Data: &c.CallOutput},
		{Name: "error", Data: c.Error},
		{Name: "revert_reason", Data: c.RevertReason},
		{Name: "meta_network_name", Data: &c.MetaNetworkName},
	}
}

// Rows returns the number of rows in the columns.
func (c *Columns) Rows() int {
	return c.BlockNumber.Rows()
}

// toProtoUInt256 splits the little-endian limbs of v into ClickHouse's UInt256 halves.
func toProtoUInt256(v *uint256.Int) proto.UInt256 {
	return proto.UInt256{
		Low:  proto.UInt128{Low: v[0], High: v[1]},
		High: proto.UInt128{Low: v[2], High: v[3]},
	}
}

// nullableStr converts a *string to proto.Nullable[string].
func nullableStr(s *string) proto.Nullable[string] {
	if s == nil {
		return proto.Null[string]()
	}

	return proto.NewNullable(*s)
}
