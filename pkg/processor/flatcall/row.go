package flatcall

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
)

var (
	// ErrGasOverflow is returned when gas or gasUsed does not fit in 64 bits.
	ErrGasOverflow = errors.New("gas exceeds 64 bits")
	// ErrValueOverflow is returned when a call value does not fit in 256 bits.
	ErrValueOverflow = errors.New("value exceeds 256 bits")
)

// Row is one flat call as stored in ClickHouse.
type Row struct {
	BlockNumber      uint64
	TransactionHash  string
	TransactionIndex uint32
	TraceAddress     []uint32
	TraceAddressPath string
	Depth            uint32
	Subtraces        uint32
	CallType         string
	From             string
	To               string
	Gas              uint64
	GasUsed          uint64
	Value            uint256.Int
	Input            string
	Output           string
	Error            *string
	RevertReason     *string
}

// NewRows converts the flat calls of one transaction into rows.
func NewRows(blockNumber uint64, txHash common.Hash, txIndex uint32, calls []calltrace.FlatCall) ([]Row, error) {
	rows := make([]Row, 0, len(calls))

	for i := range calls {
		row, err := newRow(blockNumber, txHash, txIndex, &calls[i])
		if err != nil {
			return nil, fmt.Errorf("trace address %s: %w", calltrace.FormatTraceAddress(calls[i].TraceAddress), err)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func newRow(blockNumber uint64, txHash common.Hash, txIndex uint32, call *calltrace.FlatCall) (Row, error) {
	gas, err := toUint64(call.Action.Gas)
	if err != nil {
		return Row{}, fmt.Errorf("gas: %w", err)
	}

	gasUsed, err := toUint64(call.Result.GasUsed)
	if err != nil {
		return Row{}, fmt.Errorf("gasUsed: %w", err)
	}

	value, err := toUint256(call.Action.Value)
	if err != nil {
		return Row{}, err
	}

	traceAddress := make([]uint32, len(call.TraceAddress))
	for i, idx := range call.TraceAddress {
		traceAddress[i] = uint32(idx) //nolint:gosec // sibling positions are small and non-negative
	}

	return Row{
		BlockNumber:      blockNumber,
		TransactionHash:  txHash.Hex(),
		TransactionIndex: txIndex,
		TraceAddress:     traceAddress,
		TraceAddressPath: calltrace.FormatTraceAddress(call.TraceAddress),
		Depth:            uint32(call.Depth()),   //nolint:gosec // trace addresses are never empty
		Subtraces:        uint32(call.Subtraces), //nolint:gosec // bounded by the call count
		CallType:         call.Action.Type.String(),
		From:             call.Action.From.Hex(),
		To:               addressHex(call.Action.To),
		Gas:              gas,
		GasUsed:          gasUsed,
		Value:            value,
		Input:            hexutil.Encode(call.Action.Input),
		Output:           hexutil.Encode(call.Result.Output),
		Error:            call.Error,
		RevertReason:     call.RevertReason,
	}, nil
}

// addressHex renders a missing address, as on a failed CREATE, as "".
func addressHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}

	return addr.Hex()
}

// toUint64 treats a missing quantity as zero.
func toUint64(v *math.HexOrDecimal256) (uint64, error) {
	u, err := toUint256(v)
	if err != nil {
		return 0, ErrGasOverflow
	}

	if !u.IsUint64() {
		return 0, ErrGasOverflow
	}

	return u.Uint64(), nil
}

func toUint256(v *math.HexOrDecimal256) (uint256.Int, error) {
	if v == nil {
		return uint256.Int{}, nil
	}

	u, overflow := uint256.FromBig((*big.Int)(v))
	if overflow || (*big.Int)(v).Sign() < 0 {
		return uint256.Int{}, ErrValueOverflow
	}

	return *u, nil
}
