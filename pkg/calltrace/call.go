// Package calltrace holds the nested call tree produced by the call tracer and
// flattens it into the parity-style flat trace format.
package calltrace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// CallType is the kind of frame a call was made with.
// Values outside the known set are carried through unchanged.
type CallType string

const (
	CallTypeCall         CallType = "CALL"
	CallTypeCallCode     CallType = "CALLCODE"
	CallTypeDelegateCall CallType = "DELEGATECALL"
	CallTypeStaticCall   CallType = "STATICCALL"
	CallTypeCreate       CallType = "CREATE"
	CallTypeCreate2      CallType = "CREATE2"
	CallTypeSelfDestruct CallType = "SELFDESTRUCT"
)

// Known reports whether t is one of the call types emitted by the EVM.
func (t CallType) Known() bool {
	switch t {
	case CallTypeCall, CallTypeCallCode, CallTypeDelegateCall, CallTypeStaticCall,
		CallTypeCreate, CallTypeCreate2, CallTypeSelfDestruct:
		return true
	default:
		return false
	}
}

func (t CallType) String() string {
	return string(t)
}

// Call is a single frame of a call tracer result. Calls holds the sub-calls in
// execution order.
type Call struct {
	Type         CallType              `json:"type"`
	From         common.Address        `json:"from"`
	To           *common.Address       `json:"to,omitempty"`
	Gas          *math.HexOrDecimal256 `json:"gas"`
	GasUsed      *math.HexOrDecimal256 `json:"gasUsed"`
	Value        *math.HexOrDecimal256 `json:"value"`
	Input        hexutil.Bytes         `json:"input"`
	Output       hexutil.Bytes         `json:"output"`
	Error        *string               `json:"error,omitempty"`
	RevertReason *string               `json:"revertReason,omitempty"`
	Calls        []Call                `json:"calls,omitempty"`
}

// Size returns the number of frames in the tree rooted at c, including c.
func (c *Call) Size() int {
	if c == nil {
		return 0
	}

	n := 1

	for i := range c.Calls {
		n += c.Calls[i].Size()
	}

	return n
}

// TxCall is one entry of a debug_traceBlockByNumber response.
// Result is nil when the node failed to trace the transaction.
type TxCall struct {
	TxHash common.Hash `json:"txHash"`
	Result *Call       `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}
