package calltrace

import (
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Action is the invocation half of a flat call.
type Action struct {
	Type  CallType              `json:"type"`
	From  common.Address        `json:"from"`
	To    *common.Address       `json:"to,omitempty"`
	Gas   *math.HexOrDecimal256 `json:"gas"`
	Value *math.HexOrDecimal256 `json:"value"`
	Input hexutil.Bytes         `json:"input"`
}

// Result is the outcome half of a flat call.
type Result struct {
	Output  hexutil.Bytes         `json:"output"`
	GasUsed *math.HexOrDecimal256 `json:"gasUsed"`
}

// FlatCall is one frame of a call tree positioned by its trace address.
type FlatCall struct {
	Action       Action  `json:"action"`
	Result       Result  `json:"result"`
	Subtraces    int     `json:"subtraces"`
	TraceAddress []int   `json:"traceAddress"`
	Error        *string `json:"error,omitempty"`
	RevertReason *string `json:"revertReason,omitempty"`
}

// Depth returns the nesting level of the call, 0 for a top-level call.
func (f *FlatCall) Depth() int {
	return len(f.TraceAddress) - 1
}

// Flatten converts a forest of call trees into flat calls in depth-first
// pre-order. The top-level call at position i gets trace address [i] and every
// nested call appends its position among its siblings.
//
// Byte slices and integers are shared with the input, not copied.
func Flatten(calls []Call) []FlatCall {
	size := 0

	for i := range calls {
		size += calls[i].Size()
	}

	flat := make([]FlatCall, 0, size)

	for i := range calls {
		flat = appendFlat(flat, &calls[i], []int{i})
	}

	return flat
}

// FlattenCall flattens a single call tree that sits at position index among
// the top-level calls.
func FlattenCall(call *Call, index int) []FlatCall {
	if call == nil {
		return nil
	}

	return appendFlat(make([]FlatCall, 0, call.Size()), call, []int{index})
}

// FlattenTxCalls flattens the per-transaction results of a block trace. The
// transaction position is used as the top-level index, so entries without a
// result leave a gap instead of shifting later transactions.
func FlattenTxCalls(txs []TxCall) []FlatCall {
	size := 0

	for i := range txs {
		size += txs[i].Result.Size()
	}

	flat := make([]FlatCall, 0, size)

	for i := range txs {
		if txs[i].Result == nil {
			continue
		}

		flat = appendFlat(flat, txs[i].Result, []int{i})
	}

	return flat
}

// appendFlat emits call and then its subtree. path is a shared working buffer;
// each emitted record gets its own copy.
func appendFlat(flat []FlatCall, call *Call, path []int) []FlatCall {
	flat = append(flat, newFlatCall(call, slices.Clone(path)))

	for j := range call.Calls {
		path = append(path, j)
		flat = appendFlat(flat, &call.Calls[j], path)
		path = path[:len(path)-1]
	}

	return flat
}

func newFlatCall(call *Call, traceAddress []int) FlatCall {
	return FlatCall{
		Action: Action{
			Type:  call.Type,
			From:  call.From,
			To:    copyAddress(call.To),
			Gas:   call.Gas,
			Value: call.Value,
			Input: call.Input,
		},
		Result: Result{
			Output:  call.Output,
			GasUsed: call.GasUsed,
		},
		Subtraces:    len(call.Calls),
		TraceAddress: traceAddress,
		Error:        call.Error,
		RevertReason: call.RevertReason,
	}
}

// copyAddress keeps emitted records independent of the input tree.
func copyAddress(addr *common.Address) *common.Address {
	if addr == nil {
		return nil
	}

	cp := *addr

	return &cp
}

// FormatTraceAddress renders a trace address as dot separated indices, e.g. "0.1.2".
func FormatTraceAddress(addr []int) string {
	parts := make([]string, len(addr))

	for i, idx := range addr {
		parts[i] = strconv.Itoa(idx)
	}

	return strings.Join(parts, ".")
}
