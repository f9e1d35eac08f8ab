package calltrace

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockTraceJSON = `[
  {
    "txHash": "0x5a3b1f0c1f2e6f3d7e3c3a2c8c4b0f2a9e3e0f6c2a1b4d5e6f708192a3b4c5d6",
    "result": {
      "type": "CALL",
      "from": "0x1111111111111111111111111111111111111111",
      "to": "0x2222222222222222222222222222222222222222",
      "gas": "0x7a120",
      "gasUsed": "0x5208",
      "value": "0xde0b6b3a7640000",
      "input": "0xa9059cbb",
      "output": "0x",
      "calls": [
        {
          "type": "STATICCALL",
          "from": "0x2222222222222222222222222222222222222222",
          "to": "0x3333333333333333333333333333333333333333",
          "gas": "0x1000",
          "gasUsed": "0x10",
          "value": "0x0",
          "input": "0x",
          "output": "0x01"
        },
        {
          "type": "DELEGATECALL",
          "from": "0x2222222222222222222222222222222222222222",
          "to": "0x4444444444444444444444444444444444444444",
          "gas": "0x2000",
          "gasUsed": "0x20",
          "value": "0x0",
          "input": "0x",
          "output": "0x",
          "error": "execution reverted",
          "revertReason": "paused"
        }
      ]
    }
  },
  {
    "txHash": "0x6a3b1f0c1f2e6f3d7e3c3a2c8c4b0f2a9e3e0f6c2a1b4d5e6f708192a3b4c5d6",
    "error": "execution timeout"
  }
]`

func TestTxCall_DecodeBlockTrace(t *testing.T) {
	var txs []TxCall
	require.NoError(t, json.Unmarshal([]byte(blockTraceJSON), &txs))
	require.Len(t, txs, 2)

	root := txs[0].Result
	require.NotNil(t, root)
	assert.Equal(t, CallTypeCall, root.Type)
	require.NotNil(t, root.To)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), *root.To)
	assert.Equal(t, uint64(500000), (*big.Int)(root.Gas).Uint64())
	assert.Equal(t, "1000000000000000000", (*big.Int)(root.Value).String())
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, []byte(root.Input))
	require.Len(t, root.Calls, 2)
	assert.Equal(t, 3, root.Size())

	reverted := root.Calls[1]
	require.NotNil(t, reverted.Error)
	assert.Equal(t, "execution reverted", *reverted.Error)
	require.NotNil(t, reverted.RevertReason)
	assert.Equal(t, "paused", *reverted.RevertReason)

	assert.Nil(t, txs[1].Result)
	assert.Equal(t, "execution timeout", txs[1].Error)

	flat := FlattenTxCalls(txs)
	require.Len(t, flat, 3)
	assert.Equal(t, [][]int{{0}, {0, 0}, {0, 1}}, traceAddresses(flat))
}

func TestCall_SizeNil(t *testing.T) {
	var c *Call

	assert.Equal(t, 0, c.Size())
}

func TestCallType_Known(t *testing.T) {
	tests := []struct {
		callType CallType
		expected bool
	}{
		{CallTypeCall, true},
		{CallTypeCallCode, true},
		{CallTypeDelegateCall, true},
		{CallTypeStaticCall, true},
		{CallTypeCreate, true},
		{CallTypeCreate2, true},
		{CallTypeSelfDestruct, true},
		{CallType("call"), false},
		{CallType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.callType.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.callType.Known())
		})
	}
}
