package calltrace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDocument is returned for input that is not a call tracer result.
var ErrInvalidDocument = errors.New("invalid call trace document")

// FlattenJSON flattens a call tracer document. It accepts a single call
// object, an array of calls, or a block trace array of {txHash, result}
// entries.
func FlattenJSON(data []byte) ([]FlatCall, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidDocument)
	}

	switch data[0] {
	case '{':
		var call Call
		if err := json.Unmarshal(data, &call); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}

		return FlattenCall(&call, 0), nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}

		return flattenItems(items)
	default:
		return nil, fmt.Errorf("%w: expected an object or array", ErrInvalidDocument)
	}
}

// flattenItems decodes an array whose items must all be calls or all be
// block trace entries.
func flattenItems(items []json.RawMessage) ([]FlatCall, error) {
	if len(items) == 0 {
		return []FlatCall{}, nil
	}

	txShape := false

	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrInvalidDocument, i)
		}

		isTx := isTxCall(item)
		if i == 0 {
			txShape = isTx
		} else if isTx != txShape {
			return nil, fmt.Errorf("%w: item %d mixes calls and block trace entries", ErrInvalidDocument, i)
		}
	}

	if txShape {
		txs := make([]TxCall, len(items))
		for i, item := range items {
			if err := json.Unmarshal(item, &txs[i]); err != nil {
				return nil, fmt.Errorf("%w: item %d: %w", ErrInvalidDocument, i, err)
			}
		}

		return FlattenTxCalls(txs), nil
	}

	calls := make([]Call, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &calls[i]); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrInvalidDocument, i, err)
		}
	}

	return Flatten(calls), nil
}

func isTxCall(item json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(item, &probe); err != nil {
		return false
	}

	_, hasResult := probe["result"]
	_, hasHash := probe["txHash"]

	return hasResult || hasHash
}
