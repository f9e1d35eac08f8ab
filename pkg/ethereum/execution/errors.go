package execution

import "errors"

// ErrTransactionNotFound is returned when the node has no trace for a transaction hash.
var ErrTransactionNotFound = errors.New("transaction not found")
