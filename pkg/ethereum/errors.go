package ethereum

import "errors"

var (
	// ErrNoHealthyNode indicates no healthy execution node is available.
	ErrNoHealthyNode = errors.New("no healthy execution node available")

	// ErrNoExecutionNodes indicates the pool was configured without nodes.
	ErrNoExecutionNodes = errors.New("no execution nodes configured")

	// ErrUnsupportedChainID indicates the chain id has no known network name.
	ErrUnsupportedChainID = errors.New("unsupported chain ID")
)
