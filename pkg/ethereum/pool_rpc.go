package ethereum

import (
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/flattrace/pkg/ethereum/execution"
	"github.com/ethpandaops/flattrace/pkg/ethereum/execution/geth"
)

// NewPool creates a pool of JSON-RPC nodes from config.
// Hosts that bring their own trace source use NewPoolWithNodes instead.
func NewPool(log logrus.FieldLogger, namespace string, config *Config) *Pool {
	nodes := make([]execution.Node, 0, len(config.Execution))

	for _, execCfg := range config.Execution {
		nodes = append(nodes, geth.NewRPCNode(log, execCfg))
	}

	return NewPoolWithNodes(log, namespace, nodes, config)
}
