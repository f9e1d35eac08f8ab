package execution

import (
	"errors"
)

// Config is the configuration for a single execution node.
type Config struct {
	// Name is the name of the node, used in logs and metrics.
	Name string `yaml:"name"`
	// NodeAddress is the JSON-RPC address of the node.
	NodeAddress string `yaml:"nodeAddress"`
	// NodeHeaders are added to every request sent to the node.
	NodeHeaders map[string]string `yaml:"nodeHeaders"`
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}

	if c.NodeAddress == "" {
		return errors.New("nodeAddress is required")
	}

	return nil
}
