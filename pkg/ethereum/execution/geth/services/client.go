package services

import "strings"

// Client is an execution client implementation.
type Client string

const (
	ClientUnknown    Client = "unknown"
	ClientGeth       Client = "geth"
	ClientNethermind Client = "nethermind"
	ClientBesu       Client = "besu"
	ClientErigon     Client = "erigon"
	ClientReth       Client = "reth"
)

var knownClients = []Client{
	ClientGeth,
	ClientNethermind,
	ClientBesu,
	ClientErigon,
	ClientReth,
}

// ClientFromString derives the client from a web3_clientVersion string such as
// "Geth/v1.15.11-stable/linux-amd64/go1.24.2".
func ClientFromString(version string) Client {
	lower := strings.ToLower(version)

	for _, client := range knownClients {
		if strings.HasPrefix(lower, string(client)) {
			return client
		}
	}

	return ClientUnknown
}
