package main

import "github.com/ethpandaops/flattrace/cmd"

func main() {
	cmd.Execute()
}
