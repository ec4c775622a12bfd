// Package main is the entry point for the shopsync CLI.
// The CLI is the operator terminal tool for driving the syncd admin API.
package main

import (
	"os"

	"shopsync/cmd/shopctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
