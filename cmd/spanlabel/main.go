// Package main is the entry point for the spanlabel CLI.
package main

import (
	"os"

	"github.com/jmylchreest/spanlabel/cmd/spanlabel/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
