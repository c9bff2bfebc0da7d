// Package main is the entry point for the mindloop CLI.
package main

import (
	"os"

	"github.com/mindloop/mindloop/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
