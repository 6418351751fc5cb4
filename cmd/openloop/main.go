// Package main provides the entry point for the openloop CLI.
package main

import (
	"fmt"
	"os"

	"github.com/openloop-ai/openloop/cmd/openloop/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
