// Package main provides the entry point for the strand CLI.
package main

import (
	"fmt"
	"os"

	"github.com/strand-ai/strand/cmd/strand/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
