// Package main is the entry point for the autopanel CLI/TUI.
package main

import (
	"os"

	"github.com/autopanel-io/autopanel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
