// Package main is the entry point for the communa CLI.
package main

import (
	"os"

	"github.com/KafClaw/communa/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
