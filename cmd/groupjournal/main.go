// Package main is the entry point for the groupjournal CLI.
package main

import (
	"os"

	"github.com/KafClaw/groupjournal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
