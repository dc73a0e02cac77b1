// Package main is the entry point for the sved worker agent.
package main

import (
	"os"

	"github.com/urban-engineer/sved/cmd/sved-worker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
