// Package main is the entry point for the sved coordinator.
package main

import (
	"os"

	"github.com/urban-engineer/sved/cmd/sved/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
