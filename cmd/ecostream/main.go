// Package main is the entry point for the ecostream CLI.
//
// Usage:
//
//	ecostream [flags] <command> [args]
//
// Commands:
//
//	serve    - Serve chat turns over SSE and WebSocket
//	chat     - Run one turn against the configured model
//	decide   - Show the decision for a message
//	modules  - Show the prompt modules selected for a message
//	config   - Write or show the configuration
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/ecostream/cmd/ecostream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
