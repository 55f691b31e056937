// specdriver: spec-driven workflow MCP server
//
// Turns raw feature requests into gated specification pipelines:
// classify → constitution → specification → clarification → plan →
// tasks → implementation, with a deterministic quality gate between
// every generation and the store.
//
// Usage:
//
//	specdriver serve    # Start MCP server (stdio transport)
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sddserver "github.com/sddkit/specdriver/internal/server"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("specdriver v%s\n", sddserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() error {
	s, cleanup, err := sddserver.New()
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Graceful shutdown on interrupt: the stdio server stops when its
	// streams close, the signal handler makes Ctrl-C release the store.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cleanup()
		os.Exit(0)
	}()

	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `specdriver v%s — spec-driven workflow MCP server

Usage:
  specdriver serve    Start the MCP server (stdio transport)

Configuration:
  Settings file: ~/.specdriver/specdriver.json
  API key:       SPECDRIVER_API_KEY environment variable

  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "specdriver": {
        "command": "specdriver",
        "args": ["serve"]
      }
    }
  }
`, sddserver.Version)
}
