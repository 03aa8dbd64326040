package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐╦┌─┐┌─┐
  ├─┤║├─┤│ ┬
  ┴ ┴╩┴ ┴└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "aiag",
		Short: "Semantic browser automation gateway for AI agents",
		Long: `aiag exposes real browser sessions to AI agents over WebSocket.

Agents connect, open isolated sessions and drive pages with typed
commands instead of raw protocol calls:

  • navigate, click, fill, extract, wait
  • per-session command ordering
  • read-through extract cache with mutation invalidation
  • per-client rate limiting and input screening
  • JSONL session transcripts with optional S3 archival`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
