// Package main is the runbox command line.
//
// Runbox executes untrusted code in isolated sandboxes. The run subcommand
// performs one batch execution; the repl subcommand opens an interactive
// terminal session inside a sandbox. The application uses Uber's fx
// framework for dependency injection, with zap for structured logging and
// viper for configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "Runbox - sandboxed code execution",
	Long: `Runbox runs untrusted code inside locked-down containers.

Batch runs inject a source file, execute it with resource limits and no
network, and report the captured output. Interactive sessions attach a
terminal to a language REPL running under the same isolation.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
