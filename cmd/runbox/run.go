package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/isdmx/runbox/runner"
)

var (
	runLang      string
	runExpr      string
	runStdinFile string
	runTimeout   time.Duration
	runArtifacts string
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute a source file in a sandbox",
	Long: `Execute one source file inside an isolated sandbox and print its output.

Reads the program from the given file, or from standard input when the
argument is "-" or omitted. The process exit code mirrors the program's.

Examples:
  runbox run --lang python script.py
  runbox run --lang python -e 'print(1+1)'
  echo 'print(1+1)' | runbox run --lang python
  runbox run --lang cpp --timeout 30s main.cpp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runLang, "lang", "", "Language profile to run under (required)")
	runCmd.Flags().StringVarP(&runExpr, "expr", "e", "", "Program text given inline instead of a file")
	runCmd.Flags().StringVar(&runStdinFile, "stdin", "", "File fed to the program's standard input")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Execution ceiling (capped by the language profile)")
	runCmd.Flags().StringVar(&runArtifacts, "artifacts", "", "Write the workspace as a tar archive to this path")
	_ = runCmd.MarkFlagRequired("lang")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	code, err := readSource(args)
	if err != nil {
		return err
	}

	var stdin []byte
	if runStdinFile != "" {
		stdin, err = os.ReadFile(runStdinFile)
		if err != nil {
			return fmt.Errorf("reading stdin file: %w", err)
		}
	}

	eng, cleanup, err := buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	res := eng.Runner.Run(cmd.Context(), runner.Request{
		Language:         runLang,
		Code:             code,
		Stdin:            stdin,
		Timeout:          runTimeout,
		CollectArtifacts: runArtifacts != "",
	})

	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)

	if res.Error != "" {
		return fmt.Errorf("%s", res.Error)
	}
	if runArtifacts != "" && len(res.Artifacts) > 0 {
		if err := os.WriteFile(runArtifacts, res.Artifacts, 0o644); err != nil {
			return fmt.Errorf("writing artifacts: %w", err)
		}
	}
	if res.ExitCode != 0 {
		cleanup() // os.Exit skips deferred calls
		os.Exit(res.ExitCode)
	}
	return nil
}

func readSource(args []string) ([]byte, error) {
	if runExpr != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("pass either a file or --expr, not both")
		}
		return []byte(runExpr), nil
	}
	if len(args) == 0 || args[0] == "-" {
		code, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading program from stdin: %w", err)
		}
		return code, nil
	}
	code, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	return code, nil
}
