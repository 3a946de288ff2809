package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/isdmx/runbox/session"
)

var replLang string

// interrupt is the byte a terminal sends for Ctrl-C.
const interrupt = "\x03"

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Open an interactive session in a sandbox",
	Long: `Start a language REPL inside an isolated sandbox and attach this
terminal to it. Lines you type are forwarded to the REPL; its output is
echoed back with colors and prompts intact.

Ctrl-C is forwarded to the REPL as an interrupt. End the session with
Ctrl-D or by exiting the REPL.

Examples:
  runbox repl --lang python
  runbox repl --lang bash`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().StringVar(&replLang, "lang", "", "Language profile to start (required)")
	_ = replCmd.MarkFlagRequired("lang")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := eng.Sessions.Start(cmd.Context(), replLang)
	if err != nil {
		return err
	}
	defer eng.Sessions.Stop(id)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			// Forward rather than die; the REPL decides what ^C means.
			if serr := eng.Sessions.Send(id, []byte(interrupt)); serr != nil {
				return
			}
		}
	}()

	closed := make(chan string, 1)
	go func() {
		for ev := range eng.Sessions.Events() {
			if ev.SessionID != id {
				continue
			}
			switch ev.Type {
			case session.EventOutput:
				_, _ = os.Stdout.Write(ev.Data)
			case session.EventClosed:
				closed <- ev.Reason
				return
			}
		}
	}()

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- forwardInput(eng, id)
	}()

	select {
	case reason := <-closed:
		if reason != "stopped" {
			return fmt.Errorf("session ended: %s", reason)
		}
		return nil
	case err := <-inputDone:
		eng.Sessions.Stop(id)
		return err
	}
}

// forwardInput reads lines from this terminal and sends them to the
// session. Returns nil on EOF (Ctrl-D).
func forwardInput(eng *engine, id string) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		if err := eng.Sessions.Send(id, []byte(line)); err != nil {
			if errors.Is(err, session.ErrRejected) {
				fmt.Fprintf(os.Stderr, "rejected: %s\n", strings.TrimPrefix(err.Error(), session.ErrRejected.Error()+": "))
				continue
			}
			return err
		}
	}
	return scanner.Err()
}
