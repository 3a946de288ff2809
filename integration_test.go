package integration

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/pipeline"
	"github.com/isdmx/runbox/runner"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/session"
)

// TestIntegrationConfigLoggerPipeline exercises the wiring between config,
// logger and the input pipeline without a container runtime.
func TestIntegrationConfigLoggerPipeline(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		cfg := &config.Config{
			Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
		}
		log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)
		require.NotNil(t, log)

		log.Info("integration test started")
		_ = log.Sync()
	})

	t.Run("ProfilesAndPipelineIntegration", func(t *testing.T) {
		profiles := config.DefaultProfiles()
		p := pipeline.New(zaptest.NewLogger(t))

		for id := range profiles {
			res := p.Process([]byte("x = 1"), id, pipeline.Options{Validate: true})
			assert.True(t, res.Accepted, "benign code must pass for %s", id)
		}

		res := p.Process([]byte("rm -rf /"), "bash", pipeline.Options{Validate: true})
		assert.False(t, res.Accepted)
	})
}

// requireDocker skips unless a container runtime is opted in via the
// environment. These tests pull and run real images.
func requireDocker(t *testing.T) sandbox.Runtime {
	t.Helper()
	if os.Getenv("RUNBOX_DOCKER_TESTS") == "" {
		t.Skip("set RUNBOX_DOCKER_TESTS=1 to run container runtime tests")
	}
	rt, err := sandbox.NewRuntime(zaptest.NewLogger(t), sandbox.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestIntegrationBatchRun(t *testing.T) {
	rt := requireDocker(t)
	log := zaptest.NewLogger(t)
	r := runner.New(log, rt, pipeline.New(log), config.DefaultProfiles(), runner.Options{
		Validate: true,
	})

	t.Run("HelloWorld", func(t *testing.T) {
		res := r.Run(context.Background(), runner.Request{
			Language: "python",
			Code:     []byte(`print("Hello, World!")`),
		})
		require.Empty(t, res.Error)
		assert.True(t, res.Success)
		assert.Equal(t, "Hello, World!\n", res.Stdout)
	})

	t.Run("StdinRoundTrip", func(t *testing.T) {
		res := r.Run(context.Background(), runner.Request{
			Language: "python",
			Code:     []byte("import sys; print(sys.stdin.read().upper())"),
			Stdin:    []byte("hello"),
		})
		require.Empty(t, res.Error)
		assert.Equal(t, "HELLO\n", res.Stdout)
	})

	t.Run("TimeoutKillsSandbox", func(t *testing.T) {
		res := r.Run(context.Background(), runner.Request{
			Language: "python",
			Code:     []byte("import time; time.sleep(60)"),
			Timeout:  2 * time.Second,
		})
		assert.True(t, res.TimedOut)
		assert.Equal(t, runner.TimeoutExitCode, res.ExitCode)
	})
}

func TestIntegrationSession(t *testing.T) {
	rt := requireDocker(t)
	log := zaptest.NewLogger(t)
	m := session.NewManager(log, rt, pipeline.New(log), config.DefaultProfiles(), session.Options{
		Validate: true,
	})
	t.Cleanup(m.Close)

	id, err := m.Start(context.Background(), "python")
	require.NoError(t, err)

	require.NoError(t, m.Send(id, []byte("6*7\n")))

	deadline := time.After(30 * time.Second)
	var out []byte
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == session.EventClosed {
				t.Fatalf("session closed early: %s", ev.Reason)
			}
			out = append(out, ev.Data...)
			if strings.Contains(string(out), "42") {
				m.Stop(id)
				return
			}
		case <-deadline:
			t.Fatalf("no REPL answer; got %q", out)
		}
	}
}
