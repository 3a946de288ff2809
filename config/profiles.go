package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LanguageProfile is the static description of how one supported language
// builds and runs inside a sandbox. Profiles are immutable; requests look
// them up by id.
type LanguageProfile struct {
	ID            string `yaml:"id"`
	Image         string `yaml:"image"`
	FileExtension string `yaml:"file_extension"`
	// RunCommand executes the injected source file (always named
	// "main" + FileExtension, in the workspace directory).
	RunCommand string `yaml:"run_command"`
	// CompileCommand, when set, runs before RunCommand as one logical
	// unit; a compile failure surfaces as ordinary stderr/exit-code.
	CompileCommand string `yaml:"compile_command,omitempty"`
	// ReplCommand starts the interactive interpreter for terminal
	// sessions. Languages without one cannot open sessions.
	ReplCommand   string  `yaml:"repl_command,omitempty"`
	TimeoutMs     int     `yaml:"timeout_ms"`
	MemoryLimitMB int     `yaml:"memory_limit_mb"`
	CPULimit      float64 `yaml:"cpu_limit"`
	ProcessLimit  int     `yaml:"process_limit"`
	// ScratchSizeMB sizes the writable /tmp tmpfs. Compiled languages put
	// build caches and binaries there and need headroom; zero takes the
	// runtime default.
	ScratchSizeMB int `yaml:"scratch_size_mb,omitempty"`
}

// FileName returns the name the source file carries inside the sandbox.
func (p LanguageProfile) FileName() string {
	return "main" + p.FileExtension
}

// Timeout returns the profile's execution ceiling as a duration.
func (p LanguageProfile) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// MemoryBytes returns the memory ceiling in bytes.
func (p LanguageProfile) MemoryBytes() int64 {
	return int64(p.MemoryLimitMB) * 1024 * 1024
}

// NanoCPUs returns the CPU ceiling in the runtime's 1e9-per-core unit.
func (p LanguageProfile) NanoCPUs() int64 {
	return int64(p.CPULimit * 1e9)
}

func (p LanguageProfile) validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile missing id")
	}
	if p.Image == "" {
		return fmt.Errorf("profile %s: missing image", p.ID)
	}
	if p.RunCommand == "" {
		return fmt.Errorf("profile %s: missing run_command", p.ID)
	}
	if p.TimeoutMs <= 0 {
		return fmt.Errorf("profile %s: timeout_ms must be positive", p.ID)
	}
	if p.MemoryLimitMB <= 0 {
		return fmt.Errorf("profile %s: memory_limit_mb must be positive", p.ID)
	}
	return nil
}

// Profiles is the language profile table, keyed by id.
type Profiles map[string]LanguageProfile

// Lookup resolves a language id.
func (ps Profiles) Lookup(id string) (LanguageProfile, error) {
	p, ok := ps[id]
	if !ok {
		return LanguageProfile{}, fmt.Errorf("unsupported language: %s", id)
	}
	return p, nil
}

// DefaultProfiles returns the built-in language table. Compile output and
// interpreter caches go to /tmp, the only writable mount in a sandbox.
func DefaultProfiles() Profiles {
	return Profiles{
		"python": {
			ID:            "python",
			Image:         "python:3.12-slim",
			FileExtension: ".py",
			RunCommand:    "python3 -u main.py",
			ReplCommand:   "python3 -u -i -q",
			TimeoutMs:     10000,
			MemoryLimitMB: 256,
			CPULimit:      0.5,
			ProcessLimit:  64,
		},
		"javascript": {
			ID:            "javascript",
			Image:         "node:22-alpine",
			FileExtension: ".js",
			RunCommand:    "node main.js",
			ReplCommand:   "node -i",
			TimeoutMs:     10000,
			MemoryLimitMB: 256,
			CPULimit:      0.5,
			ProcessLimit:  64,
		},
		"go": {
			ID:             "go",
			Image:          "golang:1.25-alpine",
			FileExtension:  ".go",
			CompileCommand: "GOCACHE=/tmp/gocache HOME=/tmp go build -o /tmp/app main.go",
			RunCommand:     "/tmp/app",
			TimeoutMs:      30000,
			MemoryLimitMB:  512,
			CPULimit:       1.0,
			ProcessLimit:   128,
			// A cold build cache alone runs past 64 MB.
			ScratchSizeMB: 256,
		},
		"cpp": {
			ID:             "cpp",
			Image:          "gcc:14",
			FileExtension:  ".cpp",
			CompileCommand: "g++ -std=c++17 -O2 -o /tmp/app main.cpp",
			RunCommand:     "/tmp/app",
			TimeoutMs:      30000,
			MemoryLimitMB:  512,
			CPULimit:       1.0,
			ProcessLimit:   128,
			ScratchSizeMB:  128,
		},
		"bash": {
			ID:            "bash",
			Image:         "bash:5",
			FileExtension: ".sh",
			RunCommand:    "bash main.sh",
			ReplCommand:   "bash -i",
			TimeoutMs:     10000,
			MemoryLimitMB: 128,
			CPULimit:      0.5,
			ProcessLimit:  64,
		},
	}
}

// LoadProfiles returns the built-in table, overlaid with entries from the
// configured YAML file when one is set. File entries replace built-ins with
// the same id.
func LoadProfiles(cfg *Config) (Profiles, error) {
	profiles := DefaultProfiles()
	if cfg.Sandbox.ProfilesFile == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(cfg.Sandbox.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	var loaded []LanguageProfile
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}
	for _, p := range loaded {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("profiles file: %w", err)
		}
		profiles[p.ID] = p
	}
	return profiles, nil
}
