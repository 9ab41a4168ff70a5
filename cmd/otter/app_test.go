package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/als-computing/otter/config"
	"github.com/als-computing/otter/contexts"
)

func TestRootCmdSubcommands(t *testing.T) {
	cmd := rootCmd()

	want := []string{"chat", "deploy", "status", "capabilities", "runs", "version"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("rootCmd() is missing subcommand %q", name)
		}
	}

	for _, flag := range []string{"config", "log-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("rootCmd() is missing the --%s flag", flag)
		}
	}
}

func TestLoadConfigFromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otter.yaml")
	content := "archive:\n  root: /data/badger/archived\nchat:\n  history_limit: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := (&rootFlags{configPath: path}).loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Archive.Root != "/data/badger/archived" {
		t.Errorf("Archive.Root = %q", cfg.Archive.Root)
	}
	if cfg.Chat.HistoryLimit != 5 {
		t.Errorf("Chat.HistoryLimit = %d, want 5", cfg.Chat.HistoryLimit)
	}
	// Untouched sections keep defaults.
	if !cfg.NATS.Embedded {
		t.Error("NATS.Embedded should default to true")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otter.yaml")
	if err := os.WriteFile(path, []byte("archive:\n  root: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (&rootFlags{configPath: path}).loadConfig(); err == nil {
		t.Error("loadConfig() should reject an empty archive root")
	}
}

func TestLoadConfigLogLevelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otter.yaml")
	content := "archive:\n  root: /data/badger/archived\nlogging:\n  level: info\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := (&rootFlags{configPath: path, logLevel: "debug"}).loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want flag override", cfg.Logging.Level)
	}

	// Override values go through the same validation as config values.
	if _, err := (&rootFlags{configPath: path, logLevel: "loud"}).loadConfig(); err == nil {
		t.Error("loadConfig() should reject an invalid log level override")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level  string
		format string
	}{
		{"debug", "text"},
		{"info", "json"},
		{"warn", "text"},
		{"error", "json"},
		{"", ""},
	}
	for _, tt := range tests {
		logger := newLogger(config.LoggingConfig{Level: tt.level, Format: tt.format})
		if logger == nil {
			t.Errorf("newLogger(%q, %q) = nil", tt.level, tt.format)
		}
	}
}

func TestFormatRunLine(t *testing.T) {
	run := &contexts.BadgerRun{
		RunName:        "BadgerOpt-2026-08-12-093015",
		Beamline:       "cu_hxr",
		Algorithm:      "expected_improvement",
		NumEvaluations: 42,
		StartedAt:      time.Date(2026, 8, 12, 9, 30, 15, 0, time.UTC),
	}

	got := formatRunLine(run)
	want := "2026-08-12 09:30  BadgerOpt-2026-08-12-093015  cu_hxr  expected_improvement  42 evals"
	if got != want {
		t.Errorf("formatRunLine() = %q, want %q", got, want)
	}
}

func TestJoinTypes(t *testing.T) {
	got := joinTypes([]contexts.Type{contexts.TypeBadgerRuns, contexts.TypeRunAnalysis})
	want := "BADGER_RUNS, RUN_ANALYSIS"
	if got != want {
		t.Errorf("joinTypes() = %q, want %q", got, want)
	}
}
