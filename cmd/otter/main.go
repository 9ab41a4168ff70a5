// Package main provides the otter binary entry point.
// Otter is an assistant for Badger particle-accelerator optimization
// runs: it queries the run archive, analyzes Bayesian Optimization
// results, and proposes new Badger routines.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/als-computing/otter/llm/providers"

	"github.com/als-computing/otter/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "otter"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Assistant for Badger optimization runs",
		Long: `Otter is an assistant for Badger particle-accelerator optimization runs.

It provides:
- Natural-language queries over the Badger run archive
- Bayesian Optimization result analysis (best vs final, initial sampling luck)
- Routine proposals composed from successful runs

Chat sessions and gathered contexts persist in NATS JetStream.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	cmd.AddCommand(
		chatCmd(flags),
		deployCmd(flags),
		statusCmd(flags),
		capabilitiesCmd(flags),
		runsCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

// loadConfig resolves configuration from the --config flag or the
// layered user/project search, then applies flag overrides.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFromFile(f.configPath)
	} else {
		cfg, err = config.NewLoader(nil).Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
