package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/als-computing/otter/archive"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/deploy"
)

// chatCmd starts the interactive chat session.
func chatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			application := NewApp(cfg)
			if err := application.Start(ctx); err != nil {
				return err
			}
			defer application.Shutdown()

			printBanner()
			return application.RunREPL(ctx)
		},
	}
}

func printBanner() {
	fmt.Printf("Otter v%s - Badger optimization run assistant\n", Version)
	fmt.Println("Type /help for commands, or ask about your optimization runs.")
	fmt.Println()
}

// deployCmd manages backing services.
func deployCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Manage backing services",
	}
	cmd.AddCommand(deployUpCmd(flags), deployDownCmd(flags), deployStatusCmd(flags))
	return cmd
}

func deployUpCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start backing services and verify data source health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			state := &deploy.State{StartedAt: time.Now().UTC()}

			if cfg.Deploy.ComposeFile != "" {
				compose := deploy.NewCompose(cfg.Deploy.ComposeFile, logger)
				if err := compose.Up(ctx); err != nil {
					return err
				}
				if cfg.NATS.URL != "" {
					if err := deploy.WaitForNATS(ctx, cfg.NATS, cfg.Deploy.ReadyTimeout); err != nil {
						return err
					}
				}
				state.Mode = deploy.ModeCompose
				state.ComposeFile = cfg.Deploy.ComposeFile
				state.NATSURL = cfg.NATS.URL
			} else {
				// Embedded mode has nothing to start ahead of time; chat
				// runs its own server. Verify the config connects.
				n, err := deploy.StartNATS(cfg.NATS, logger)
				if err != nil {
					return err
				}
				n.Shutdown()
				state.Mode = deploy.ModeEmbedded
			}

			// Health-gate the archive the same way chat startup does.
			arch := archive.New(cfg.Archive.Root, archive.WithLogger(logger))
			if err := deploy.HealthGate(ctx, []capability.DataSource{arch}, logger); err != nil {
				return err
			}

			if err := deploy.SaveState(cfg.Deploy.StateFile, state); err != nil {
				return err
			}

			fmt.Printf("✓ Deployment up (%s mode)\n", state.Mode)
			return nil
		},
	}
}

func deployDownCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop backing services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			state, err := deploy.LoadState(cfg.Deploy.StateFile)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No deployment state found; nothing to stop.")
					return nil
				}
				// A corrupt state file should not leave containers orphaned.
				logger.Warn("Failed to read deployment state", "error", err)
				state = &deploy.State{Mode: deploy.ModeCompose, ComposeFile: cfg.Deploy.ComposeFile}
			}

			if state.Mode == deploy.ModeCompose && state.ComposeFile != "" {
				compose := deploy.NewCompose(state.ComposeFile, logger)
				if err := compose.Down(ctx); err != nil {
					return err
				}
			}

			if err := deploy.ClearState(cfg.Deploy.StateFile); err != nil {
				return err
			}

			fmt.Println("✓ Deployment down")
			return nil
		},
	}
}

func deployStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show deployment status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			state, err := deploy.LoadState(cfg.Deploy.StateFile)
			if err != nil {
				fmt.Println("Not deployed.")
				return nil
			}

			fmt.Printf("Mode: %s\n", state.Mode)
			fmt.Printf("Started: %s\n", state.StartedAt.Format(time.RFC3339))
			if state.Mode == deploy.ModeCompose {
				ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				compose := deploy.NewCompose(state.ComposeFile, newLogger(cfg.Logging))
				out, err := compose.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Print(out)
			}
			return nil
		},
	}
}

// statusCmd checks data source health without starting a chat session.
func statusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check data source health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			arch := archive.New(cfg.Archive.Root, archive.WithLogger(logger))
			if err := arch.HealthCheck(ctx); err != nil {
				fmt.Printf("badger_archive: unhealthy (%v)\n", err)
				return fmt.Errorf("health check failed")
			}
			fmt.Println("badger_archive: ok")

			beamlines, err := arch.Beamlines(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Archive root: %s\n", cfg.Archive.Root)
			fmt.Printf("Beamlines: %d\n", len(beamlines))
			for _, b := range beamlines {
				fmt.Printf("  %s\n", b)
			}
			return nil
		},
	}
}

// capabilitiesCmd lists registered capabilities without an LLM client;
// the listing comes straight from the registry configuration.
func capabilitiesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			application := NewApp(cfg)
			if err := application.Start(ctx); err != nil {
				return err
			}
			defer application.Shutdown()

			for _, c := range application.registry.Capabilities() {
				fmt.Printf("%s\n  %s\n", c.Name(), c.Description())
				if provides := c.Provides(); len(provides) > 0 {
					fmt.Printf("  provides: %s\n", joinTypes(provides))
				}
				if requires := c.Requires(); len(requires) > 0 {
					fmt.Printf("  requires: %s\n", joinTypes(requires))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

// runsCmd queries the archive directly, bypassing the agent. Useful for
// smoke-testing a deployment.
func runsCmd(flags *rootFlags) *cobra.Command {
	var (
		beamline  string
		algorithm string
		objective string
		since     time.Duration
		limit     int
		oldest    bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the Badger run archive directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			arch := archive.New(cfg.Archive.Root,
				archive.WithLogger(logger),
				archive.WithQueryLimit(cfg.Archive.QueryLimit),
			)

			filters := contexts.RunQueryFilters{
				Beamline:  beamline,
				Algorithm: algorithm,
				Objective: objective,
				Limit:     limit,
			}
			if oldest {
				filters.Sort = contexts.SortOldestFirst
			}
			if since > 0 {
				cutoff := time.Now().Add(-since)
				filters.Since = &cutoff
			}

			result, err := arch.Query(ctx, filters)
			if err != nil {
				return err
			}
			if len(result.Runs) == 0 {
				fmt.Println("No runs matched.")
				return nil
			}

			for _, run := range result.Runs {
				fmt.Println(formatRunLine(run))
			}
			fmt.Printf("\n%d run(s)\n", len(result.Runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&beamline, "beamline", "", "Filter by beamline")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Filter by algorithm")
	cmd.Flags().StringVar(&objective, "objective", "", "Filter by objective name substring")
	cmd.Flags().DurationVar(&since, "since", 0, "Only runs newer than this (e.g. 168h)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (0 = config default)")
	cmd.Flags().BoolVar(&oldest, "oldest", false, "Sort oldest first")

	return cmd
}

// formatRunLine renders one archive run for the runs listing.
func formatRunLine(run *contexts.BadgerRun) string {
	return fmt.Sprintf("%s  %s  %s  %s  %d evals",
		run.StartedAt.Format("2006-01-02 15:04"),
		run.RunName,
		run.Beamline,
		run.Algorithm,
		run.NumEvaluations,
	)
}
