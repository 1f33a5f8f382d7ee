// Package main is the entry point for the vigil CLI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-sh/vigil/internal/blotter"
	"github.com/vigil-sh/vigil/internal/config"
	"github.com/vigil-sh/vigil/internal/gateway"
	"github.com/vigil-sh/vigil/internal/history"
	"github.com/vigil-sh/vigil/internal/job"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vigil",
		Short:         "A scheduler for recurring LLM analysis jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(runCmd(), serveCmd(), jobsCmd(), blotterCmd(), historyCmd(), configCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("vigil %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all due jobs once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyOverrides(cmd, cfg)

			app, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			failed, err := app.Scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			if failed > 0 {
				// Failed jobs are recorded, not fatal: the next tick retries.
				fmt.Printf("%d job(s) failed; see the blotter for details\n", failed)
			}
			return nil
		},
	}
	addOverrideFlags(cmd)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as a daemon, executing jobs on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyOverrides(cmd, cfg)
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Admin.Addr = addr
			}
			if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
				cfg.Scheduler.Backend = backend
			}
			if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
				cfg.Scheduler.Interval = interval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			app, err := newApp(cfg, gateway.NewMetrics())
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.Serve(ctx)
		},
	}
	addOverrideFlags(cmd)
	cmd.Flags().String("addr", "", "Admin server listen address (overrides admin.addr)")
	cmd.Flags().String("backend", "", "Scheduler backend: interval or cron")
	cmd.Flags().Duration("interval", 0, "Tick interval for the interval backend")
	return cmd
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List discovered jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			jobs, err := job.Discover(cfg.JobsDir, newLogger())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Printf("No jobs found under %s\n", cfg.JobsDir)
				return nil
			}
			for _, j := range jobs {
				fmt.Printf("%-24s frequency=%-8s phase=%s\n", j.ID, j.Frequency, j.Phase)
			}
			return nil
		},
	}
}

func blotterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blotter",
		Short: "Show recent blotter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")

			store := blotter.New(blotter.Config{Path: cfg.BlotterPath, Logger: newLogger()})
			lines, err := store.ReadLast(n)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntP("lines", "n", 20, "Number of entries to show")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent run history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.HistoryPath == "" {
				return fmt.Errorf("history_path is not configured")
			}
			n, _ := cmd.Flags().GetInt("lines")
			jobID, _ := cmd.Flags().GetString("job")

			store, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), jobID, n)
			if err != nil {
				return err
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-24s %-9s %s",
					r.StartedAt.Format("2006-01-02 15:04:05"), r.JobID, r.Status, r.Duration.Round(time.Millisecond))
				if r.Error != "" {
					line += "  " + r.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntP("lines", "n", 20, "Number of runs to show")
	cmd.Flags().String("job", "", "Filter by job id")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Configuration OK (jobs_dir: %s, backend: %s)\n", cfg.JobsDir, cfg.Scheduler.Backend)
			return nil
		},
	})
	return cmd
}

// addOverrideFlags registers the flags shared by run and serve.
func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("email-to", nil, "Report recipients (overrides email.to)")
	cmd.Flags().StringSlice("phases", nil, "Only run jobs in these phases")
}

func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if to, _ := cmd.Flags().GetStringSlice("email-to"); len(to) > 0 {
		cfg.Email.To = to
	}
	if phases, _ := cmd.Flags().GetStringSlice("phases"); len(phases) > 0 {
		cfg.Phases = phases
	}
}

// loadConfig reads the configuration from --config, a standard location,
// or falls back to built-in defaults when no file exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	if path, ok := resolveConfigPath(); ok {
		return config.Load(path)
	}
	return config.Default(), nil
}

// resolveConfigPath searches standard locations.
// Search order: $XDG_CONFIG_HOME/vigil/vigil.yaml → ./vigil.yaml
func resolveConfigPath() (string, bool) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "vigil", "vigil.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "vigil", "vigil.yaml"))
	}
	candidates = append(candidates, "vigil.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
