package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ag3nt-run/ag3nt/internal/domain/artifact"
	"github.com/ag3nt-run/ag3nt/internal/domain/goal"
	"github.com/ag3nt-run/ag3nt/internal/domain/snapshot"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/config"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/logger"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence"
	"github.com/ag3nt-run/ag3nt/internal/interfaces/cli"
)

const (
	cliVersion = "0.1.0"
	cliName    = "ag3ntctl"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "ag3ntctl — operator console for the ag3ntd runtime",
		Long:  "ag3ntctl is a read-only operator console over a running ag3ntd daemon's state: goals, artifacts, and workspace snapshots.",
		RunE:  runConsole,
	}

	rootCmd.Flags().StringP("workspace", "w", "", "workspace directory (defaults to cwd)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check local environment",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "/dev/null"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	if err := config.Bootstrap(log); err != nil {
		return fmt.Errorf("bootstrap runtime home: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	workspace, _ := os.Getwd()
	if w, _ := cmd.Flags().GetString("workspace"); w != "" {
		workspace = w
	}

	db, err := persistence.NewDBConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	goals := goal.NewPersistentManager(log, db)
	if err := goals.LoadGoals(cfg.Goal.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: loading goal directory %s: %v\n", cfg.Goal.Dir, err)
	}

	artifactsDir := cfg.Artifact.Dir
	if artifactsDir == "" {
		artifactsDir = artifact.DefaultArtifactsDir()
	}
	artifacts := artifact.NewStore(artifactsDir, cfg.Artifact.MaxAgeDays, cfg.Artifact.MaxSizeBytes, log)

	snapshots := snapshot.NewRegistry(log)

	return cli.RunConsole(cli.ConsoleConfig{
		Goals:      goals,
		Artifacts:  artifacts,
		Snapshots:  snapshots,
		Workspace:  workspace,
		ProjectLng: cli.DetectProjectLanguage(workspace),
	}, os.Stdin, os.Stdout)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ ag3nt doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkConfig},
		{"Go toolchain", checkGo},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("some checks failed, see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/.ag3nt/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found at ~/.ag3nt/config.yaml", false
}

func checkGo() (string, bool) {
	for _, p := range []string{"/usr/local/go/bin/go", "/usr/bin/go", "/usr/lib/go/bin/go"} {
		if _, err := os.Stat(p); err == nil {
			return "installed", true
		}
	}
	return "not found in /usr/local/go/bin, /usr/bin or /usr/lib/go/bin", false
}
