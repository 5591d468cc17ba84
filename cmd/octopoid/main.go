package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/scheduler"
	"github.com/maxthelion/octopoid/internal/sdkclient"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "octopoid",
	Short:   "octopoid runs one orchestrator's agent scheduler against a running server",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("octopoid version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler tick loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")

		cfg, err := config.LoadOrchestratorConfig(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		var blueprints []config.BlueprintConfig
		catalog, err := config.LoadAgentsCatalog(filepath.Join(configDir, "agents.yaml"))
		if err != nil {
			return fmt.Errorf("load agents catalog: %w", err)
		}
		blueprints = catalog.Blueprints

		flows, err := config.LoadFlowsDir(filepath.Join(configDir, "flows"))
		if err != nil {
			return fmt.Errorf("load flows: %w", err)
		}

		client := sdkclient.New(cfg.ServerURL)
		sched, err := scheduler.New(client, *cfg, blueprints, flows)
		if err != nil {
			return fmt.Errorf("build scheduler: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		sched.Start(ctx)

		log.Info().
			Str("cluster", cfg.Cluster).
			Str("server_url", cfg.ServerURL).
			Int("blueprints", len(blueprints)).
			Msg("orchestrator started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down")
		sched.Stop()
		cancel()
		return nil
	},
}

func init() {
	runCmd.Flags().String("config-dir", ".", "Directory containing config.yaml, agents.yaml and flows/")
}
