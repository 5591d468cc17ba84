package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxthelion/octopoid/internal/api"
	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/lease"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/store"
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
	Use:     "octopoid-server",
	Short:   "octopoid-server runs the task store, state machine and HTTP API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("octopoid-server version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		addr, _ := cmd.Flags().GetString("addr")
		flowsDir, _ := cmd.Flags().GetString("flows-dir")

		s, err := store.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		if flowsDir != "" {
			flows, err := config.LoadFlowsDir(flowsDir)
			if err != nil {
				return fmt.Errorf("load flows: %w", err)
			}
			for _, f := range flows {
				if err := s.PutFlow(f); err != nil {
					return fmt.Errorf("register flow %s: %w", f.Name, err)
				}
			}
			log.Info().Int("count", len(flows)).Str("dir", flowsDir).Msg("flows registered")
		}

		coordinator := lease.New(s, 10*time.Second)
		go coordinator.Start()
		defer coordinator.Stop()
		log.Info().Msg("lease coordinator started")

		srv := api.NewServer(s)
		httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

		go func() {
			log.Info().Str("addr", addr).Msg("api server listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("api server stopped unexpectedly")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().String("data-dir", "./data", "Directory for the bbolt database")
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("flows-dir", "", "Directory of flow YAML definitions to register at startup")
}
