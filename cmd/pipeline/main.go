// Command pipeline runs the affordability data pipeline and serves its
// manifests, checkpoints and evaluation API.
//
// @title Affordability Pipeline API
// @version 1.0
// @description Runs, manifests, checkpoints and single-record evaluation for the affordability data pipeline.
// @host localhost:8080
// @BasePath /api/v1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"affordability-pipeline/internal/app"
	"affordability-pipeline/internal/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootFlags struct {
	configFile string
	envFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Affordability data pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(runCmd(flags))
	rootCmd.AddCommand(runsCmd(flags))
	rootCmd.AddCommand(manifestCmd(flags))
	rootCmd.AddCommand(checkpointsCmd(flags))
	rootCmd.AddCommand(exportCmd(flags))
	rootCmd.AddCommand(serveCmd(flags))
	return rootCmd
}

// openApp loads configuration and wires the pipeline. Logs go to stderr so
// command output on stdout stays machine-readable.
func openApp(cmd *cobra.Command, flags *rootFlags) (*app.App, error) {
	cfg, err := config.Load(flags.configFile, flags.envFile)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	return app.New(cmd.Context(), cfg, logger)
}
