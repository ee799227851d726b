package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"bountyboard/internal/config"
	"bountyboard/internal/logging"
)

const programName = "bountyboard"

var (
	globalFlags = struct {
		debug   bool
		envFile string
	}{}
	configFile string
)

func commonRun(cfg *config.Config) {
	level := cfg.Logger.Level
	if globalFlags.debug {
		level = "debug"
	}
	logging.Init(level, cfg.Logger.Format, os.Stdout)

	if _, err := maxprocs.Set(maxprocs.Logger(log.Debugf)); err != nil {
		log.WithError(err).Fatal("[MAIN] Failed to set GOMAXPROCS")
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Bounty escrow service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd, args)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.envFile, "env-file", ".env", "dotenv file loaded before the environment overlay")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, globalFlags.envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		commonRun(cfg)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(contractCommand())
	rootCmd.AddCommand(chainsCommand())

	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
