package main

import (
	"errors"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bountyboard/internal/app"
	"bountyboard/internal/config"
)

func serveRun(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return errors.New("no config found in context")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"mode": cfg.Chain.Mode,
		"port": cfg.Service.HTTPPort,
	}).Info("[MAIN] Starting bounty board")
	return a.Run(ctx)
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  serveRun,
	}
}
