package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/aiswitch/pkg/mcp"
	"github.com/pario-ai/aiswitch/pkg/selection"
)

func newMCPCmd() *cobra.Command {
	var flags storeFlags
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the exchange log to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; keep logs on stderr and quiet.
			log.Logger = zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if flags.dbPath == "" {
				flags.dbPath = cfg.DBPath
			}
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(store, selection.New(cfg.Providers, cfg.ActiveProvider), version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	flags.register(cmd)
	return cmd
}
