package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/aiswitch/pkg/audit"
	"github.com/pario-ai/aiswitch/pkg/config"
	"github.com/pario-ai/aiswitch/pkg/metrics"
	"github.com/pario-ai/aiswitch/pkg/proxy"
	"github.com/pario-ai/aiswitch/pkg/selection"
	"github.com/pario-ai/aiswitch/pkg/tokenizer"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envPath    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envPath, err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := setupLogging(cfg.Log, os.Stderr); err != nil {
				return err
			}

			collector := metrics.NewCollector(cfg.Metrics.Namespace, nil)

			store, err := audit.Open(cfg.DBPath, audit.WithObserver(collector))
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			defer func() { _ = store.Close() }()

			sel := selection.New(cfg.Providers, cfg.ActiveProvider)
			tok := tokenizer.New(cfg.Upstream.TokenizeTimeout, collector)
			srv := proxy.New(cfg, sel, store, tok, collector)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Watch {
				w := config.NewWatcher(configPath, 0)
				go func() {
					err := w.Watch(ctx, func(next *config.Config) {
						sel.Replace(next.Providers, next.ActiveProvider)
					})
					if err != nil {
						log.Error().Err(err).Msg("config watcher stopped")
					}
				}()
			}

			log.Info().Str("config", configPath).Str("db", cfg.DBPath).Str("active", cfg.ActiveProvider).Msg("starting aiswitch")
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "aiswitch.yaml", "path to config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "optional dotenv file loaded before the config")
	return cmd
}

// setupLogging configures the global zerolog logger from the log section.
func setupLogging(lc config.LogConfig, out io.Writer) error {
	level := zerolog.InfoLevel
	if lc.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
		if err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	switch lc.Format {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	case "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", lc.Format)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
