package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/pario-ai/aiswitch/pkg/audit"
	"github.com/pario-ai/aiswitch/pkg/config"
	"github.com/pario-ai/aiswitch/pkg/models"
)

const timeLayout = "2006-01-02T15:04:05"

// storeFlags locate the audit database, from --db or the config file.
type storeFlags struct {
	configPath string
	dbPath     string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "aiswitch.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&f.dbPath, "db", "", "audit database (overrides db_path from config)")
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func (f *storeFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func (f *storeFlags) open() (*audit.Store, error) {
	path := f.dbPath
	if path == "" {
		cfg, err := f.loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.DBPath
	}
	return audit.Open(path)
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func newLogsCmd() *cobra.Command {
	var flags storeFlags
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect recorded exchanges",
	}
	flags.register(cmd)
	cmd.AddCommand(newLogsListCmd(&flags), newLogsShowCmd(&flags), newLogsStatsCmd(&flags))
	return cmd
}

func newLogsListCmd(flags *storeFlags) *cobra.Command {
	var (
		page, size int
		sortBy     string
		asc        bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List completed exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, total, err := store.List(context.Background(), models.LogQuery{
				Page: page, Size: size, SortBy: sortBy, SortDesc: !asc,
			})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No logs found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tPROVIDER\tMODEL\tCHAT\tPROMPT\tCOMPLETION\tTOK/S")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
					r.ID, r.RequestStartedAt.Local().Format(timeLayout), r.ProviderID, r.Model, r.IsChat,
					optInt(r.PromptTokens), optInt(r.CompletionTokens), optInt(r.TokensPerSecond))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\npage %d, %d of %d\n", page, len(recs), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page")
	cmd.Flags().IntVar(&size, "size", 20, "rows per page")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort column (id, request_time, model, speed, ...)")
	cmd.Flags().BoolVar(&asc, "asc", false, "sort ascending")
	return cmd
}

func newLogsShowCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one exchange with its request and response bodies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.Get(context.Background(), id)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "id:\t%d\n", r.ID)
			fmt.Fprintf(w, "provider:\t%s\n", r.ProviderID)
			fmt.Fprintf(w, "model:\t%s\n", r.Model)
			fmt.Fprintf(w, "chat:\t%t\n", r.IsChat)
			fmt.Fprintf(w, "started:\t%s\n", r.RequestStartedAt.Local().Format(timeLayout))
			if r.ResponseCompletedAt != nil {
				fmt.Fprintf(w, "completed:\t%s\n", r.ResponseCompletedAt.Local().Format(timeLayout))
			} else {
				fmt.Fprintln(w, "completed:\t-")
			}
			fmt.Fprintf(w, "prompt tokens:\t%s\n", optInt(r.PromptTokens))
			fmt.Fprintf(w, "completion tokens:\t%s\n", optInt(r.CompletionTokens))
			fmt.Fprintf(w, "tokens/s:\t%s\n", optInt(r.TokensPerSecond))
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println("\nrequest:")
			printBody(r.RequestBody)
			if r.ResponseCompletedAt != nil {
				fmt.Println("\nresponse:")
				printBody(r.ResponseBody)
			}
			return nil
		},
	}
}

func printBody(body string) {
	if gjson.Valid(body) {
		os.Stdout.Write(pretty.Color(pretty.Pretty([]byte(body)), nil))
		return
	}
	fmt.Println(body)
}

func newLogsStatsCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show token usage per provider and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(context.Background())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tAVG TOK/S")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\n",
					s.ProviderID, s.Model, s.Requests, s.PromptTokens, s.CompletionTokens, s.AvgTokensPerSec)
			}
			return w.Flush()
		},
	}
}
