package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/policyqa/internal/app"
	"github.com/markdave123-py/policyqa/internal/config"
	"github.com/markdave123-py/policyqa/internal/core/ingestion_engine"
	"github.com/markdave123-py/policyqa/internal/core/retrieval"
)

func withApp(cmd *cobra.Command, cfg *config.Config, fn func(a *app.App) error) error {
	a, err := app.NewApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func publishCmd(cfg *config.Config) *cobra.Command {
	var ingest bool
	cmd := &cobra.Command{
		Use:   "publish [file.pdf]",
		Short: "Upload a new document version and repoint its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
			if contentType == "" {
				contentType = "application/pdf"
			}
			return withApp(cmd, cfg, func(a *app.App) error {
				res, err := a.Documents.Publish(cmd.Context(), cfg.DocID, filepath.Base(path), contentType, data)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, res); err != nil {
					return err
				}
				if !ingest {
					return nil
				}
				return reportIngest(cmd, a.Coordinator.CheckAndIngest(cmd.Context(), cfg.DocID))
			})
		},
	}
	cmd.Flags().BoolVar(&ingest, "ingest", false, "Run the ingestion check before returning")
	return cmd
}

func refreshCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-ingest the document if its manifest points at a new source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(a *app.App) error {
				return reportIngest(cmd, a.Coordinator.CheckAndIngest(cmd.Context(), cfg.DocID))
			})
		},
	}
}

func statusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored ingestion state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(a *app.App) error {
				st, err := a.Coordinator.Status(cmd.Context(), cfg.DocID)
				if err != nil {
					return err
				}
				if st == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s has not been ingested\n", cfg.DocID)
					return nil
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func askCmd(cfg *config.Config) *cobra.Command {
	var (
		topK  int
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(cmd, cfg, func(a *app.App) error {
				if debug {
					res, err := a.Engine.DebugSearch(cmd.Context(), question, topK, nil)
					if err != nil {
						return err
					}
					return printJSON(cmd, res)
				}
				res, err := a.Engine.Answer(cmd.Context(), retrieval.AskRequest{Question: question, TopK: topK})
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to retrieve")
	cmd.Flags().BoolVar(&debug, "debug", false, "Show ranked passages instead of answering")
	return cmd
}

func reportIngest(cmd *cobra.Command, res ingestion_engine.IngestResult) error {
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if res.Action == ingestion_engine.ActionFailed {
		return fmt.Errorf("ingestion failed: %s", res.Error)
	}
	return nil
}
