// coachctl runs analyses and backfills outside the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"call-coach-go/internal/actionable"
	"call-coach-go/internal/app"
	"call-coach-go/internal/config"
	"call-coach-go/internal/dataset"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/transcription"
	"call-coach-go/internal/types"
	"call-coach-go/internal/workerpool"
)

type globalFlags struct {
	configFile string
	rubricPath string
	mock       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "coachctl",
		Short:        "Call coaching analysis tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Path to config file (overrides COACH_CONFIG)")
	root.PersistentFlags().StringVar(&g.rubricPath, "rubrics", "", "Rubric YAML or XLSX (overrides RUBRIC_PATH)")
	root.PersistentFlags().BoolVar(&g.mock, "mock", false, "Use the mock transcript source and reasoning service")

	root.AddCommand(newAnalyzeCommand(g), newBackfillCommand(g))
	return root
}

func (g *globalFlags) build(ctx context.Context) (*app.App, error) {
	if g.configFile != "" {
		os.Setenv("COACH_CONFIG", g.configFile)
	}
	if g.mock {
		os.Setenv("USE_MOCK_LLM", "true")
		os.Setenv("USE_MOCK_TRANSCRIPT", "true")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.rubricPath != "" {
		cfg.RubricPath = g.rubricPath
	}
	return app.New(ctx, cfg, metrics.DefaultMetrics, logger.New())
}

func newAnalyzeCommand(g *globalFlags) *cobra.Command {
	var (
		transcriptFile string
		role           string
		force          bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [call-id]",
		Short: "Analyze one call from a transcript file or the transcript API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if transcriptFile == "" && len(args) == 0 {
				return errors.New("pass a call id or --transcript")
			}
			a, err := g.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, r, err := load(cmd.Context(), a, transcriptFile, args, role)
			if err != nil {
				return err
			}
			analysis, err := a.Processor.ProcessDocument(cmd.Context(), doc, r, force)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"analysis":    analysis,
				"action_card": actionable.Generate(analysis, r),
			})
		},
	}
	cmd.Flags().StringVarP(&transcriptFile, "transcript", "t", "", "Transcript JSON file ({call, turns})")
	cmd.Flags().StringVar(&role, "role", "", "Staff role used to pick the rubric (defaults to the transcript's)")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore cached results")
	return cmd
}

// load reads the transcript from a file or the transcript API. A non-empty
// role overrides the rep's role when picking the rubric.
func load(ctx context.Context, a *app.App, path string, args []string, role string) (transcription.Document, types.Rubric, error) {
	var (
		doc transcription.Document
		r   types.Rubric
		err error
	)
	if path != "" {
		doc, err = transcription.LoadFile(path)
	} else {
		doc, r, err = a.Processor.Load(ctx, args[0])
	}
	if err != nil {
		return doc, r, err
	}
	if role == "" && r.Version != "" {
		return doc, r, nil
	}
	if role == "" {
		role = doc.Call.StaffRole
	}
	r, err = a.Rubrics.For(role)
	return doc, r, err
}

func newBackfillCommand(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay completion events from a workbook through the deduplicator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, skipped, err := dataset.LoadEvents(file)
			if err != nil {
				return err
			}
			a, err := g.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, s := range skipped {
				a.Log.WithField("row", s.Row).WithField("reason", s.Reason).Warn("row skipped")
			}

			counts := map[string]int{}
			for _, e := range events {
				status, err := handleWithBackpressure(cmd.Context(), a, e)
				if err != nil {
					a.Log.WithError(err).WithField("event_id", e.EventID).Error("event not ingested")
					counts["error"]++
					continue
				}
				counts[string(status)]++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d duplicate=%d error=%d skipped=%d\n",
				counts[string(types.AckAccepted)], counts[string(types.AckDuplicate)], counts["error"], len(skipped))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Workbook with event id, call id and received-at columns")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// handleWithBackpressure waits while the dispatch pool is full.
func handleWithBackpressure(ctx context.Context, a *app.App, e types.IngestionEvent) (types.AckStatus, error) {
	for {
		ack, err := a.Ingestion.Handle(ctx, e)
		if err == nil {
			return ack.Status, nil
		}
		if !errors.Is(err, workerpool.ErrPoolOverload) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
