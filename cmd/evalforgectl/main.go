// evalforgectl is the admin CLI: seeding synthetic failure traces
// for local development and exporting suggestion summaries for human
// review outside the API.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/approval"
	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/ingestion"
	"github.com/evalforge/evalforge/pkg/notify"
)

func main() {
	root := &cobra.Command{
		Use:           "evalforgectl",
		Short:         "EvalForge admin utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(seedCommand(), exportMarkdownCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// seedSpans is a small, deterministic corpus covering every pipeline
// path: an eval-bound hallucination, a guardrail-bound runaway loop,
// and a runbook-bound infrastructure error, with a duplicate to
// exercise recurrence counting.
func seedSpans() []ingestion.ProviderSpan {
	return []ingestion.ProviderSpan{
		{
			TraceID: "seed-hallucination-1", FailureType: "quality_degradation", ServiceName: "qa-bot",
			Severity: "high", QualityScore: 0.2,
			Payload: map[string]any{
				"prompt":   "What year was the Eiffel Tower built?",
				"response": "The Eiffel Tower was built in 1920.",
				"user":     map[string]any{"id": "user-42", "email": "seed@example.com"},
			},
		},
		{
			TraceID: "seed-hallucination-1", FailureType: "quality_degradation", ServiceName: "qa-bot",
			Severity: "high", QualityScore: 0.2,
			Payload: map[string]any{"prompt": "repeat", "response": "repeat"},
		},
		{
			TraceID: "seed-loop-1", FailureType: "excessive_tool_calls", ServiceName: "agent-runner",
			Severity: "medium", QualityScore: 0.3,
			Payload: map[string]any{"output": "called web_search 47 times in one turn"},
		},
		{
			TraceID: "seed-infra-1", FailureType: "dependency_error", ServiceName: "retrieval",
			Severity: "critical", QualityScore: 0.1,
			Payload: map[string]any{"output": "vector store connection refused"},
		},
	}
}

func seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed synthetic failure traces into the raw-traces collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := bootstrap.Load()

			client, gateway, err := bootstrap.ConnectStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			provider := ingestion.NewStaticProviderClient(seedSpans())
			svc := ingestion.NewService(provider, gateway.RawTraces, ingestion.Config{
				DefaultLookbackHours:    cfg.Provider.TraceLookbackHrs,
				DefaultQualityThreshold: cfg.Provider.QualityThreshold,
				PIISalt:                 cfg.PII.Salt,
			}, logger)

			summary, err := svc.RunOnce(cmd.Context(), ingestion.RunOptions{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d traces (%d stored, %d errored)\n",
				summary.BatchSize, summary.Counts.Stored, summary.Counts.Errored)
			return nil
		},
	}
}

func exportMarkdownCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "export-markdown",
		Short: "Render a markdown review summary of suggestions to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := bootstrap.Load()

			client, gateway, err := bootstrap.ConnectStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			notifier := notify.NewNotifier("", 0, logger)
			svc := approval.NewService(gateway.Suggestions, gateway.RawTraces, gateway.Exports, notifier, logger)

			result, err := svc.List(cmd.Context(), approval.ListOptions{
				Status: domain.SuggestionStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "# EvalForge suggestions")
			fmt.Fprintln(out)
			for _, s := range result.Suggestions {
				fmt.Fprintf(out, "## %s (%s, %s, %s)\n\n", s.SuggestionID, s.Type, s.Status, s.Severity)
				fmt.Fprintf(out, "- Failure type: %s\n", s.Pattern.FailureType)
				fmt.Fprintf(out, "- Trigger: %s\n", s.Pattern.TriggerCondition)
				fmt.Fprintf(out, "- Source traces: %s\n", strings.Join(traceIDs(&s), ", "))
				if s.ApprovalMetadata != nil {
					fmt.Fprintf(out, "- Reviewed by %s (%s)\n", s.ApprovalMetadata.Actor, s.ApprovalMetadata.Action)
				}
				fmt.Fprintln(out)
			}
			if result.HasMore {
				fmt.Fprintf(out, "_%d shown; more remain behind cursor %s_\n", len(result.Suggestions), result.NextCursor)
			}
			return nil
		},
	}

	addListFlags(cmd.Flags(), &status, &limit)
	return cmd
}

func addListFlags(flags *pflag.FlagSet, status *string, limit *int) {
	flags.StringVar(status, "status", "", "filter by status (pending|approved|rejected)")
	flags.IntVar(limit, "limit", 50, "maximum suggestions to render")
}

func traceIDs(s *domain.Suggestion) []string {
	ids := make([]string, 0, len(s.SourceTraces))
	for _, ref := range s.SourceTraces {
		ids = append(ids, ref.TraceID)
	}
	return ids
}
