package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"ticketintel/internal/services"

	"github.com/spf13/cobra"
)

// scopeFlags 批处理命令共用的范围参数
type scopeFlags struct {
	onlyOpen  bool
	ticketIDs []uint
	limit     int
	chunkSize int
	dryRun    bool
}

func (f *scopeFlags) register(cmd *cobra.Command, withOnlyOpen bool) {
	if withOnlyOpen {
		cmd.Flags().BoolVar(&f.onlyOpen, "only-open", false, "process only open and in-progress tickets")
	}
	cmd.Flags().UintSliceVar(&f.ticketIDs, "ticket-ids", nil, "comma separated ticket ids to process")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of tickets to process (0 = no limit)")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "tickets per transaction (0 = configured size)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute results without writing them")
}

func printFailures(w io.Writer, failures []services.ChunkFailure, errs []services.ReportError) {
	for _, f := range failures {
		fmt.Fprintf(w, "  chunk %d (tickets %d-%d) failed: %s\n", f.Chunk, f.FirstID, f.LastID, f.Error)
	}
	for _, e := range errs {
		if e.Chunk != 0 {
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", e.Kind, e.Message)
	}
}

func newRecomputeSuggestionsCmd() *cobra.Command {
	var (
		scope     scopeFlags
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "recompute-suggestions",
		Short: "Recompute label suggestions from the keyword vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := services.RecomputeOptions{
				OnlyOpen:  scope.onlyOpen,
				TicketIDs: scope.ticketIDs,
				Limit:     scope.limit,
				ChunkSize: scope.chunkSize,
				DryRun:    scope.dryRun,
			}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = &threshold
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.suggestionService().Recompute(ctx, opts)
				if report == nil {
					return err
				}
				return finishRun(cmd, report, report.ChunkFailures, err, func() {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "Processed %d tickets (threshold %.2f, dry-run %t) in %.2fs\n",
						report.Processed, report.ThresholdApplied, report.DryRun, report.DurationSeconds)
					fmt.Fprintf(w, "Detected %d, created %d, updated %d, deleted %d\n",
						report.Detected, report.Created, report.Updated, report.Deleted)
					printFailures(w, report.ChunkFailures, report.Errors)
				})
			})
		},
	}
	scope.register(cmd, true)
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum score for a suggestion (default from config)")
	return cmd
}

// decisionArgs 解析 <ticket-id> <suggestion-id>
func decisionArgs(args []string) (uint, uint, error) {
	ids := make([]uint, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 32)
		if err != nil || v == 0 {
			return 0, 0, services.NewValidationError("ids must be positive integers", map[string]any{"value": arg})
		}
		ids[i] = uint(v)
	}
	return ids[0], ids[1], nil
}

func newAcceptSuggestionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-suggestion <ticket-id> <suggestion-id>",
		Short: "Accept a pending suggestion and label the ticket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID, suggestionID, err := decisionArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				suggestion, label, err := a.suggestionService().Accept(ctx, ticketID, suggestionID)
				if err != nil {
					return err
				}
				return printReport(cmd, map[string]any{"suggestion": suggestion, "label": label}, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Suggestion %d accepted: ticket %d labelled %q\n",
						suggestion.ID, ticketID, label.Name)
				})
			})
		},
	}
}

func newRejectSuggestionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject-suggestion <ticket-id> <suggestion-id>",
		Short: "Reject a pending suggestion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticketID, suggestionID, err := decisionArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				suggestion, err := a.suggestionService().Reject(ctx, ticketID, suggestionID)
				if err != nil {
					return err
				}
				return printReport(cmd, suggestion, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Suggestion %d (%s) rejected for ticket %d\n",
						suggestion.ID, suggestion.Label, ticketID)
				})
			})
		},
	}
}

func newRetrainClustersCmd() *cobra.Command {
	var (
		clusters  int
		seed      int64
		ticketIDs []uint
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "retrain-clusters",
		Short: "Re-cluster tickets and replace the stored cluster assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := services.RetrainOptions{TicketIDs: ticketIDs, DryRun: dryRun}
			if cmd.Flags().Changed("clusters") {
				opts.Clusters = &clusters
			}
			if cmd.Flags().Changed("seed") {
				opts.Seed = &seed
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.clusterService().Retrain(ctx, opts)
				if report == nil {
					return err
				}
				return finishRun(cmd, report, nil, err, func() {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "Clustered %d tickets into %d/%d clusters (seed %d, %d iterations) in %.2fs\n",
						report.TotalProcessed, report.EffectiveClusters, report.RequestedClusters,
						report.Seed, report.Iterations, report.DurationSeconds)
					for id := 1; id <= report.EffectiveClusters; id++ {
						fmt.Fprintf(w, "  cluster %d: %d tickets\n", id, report.Distribution[id])
					}
					if !report.Changed {
						fmt.Fprintln(w, "Assignments unchanged")
					}
					printFailures(w, nil, report.Errors)
				})
			})
		},
	}
	cmd.Flags().IntVar(&clusters, "clusters", 0, "number of clusters (default from config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().UintSliceVar(&ticketIDs, "ticket-ids", nil, "comma separated ticket ids to cluster")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute clusters without writing them")
	return cmd
}

func newEvaluateAlertsCmd() *cobra.Command {
	var (
		scope     scopeFlags
		warnRatio float64
	)
	cmd := &cobra.Command{
		Use:   "evaluate-alerts",
		Short: "Evaluate SLA warnings and breaches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := services.EvaluateOptions{
				TicketIDs: scope.ticketIDs,
				Limit:     scope.limit,
				ChunkSize: scope.chunkSize,
				DryRun:    scope.dryRun,
			}
			if cmd.Flags().Changed("warn-ratio") {
				opts.WarnRatio = &warnRatio
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.slaService().Evaluate(ctx, opts)
				if report == nil {
					return err
				}
				return finishRun(cmd, report, report.ChunkFailures, err, func() {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "Evaluated %d tickets (warn ratio %.2f): %d warnings, %d breaches\n",
						report.Total, report.WarnRatio, report.Warnings, report.Breaches)
					for _, alert := range report.Alerts {
						fmt.Fprintf(w, "  #%d %-8s %-7s elapsed %.1fh remaining %.1fh\n",
							alert.TicketID, alert.Priority, alert.Severity, alert.ElapsedHours, alert.RemainingHours)
					}
					printFailures(w, report.ChunkFailures, report.Errors)
				})
			})
		},
	}
	scope.register(cmd, false)
	cmd.Flags().Float64Var(&warnRatio, "warn-ratio", 0, "elapsed ratio that raises a warning (default from config)")
	return cmd
}

func newRecomputeAssignmentsCmd() *cobra.Command {
	var scope scopeFlags
	cmd := &cobra.Command{
		Use:   "recompute-assignments",
		Short: "Re-apply assignment rules to tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := services.ScopeOptions{
				OnlyOpen:  scope.onlyOpen,
				TicketIDs: scope.ticketIDs,
				Limit:     scope.limit,
				ChunkSize: scope.chunkSize,
				DryRun:    scope.dryRun,
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.assignmentService().Recompute(ctx, opts)
				if report == nil {
					return err
				}
				return finishRun(cmd, report, report.ChunkFailures, err, func() {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "Processed %d tickets: %d reassigned, %d left unassigned\n",
						report.Processed, report.Assigned, report.UnassignedRemaining)
					printFailures(w, report.ChunkFailures, report.Errors)
				})
			})
		},
	}
	scope.register(cmd, true)
	return cmd
}

func init() {
	rootCmd.AddCommand(
		newRecomputeSuggestionsCmd(),
		newAcceptSuggestionCmd(),
		newRejectSuggestionCmd(),
		newRetrainClustersCmd(),
		newEvaluateAlertsCmd(),
		newRecomputeAssignmentsCmd(),
	)
}
