package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracelayer/internal/app"
	"tracelayer/internal/domain"
	"tracelayer/internal/engine"
	"tracelayer/internal/pipeline"
	"tracelayer/internal/stream"
	"tracelayer/internal/termui"
)

func runCmd() *cobra.Command {
	rc := &cobra.Command{Use: "run", Short: "Run and inspect the extraction pipeline"}

	var provider, apiKey string
	var regenerate bool
	start := &cobra.Command{
		Use:   "start",
		Short: "Run the pipeline and follow its logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := apiKey
			if key == "" {
				key = viper.GetString("api-key")
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				run, err := startRun(ctx, a.Engine, engine.RunStartOptions{
					ProjectID: pid, Provider: provider, APIKey: key, Regenerate: regenerate, ActorID: actorID(),
				}, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), pipeline.View(run))
				}
				return termui.RunStatus(cmd.OutOrStdout(), run)
			})
		},
	}
	start.Flags().StringVar(&provider, "provider", "", "LLM provider (default from config)")
	start.Flags().StringVar(&apiKey, "api-key", "", "API key for this run only (default stored credential or $TRACELAYER_API_KEY)")
	start.Flags().BoolVar(&regenerate, "regenerate", false, "clear extracted data before running")

	cancel := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				run, err := a.Engine.Cancel(ctx, pid, actorID())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for run %s\n", run.ID)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run and its stage indicator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				run, err := a.Engine.LatestRun(ctx, pid)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), pipeline.View(run))
				}
				return termui.RunStatus(cmd.OutOrStdout(), run)
			})
		},
	}

	var runID string
	var after int64
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Show run log entries (latest run by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				id := runID
				if id == "" {
					run, err := a.Engine.LatestRun(ctx, pid)
					if err != nil {
						return err
					}
					id = run.ID
				}
				entries, err := a.Engine.RunLogs(ctx, id, after)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				termui.LogsTable(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	logs.Flags().StringVar(&runID, "run", "", "run id")
	logs.Flags().Int64Var(&after, "after", 0, "only entries after this log id")

	history := &cobra.Command{
		Use:   "history",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				runs, err := a.Engine.ListRuns(ctx, pid)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), pipeline.Views(runs))
				}
				return termui.RenderHistory(cmd.OutOrStdout(), runs)
			})
		},
	}

	var keep int
	clearRuns := &cobra.Command{
		Use:   "clear",
		Short: "Delete old runs, keeping the newest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				n := keep
				if n < 0 {
					n = a.Config.Retention.KeepLatestRuns
				}
				deleted, err := a.Engine.ClearRunHistory(ctx, pid, n, actorID())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs\n", deleted)
				return nil
			})
		},
	}
	clearRuns.Flags().IntVar(&keep, "keep", -1, "runs to keep (default from config)")

	diag := &cobra.Command{
		Use:   "diagnostics",
		Short: "Pipeline health for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				snap, err := a.Engine.Diagnostics(ctx, pid)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), snap)
				}
				termui.DiagnosticsTable(cmd.OutOrStdout(), snap)
				for _, e := range snap.RecentErrors {
					fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", e.TS, e.Agent, e.Message)
				}
				return nil
			})
		},
	}

	rc.AddCommand(start, cancel, status, logs, history, clearRuns, diag)
	return rc
}

// startRun prints preflight warnings, starts the run and follows it to its terminal state.
// Warnings never stop the run. Interrupting ctx cancels the run.
func startRun(ctx context.Context, e engine.Engine, opts engine.RunStartOptions, out io.Writer) (domain.ExtractionRun, error) {
	pf, err := e.Preflight(ctx, opts.ProjectID, opts.Provider, opts.APIKey)
	if err != nil {
		return domain.ExtractionRun{}, err
	}
	termui.Warnings(out, pf.Warnings)

	msgs, stop := e.Hub.Subscribe(opts.ProjectID)
	defer stop()
	run, err := e.Start(ctx, opts)
	if err != nil {
		return domain.ExtractionRun{}, err
	}
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	interrupted := ctx.Done()
	for {
		select {
		case msg := <-msgs:
			printLog(out, msg)
		case <-interrupted:
			interrupted = nil
			if _, err := e.Cancel(context.Background(), opts.ProjectID, opts.ActorID); err != nil {
				fmt.Fprintln(out, "cancel:", err)
			}
		case <-done:
			for {
				select {
				case msg := <-msgs:
					printLog(out, msg)
				default:
					return e.GetRun(context.Background(), run.ID)
				}
			}
		}
	}
}

func printLog(out io.Writer, msg stream.Message) {
	if msg.Type != stream.TypeLog || msg.Log == nil {
		return
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", msg.Log.Agent, msg.Log.Level, msg.Log.Message)
}

func conflictCmd() *cobra.Command {
	cc := &cobra.Command{Use: "conflict", Short: "Review detected conflicts"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List conflicts, unsettled and most severe first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				cl, err := a.Engine.ListConflicts(ctx, pid)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), cl)
				}
				termui.ConflictsTable(cmd.OutOrStdout(), cl.Conflicts, cl.Summary)
				return nil
			})
		},
	}

	review := &cobra.Command{
		Use:   "review <conflict-id>",
		Short: "Mark a conflict as under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.ReviewConflict(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", c.ID, c.Status)
				return nil
			})
		},
	}

	var resolution string
	resolve := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.ResolveConflict(ctx, args[0], resolution, actorID())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", c.ID, c.Status)
				return nil
			})
		},
	}
	resolve.Flags().StringVar(&resolution, "resolution", "", "how the conflict was resolved")

	var rationale string
	accept := &cobra.Command{
		Use:   "accept <conflict-id>",
		Short: "Accept a conflict as a known trade-off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.AcceptConflict(ctx, args[0], rationale, actorID())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", c.ID, c.Status)
				return nil
			})
		},
	}
	accept.Flags().StringVar(&rationale, "rationale", "", "why the trade-off is acceptable")

	cc.AddCommand(list, review, resolve, accept)
	return cc
}
