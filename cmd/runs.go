package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costar-cli/internal/model"
	"github.com/sells-group/costar-cli/internal/monitoring"
	"github.com/sells-group/costar-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect extraction run history",
	Long:  "Commands for listing, viewing, summarizing and watching extraction runs.",
}

// withRunStore validates the runs config, opens the store for the duration
// of fn and closes it afterwards.
func withRunStore(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	if err := cfg.Validate("runs"); err != nil {
		return err
	}
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(ctx, st)
}

func newChecker(st store.Store) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		name, _ := cmd.Flags().GetString("name")
		limit, _ := cmd.Flags().GetInt("limit")

		return withRunStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			runs, err := st.ListRuns(ctx, model.RunFilter{Status: model.RunStatus(status), Name: name, Limit: limit})
			if err != nil {
				return eris.Wrap(err, "runs list")
			}
			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "No runs found.")
				return nil
			}
			formatRunsList(os.Stdout, runs)
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run with its result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return eris.Wrapf(err, "runs show %s", args[0])
			}
			return printJSON(os.Stdout, run)
		})
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize runs, contacts and API calls over a window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		hours := max(int(since.Hours()), 1)

		return withRunStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
			if err != nil {
				return eris.Wrap(err, "runs stats")
			}
			formatRunStats(os.Stdout, snap)
			return nil
		})
	},
}

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check recent runs against the alert thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			snap, alerts, err := newChecker(st).Check(ctx)
			if err != nil {
				return eris.Wrap(err, "runs health")
			}
			return printJSON(os.Stdout, map[string]any{"metrics": snap, "alerts": alerts})
		})
	},
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check run health on an interval and post new alerts to the webhook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			newChecker(st).Run(ctx)
			return nil
		})
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, running, complete, failed)")
	runsListCmd.Flags().String("name", "", "filter by query name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd, runsHealthCmd, runsWatchCmd)
	rootCmd.AddCommand(runsCmd)
}

const maxNameWidth = 30

// formatRunsList writes one row per run to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush() //nolint:errcheck

	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROPERTIES\tCONTACTS\tCREATED\tDURATION")
	for _, r := range runs {
		props, contacts := "-", "-"
		if r.Result != nil {
			props = fmt.Sprint(r.Result.PropertiesProcessed)
			contacts = fmt.Sprint(r.Result.Contacts)
		}
		name := r.Name
		if len(name) > maxNameWidth {
			name = name[:maxNameWidth-3] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), name, r.Status, props, contacts,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second),
		)
	}
}

// formatRunStats writes a window summary to out, with API calls broken
// down by operation.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush() //nolint:errcheck

	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d complete, %d failed, %d running)\n",
		s.RunsTotal, s.RunsComplete, s.RunsFailed, s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Properties:\t%d (%d failed, %.1f%%)\n",
		s.PropertiesProcessed, s.PropertyFailures, s.PropertyFailRate*100)
	_, _ = fmt.Fprintf(w, "Contacts:\t%d (%.2f per property)\n", s.Contacts, s.ContactsPerProperty)
	_, _ = fmt.Fprintf(w, "API calls:\t%d\n", s.APICalls)

	ops := make([]string, 0, len(s.CallsByOperation))
	for op := range s.CallsByOperation {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", op, s.CallsByOperation[op])
	}
}

// truncateID shortens a UUID to its first group.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
