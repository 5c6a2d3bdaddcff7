package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lux/cmd/lux/ui"
	"lux/internal/faults"
	"lux/internal/permissions"
	"lux/internal/registry"
)

var (
	jsonOutput   bool
	historyLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered functions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(out io.Writer, reg *registry.Registry) error {
			renderRecords(out, "Functions", reg.List())
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search functions by name or description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withRegistry(cmd, func(out io.Writer, reg *registry.Registry) error {
			renderRecords(out, fmt.Sprintf("Matches for %q", query), reg.Search(query))
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show a function's record, grants, dependencies and metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var enableCmd = &cobra.Command{
	Use:   "enable [name]",
	Short: "Enable a function",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable [name]",
	Short: "Disable a function without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], false) },
}

var removeCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a function with its file, grants and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		rt, err := openRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.RemoveFunction(ctx, args[0]); err != nil {
			return describe(rt.Feedback().Render(err), err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render("Removed "+args[0]))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [name]",
	Short: "Show usage statistics for one or all functions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics [name]",
	Short: "Show execution metrics and recent history",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetrics,
}

func init() {
	infoCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	metricsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	metricsCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "History entries to show")
}

// withRegistry runs fn against a wired runtime's registry.
func withRegistry(cmd *cobra.Command, fn func(io.Writer, *registry.Registry) error) error {
	ctx, cancel := commandContext()
	defer cancel()
	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cmd.OutOrStdout(), rt.Registry())
}

func renderRecords(out io.Writer, title string, recs []registry.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No functions registered."))
		return
	}
	tbl := ui.NewTable(title, "name", "type", "status", "uses", "success", "description")
	for _, rec := range recs {
		tbl.AddRow(
			rec.Name,
			rec.FunctionType,
			styles.Status(rec.Enabled),
			strconv.Itoa(rec.UsageCount),
			fmt.Sprintf("%.0f%%", rec.SuccessRate),
			truncate(rec.Description, 48),
		)
	}
	fmt.Fprint(out, tbl.View(styles))
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	info, err := rt.FunctionInfo(args[0])
	if err != nil {
		return describe(rt.Feedback().Render(err), err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, info)
	}

	rec := info.Record
	fmt.Fprintln(out, styles.Title.Render(rec.Name)+" "+styles.Status(rec.Enabled))
	fmt.Fprintln(out, rec.Description)
	fmt.Fprintf(out, "  file:         %s\n", rec.FilePath)
	fmt.Fprintf(out, "  type:         %s\n", rec.FunctionType)
	fmt.Fprintf(out, "  version:      %s\n", rec.Version)
	fmt.Fprintf(out, "  tags:         %s\n", joinOrNone(rec.Tags))
	fmt.Fprintf(out, "  created:      %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  permissions:  %s\n", joinOrNone(permissions.Names(info.Permissions)))
	fmt.Fprintf(out, "  dependencies: %s\n", joinOrNone(info.Dependencies.Dependencies))
	fmt.Fprintf(out, "  executions:   %d (%d errors)\n", info.Metrics.TotalExecutions, info.Metrics.ErrorCount)
	if len(rec.BackupHistory) > 0 {
		fmt.Fprintf(out, "  backups:      %d (latest %s)\n", len(rec.BackupHistory), rec.BackupHistory[len(rec.BackupHistory)-1].Version)
	}
	return nil
}

func setEnabled(cmd *cobra.Command, name string, enabled bool) error {
	ctx, cancel := commandContext()
	defer cancel()
	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.SetEnabled(ctx, name, enabled); err != nil {
		return describe(rt.Feedback().Render(err), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, styles.Status(enabled))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	return withRegistry(cmd, func(out io.Writer, reg *registry.Registry) error {
		if len(args) == 1 {
			st, ok := reg.Stats(args[0])
			if !ok {
				return faults.New(faults.NotFound, args[0], "function not registered")
			}
			last := "never"
			if st.LastUsed != nil {
				last = st.LastUsed.Format(time.RFC3339)
			}
			fmt.Fprintln(out, styles.Title.Render(args[0]))
			fmt.Fprintf(out, "  uses:         %d\n", st.UsageCount)
			fmt.Fprintf(out, "  errors:       %d\n", st.ErrorCount)
			fmt.Fprintf(out, "  success rate: %.1f%%\n", st.SuccessRate)
			fmt.Fprintf(out, "  average time: %.3fs\n", st.AverageExecutionTime)
			fmt.Fprintf(out, "  last used:    %s\n", last)
			return nil
		}

		recs := reg.List()
		var enabled, uses, errs int
		for _, rec := range recs {
			if rec.Enabled {
				enabled++
			}
			uses += rec.UsageCount
			errs += rec.ErrorCount
		}
		fmt.Fprintf(out, "functions: %d (%d enabled)\n", len(recs), enabled)
		fmt.Fprintf(out, "executions: %d (%d errors)\n", uses, errs)
		return nil
	})
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	snap, err := rt.Metrics().Metrics(args[0])
	if err != nil {
		return err
	}
	history, err := rt.Metrics().History(args[0], historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		snap.ExecutionHistory = history
		return printJSON(out, snap)
	}

	fmt.Fprintln(out, styles.Title.Render(args[0]))
	fmt.Fprintf(out, "  executions:   %d (%d ok, %d errors)\n", snap.TotalExecutions, snap.SuccessfulExecutions, snap.ErrorCount)
	fmt.Fprintf(out, "  time:         avg %.3fs  min %.3fs  max %.3fs\n", snap.AverageExecutionTime, snap.MinExecutionTime, snap.MaxExecutionTime)

	tbl := ui.NewTable("Recent executions", "when", "ok", "time", "result")
	for _, e := range history {
		result := e.Result
		if !e.Success {
			result = styles.Error.Render(e.Error)
		}
		tbl.AddRow(e.Timestamp.Format("2006-01-02 15:04:05"), strconv.FormatBool(e.Success), fmt.Sprintf("%.3fs", e.ExecutionTime), truncate(result, 60))
	}
	fmt.Fprint(out, tbl.View(styles))
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// describe prefixes err with its user-facing rendering.
func describe(message string, err error) error {
	return fmt.Errorf("%s: %w", message, err)
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
