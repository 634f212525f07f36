package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crew/internal/app"
	"crew/internal/config"
	"crew/internal/snapshot"
	logx "crew/pkg/logx"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last persisted snapshot",
	Long: `Read the snapshot written by a running (or stopped) crewd from the
configured sink (file, sqlite or redis) and print it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		history, _ := cmd.Flags().GetInt("history")

		m := config.NewConfigManager(configPath(cmd))
		cfg, err := m.Parse()
		if err != nil {
			return err
		}
		store, err := app.OpenSnapshot(cfg, m.Dir(), logx.Nop())
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		if store == nil {
			return snapshot.ErrDisabled
		}
		defer func() { _ = store.Close() }()

		r, ok := store.(snapshot.Reader)
		if !ok {
			return errors.New("snapshot driver does not support reading")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		doc, err := r.Read(ctx)
		if errors.Is(err, snapshot.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "No snapshot written yet.")
			return nil
		}
		if err != nil {
			return err
		}
		var rows []snapshot.HistoryRow
		if history > 0 {
			hr, ok := store.(snapshot.HistoryReader)
			if !ok {
				return errors.New("--history needs the sqlite snapshot driver")
			}
			if rows, err = hr.History(ctx, history); err != nil {
				return err
			}
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if history > 0 {
				return enc.Encode(struct {
					snapshot.Document
					History []snapshot.HistoryRow `json:"history"`
				}{doc, rows})
			}
			return enc.Encode(doc)
		}
		printSnapshot(cmd.OutOrStdout(), doc)
		if history > 0 {
			printHistory(cmd.OutOrStdout(), rows)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the raw snapshot document")
	statusCmd.Flags().IntP("history", "n", 0, "also show the last N history rows (sqlite driver)")
	rootCmd.AddCommand(statusCmd)
}

func printSnapshot(w io.Writer, doc snapshot.Document) {
	state := "stopped"
	if doc.IsRunning {
		state = "running"
	}
	fmt.Fprintf(w, "Snapshot at %s (%s)\n", doc.Timestamp, state)
	fmt.Fprintf(w, "Tasks: %d pending, %d in progress, %d completed, %d failed\n\n",
		doc.Tasks.Pending, doc.Tasks.InProgress, doc.Tasks.Completed, doc.Tasks.Failed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tSTATUS\tDONE\tERRORS")
	for _, ws := range doc.Workers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n", ws.ID, ws.Name, ws.Category, ws.Status, ws.TasksCompleted, ws.ErrorsEncountered)
	}
	_ = tw.Flush()
}

func printHistory(w io.Writer, rows []snapshot.HistoryRow) {
	fmt.Fprintf(w, "\nHistory (newest first):\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tWRITTEN\tRUNNING\tPENDING\tIN PROGRESS\tCOMPLETED\tFAILED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%d\t%d\t%d\t%d\n", r.Seq, r.WrittenAt, r.IsRunning,
			r.Tasks.Pending, r.Tasks.InProgress, r.Tasks.Completed, r.Tasks.Failed)
	}
	_ = tw.Flush()
}
