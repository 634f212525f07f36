package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crew/internal/app"
	logx "crew/pkg/logx"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator in the foreground",
	Long: `Start the execution loops, the optional admin server and the
housekeeping jobs, then block until SIGINT or SIGTERM.

With --tasks, the tasks in the given JSON/YAML file are submitted once the
pool is running.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("tasks", "t", "", "task file to submit at startup")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	tasksFile, _ := cmd.Flags().GetString("tasks")

	a, err := app.New(configPath(cmd))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(ctx); err != nil {
		stopApp(a, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	if tasksFile != "" {
		if _, errs := a.SubmitFile(tasksFile); len(errs) > 0 {
			a.Logger().Warn("some tasks were rejected", logx.Int("rejected", len(errs)))
		}
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	if err := stopApp(a, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func stopApp(a *app.App, reason app.StopReason) error {
	// Leave headroom over the orchestrator drain for the other stop steps.
	ctx, cancel := context.WithTimeout(context.Background(), a.StopTimeout()+5*time.Second)
	defer cancel()
	return a.Stop(ctx, reason)
}
