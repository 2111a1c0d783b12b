package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/prodhub/internal/watcher"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the store watcher standalone",
	Long: `Watches the live and archive store files for replacement by the
ingestion process, waits for new files to settle, recreates missing
report indexes and refreshes planner statistics. Normally the watcher
runs inside serve; this command runs it on its own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		statePath, err := a.statePath()
		if err != nil {
			return err
		}
		policy := watcher.StabilizePolicy{
			Wait:       time.Duration(a.cfg.StabilizationWaitSeconds) * time.Second,
			Checks:     a.cfg.StabilizationChecks,
			MaxRetries: a.cfg.StabilizationMaxRetries,
		}
		w := watcher.New(a.mgr, a.fs, statePath, a.cfg.WatcherInterval(), policy, a.c.Clear, a.log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w.Start(ctx)
		defer w.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-w.Events():
				a.log.Info("store event", "kind", ev.Kind, "detail", ev.Detail)
			}
		}
	},
}
