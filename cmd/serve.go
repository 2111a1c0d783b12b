package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/prodhub/internal/ratelimit"
	"github.com/agentic-research/prodhub/internal/server"
	"github.com/agentic-research/prodhub/internal/watcher"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reporting HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		general := ratelimit.New(
			time.Duration(a.cfg.RateLimitWindowSeconds)*time.Second, a.cfg.RateLimitGeneralMax)
		strict := ratelimit.New(
			time.Duration(a.cfg.RateLimitWindowSeconds)*time.Second, a.cfg.RateLimitStrictMax)

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

		// Idle limiter keys are swept on the watcher's cadence scale.
		go func() {
			t := time.NewTicker(5 * time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					general.Cleanup()
					strict.Cleanup()
				}
			}
		}()

		srv := &http.Server{
			Addr:              a.cfg.ListenAddr,
			Handler:           server.New(a.svc, general, strict, a.log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.log.Info("serving reporting API", "addr", a.cfg.ListenAddr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		}
	},
}
