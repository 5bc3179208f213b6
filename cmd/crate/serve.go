package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/cratekeeper/internal/acquire"
	"github.com/franz/cratekeeper/internal/util"
	"github.com/franz/cratekeeper/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the acquisition daemon (workers, watch folder, retention)",
	Long: `Run the acquisition daemon.

The daemon:
1. Requeues jobs interrupted by a previous shutdown
2. Runs N workers against the persistent job queue
3. Watches the drop folder and submits settled releases as local jobs
4. Sweeps terminal jobs past the retention age every hour

Only one daemon may run per database; a lock file enforces this.
Stop with SIGINT or SIGTERM; in-flight downloads are requeued on the
next start, imports finish before exit.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("workers", 2, "concurrent acquisition workers")
	serveCmd.Flags().String("watch", "", "watch folder for dropped releases")
	viper.BindPFlag("workers", serveCmd.Flags().Lookup("workers"))
	viper.BindPFlag("watch", serveCmd.Flags().Lookup("watch"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Single instance per database
	lockPath := filepath.Join(workDir(), "crate.lock")
	if err := util.EnsureDir(workDir()); err != nil {
		return err
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon holds %s", lockPath)
	}
	defer lock.Unlock()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger()
	defer logger.Close()
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}

	ctrl, catalog := newController(db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if catalog != nil {
		if err := catalog.Open(ctx); err != nil {
			return fmt.Errorf("catalog authentication failed: %w", err)
		}
		defer catalog.Close()
	}

	pool := worker.NewPool(db, viper.GetInt("workers"), ctrl.Run)
	if err := pool.Start(ctx); err != nil {
		return err
	}

	if watchDir := viper.GetString("watch"); watchDir != "" {
		settle := viper.GetDuration("settle")
		w := acquire.NewWatcher(watchDir, settle, func(drop string) error {
			_, err := ctrl.Submit(acquire.SourceLocal, drop, acquire.SubmitOptions{Requester: "watch"})
			if err == nil {
				pool.Wake()
			}
			return err
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watch folder: %w", err)
		}
	}

	retention := viper.GetDuration("retention")
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := ctrl.Sweep(retention); err != nil {
					util.WarnLog("Retention sweep failed: %v", err)
				}
			}
		}
	}()

	util.SuccessLog("Daemon running (workers: %d, db: %s)", viper.GetInt("workers"), viper.GetString("db"))

	<-ctx.Done()
	util.InfoLog("Shutting down...")
	pool.Wait()
	util.InfoLog("All workers stopped")
	return nil
}
