package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stockroom/internal/syncer"
	"github.com/mesh-intelligence/stockroom/internal/watch"
)

// watchSettle groups the burst of events one atomic write produces.
const watchSettle = 200 * time.Millisecond

func newServeCmd(f *rootFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		Long: `Serve keeps local data mirrored to the remote document: it syncs on the
configured cadence, and shortly after any change made by another stockroom
process sharing the same data directory. Stop it with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "periodic sync interval (default: sync.interval)")
	return cmd
}

func (a *app) serve(ctx context.Context, interval time.Duration) error {
	log := a.log.WithField("module", "serve")
	unsubscribe := a.coord.Subscribe(func(st syncer.Status) {
		log.WithFields(logrus.Fields{
			"state":    st.State,
			"last":     st.Record.LastSyncStatus,
			"pending":  st.Dirty,
			"degraded": st.Degraded,
			"paused":   st.Paused,
		}).Info("sync status")
	})
	defer unsubscribe()

	if interval > 0 {
		if err := a.coord.SchedulePeriodic(ctx, interval); err != nil {
			return err
		}
	} else {
		a.coord.Start(ctx)
	}
	defer a.coord.Stop()

	if path := a.statePath(); path != "" {
		w, err := watch.New(path, watchSettle, func() {
			if err := a.reloadShared(); err != nil {
				log.WithError(err).Warn("reload after external change failed")
			}
		}, a.log)
		if err != nil {
			return system(err)
		}
		if err := w.Start(); err != nil {
			return system(err)
		}
		defer w.Stop()
	}

	if a.anonymous {
		log.Warn("demo identity: changes stay on this machine")
	}
	// Push anything left over from earlier runs.
	a.coord.Notify()

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// statePath names the file other processes write, or "" for backends that
// are not shared.
func (a *app) statePath() string {
	if p, ok := a.kv.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

// reloadShared picks up state written by another process: the KV view, the
// dirty set and the entities, then schedules a sync for whatever is dirty.
func (a *app) reloadShared() error {
	if r, ok := a.kv.(interface{ Reload() error }); ok {
		if err := r.Reload(); err != nil {
			return fmt.Errorf("reload state: %w", err)
		}
	}
	if err := a.store.Tracker().Reload(); err != nil {
		return err
	}
	if err := a.store.Reload(); err != nil {
		return err
	}
	a.coord.Notify()
	return nil
}
