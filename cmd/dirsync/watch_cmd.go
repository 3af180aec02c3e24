package main

import (
	"context"
	"log/slog"

	"github.com/openmined/dirsync/internal/dirsync"
	"github.com/openmined/dirsync/internal/watch"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [source] [destination]",
		Short: "Sync once, then sync again whenever the source changes",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveRunOptions(a.v, args)
			if err != nil {
				return err
			}

			ignore, err := dirsync.LoadIgnoreList(afero.NewOsFs(), opts.Source, opts.Config.Exclude)
			if err != nil {
				return err
			}

			rec, err := newRunRecorder(a, cmd)
			if err != nil {
				return err
			}
			defer rec.Close()

			engine := dirsync.NewEngine()
			sync := func(ctx context.Context) {
				report := engine.RunSync(ctx, opts.Source, opts.Dest, opts.Policy, opts.Config)
				rec.Record(cmd.OutOrStdout(), report)
			}

			ctx := cmd.Context()
			sync(ctx)

			w := watch.NewWatcher(opts.Source)
			w.FilterPaths(func(rel string) bool {
				return ignore.ShouldIgnore(rel, false)
			})
			if quiet, _ := cmd.Flags().GetDuration("quiet-period"); quiet > 0 {
				w.SetQuietPeriod(quiet)
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			slog.Info("watching", "source", opts.Source, "destination", opts.Dest)
			watch.Run(ctx, w, func(ctx context.Context, change watch.Change) {
				slog.Info("source changed", "paths", len(change.Paths))
				sync(ctx)
			})
			slog.Info("watch stopped")
			return nil
		},
	}
	addRunFlags(cmd)
	addRecordFlags(cmd)
	cmd.Flags().Duration("quiet-period", watch.DefaultQuietPeriod, "wait this long after the last change before syncing")
	return cmd
}
