package main

import (
	"errors"
	"fmt"

	"github.com/openmined/dirsync/internal/dirsync"
	"github.com/openmined/dirsync/internal/settings"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errMissingRoots = errors.New("source and destination are required (pass them as arguments or set source_dir and destination_dir)")

// runOptions is everything needed to start a run, resolved from args,
// flags, env and the config file.
type runOptions struct {
	Source string
	Dest   string
	Policy dirsync.SyncPolicy
	Config dirsync.SyncSessionConfig
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("policy", "p", "mirror", "sync policy: mirror, copy or archive")
	cmd.Flags().String("compare", "size-time", "file comparison: size-time or hash")
	cmd.Flags().Int("concurrency", dirsync.DefaultConcurrency, "parallel operations")
	cmd.Flags().Int("retries", dirsync.DefaultRetryLimit, "attempts per operation for transient errors")
	cmd.Flags().Duration("backoff", dirsync.DefaultBackoffBase, "base delay between attempts")
	cmd.Flags().String("archive-root", "", "archive vault root (default <dest>.dirsync-archive)")
	cmd.Flags().Bool("preserve-times", false, "copy directory modification times")
	cmd.Flags().StringSlice("exclude", nil, "glob of relative paths to leave alone (repeatable)")
	cmd.Flags().String("lock-dir", settings.DefaultLockDir, "directory for per-destination lock files")
}

func resolveRunOptions(v *viper.Viper, args []string) (*runOptions, error) {
	source := v.GetString("source_dir")
	dest := v.GetString("destination_dir")
	if len(args) > 0 {
		source = args[0]
	}
	if len(args) > 1 {
		dest = args[1]
	}
	if source == "" || dest == "" {
		return nil, errMissingRoots
	}

	var err error
	opts := &runOptions{}
	if opts.Source, err = utils.ResolvePath(source); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if opts.Dest, err = utils.ResolvePath(dest); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	mode, err := dirsync.ParseSyncMode(v.GetString("policy"))
	if err != nil {
		return nil, err
	}
	compare, err := dirsync.ParseCompareBy(v.GetString("compare"))
	if err != nil {
		return nil, err
	}
	opts.Policy = dirsync.SyncPolicy{
		Mode:               mode,
		CompareBy:          compare,
		PreserveTimestamps: v.GetBool("preserve_times"),
	}

	archiveRoot := v.GetString("archive_root")
	if archiveRoot != "" {
		if archiveRoot, err = utils.ResolvePath(archiveRoot); err != nil {
			return nil, fmt.Errorf("archive root: %w", err)
		}
	}
	lockDir := v.GetString("lock_dir")
	if lockDir != "" {
		if lockDir, err = utils.ResolvePath(lockDir); err != nil {
			return nil, fmt.Errorf("lock dir: %w", err)
		}
	}

	opts.Config = dirsync.SyncSessionConfig{
		Concurrency: v.GetInt("concurrency"),
		RetryLimit:  v.GetInt("retries"),
		BackoffBase: v.GetDuration("backoff"),
		ArchiveRoot: archiveRoot,
		Exclude:     v.GetStringSlice("exclude"),
		LockDir:     lockDir,
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
