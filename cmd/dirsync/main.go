package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/dirsync/internal/settings"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/openmined/dirsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	envPrefix      = "DIRSYNC"
	daemonLogName  = "dirsync.log"
)

// app owns the command tree, its viper instance and the open log file.
type app struct {
	root    *cobra.Command
	v       *viper.Viper
	logFile *os.File
}

func newApp() *app {
	a := &app{v: viper.New()}

	a.root = &cobra.Command{
		Use:           "dirsync",
		Short:         "Reconcile a destination directory tree with a source tree",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			return a.setupLogging(cmd)
		},
	}
	a.root.PersistentFlags().StringP("config", "c", settings.DefaultSettingsPath, "dirsync config file")
	a.root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	a.root.PersistentFlags().String("history", settings.DefaultHistoryPath, "run history database")

	a.root.AddCommand(
		newSyncCmd(a),
		newPlanCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return a
}

func (a *app) Close() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// loadConfig layers flags over env over the config file. Flag names map to
// keys with dashes replaced by underscores.
func (a *app) loadConfig(cmd *cobra.Command) error {
	v := a.v
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		v.SetConfigFile(flag.Value.String())
	} else {
		v.AddConfigPath(settings.DefaultSettingsDir)
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return bindErr
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return nil
}

// settingsPath is where --save writes the settings record.
func (a *app) settingsPath() string {
	if used := a.v.ConfigFileUsed(); used != "" {
		return used
	}
	return a.v.GetString("config")
}

func (a *app) setupLogging(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}

	// logs go to stderr so stdout stays parseable
	consoleHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	var fileHandler slog.Handler
	if cmd.Flags().Lookup("log-dir") != nil && a.v.GetBool("create_log") {
		if raw := a.v.GetString("log_dir"); raw != "" {
			logDir, err := utils.ResolvePath(raw)
			if err != nil {
				return fmt.Errorf("log dir: %w", err)
			}
			file, handler, err := utils.OpenLogFile(filepath.Join(logDir, daemonLogName), slog.LevelDebug)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			a.logFile = file
			fileHandler = handler
		}
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	a := newApp()
	err := a.root.ExecuteContext(ctx)
	a.Close()
	stop()

	os.Exit(exitCodeOf(err, os.Stderr))
}
