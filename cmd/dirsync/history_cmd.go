package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/openmined/dirsync/internal/history"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shortRunID = 8

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withStore(a.v, func(store *history.Store) error {
				runs, err := store.List(limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to list")
	cmd.AddCommand(newHistoryShowCmd(a), newHistoryPruneCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the run log of a past run (a unique id prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(a.v, func(store *history.Store) error {
				doc, err := store.Get(args[0])
				if err != nil {
					return err
				}
				return doc.WriteLog(cmd.OutOrStdout())
			})
		},
	}
}

func newHistoryPruneCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			return withStore(a.v, func(store *history.Store) error {
				n, err := store.Prune(keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int("keep", 100, "number of runs to keep")
	return cmd
}

func withStore(v *viper.Viper, fn func(*history.Store) error) error {
	path, err := utils.ResolvePath(v.GetString("history"))
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	store := history.NewStore(path)
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printRuns(w io.Writer, runs []*history.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, gray.Render("no runs recorded"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		Headers("RUN", "STARTED", "STATUS", "MODE", "CREATED", "UPDATED", "DELETED", "FAILED", "DURATION")
	for _, run := range runs {
		id := run.RunID
		if len(id) > shortRunID {
			id = id[:shortRunID]
		}
		t.Row(
			id,
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			run.Status,
			run.Mode,
			strconv.Itoa(run.Summary.Created),
			strconv.Itoa(run.Summary.Updated),
			strconv.Itoa(run.Summary.Deleted),
			strconv.Itoa(run.Summary.Failed),
			run.Duration().Round(time.Millisecond).String(),
		)
	}
	fmt.Fprintln(w, t.Render())
}
