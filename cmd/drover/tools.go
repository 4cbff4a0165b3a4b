package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/bridge"
	"github.com/droverhq/drover/pkg/library"
	"github.com/droverhq/drover/pkg/operation"
	"github.com/droverhq/drover/pkg/progress"
	"github.com/droverhq/drover/pkg/runstore"
	"github.com/droverhq/drover/pkg/session"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect the container library",
}

var libraryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the container library",
	RunE: func(cmd *cobra.Command, args []string) error {
		lib := library.New(cfg.LibraryRoot)
		if err := lib.Load(); err != nil {
			return err
		}

		registry := operation.Default()
		issues := 0
		for _, root := range lib.Roots() {
			var walk func(id string)
			walk = func(id string) {
				def := lib.GetByID(id)
				for _, issue := range registry.ValidateContainerOperations(def) {
					fmt.Println(issue.String())
					issues++
				}
				for _, child := range def.Children {
					walk(child)
				}
			}
			walk(root.ID)
		}

		fmt.Printf("%d containers, %d roots, %d binding issues\n", lib.Len(), len(lib.Roots()), issues)
		if issues > 0 {
			return fmt.Errorf("library has binding issues")
		}
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect the progress event log",
}

var progressTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent progress events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store := progress.NewStore(cfg.ProgressFile, cfg.EventReplayMaxBytes)
		evts, err := store.ReadRecent(limit)
		if err != nil {
			return err
		}
		for _, evt := range evts {
			fmt.Printf("%s  %-10s  %-24s  run=%s\n",
				evt.TS.Format("15:04:05"), evt.Source, evt.Event, evt.RunID)
		}
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage browser sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live browser sessions on the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := bridge.NewClient(cfg.BridgeURL)
		mgr := session.NewManager(client)

		sessions, err := mgr.List(context.Background())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No live sessions")
			return nil
		}
		for _, sess := range sessions {
			fmt.Printf("%-16s  %-12s  %s\n", sess.Profile, sess.Site, sess.URL)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded workflow runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := runstore.NewStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		for _, run := range runs {
			status := "ok"
			if !run.Success {
				status = fmt.Sprintf("failed@%d", run.FailedAt)
			}
			fmt.Printf("%s  %-32s  %-10s  %s\n",
				run.StartedAt.Format("2006-01-02 15:04:05"), run.WorkflowID, status, run.Error)
		}
		return nil
	},
}

func init() {
	libraryCmd.AddCommand(libraryValidateCmd)
	progressTailCmd.Flags().Int("limit", 50, "Maximum number of events to show")
	progressCmd.AddCommand(progressTailCmd)
	sessionCmd.AddCommand(sessionListCmd)
}
