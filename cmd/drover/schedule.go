package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <workflow-id>",
	Short: "Run a workflow on a cron schedule",
	Long: `Run a named workflow repeatedly on a cron expression until
interrupted. Each tick dispatches one run with the same initial
context; outcomes land in the run store and the progress log.

Example:
  drover schedule xiaohongshu_search_collect --cron "0 */2 * * *" --keyword tea`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, _ := cmd.Flags().GetString("cron")
		profile, _ := cmd.Flags().GetString("profile")
		keyword, _ := cmd.Flags().GetString("keyword")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if spec == "" {
			return fmt.Errorf("--cron is required")
		}

		c, err := buildCore()
		if err != nil {
			return err
		}
		defer c.close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c.start(ctx, metricsAddr)

		initial := map[string]any{"profile": profile}
		if keyword != "" {
			initial["keyword"] = keyword
		}

		scheduler := schedule.NewScheduler(c.engine)
		if _, err := scheduler.Add(spec, args[0], initial); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()

		fmt.Printf("Scheduling workflow %s on %q; press Ctrl-C to stop\n", args[0], spec)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("Stopping scheduler...")
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("cron", "", "Cron expression (required)")
	scheduleCmd.Flags().String("profile", "default", "Browser profile / session id")
	scheduleCmd.Flags().String("keyword", "", "Search keyword for collection workflows")
	scheduleCmd.Flags().String("metrics-addr", "", "Address to serve /metrics on (empty disables)")
}
