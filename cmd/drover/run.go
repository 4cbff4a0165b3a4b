package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/blocks"
	"github.com/droverhq/drover/pkg/bridge"
	"github.com/droverhq/drover/pkg/browser"
	"github.com/droverhq/drover/pkg/checkpoint"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/library"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/match"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/operation"
	"github.com/droverhq/drover/pkg/permit"
	"github.com/droverhq/drover/pkg/progress"
	"github.com/droverhq/drover/pkg/queue"
	"github.com/droverhq/drover/pkg/runstore"
	"github.com/droverhq/drover/pkg/session"
	"github.com/droverhq/drover/pkg/types"
	"github.com/droverhq/drover/pkg/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run a workflow",
	Long: `Run a named workflow against a browser profile. Initial context
fields are passed with --set key=value; profile, keyword and url have
dedicated flags.

Exit code is 0 when the run succeeds, 1 otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		keyword, _ := cmd.Flags().GetString("keyword")
		url, _ := cmd.Flags().GetString("url")
		extra, _ := cmd.Flags().GetStringArray("set")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

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
		if url != "" {
			initial["url"] = url
		}
		for _, kv := range extra {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--set expects key=value, got %q", kv)
			}
			initial[k] = v
		}

		result := c.engine.RunWorkflowByID(ctx, args[0], initial)
		if !result.Success {
			fmt.Fprintf(os.Stderr, "Workflow failed at step %d: %v\n", result.FailedAt, result.Err)
			if cp, ok := result.Context["checkpoint"].(string); ok {
				fmt.Fprintf(os.Stderr, "Last known checkpoint: %s\n", cp)
			}
			os.Exit(1)
		}

		fmt.Printf("Workflow %s completed (run %s)\n", args[0], result.RunID)
		return nil
	},
}

func init() {
	runCmd.Flags().String("profile", "default", "Browser profile / session id")
	runCmd.Flags().String("keyword", "", "Search keyword for collection workflows")
	runCmd.Flags().String("url", "", "Starting URL")
	runCmd.Flags().StringArray("set", nil, "Additional initial context fields (key=value, repeatable)")
	runCmd.Flags().String("metrics-addr", "", "Address to serve /metrics on (empty disables)")
}

// core is the fully wired orchestration stack behind the run and
// schedule commands
type core struct {
	engine    *workflow.Engine
	queue     *queue.Queue
	sessions  *session.Manager
	client    *bridge.Client
	bus       *events.Bus
	runs      *runstore.Store
	collector *metrics.Collector
}

// buildCore wires the whole stack: library, bridge, matcher, queue,
// dispatcher, checkpoints, blocks and stores
func buildCore() (*core, error) {
	lib := library.New(cfg.LibraryRoot)
	if err := lib.Load(); err != nil {
		return nil, err
	}

	client := bridge.NewClient(cfg.BridgeURL)
	matcher := match.New(lib, client)
	registry := operation.Default()

	bus := events.NewBus()
	store := progress.NewStore(cfg.ProgressFile, cfg.EventReplayMaxBytes)
	progress.SetDefault(store)

	runs, err := runstore.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	q := queue.New(registry,
		queue.WithProvider(browser.NewProvider(client)),
		queue.WithBus(bus),
		queue.WithJournal(runs),
	)

	engine := workflow.NewEngine(
		workflow.WithBus(bus),
		workflow.WithProgress(store),
		workflow.WithRunJournal(runs),
	)

	enforcers := map[string]*checkpoint.Enforcer{}
	for _, platform := range []*checkpoint.Platform{checkpoint.Xiaohongshu(), checkpoint.Weibo()} {
		detector := checkpoint.NewDetector(platform, client, matcher)
		enforcers[platform.Name] = checkpoint.NewEnforcer(detector, client)
	}

	sessions := session.NewManager(client)

	deps := blocks.Deps{
		Library:     lib,
		Matcher:     matcher,
		Queue:       q,
		Sessions:    sessions,
		Navigator:   client,
		Permits:     permit.NewClient(permit.Config{BaseURL: cfg.PermitURL}),
		Enforcers:   enforcers,
		Bus:         bus,
		DownloadDir: cfg.DownloadDir,
	}
	if err := blocks.RegisterAll(engine, deps); err != nil {
		runs.Close()
		return nil, err
	}

	dispatcher := events.NewDispatcher(bus, q, lib.GetByID, registry.ContainerAllowsOperation)
	if err := registerAutoRules(dispatcher, lib); err != nil {
		runs.Close()
		return nil, err
	}

	for _, def := range builtinWorkflows() {
		if err := engine.RegisterWorkflow(def); err != nil {
			runs.Close()
			return nil, err
		}
	}

	return &core{
		engine:    engine,
		queue:     q,
		sessions:  sessions,
		client:    client,
		bus:       bus,
		runs:      runs,
		collector: metrics.NewCollector(q, sessions),
	}, nil
}

// start brings up the background plumbing: the bridge websocket pump,
// the metrics collector and, when an address is given, the /metrics
// endpoint
func (c *core) start(ctx context.Context, metricsAddr string) {
	go func() {
		if err := bridge.NewEventChannel(c.client, c.bus).Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("bridge event channel stopped", err)
		}
	}()

	c.collector.Start()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorf("metrics endpoint failed", err)
			}
		}()
	}
}

// close drains the queue and releases the stores
func (c *core) close() {
	c.collector.Stop()
	c.queue.Wait()
	c.runs.Close()
}

// registerAutoRules installs dispatcher rules for containers whose
// metadata opts into event-driven operations (auto_click: a matched
// container is clicked as soon as the matcher announces it)
func registerAutoRules(dispatcher *events.Dispatcher, lib *library.Library) error {
	for _, root := range lib.Roots() {
		var walk func(id string) error
		walk = func(id string) error {
			def := lib.GetByID(id)
			if auto, _ := def.Metadata["auto_click"].(bool); auto {
				containerID := id
				rule := events.WorkflowRule{
					Container: containerID,
					Triggers: []events.Trigger{
						{
							Event: "container:matched",
							Condition: func(ctx context.Context, evt events.Event) (bool, error) {
								return evt.Payload["container_id"] == containerID, nil
							},
							Operations: []events.RuleOperation{{ID: operation.OpClick}},
						},
					},
				}
				if err := dispatcher.Register(rule); err != nil {
					return err
				}
			}
			for _, child := range def.Children {
				if err := walk(child); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(root.ID); err != nil {
			return err
		}
	}
	return nil
}

// builtinWorkflows returns the stock collection workflows
func builtinWorkflows() []*types.WorkflowDefinition {
	return []*types.WorkflowDefinition{
		{
			ID:   "xiaohongshu_search_collect",
			Name: "Xiaohongshu search and collect",
			Steps: []types.WorkflowStep{
				{Block: "open_page", Input: map[string]any{
					"profile": "$profile",
					"site":    "xiaohongshu",
					"url":     "https://www.xiaohongshu.com/",
				}},
				{Block: "ensure_checkpoint", Input: map[string]any{
					"profile":  "$profile",
					"platform": "xiaohongshu",
					"target":   "home_ready",
				}},
				{Block: "search_keyword", Input: map[string]any{
					"profile":    "$profile",
					"keyword":    "$keyword",
					"search_bar": "xiaohongshu_search.search_bar",
				}},
				{Block: "ensure_checkpoint", Input: map[string]any{
					"profile":        "$profile",
					"platform":       "xiaohongshu",
					"target":         "search_ready",
					"allow_fallback": true,
				}},
				{Block: "collect_list", Input: map[string]any{
					"profile":   "$profile",
					"container": "xiaohongshu_search.search_result_list",
				}},
				{Block: "persist_notes", Input: map[string]any{
					"site":    "xiaohongshu",
					"keyword": "$keyword",
					"items":   "$items",
				}},
			},
		},
		{
			ID:   "xiaohongshu_detail_comments",
			Name: "Xiaohongshu detail and comments",
			Steps: []types.WorkflowStep{
				{Block: "ensure_checkpoint", Input: map[string]any{
					"profile":  "$profile",
					"platform": "xiaohongshu",
					"target":   "detail_ready",
				}},
				{Block: "collect_comments", Input: map[string]any{
					"profile": "$profile",
					"section": "xiaohongshu_detail.comment_section",
					"item":    "xiaohongshu_detail.comment_section.comment_item",
				}},
				{Block: "persist_notes", Input: map[string]any{
					"site":     "xiaohongshu",
					"keyword":  "$keyword",
					"comments": "$comments",
				}},
			},
		},
	}
}
