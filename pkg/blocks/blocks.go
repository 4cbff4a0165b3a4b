package blocks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/checkpoint"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/library"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/match"
	"github.com/droverhq/drover/pkg/operation"
	"github.com/droverhq/drover/pkg/permit"
	"github.com/droverhq/drover/pkg/queue"
	"github.com/droverhq/drover/pkg/session"
	"github.com/droverhq/drover/pkg/types"
	"github.com/droverhq/drover/pkg/workflow"
)

// Navigator is the page-navigation slice of the bridge client
type Navigator interface {
	Goto(ctx context.Context, profile, url string) error
	PageURL(ctx context.Context, profile string) (string, error)
}

// Deps wires the built-in blocks into the core
type Deps struct {
	Library     *library.Library
	Matcher     *match.Matcher
	Queue       *queue.Queue
	Sessions    *session.Manager
	Navigator   Navigator
	Permits     *permit.Client
	Enforcers   map[string]*checkpoint.Enforcer // by platform name
	Bus         *events.Bus                     // optional; match results publish here
	DownloadDir string
}

// Blocks holds the built-in block implementations
type Blocks struct {
	deps   Deps
	logger zerolog.Logger
}

// RegisterAll installs every built-in block on the engine
func RegisterAll(engine *workflow.Engine, deps Deps) error {
	b := &Blocks{deps: deps, logger: log.WithComponent("blocks")}

	for name, fn := range map[string]workflow.BlockFunc{
		"open_page":         b.openPage,
		"match_containers":  b.matchContainers,
		"ensure_checkpoint": b.ensureCheckpoint,
		"search_keyword":    b.searchKeyword,
		"collect_list":      b.collectList,
		"open_detail":       b.openDetail,
		"collect_comments":  b.collectComments,
		"persist_notes":     b.persistNotes,
	} {
		if err := engine.RegisterBlock(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// fail builds the {success:false} record the executor stops on
func fail(format string, args ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, args...)}
}

// openPage ensures the profile's session exists and navigates it.
// Input: profile, site, url. Output: profile, url.
func (b *Blocks) openPage(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	site, _ := input["site"].(string)
	url, _ := input["url"].(string)
	if profile == "" || url == "" {
		return fail("open_page requires profile and url"), nil
	}

	if _, err := b.deps.Sessions.Ensure(ctx, profile, site); err != nil {
		return fail("session unavailable: %v", err), nil
	}
	if err := b.deps.Navigator.Goto(ctx, profile, url); err != nil {
		return fail("navigation failed: %v", err), nil
	}
	return map[string]any{"profile": profile, "url": url}, nil
}

// matchContainers runs one matcher pass against the current page.
// Input: profile, url (optional; read from the page when absent),
// hint. Output: snapshot, matched_ids, root_container.
func (b *Blocks) matchContainers(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	url, _ := input["url"].(string)
	hint, _ := input["hint"].(string)

	if url == "" {
		current, err := b.deps.Navigator.PageURL(ctx, profile)
		if err != nil {
			return fail("cannot read page url: %v", err), nil
		}
		url = current
	}

	snapshot, err := b.deps.Matcher.Match(ctx, profile, url, match.Options{Hint: hint})
	if err != nil {
		return fail("match failed: %v", err), nil
	}

	// Matched containers announce themselves so dispatcher rules
	// (auto_click and friends) can react.
	if b.deps.Bus != nil {
		for _, id := range snapshot.MatchedIDs {
			b.deps.Bus.Publish(ctx, events.Event{
				Topic: "container:matched",
				Payload: map[string]any{
					"container_id": id,
					"profile":      profile,
					"url":          url,
				},
			})
		}
	}

	out := map[string]any{
		"snapshot":    snapshot,
		"matched_ids": snapshot.MatchedIDs,
	}
	if snapshot.RootMatch != nil {
		out["root_container"] = snapshot.RootMatch.DefinitionID
	}
	return out, nil
}

// ensureCheckpoint drives the page to a target checkpoint.
// Input: profile, platform, target, timeout_ms, allow_fallback.
// Output: checkpoint, attempts.
func (b *Blocks) ensureCheckpoint(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	platform, _ := input["platform"].(string)
	target, _ := input["target"].(string)

	enforcer := b.deps.Enforcers[platform]
	if enforcer == nil {
		return fail("no checkpoint table for platform %q", platform), nil
	}

	opts := checkpoint.EnsureOptions{}
	if ms, ok := input["timeout_ms"].(float64); ok {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	if allow, ok := input["allow_fallback"].(bool); ok {
		opts.AllowOneLevelUpFallback = allow
	}

	result := enforcer.Ensure(ctx, profile, types.CheckpointID(target), opts)
	if !result.Success {
		return fail("checkpoint %s not reached (at %s): %v", target, result.Reached, result.Err), nil
	}
	return map[string]any{
		"checkpoint": string(result.Reached),
		"attempts":   result.Attempts,
	}, nil
}

// searchKeyword acquires a permit, types the keyword into the search
// bar container and presses Enter.
// Input: profile, keyword, search_bar (container id).
// Output: keyword, permit_session.
func (b *Blocks) searchKeyword(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	keyword, _ := input["keyword"].(string)
	barID, _ := input["search_bar"].(string)
	if keyword == "" || barID == "" {
		return fail("search_keyword requires keyword and search_bar"), nil
	}

	def := b.deps.Library.GetByID(barID)
	if def == nil {
		return fail("unknown container %q", barID), nil
	}

	permit, err := b.deps.Permits.Acquire(ctx, keyword, profile)
	if err != nil {
		return fail("search permit denied: %v", err), nil
	}

	task, err := b.deps.Queue.EnqueueWait(ctx, def, operation.OpType, queue.Options{
		Profile: profile,
		Config:  map[string]any{"text": keyword},
	})
	if err != nil {
		return fail("type enqueue failed: %v", err), nil
	}
	if task.Status != types.TaskStatusCompleted {
		return fail("typing keyword failed: %s", task.Error), nil
	}

	task, err = b.deps.Queue.EnqueueWait(ctx, def, operation.OpKey, queue.Options{
		Profile: profile,
		Config:  map[string]any{"key": "Enter"},
	})
	if err != nil {
		return fail("key enqueue failed: %v", err), nil
	}
	if task.Status != types.TaskStatusCompleted {
		return fail("submitting search failed: %s", task.Error), nil
	}

	return map[string]any{"keyword": keyword, "permit_session": permit.SessionID}, nil
}

// collectList extracts records from a list container.
// Input: profile, container, limit, fields (optional override).
// Output: items, item_count.
func (b *Blocks) collectList(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	containerID, _ := input["container"].(string)

	def := b.deps.Library.GetByID(containerID)
	if def == nil {
		return fail("unknown container %q", containerID), nil
	}

	config := map[string]any{}
	if fields, ok := input["fields"].(map[string]any); ok {
		config["fields"] = fields
	}
	if limit, ok := input["limit"].(float64); ok {
		config["limit"] = limit
	}

	task, err := b.deps.Queue.EnqueueWait(ctx, def, operation.OpExtract, queue.Options{
		Profile: profile,
		Config:  config,
	})
	if err != nil {
		return fail("extract enqueue failed: %v", err), nil
	}
	if task.Status != types.TaskStatusCompleted {
		return fail("extract failed: %s", task.Error), nil
	}

	items, _ := task.Result.([]any)
	return map[string]any{"items": items, "item_count": len(items)}, nil
}

// openDetail clicks a list container to open its detail view. Input:
// profile, container, index. Output: opened. The index is passed on as
// click config; the built-in click does not read it and clicks the
// container's first resolved node.
func (b *Blocks) openDetail(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	containerID, _ := input["container"].(string)

	def := b.deps.Library.GetByID(containerID)
	if def == nil {
		return fail("unknown container %q", containerID), nil
	}

	config := map[string]any{}
	if idx, ok := input["index"].(float64); ok {
		config["index"] = idx
	}

	task, err := b.deps.Queue.EnqueueWait(ctx, def, operation.OpClick, queue.Options{
		Profile: profile,
		Config:  config,
	})
	if err != nil {
		return fail("click enqueue failed: %v", err), nil
	}
	if task.Status != types.TaskStatusCompleted {
		return fail("opening detail failed: %s", task.Error), nil
	}
	return map[string]any{"opened": true}, nil
}

// collectComments scrolls the comment section and extracts comment
// items in rounds until no new items appear or max_rounds is hit.
// Input: profile, section, item, max_rounds. Output: comments,
// comment_count.
func (b *Blocks) collectComments(ctx context.Context, input map[string]any) (map[string]any, error) {
	profile, _ := input["profile"].(string)
	sectionID, _ := input["section"].(string)
	itemID, _ := input["item"].(string)

	section := b.deps.Library.GetByID(sectionID)
	item := b.deps.Library.GetByID(itemID)
	if section == nil || item == nil {
		return fail("unknown comment containers %q / %q", sectionID, itemID), nil
	}

	maxRounds := 5
	if v, ok := input["max_rounds"].(float64); ok && v > 0 {
		maxRounds = int(v)
	}

	var comments []any
	for round := 0; round < maxRounds; round++ {
		task, err := b.deps.Queue.EnqueueWait(ctx, item, operation.OpExtract, queue.Options{Profile: profile})
		if err != nil {
			return fail("comment extract enqueue failed: %v", err), nil
		}
		if task.Status != types.TaskStatusCompleted {
			return fail("comment extract failed: %s", task.Error), nil
		}

		batch, _ := task.Result.([]any)
		if len(batch) <= len(comments) {
			comments = batch
			break
		}
		comments = batch

		task, err = b.deps.Queue.EnqueueWait(ctx, section, operation.OpScroll, queue.Options{Profile: profile})
		if err != nil || task.Status != types.TaskStatusCompleted {
			break
		}
	}

	return map[string]any{"comments": comments, "comment_count": len(comments)}, nil
}
