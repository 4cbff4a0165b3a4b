package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// persistNotes serializes collected records into the download sink:
// one JSONL file plus a Markdown digest per (site, keyword).
// Input: site, keyword, items, comments (optional).
// Output: persisted_path, persisted_count.
func (b *Blocks) persistNotes(ctx context.Context, input map[string]any) (map[string]any, error) {
	site, _ := input["site"].(string)
	keyword, _ := input["keyword"].(string)
	items, _ := input["items"].([]any)
	comments, _ := input["comments"].([]any)

	if site == "" {
		site = "unknown"
	}
	if keyword == "" {
		keyword = "untitled"
	}

	dir := filepath.Join(b.deps.DownloadDir, site, sanitize(keyword))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail("cannot create download directory: %v", err), nil
	}

	stamp := time.Now().Format("20060102-150405")
	jsonlPath := filepath.Join(dir, stamp+".jsonl")

	f, err := os.Create(jsonlPath)
	if err != nil {
		return fail("cannot create notes file: %v", err), nil
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fail("cannot serialize note: %v", err), nil
		}
	}
	for _, comment := range comments {
		if err := enc.Encode(map[string]any{"comment": comment}); err != nil {
			return fail("cannot serialize comment: %v", err), nil
		}
	}

	if err := b.writeDigest(filepath.Join(dir, stamp+".md"), site, keyword, items, comments); err != nil {
		return fail("cannot write digest: %v", err), nil
	}

	b.logger.Info().
		Str("site", site).
		Str("keyword", keyword).
		Int("items", len(items)).
		Int("comments", len(comments)).
		Str("path", jsonlPath).
		Msg("Notes persisted")

	return map[string]any{
		"persisted_path":  jsonlPath,
		"persisted_count": len(items) + len(comments),
	}, nil
}

// writeDigest renders a human-readable Markdown summary next to the
// JSONL data
func (b *Blocks) writeDigest(path, site, keyword string, items, comments []any) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s / %s\n\n", site, keyword)
	fmt.Fprintf(&sb, "Collected %d items, %d comments at %s.\n\n", len(items), len(comments), time.Now().Format(time.RFC3339))

	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title, _ := rec["title"].(string)
		if title == "" {
			title = fmt.Sprintf("item %d", i+1)
		}
		fmt.Fprintf(&sb, "## %s\n\n", title)
		for k, v := range rec {
			if k == "title" || v == nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %v\n", k, v)
		}
		sb.WriteString("\n")
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// sanitize keeps keyword-derived path segments filesystem-safe
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
