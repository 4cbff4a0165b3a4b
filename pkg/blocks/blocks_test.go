package blocks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/types"
	"github.com/droverhq/drover/pkg/workflow"
)

func TestRegisterAll(t *testing.T) {
	engine := workflow.NewEngine()
	require.NoError(t, RegisterAll(engine, Deps{DownloadDir: t.TempDir()}))

	// Double registration is a programmer error.
	assert.Error(t, RegisterAll(engine, Deps{}))
}

func TestPersistNotesWritesJSONLAndDigest(t *testing.T) {
	dir := t.TempDir()
	engine := workflow.NewEngine()
	require.NoError(t, RegisterAll(engine, Deps{DownloadDir: dir}))

	def := &types.WorkflowDefinition{
		ID: "persist-only",
		Steps: []types.WorkflowStep{
			{Block: "persist_notes", Input: map[string]any{
				"site":    "xiaohongshu",
				"keyword": "$keyword",
				"items":   "$items",
			}},
		},
	}

	result := engine.Run(context.Background(), def, map[string]any{
		"keyword": "tea shop",
		"items": []any{
			map[string]any{"title": "best oolong", "author": "amy"},
			map[string]any{"title": "matcha guide", "author": "ben"},
		},
	})
	require.True(t, result.Success, "run failed: %v", result.Err)

	path, _ := result.Context["persisted_path"].(string)
	require.NotEmpty(t, path)
	assert.Equal(t, 2, result.Context["persisted_count"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "best oolong")

	// The Markdown digest sits next to the JSONL file.
	digest := strings.TrimSuffix(path, ".jsonl") + ".md"
	md, err := os.ReadFile(digest)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# xiaohongshu / tea shop")
	assert.Contains(t, string(md), "## best oolong")

	// Keyword lands in the directory layout.
	assert.Contains(t, path, filepath.Join("xiaohongshu", "tea shop"))
}

func TestPersistNotesSanitizesKeyword(t *testing.T) {
	dir := t.TempDir()
	engine := workflow.NewEngine()
	require.NoError(t, RegisterAll(engine, Deps{DownloadDir: dir}))

	def := &types.WorkflowDefinition{
		ID: "persist-only",
		Steps: []types.WorkflowStep{
			{Block: "persist_notes", Input: map[string]any{
				"site":    "weibo",
				"keyword": "a/b:c",
				"items":   []any{map[string]any{"title": "x"}},
			}},
		},
	}

	result := engine.Run(context.Background(), def, nil)
	require.True(t, result.Success, "run failed: %v", result.Err)

	path, _ := result.Context["persisted_path"].(string)
	assert.NotContains(t, filepath.Base(filepath.Dir(path)), "/")
	assert.Contains(t, path, "a_b_c")
}

func TestEnsureCheckpointUnknownPlatform(t *testing.T) {
	engine := workflow.NewEngine()
	require.NoError(t, RegisterAll(engine, Deps{DownloadDir: t.TempDir()}))

	def := &types.WorkflowDefinition{
		ID: "bad-platform",
		Steps: []types.WorkflowStep{
			{Block: "ensure_checkpoint", Input: map[string]any{
				"profile":  "p1",
				"platform": "myspace",
				"target":   "home_ready",
			}},
		},
	}

	result := engine.Run(context.Background(), def, nil)
	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Err, "myspace")
}
