package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/types"
)

// domResult is a fake query result for one selector
type domResult struct {
	count int
	paths []string
}

// fakeEvaluator answers selector-count queries from a fixed table and
// records the parent path each query was scoped to
type fakeEvaluator struct {
	dom     map[string]domResult
	signals types.DOMSignals
	scopes  map[string][]string // selector -> parent paths queried with
	err     error
	badJSON bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, profile, script string, args ...any) (gjson.Result, error) {
	if f.err != nil {
		return gjson.Result{}, f.err
	}
	if f.badJSON {
		return gjson.Parse(`{"unexpected": true}`), nil
	}

	// The signals probe carries no args; selector queries carry
	// (selector, parentPath).
	if len(args) == 0 {
		data, _ := json.Marshal(map[string]any{
			"hasDetailMask":  f.signals.HasDetailMask,
			"hasSearchInput": f.signals.HasSearchInput,
			"readyState":     f.signals.ReadyState,
			"title":          f.signals.Title,
		})
		return gjson.ParseBytes(data), nil
	}

	sel := args[0].(string)
	parent := args[1].(string)
	if f.scopes == nil {
		f.scopes = make(map[string][]string)
	}
	f.scopes[sel] = append(f.scopes[sel], parent)

	res := f.dom[sel]
	data, _ := json.Marshal(map[string]any{"count": res.count, "paths": res.paths})
	return gjson.ParseBytes(data), nil
}

// fakeLibrary serves a fixed candidate set
type fakeLibrary struct {
	order []string
	byID  map[string]*types.ContainerDefinition
}

func (f *fakeLibrary) ContainersForURL(url string) ([]string, map[string]*types.ContainerDefinition) {
	return f.order, f.byID
}

func def(id, rootPattern string, children []string, selectors ...string) *types.ContainerDefinition {
	d := &types.ContainerDefinition{
		ID:          id,
		Site:        "xiaohongshu",
		RootPattern: rootPattern,
		Children:    children,
	}
	for i, css := range selectors {
		variant := types.SelectorPrimary
		if i > 0 {
			variant = types.SelectorFallback
		}
		d.Selectors = append(d.Selectors, types.Selector{CSS: css, Variant: variant})
	}
	return d
}

func homeLibrary() *fakeLibrary {
	return &fakeLibrary{
		order: []string{
			"xiaohongshu_home",
			"xiaohongshu_home.login_anchor",
			"xiaohongshu_home.feed",
			"xiaohongshu_home.feed.note_card",
		},
		byID: map[string]*types.ContainerDefinition{
			"xiaohongshu_home":              def("xiaohongshu_home", "https://www.xiaohongshu.com/**", []string{"xiaohongshu_home.login_anchor", "xiaohongshu_home.feed"}, "#app"),
			"xiaohongshu_home.login_anchor": def("xiaohongshu_home.login_anchor", "", nil, ".login-btn"),
			"xiaohongshu_home.feed":         def("xiaohongshu_home.feed", "", nil, ".feeds-container", ".feeds-page"),
			"xiaohongshu_home.feed.note_card": def("xiaohongshu_home.feed.note_card", "", nil,
				"section.note-item"),
		},
	}
}

const homeURL = "https://www.xiaohongshu.com/"

func TestMatchRootOnHome(t *testing.T) {
	eval := &fakeEvaluator{
		dom: map[string]domResult{
			"#app":              {count: 1, paths: []string{"root/div[0]"}},
			".login-btn":        {count: 1, paths: []string{"root/div[0]/a[0]"}},
			".feeds-container":  {count: 1, paths: []string{"root/div[0]/div[1]"}},
			"section.note-item": {count: 12, paths: paths12()},
		},
		signals: types.DOMSignals{ReadyState: "complete", Title: "小红书"},
	}

	m := New(homeLibrary(), eval)
	snapshot, err := m.Match(context.Background(), "p1", homeURL, Options{})
	require.NoError(t, err)

	require.NotNil(t, snapshot.RootMatch)
	assert.Equal(t, "xiaohongshu_home", snapshot.RootMatch.DefinitionID)
	assert.Contains(t, snapshot.MatchedIDs, "xiaohongshu_home")
	assert.Contains(t, snapshot.MatchedIDs, "xiaohongshu_home.feed.note_card")

	card := snapshot.Instance("xiaohongshu_home.feed.note_card")
	require.NotNil(t, card)
	assert.Equal(t, 12, card.MatchCount)
	assert.Equal(t, "section.note-item", card.Selector)
	assert.NotEmpty(t, card.NodeRef)
	assert.Len(t, card.NodeRefs, 12)

	assert.Equal(t, "complete", snapshot.Signals.ReadyState)
}

func TestMatchScopesChildrenToParentSubtree(t *testing.T) {
	eval := &fakeEvaluator{
		dom: map[string]domResult{
			"#app":              {count: 1, paths: []string{"root/div[0]"}},
			".login-btn":        {count: 1, paths: []string{"root/div[0]/a[0]"}},
			".feeds-container":  {count: 1, paths: []string{"root/div[0]/div[1]"}},
			"section.note-item": {count: 2, paths: []string{"root/div[0]/div[1]/section[0]", "root/div[0]/div[1]/section[1]"}},
		},
		signals: types.DOMSignals{ReadyState: "complete"},
	}

	m := New(homeLibrary(), eval)
	_, err := m.Match(context.Background(), "p1", homeURL, Options{})
	require.NoError(t, err)

	// The root matched globally; its children were scoped to the
	// root's node, and the grandchild to the feed's node.
	assert.Equal(t, []string{""}, eval.scopes["#app"])
	assert.Equal(t, []string{"root/div[0]"}, eval.scopes[".login-btn"])
	assert.Equal(t, []string{"root/div[0]"}, eval.scopes[".feeds-container"])
	assert.Equal(t, []string{"root/div[0]/div[1]"}, eval.scopes["section.note-item"])
}

func TestMatchFallbackSelectorWins(t *testing.T) {
	eval := &fakeEvaluator{
		dom: map[string]domResult{
			"#app":        {count: 1, paths: []string{"root/div[0]"}},
			".feeds-page": {count: 1, paths: []string{"root/div[0]/main[0]"}},
			// primary ".feeds-container" absent
		},
		signals: types.DOMSignals{ReadyState: "complete"},
	}

	m := New(homeLibrary(), eval)
	snapshot, err := m.Match(context.Background(), "p1", homeURL, Options{})
	require.NoError(t, err)

	feed := snapshot.Instance("xiaohongshu_home.feed")
	require.NotNil(t, feed)
	assert.Equal(t, ".feeds-page", feed.Selector, "fallback selector chosen when primary is empty")
}

func TestMatchRetainsAbsentRegions(t *testing.T) {
	eval := &fakeEvaluator{
		dom: map[string]domResult{
			"#app": {count: 1, paths: []string{"root/div[0]"}},
			// login anchor and feed absent: user not logged in, page skeleton
		},
		signals: types.DOMSignals{ReadyState: "interactive"},
	}

	m := New(homeLibrary(), eval)
	snapshot, err := m.Match(context.Background(), "p1", homeURL, Options{})
	require.NoError(t, err)

	assert.False(t, snapshot.Matched("xiaohongshu_home.login_anchor"))

	// The absent region is still a tree node with MatchCount 0, so
	// checkpoint logic can reason about expected-but-absent anchors.
	require.Len(t, snapshot.Tree, 1)
	root := snapshot.Tree[0]
	require.Len(t, root.Children, 2)
	anchor := root.Children[0]
	assert.Equal(t, "xiaohongshu_home.login_anchor", anchor.DefinitionID)
	assert.Equal(t, 0, anchor.MatchCount)
	assert.Nil(t, anchor.Instance)
}

func TestMatchTransientOnBridgeError(t *testing.T) {
	eval := &fakeEvaluator{err: errors.New("connection reset")}

	m := New(homeLibrary(), eval)
	_, err := m.Match(context.Background(), "p1", homeURL, Options{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMatchTransient))
}

func TestMatchInvalidOnMalformedResult(t *testing.T) {
	eval := &fakeEvaluator{badJSON: true}

	m := New(homeLibrary(), eval)
	_, err := m.Match(context.Background(), "p1", homeURL, Options{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMatchInvalid))
}

func TestMatchEmptyCandidates(t *testing.T) {
	m := New(&fakeLibrary{}, &fakeEvaluator{signals: types.DOMSignals{ReadyState: "complete"}})

	snapshot, err := m.Match(context.Background(), "p1", "https://elsewhere.example/", Options{})
	require.NoError(t, err)
	assert.Nil(t, snapshot.RootMatch)
	assert.Empty(t, snapshot.MatchedIDs)
	assert.Empty(t, snapshot.Tree)
}

// twoRootLibrary declares home and detail roots that both match
func twoRootLibrary() *fakeLibrary {
	return &fakeLibrary{
		order: []string{
			"xiaohongshu_home",
			"xiaohongshu_detail",
			"xiaohongshu_detail.modal_shell",
		},
		byID: map[string]*types.ContainerDefinition{
			"xiaohongshu_home":               def("xiaohongshu_home", "https://www.xiaohongshu.com/**", nil, "#app"),
			"xiaohongshu_detail":             def("xiaohongshu_detail", "^https://www\\.xiaohongshu\\.com/explore/.*", []string{"xiaohongshu_detail.modal_shell"}, ".note-detail-mask"),
			"xiaohongshu_detail.modal_shell": def("xiaohongshu_detail.modal_shell", "", nil, ".note-container"),
		},
	}
}

func TestMatchRootHintBreaksTies(t *testing.T) {
	eval := &fakeEvaluator{
		dom: map[string]domResult{
			"#app":             {count: 1, paths: []string{"root/div[0]"}},
			".note-detail-mask": {count: 1, paths: []string{"root/div[1]"}},
			".note-container":  {count: 1, paths: []string{"root/div[1]/div[0]"}},
		},
		signals: types.DOMSignals{ReadyState: "complete", HasDetailMask: true},
	}

	m := New(twoRootLibrary(), eval)

	snapshot, err := m.Match(context.Background(), "p1",
		"https://www.xiaohongshu.com/explore/abc", Options{Hint: "xiaohongshu_detail.modal_shell"})
	require.NoError(t, err)
	require.NotNil(t, snapshot.RootMatch)
	assert.Equal(t, "xiaohongshu_detail", snapshot.RootMatch.DefinitionID)

	// Without a hint the root with the most matched descendants wins.
	snapshot, err = m.Match(context.Background(), "p1",
		"https://www.xiaohongshu.com/explore/abc", Options{})
	require.NoError(t, err)
	require.NotNil(t, snapshot.RootMatch)
	assert.Equal(t, "xiaohongshu_detail", snapshot.RootMatch.DefinitionID)
}

func paths12() []string {
	out := make([]string, 12)
	for i := range out {
		out[i] = fmt.Sprintf("root/div[0]/div[1]/section[%d]", i)
	}
	return out
}
