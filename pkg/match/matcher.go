package match

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// Evaluator runs a script in a session's page. *bridge.Client
// satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, profile, script string, args ...any) (gjson.Result, error)
}

// Candidates serves container definitions for a URL.
// *library.Library satisfies it.
type Candidates interface {
	ContainersForURL(url string) ([]string, map[string]*types.ContainerDefinition)
}

// Options tune one matcher pass
type Options struct {
	// Hint biases root selection toward the root sharing the longest
	// id prefix with the container the caller intends to operate on.
	Hint string
}

// Matcher binds container definitions to live DOM nodes. It is a pure
// translator: one pass, no retries; transient bridge failures surface
// as MATCH_TRANSIENT for the caller to retry.
type Matcher struct {
	library Candidates
	eval    Evaluator
	logger  zerolog.Logger
}

// New creates a matcher over a library and an evaluator
func New(library Candidates, eval Evaluator) *Matcher {
	return &Matcher{
		library: library,
		eval:    eval,
		logger:  log.WithComponent("matcher"),
	}
}

// countScript counts DOM matches for a selector and returns a stable
// path per node. A non-empty parentPath constrains the query to the
// parent's subtree.
const countScript = `
(function(sel, parentPath) {
  function byPath(path) {
    if (!path) return null;
    var parts = path.split('/');
    var node = document.documentElement;
    for (var i = 1; i < parts.length; i++) {
      var m = parts[i].match(/^([a-zA-Z0-9-]+)\[(\d+)\]$/);
      if (!m) return null;
      var idx = Number(m[2]), found = null, count = 0;
      for (var c = node.firstElementChild; c; c = c.nextElementSibling) {
        if (c.tagName.toLowerCase() === m[1]) {
          if (count === idx) { found = c; break; }
          count++;
        }
      }
      if (!found) return null;
      node = found;
    }
    return node;
  }
  function pathOf(el) {
    var parts = [];
    for (var n = el; n && n !== document.documentElement; n = n.parentElement) {
      var tag = n.tagName.toLowerCase(), idx = 0;
      for (var s = n.previousElementSibling; s; s = s.previousElementSibling) {
        if (s.tagName.toLowerCase() === tag) idx++;
      }
      parts.unshift(tag + '[' + idx + ']');
    }
    parts.unshift('root');
    return parts.join('/');
  }
  var scope = parentPath ? byPath(parentPath) : document;
  if (!scope) return { count: 0, paths: [] };
  var els = Array.prototype.slice.call(scope.querySelectorAll(sel));
  return { count: els.length, paths: els.map(pathOf) };
})`

// signalsScript reads the page-level DOM signals checkpoint detection
// combines with container matches
const signalsScript = `
(function() {
  return {
    hasDetailMask: !!document.querySelector('.note-detail-mask, .modal-mask, [class*="detail-mask"]'),
    hasSearchInput: !!document.querySelector('#search-input, input[type="search"], .search-input input'),
    readyState: document.readyState,
    title: document.title
  };
})`

// Match runs one pass for a (profile, url) pair and returns the
// snapshot. Candidates are tried in parent-before-child order; each
// candidate's selectors in declared order, primary first; the first
// selector with matches wins. Zero-match candidates stay in the tree
// so callers can reason about expected-but-absent regions.
func (m *Matcher) Match(ctx context.Context, profile, url string, opts Options) (*types.Snapshot, error) {
	timer := metrics.NewTimer()

	order, byID := m.library.ContainersForURL(url)

	snapshot := &types.Snapshot{
		URL:     url,
		Profile: profile,
		TakenAt: time.Now(),
	}

	instances := make(map[string]*types.ContainerInstance, len(order))

	for _, id := range order {
		def := byID[id]

		parentPath := ""
		parentInstanceID := ""
		if parentID := def.ParentID(); parentID != "" {
			if parent := instances[parentID]; parent != nil {
				parentPath = parent.NodeRef
				parentInstanceID = parent.InstanceID
			}
		}

		inst, err := m.resolve(ctx, profile, url, def, parentPath, parentInstanceID)
		if err != nil {
			metrics.MatchesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if inst != nil {
			instances[id] = inst
			if parentInstanceID != "" {
				parent := instances[def.ParentID()]
				parent.Children = append(parent.Children, inst.InstanceID)
			}
			snapshot.MatchedIDs = append(snapshot.MatchedIDs, id)
		}
	}

	snapshot.Tree = buildTree(order, byID, instances)
	snapshot.RootMatch = pickRoot(order, byID, instances, opts.Hint)

	signals, err := m.readSignals(ctx, profile)
	if err != nil {
		metrics.MatchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	snapshot.Signals = signals

	metrics.MatchesTotal.WithLabelValues("ok").Inc()
	timer.ObserveDuration(metrics.MatchDuration)

	m.logger.Debug().
		Str("url", url).
		Str("profile", profile).
		Int("matched", len(snapshot.MatchedIDs)).
		Msg("Matcher pass complete")
	return snapshot, nil
}

// resolve tries a definition's selectors in order and builds the
// instance for the first one with matches, or nil when none match
func (m *Matcher) resolve(ctx context.Context, profile, url string, def *types.ContainerDefinition, parentPath, parentInstanceID string) (*types.ContainerInstance, error) {
	for _, sel := range def.Selectors {
		res, err := m.eval.Evaluate(ctx, profile, countScript, sel.CSS, parentPath)
		if err != nil {
			if errdefs.IsKind(err, errdefs.KindContextBadArg) {
				return nil, errdefs.Wrap(errdefs.KindMatchInvalid, "selector evaluation rejected", err)
			}
			return nil, errdefs.Wrap(errdefs.KindMatchTransient, "selector evaluation failed", err)
		}
		if !res.Get("count").Exists() {
			return nil, errdefs.Newf(errdefs.KindMatchInvalid,
				"malformed match result for container %q selector %q", def.ID, sel.CSS)
		}

		count := int(res.Get("count").Int())
		if count == 0 {
			continue
		}

		var paths []string
		for _, p := range res.Get("paths").Array() {
			paths = append(paths, p.String())
		}
		inst := &types.ContainerInstance{
			InstanceID:       uuid.New().String(),
			DefinitionID:     def.ID,
			URL:              url,
			Selector:         sel.CSS,
			MatchCount:       count,
			NodeRefs:         paths,
			ParentInstanceID: parentInstanceID,
		}
		if len(paths) > 0 {
			inst.NodeRef = paths[0]
		}
		return inst, nil
	}
	return nil, nil
}

// readSignals fetches the page-level DOM signal block
func (m *Matcher) readSignals(ctx context.Context, profile string) (types.DOMSignals, error) {
	res, err := m.eval.Evaluate(ctx, profile, signalsScript)
	if err != nil {
		return types.DOMSignals{}, errdefs.Wrap(errdefs.KindMatchTransient, "signal read failed", err)
	}
	if !res.Get("readyState").Exists() {
		return types.DOMSignals{}, errdefs.New(errdefs.KindMatchInvalid, "malformed signal result")
	}
	return types.DOMSignals{
		HasDetailMask:  res.Get("hasDetailMask").Bool(),
		HasSearchInput: res.Get("hasSearchInput").Bool(),
		ReadyState:     res.Get("readyState").String(),
		Title:          res.Get("title").String(),
	}, nil
}

// buildTree assembles snapshot nodes along declared parent/child
// relations, retaining zero-match nodes
func buildTree(order []string, byID map[string]*types.ContainerDefinition, instances map[string]*types.ContainerInstance) []*types.SnapshotNode {
	nodes := make(map[string]*types.SnapshotNode, len(order))
	var roots []*types.SnapshotNode

	for _, id := range order {
		def := byID[id]
		node := &types.SnapshotNode{DefinitionID: id}
		if inst := instances[id]; inst != nil {
			node.Instance = inst
			node.MatchCount = inst.MatchCount
		}
		nodes[id] = node

		if parentID := def.ParentID(); parentID != "" && nodes[parentID] != nil {
			parent := nodes[parentID]
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}

// pickRoot selects the root match: the matched root sharing the
// longest id prefix with the hint when one is given; otherwise the
// matched root with the most matched descendants, first declared
// winning ties.
func pickRoot(order []string, byID map[string]*types.ContainerDefinition, instances map[string]*types.ContainerInstance, hint string) *types.ContainerInstance {
	var best *types.ContainerInstance
	bestScore := -1

	for _, id := range order {
		def := byID[id]
		if !def.IsRoot() {
			continue
		}
		inst := instances[id]
		if inst == nil || inst.MatchCount < 1 {
			continue
		}

		score := 0
		if hint != "" {
			score = sharedPrefixLen(hint, id) * 1000
		}
		for matched := range instances {
			if strings.HasPrefix(matched, id+".") {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = inst
		}
	}
	return best
}

func sharedPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
