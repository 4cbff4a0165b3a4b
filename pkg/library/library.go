package library

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// containerFile is the canonical definition filename inside the tree
const containerFile = "container.json"

// cache is the immutable result of one successful load. Reads after
// load are lock-free; refresh swaps the whole cache by pointer.
type cache struct {
	byID  map[string]*types.ContainerDefinition
	dirs  map[string]string // id -> directory that declared it
	roots []*types.ContainerDefinition
}

// Library loads and indexes container definitions from a directory
// tree mirroring the container id hierarchy:
//
//	<root>/<site>/<root-container>/container.json
//	<root>/<site>/<root-container>/<child>/container.json
type Library struct {
	root   string
	logger zerolog.Logger

	cache     atomic.Pointer[cache]
	refreshMu sync.Mutex
}

// New creates a library over the given directory root
func New(root string) *Library {
	return &Library{
		root:   root,
		logger: log.WithComponent("library"),
	}
}

// Load reads every container.json under the library root, validates
// the tree invariants and caches the result in memory. The previous
// cache (if any) is replaced only on full success.
func (l *Library) Load() error {
	return l.Refresh()
}

// Refresh re-reads the library. Idempotent; serialized by an internal
// one-at-a-time gate. A partial failure leaves the prior cache intact.
func (l *Library) Refresh() error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	c, err := l.loadTree()
	if err != nil {
		metrics.LibraryRefreshes.WithLabelValues("error").Inc()
		return err
	}
	l.cache.Store(c)
	metrics.LibraryRefreshes.WithLabelValues("ok").Inc()
	metrics.ContainersLoaded.Set(float64(len(c.byID)))

	l.logger.Info().
		Int("containers", len(c.byID)).
		Int("roots", len(c.roots)).
		Str("root_dir", l.root).
		Msg("Container library loaded")
	return nil
}

// GetByID returns the definition for an id, or nil when absent or the
// library has not been loaded
func (l *Library) GetByID(id string) *types.ContainerDefinition {
	c := l.cache.Load()
	if c == nil {
		return nil
	}
	return c.byID[id]
}

// Roots returns the root definitions in load order
func (l *Library) Roots() []*types.ContainerDefinition {
	c := l.cache.Load()
	if c == nil {
		return nil
	}
	return c.roots
}

// Len returns the number of loaded definitions
func (l *Library) Len() int {
	c := l.cache.Load()
	if c == nil {
		return 0
	}
	return len(c.byID)
}

// ContainersForURL returns every candidate container for a URL: the
// roots whose pattern matches, plus the closure of their descendants,
// in parent-before-child order. Load errors never surface here; an
// unloaded library yields an empty result.
func (l *Library) ContainersForURL(url string) ([]string, map[string]*types.ContainerDefinition) {
	c := l.cache.Load()
	if c == nil {
		return nil, nil
	}

	var order []string
	out := make(map[string]*types.ContainerDefinition)

	var walk func(def *types.ContainerDefinition)
	walk = func(def *types.ContainerDefinition) {
		order = append(order, def.ID)
		out[def.ID] = def
		for _, childID := range def.Children {
			if child := c.byID[childID]; child != nil {
				walk(child)
			}
		}
	}

	for _, root := range c.roots {
		if PatternMatches(root.RootPattern, url) {
			walk(root)
		}
	}
	return order, out
}

// PatternMatches reports whether a root pattern matches a URL. Glob
// patterns use doublestar semantics over the URL; patterns anchored
// with '^' are compiled as regular expressions; anything else falls
// back to literal prefix matching.
func PatternMatches(pattern, url string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "^") {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(url)
	}
	if ok, err := doublestar.Match(pattern, url); err == nil && ok {
		return true
	}
	return strings.HasPrefix(url, strings.TrimRight(pattern, "*"))
}

// loadTree walks the directory tree and builds a validated cache
func (l *Library) loadTree() (*cache, error) {
	info, err := os.Stat(l.root)
	if err != nil || !info.IsDir() {
		return nil, errdefs.Newf(errdefs.KindLibraryNotFound, "container library root %s not found", l.root)
	}

	c := &cache{
		byID: make(map[string]*types.ContainerDefinition),
		dirs: make(map[string]string),
	}

	var files []string
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == containerFile {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindLibraryNotFound, "failed to walk container library", err)
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindLibraryInvalid, fmt.Sprintf("failed to read %s", path), err)
		}

		var def types.ContainerDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, errdefs.Wrap(errdefs.KindLibraryInvalid, fmt.Sprintf("failed to parse %s", path), err)
		}
		if def.ID == "" {
			return nil, errdefs.Newf(errdefs.KindLibraryInvalid, "%s declares no container id", path)
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, errdefs.Newf(errdefs.KindLibraryInvalid, "duplicate container id %q", def.ID)
		}

		c.byID[def.ID] = &def
		c.dirs[def.ID] = filepath.Dir(path)
		if def.IsRoot() {
			c.roots = append(c.roots, &def)
		}
	}

	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// validate enforces the tree invariants: child-id prefix rule, declared
// children exist and are claimed by exactly one parent, roots are the
// only pattern carriers, the graph is acyclic, and nesting mirrors the
// on-disk directory layout.
func validate(c *cache) error {
	claimedBy := make(map[string]string)

	for id, def := range c.byID {
		for _, childID := range def.Children {
			child := c.byID[childID]
			if child == nil {
				return errdefs.Newf(errdefs.KindLibraryInvalid,
					"container %q declares missing child %q", id, childID)
			}
			if !strings.HasPrefix(childID, id+".") {
				return errdefs.Newf(errdefs.KindLibraryInvalid,
					"child id %q does not extend parent id %q", childID, id)
			}
			if prev, ok := claimedBy[childID]; ok {
				return errdefs.Newf(errdefs.KindLibraryInvalid,
					"container %q claimed by both %q and %q", childID, prev, id)
			}
			claimedBy[childID] = id
			if child.IsRoot() {
				return errdefs.Newf(errdefs.KindLibraryInvalid,
					"container %q carries root_pattern but is a child of %q", childID, id)
			}

			parentDir := c.dirs[id]
			childDir := c.dirs[childID]
			if rel, err := filepath.Rel(parentDir, childDir); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
				return errdefs.Newf(errdefs.KindLibraryInvalid,
					"container %q directory is not nested under parent %q", childID, id)
			}
		}
	}

	for id, def := range c.byID {
		if def.IsRoot() {
			continue
		}
		if _, ok := claimedBy[id]; !ok {
			return errdefs.Newf(errdefs.KindLibraryInvalid,
				"container %q is neither a root nor claimed by any parent", id)
		}
	}

	// The prefix rule already rules out back-edges; a cycle would need
	// an id to strictly extend itself. Depth-check anyway so a future
	// relaxation of the prefix rule cannot loop the matcher.
	for _, root := range c.roots {
		seen := make(map[string]bool)
		var walk func(id string) error
		walk = func(id string) error {
			if seen[id] {
				return errdefs.Newf(errdefs.KindLibraryInvalid, "cycle through container %q", id)
			}
			seen[id] = true
			for _, childID := range c.byID[id].Children {
				if err := walk(childID); err != nil {
					return err
				}
			}
			delete(seen, id)
			return nil
		}
		if err := walk(root.ID); err != nil {
			return err
		}
	}

	return nil
}
