package operation

import (
	"context"

	"github.com/droverhq/drover/pkg/browser"
	"github.com/droverhq/drover/pkg/errdefs"
)

// Built-in operation ids
const (
	OpHighlight  = "highlight"
	OpScroll     = "scroll"
	OpClick      = "click"
	OpExtract    = "extract"
	OpFindChild  = "find-child"
	OpType       = "type"
	OpKey        = "key"
	OpNavigate   = "navigate"
	OpMouseMove  = "mouseMove"
	OpMouseClick = "mouseClick"
)

// jsHelpers resolves a container target inside the page: by bound DOM
// path first, by selector otherwise. Paths look like
// "root/div[2]/section[0]" with per-tag sibling indexes.
const jsHelpers = `
function __byPath(path) {
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
function __resolve(sel, nodeRef) {
  var el = __byPath(nodeRef);
  if (el) return [el];
  return Array.prototype.slice.call(document.querySelectorAll(sel));
}
`

// builtinDefinitions returns the built-in operation set
func builtinDefinitions() []*Definition {
	return []*Definition{
		{ID: OpHighlight, RequiredCapabilities: nil, Run: runHighlight},
		{ID: OpScroll, RequiredCapabilities: []string{"scroll"}, Run: runScroll},
		{ID: OpClick, RequiredCapabilities: []string{"click"}, Run: runClick},
		{ID: OpExtract, RequiredCapabilities: []string{"extract"}, Run: runExtract},
		{ID: OpFindChild, RequiredCapabilities: []string{"extract"}, Run: runFindChild},
		{ID: OpType, RequiredCapabilities: []string{"type"}, Run: runType},
		{ID: OpKey, RequiredCapabilities: nil, Run: runKey},
		{ID: OpNavigate, RequiredCapabilities: []string{"navigate"}, Run: runNavigate},
		{ID: OpMouseMove, RequiredCapabilities: nil, Run: runMouseMove},
		{ID: OpMouseClick, RequiredCapabilities: []string{"click"}, Run: runMouseClick},
	}
}

func runHighlight(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	style := cfgString(config, "style", "2px solid #ff2442")
	script := jsHelpers + `
(function(sel, nodeRef, style) {
  var els = __resolve(sel, nodeRef);
  els.forEach(function(el) { el.style.outline = style; });
  return els.length;
})`
	return octx.Page.Evaluate(ctx, script, target.Selector(), target.NodeRef(), style)
}

func runScroll(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	distance := cfgFloat(config, "distance", 600)
	if cfgString(config, "direction", "down") == "up" {
		distance = -distance
	}
	script := jsHelpers + `
(function(sel, nodeRef, distance) {
  var els = __resolve(sel, nodeRef);
  var el = els.length ? els[0] : null;
  if (el && el.scrollHeight > el.clientHeight) {
    el.scrollBy(0, distance);
  } else {
    window.scrollBy(0, distance);
  }
  return { scrolled: distance };
})`
	return octx.Page.Evaluate(ctx, script, target.Selector(), target.NodeRef(), distance)
}

// runClick defaults to OS-level mouse input: page-synthetic clicks
// are a detection signal on the platforms this drives.
func runClick(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	if !cfgBool(config, "useSystemMouse", true) {
		script := jsHelpers + `
(function(sel, nodeRef) {
  var els = __resolve(sel, nodeRef);
  if (!els.length) return { clicked: false };
  els[0].click();
  return { clicked: true };
})`
		return octx.Page.Evaluate(ctx, script, target.Selector(), target.NodeRef())
	}

	center, err := targetCenter(ctx, octx, target)
	if err != nil {
		return nil, err
	}
	if err := octx.SystemInput.MouseMove(ctx, center[0], center[1]); err != nil {
		return nil, err
	}
	if err := octx.SystemInput.MouseClick(ctx, center[0], center[1]); err != nil {
		return nil, err
	}
	return map[string]any{"clicked": true, "x": center[0], "y": center[1]}, nil
}

// targetCenter reads the viewport center of the target's first node
func targetCenter(ctx context.Context, octx *browser.Context, target Target) ([2]float64, error) {
	script := jsHelpers + `
(function(sel, nodeRef) {
  var els = __resolve(sel, nodeRef);
  if (!els.length) return null;
  var r = els[0].getBoundingClientRect();
  return { x: r.left + r.width / 2, y: r.top + r.height / 2 };
})`
	res, err := octx.Page.Evaluate(ctx, script, target.Selector(), target.NodeRef())
	if err != nil {
		return [2]float64{}, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		return [2]float64{}, errdefs.Newf(errdefs.KindOperationFailed,
			"click target %q not found on page", target.Selector())
	}
	x, _ := m["x"].(float64)
	y, _ := m["y"].(float64)
	return [2]float64{x, y}, nil
}

// runExtract pulls structured records out of the target. config.fields
// maps output names to CSS subselectors evaluated relative to each
// matched node; include_text adds the node's own textContent.
func runExtract(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	fields := cfgMap(config, "fields")
	includeText := cfgBool(config, "include_text", false)
	limit := int(cfgFloat(config, "limit", 0))

	script := jsHelpers + `
(function(sel, nodeRef, fields, includeText, limit) {
  var els = __resolve(sel, nodeRef);
  if (limit > 0 && els.length > limit) els = els.slice(0, limit);
  return els.map(function(el) {
    var rec = {};
    for (var name in fields) {
      var sub = el.querySelector(fields[name]);
      rec[name] = sub ? sub.textContent.trim() : null;
    }
    if (includeText) rec.text = el.textContent.trim();
    return rec;
  });
})`
	return octx.Page.Evaluate(ctx, script, target.Selector(), target.NodeRef(), fields, includeText, limit)
}

// runFindChild counts matches of a child selector under the target
// and returns their DOM paths
func runFindChild(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	childSel := cfgString(config, "selector", "")
	if childSel == "" {
		return nil, errdefs.New(errdefs.KindOperationFailed, "find-child requires config.selector")
	}
	script := jsHelpers + `
(function(sel, nodeRef, childSel) {
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
  var parents = __resolve(sel, nodeRef);
  if (!parents.length) return { count: 0, paths: [] };
  var found = Array.prototype.slice.call(parents[0].querySelectorAll(childSel));
  return { count: found.length, paths: found.map(pathOf) };
})`
	return octx.Page.Evaluate(ctx, script, target.Selector(), target.NodeRef(), childSel)
}

// runType focuses the target and types the configured text
func runType(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	text := cfgString(config, "text", "")
	focus := jsHelpers + `
(function(sel, nodeRef) {
  var els = __resolve(sel, nodeRef);
  if (!els.length) return false;
  els[0].focus();
  return true;
})`
	res, err := octx.Page.Evaluate(ctx, focus, target.Selector(), target.NodeRef())
	if err != nil {
		return nil, err
	}
	if ok, _ := res.(bool); !ok {
		return nil, errdefs.Newf(errdefs.KindOperationFailed, "type target %q not found", target.Selector())
	}
	if err := octx.Page.Keyboard.Type(ctx, text); err != nil {
		return nil, err
	}
	return map[string]any{"typed": len(text)}, nil
}

// runKey presses a single named key (default Escape, the only
// navigation-safe recovery input)
func runKey(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	key := cfgString(config, "key", "Escape")
	if err := octx.Page.Keyboard.Press(ctx, key); err != nil {
		return nil, err
	}
	return map[string]any{"key": key}, nil
}

func runNavigate(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	url := cfgString(config, "url", "")
	if url == "" {
		return nil, errdefs.New(errdefs.KindOperationFailed, "navigate requires config.url")
	}
	if err := octx.Page.Goto(ctx, url); err != nil {
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

func runMouseMove(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	x := cfgFloat(config, "x", 0)
	y := cfgFloat(config, "y", 0)
	if err := octx.SystemInput.MouseMove(ctx, x, y); err != nil {
		return nil, err
	}
	return map[string]any{"x": x, "y": y}, nil
}

func runMouseClick(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error) {
	if _, hasX := config["x"]; hasX {
		x := cfgFloat(config, "x", 0)
		y := cfgFloat(config, "y", 0)
		if err := octx.SystemInput.MouseClick(ctx, x, y); err != nil {
			return nil, err
		}
		return map[string]any{"x": x, "y": y}, nil
	}
	return runClick(ctx, octx, target, map[string]any{"useSystemMouse": true})
}

// config helpers; configs are JSON-shaped so numbers arrive as float64

func cfgString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return fallback
}

func cfgFloat(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func cfgBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func cfgMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}
