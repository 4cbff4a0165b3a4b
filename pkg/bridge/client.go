package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// Client speaks the browser service's HTTP JSON-RPC surface. One
// client serves many sessions; calls against the same session are
// serialized because the browser holds a single DOM per profile and
// overlapping evaluate calls on one session are not allowed.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	mu    sync.Mutex
	gates map[string]*sync.Mutex // per-session in-flight gate
}

// NewClient creates a bridge client for the given base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  log.WithComponent("bridge"),
		gates:   make(map[string]*sync.Mutex),
	}
}

// rpcRequest is the wire shape of one bridge call
type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Call performs one RPC. The response envelope is `{"success": bool,
// "data": ..., "error": "..."}`; a transport failure or a
// success=false envelope surfaces as a typed error.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	data, err := c.call(ctx, method, params)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BridgeCalls.WithLabelValues(method, outcome).Inc()
	return data, err
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return gjson.Result{}, errdefs.Wrap(errdefs.KindContextBadArg, "rpc params not serializable", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rpc", bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, errdefs.Wrap(errdefs.KindBridgeUnavailable, "failed to build bridge request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, errdefs.Wrap(errdefs.KindBridgeUnavailable, fmt.Sprintf("bridge call %s failed", method), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errdefs.Wrap(errdefs.KindBridgeUnavailable, "failed to read bridge response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, errdefs.Newf(errdefs.KindBridgeUnavailable, "bridge call %s returned HTTP %d", method, resp.StatusCode)
	}

	envelope := gjson.ParseBytes(raw)
	if !envelope.Get("success").Bool() {
		msg := envelope.Get("error").String()
		if msg == "" {
			msg = "bridge reported failure without detail"
		}
		return gjson.Result{}, errdefs.Newf(errdefs.KindOperationFailed, "bridge %s: %s", method, msg)
	}
	return envelope.Get("data"), nil
}

// sessionGate returns the serialization lock for a session
func (c *Client) sessionGate(profile string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gates[profile]
	if !ok {
		g = &sync.Mutex{}
		c.gates[profile] = g
	}
	return g
}

// Evaluate ships a script (function source or expression) plus
// JSON-serializable args to the session's page. Single-shot: no
// persistent JS scope survives between calls.
func (c *Client) Evaluate(ctx context.Context, profile, script string, args ...any) (gjson.Result, error) {
	encoded := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return gjson.Result{}, errdefs.Wrap(errdefs.KindContextBadArg,
				fmt.Sprintf("evaluate arg %d is not JSON-serializable", i), err)
		}
		encoded[i] = data
	}

	gate := c.sessionGate(profile)
	gate.Lock()
	defer gate.Unlock()

	return c.Call(ctx, "evaluate", map[string]any{
		"profile": profile,
		"script":  script,
		"args":    encoded,
	})
}

// Keyboard performs a keyboard action ("type" with text, "press" with
// a key name) on the session's page
func (c *Client) Keyboard(ctx context.Context, profile, action, value string) error {
	gate := c.sessionGate(profile)
	gate.Lock()
	defer gate.Unlock()

	_, err := c.Call(ctx, "browser:execute", map[string]any{
		"profile": profile,
		"input":   "keyboard",
		"action":  action,
		"value":   value,
	})
	return err
}

// SystemInput performs an OS-level pointer action (mouseMove,
// mouseClick, mouseWheel) outside the page's JS context
func (c *Client) SystemInput(ctx context.Context, profile, action string, params map[string]any) error {
	gate := c.sessionGate(profile)
	gate.Lock()
	defer gate.Unlock()

	merged := map[string]any{
		"profile": profile,
		"input":   "system",
		"action":  action,
	}
	for k, v := range params {
		merged[k] = v
	}
	_, err := c.Call(ctx, "browser:execute", merged)
	return err
}

// Goto navigates the session to a URL
func (c *Client) Goto(ctx context.Context, profile, target string) error {
	if _, err := url.Parse(target); err != nil {
		return errdefs.Wrap(errdefs.KindContextBadArg, "invalid navigation url", err)
	}
	gate := c.sessionGate(profile)
	gate.Lock()
	defer gate.Unlock()

	_, err := c.Call(ctx, "goto", map[string]any{"profile": profile, "url": target})
	return err
}

// PageBack triggers history.back on the session
func (c *Client) PageBack(ctx context.Context, profile string) error {
	gate := c.sessionGate(profile)
	gate.Lock()
	defer gate.Unlock()

	_, err := c.Call(ctx, "page:back", map[string]any{"profile": profile})
	return err
}

// PageURL returns the session's current URL
func (c *Client) PageURL(ctx context.Context, profile string) (string, error) {
	res, err := c.Evaluate(ctx, profile, "() => window.location.href")
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// SessionCreate asks the bridge to open a session for a profile
func (c *Client) SessionCreate(ctx context.Context, profile, site string) (*types.Session, error) {
	res, err := c.Call(ctx, "session:create", map[string]any{"profile": profile, "site": site})
	if err != nil {
		return nil, err
	}
	sess := &types.Session{
		ID:        res.Get("id").String(),
		Profile:   profile,
		Site:      site,
		URL:       res.Get("url").String(),
		CreatedAt: time.Now(),
	}
	if sess.ID == "" {
		sess.ID = profile
	}
	return sess, nil
}

// SessionList returns the bridge's live sessions
func (c *Client) SessionList(ctx context.Context) ([]*types.Session, error) {
	res, err := c.Call(ctx, "session:list", nil)
	if err != nil {
		return nil, err
	}
	var out []*types.Session
	for _, item := range res.Get("sessions").Array() {
		out = append(out, &types.Session{
			ID:      item.Get("id").String(),
			Profile: item.Get("profile").String(),
			Site:    item.Get("site").String(),
			URL:     item.Get("url").String(),
		})
	}
	return out, nil
}
