package browser

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
)

// Transport is the slice of the bridge client operations need.
// *bridge.Client satisfies it.
type Transport interface {
	Evaluate(ctx context.Context, profile, script string, args ...any) (gjson.Result, error)
	Keyboard(ctx context.Context, profile, action, value string) error
	SystemInput(ctx context.Context, profile, action string, params map[string]any) error
	Goto(ctx context.Context, profile, url string) error
	PageBack(ctx context.Context, profile string) error
}

// Context is the uniform surface an operation runs against: one
// browser session's page, keyboard and OS-level input, plus a logger.
type Context struct {
	Profile     string
	Page        *Page
	SystemInput *SystemInput
	Logger      zerolog.Logger
}

// Page exposes script evaluation and keyboard input on the session
type Page struct {
	profile   string
	transport Transport
	Keyboard  *Keyboard
}

// Evaluate ships a script with JSON-serializable args to the page and
// decodes the result. Non-serializable args fail with CONTEXT_BAD_ARG
// rather than silently coercing. Single-shot: no JS scope persists
// between calls.
func (p *Page) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	for i, a := range args {
		if _, err := json.Marshal(a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindContextBadArg,
				"evaluate argument is not JSON-serializable", err).WithDetail("arg", i)
		}
	}

	res, err := p.transport.Evaluate(ctx, p.profile, script, args...)
	if err != nil {
		return nil, err
	}
	if !res.Exists() {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal([]byte(res.Raw), &out); err != nil {
		// Bare string results arrive unquoted from some bridges.
		return res.String(), nil
	}
	return out, nil
}

// Goto navigates the page
func (p *Page) Goto(ctx context.Context, url string) error {
	return p.transport.Goto(ctx, p.profile, url)
}

// Back triggers history navigation
func (p *Page) Back(ctx context.Context) error {
	return p.transport.PageBack(ctx, p.profile)
}

// Keyboard provides text input on the focused element
type Keyboard struct {
	profile   string
	transport Transport
}

// Type enters text keystroke by keystroke
func (k *Keyboard) Type(ctx context.Context, text string) error {
	return k.transport.Keyboard(ctx, k.profile, "type", text)
}

// Press presses a single named key (Enter, Escape, Tab, ...)
func (k *Keyboard) Press(ctx context.Context, key string) error {
	return k.transport.Keyboard(ctx, k.profile, "press", key)
}

// SystemInput drives OS-level pointer events. Clicks default to this
// path on anti-bot-sensitive sites because page-level synthetic clicks
// are detectable.
type SystemInput struct {
	profile   string
	transport Transport
}

// MouseMove moves the OS cursor to viewport coordinates
func (s *SystemInput) MouseMove(ctx context.Context, x, y float64) error {
	return s.transport.SystemInput(ctx, s.profile, "mouseMove", map[string]any{"x": x, "y": y})
}

// MouseClick clicks at viewport coordinates
func (s *SystemInput) MouseClick(ctx context.Context, x, y float64) error {
	return s.transport.SystemInput(ctx, s.profile, "mouseClick", map[string]any{"x": x, "y": y})
}

// MouseWheel scrolls by a wheel delta
func (s *SystemInput) MouseWheel(ctx context.Context, dx, dy float64) error {
	return s.transport.SystemInput(ctx, s.profile, "mouseWheel", map[string]any{"dx": dx, "dy": dy})
}

// Provider hands contexts to the operation queue, one per profile
type Provider struct {
	transport Transport
}

// NewProvider creates a context provider over a bridge transport
func NewProvider(transport Transport) *Provider {
	return &Provider{transport: transport}
}

// Context builds the operation context for a profile
func (p *Provider) Context(ctx context.Context, profile string) (*Context, error) {
	return &Context{
		Profile: profile,
		Page: &Page{
			profile:   profile,
			transport: p.transport,
			Keyboard:  &Keyboard{profile: profile, transport: p.transport},
		},
		SystemInput: &SystemInput{profile: profile, transport: p.transport},
		Logger:      log.WithProfile(profile),
	}, nil
}
