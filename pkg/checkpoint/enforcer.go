package checkpoint

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// Keys sends keyboard input for recovery. *bridge.Client satisfies it.
type Keys interface {
	Keyboard(ctx context.Context, profile, action, value string) error
}

// Detecting is the detection surface the enforcer drives. *Detector
// satisfies it.
type Detecting interface {
	Detect(ctx context.Context, profile string) (types.CheckpointID, *Observation, error)
}

// Attempt records one recovery action taken during Ensure
type Attempt struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// EnsureOptions tune one enforcement run
type EnsureOptions struct {
	Timeout                 time.Duration
	CheckInterval           time.Duration
	AllowOneLevelUpFallback bool
}

// EnsureResult is the outcome of one enforcement run. Success is true
// only when a detection at return time equals the target.
type EnsureResult struct {
	Success  bool               `json:"success"`
	Target   types.CheckpointID `json:"target"`
	Reached  types.CheckpointID `json:"reached"`
	Attempts []Attempt          `json:"attempts"`
	Err      error              `json:"-"`
}

// Enforcer drives the page toward a target checkpoint with a
// deliberately conservative action set: keyboard ESC only, never a
// click. Clicking to navigate on an anti-bot site risks tripping risk
// control, and a wrong click is unrecoverable; ESC at worst closes a
// modal that was already closed.
type Enforcer struct {
	detector Detecting
	keys     Keys
	logger   zerolog.Logger
}

// NewEnforcer creates an enforcer over a detector and a key sink
func NewEnforcer(detector Detecting, keys Keys) *Enforcer {
	return &Enforcer{
		detector: detector,
		keys:     keys,
		logger:   log.WithComponent("enforcer"),
	}
}

// fallbackTarget maps a target to its nearest-lower target
func fallbackTarget(target types.CheckpointID) types.CheckpointID {
	switch target {
	case types.CheckpointSearchReady:
		return types.CheckpointHomeReady
	case types.CheckpointCommentsReady:
		return types.CheckpointDetailReady
	case types.CheckpointDetailReady:
		return types.CheckpointSearchReady
	}
	return ""
}

// escCanHelp reports whether ESC is a plausible transition from the
// current checkpoint toward the target: closing a detail modal walks
// detail/comments back toward search or home
func escCanHelp(from, target types.CheckpointID) bool {
	fromDetail := from == types.CheckpointDetailReady || from == types.CheckpointCommentsReady
	toListing := target == types.CheckpointSearchReady || target == types.CheckpointHomeReady
	return fromDetail && toListing
}

// Ensure drives the page to the target checkpoint. Terminal states
// (risk_control, offsite) return immediately with no recovery
// attempts. On timeout with fallback allowed, the nearest-lower
// target is tried; reaching it still reports Success=false because
// the caller's target was not met.
func (e *Enforcer) Ensure(ctx context.Context, profile string, target types.CheckpointID, opts EnsureOptions) *EnsureResult {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 500 * time.Millisecond
	}

	result := &EnsureResult{Target: target, Attempts: []Attempt{}}

	from, _, err := e.detector.Detect(ctx, profile)
	if err != nil {
		result.Reached = types.CheckpointUnknown
		result.Err = err
		return result
	}
	result.Reached = from

	if from == target {
		result.Success = true
		return result
	}
	if from.Terminal() {
		result.Err = terminalError(from)
		return result
	}

	deadline := time.Now().Add(opts.Timeout)
	for time.Now().Before(deadline) {
		if escCanHelp(result.Reached, target) {
			err := e.keys.Keyboard(ctx, profile, "press", "Escape")
			attempt := Attempt{Action: "esc", OK: err == nil}
			if err != nil {
				attempt.Reason = err.Error()
			}
			result.Attempts = append(result.Attempts, attempt)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			metrics.CheckpointRecoveries.WithLabelValues("esc", outcome).Inc()
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(opts.CheckInterval):
		}

		from, _, err = e.detector.Detect(ctx, profile)
		if err != nil {
			// Transient detection failures burn timeout, not the run.
			continue
		}
		result.Reached = from

		if from == target {
			result.Success = true
			return result
		}
		if from.Terminal() {
			result.Err = terminalError(from)
			return result
		}
	}

	if opts.AllowOneLevelUpFallback {
		if fb := fallbackTarget(target); fb != "" {
			e.logger.Warn().
				Str("target", string(target)).
				Str("fallback", string(fb)).
				Msg("Target unreachable, trying one level up")

			fbOpts := opts
			fbOpts.AllowOneLevelUpFallback = false
			fbResult := e.Ensure(ctx, profile, fb, fbOpts)

			result.Attempts = append(result.Attempts, fbResult.Attempts...)
			result.Attempts = append(result.Attempts, Attempt{
				Action: "need_user_action",
				OK:     false,
				Reason: "need to reach " + string(target),
			})
			result.Reached = fbResult.Reached
			if fbResult.Success {
				result.Err = errdefs.Newf(errdefs.KindCheckpointFallback,
					"fell back to %s, %s needs user action", fb, target)
			} else {
				result.Err = errdefs.Newf(errdefs.KindCheckpointUnreachable,
					"neither %s nor fallback %s reached", target, fb)
			}
			return result
		}
	}

	result.Err = errdefs.Newf(errdefs.KindCheckpointUnreachable,
		"checkpoint %s not reached within %s (at %s)", target, opts.Timeout, result.Reached)
	return result
}

// terminalError maps a terminal checkpoint to its error kind
func terminalError(cp types.CheckpointID) error {
	if cp == types.CheckpointRiskControl {
		return errdefs.New(errdefs.KindRiskControl, "platform risk control engaged; manual handling required")
	}
	return errdefs.New(errdefs.KindOffsite, "session navigated off-platform")
}
