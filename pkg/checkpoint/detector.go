package checkpoint

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/match"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// Pager reads a session's current URL. *bridge.Client satisfies it.
type Pager interface {
	PageURL(ctx context.Context, profile string) (string, error)
}

// Snapshotter produces container snapshots. *match.Matcher satisfies it.
type Snapshotter interface {
	Match(ctx context.Context, profile, url string, opts match.Options) (*types.Snapshot, error)
}

// Detector translates the page's observable state into a checkpoint
// using a platform's ordered rule table
type Detector struct {
	platform *Platform
	pager    Pager
	snaps    Snapshotter
	logger   zerolog.Logger
}

// NewDetector creates a detector for one platform
func NewDetector(platform *Platform, pager Pager, snaps Snapshotter) *Detector {
	return &Detector{
		platform: platform,
		pager:    pager,
		snaps:    snaps,
		logger:   log.WithComponent("checkpoint").With().Str("platform", platform.Name).Logger(),
	}
}

// Detect runs one detection pass. URL-only rules (risk control,
// offsite) can fire even when the matcher fails, so a broken page
// still yields its terminal state instead of an error.
func (d *Detector) Detect(ctx context.Context, profile string) (types.CheckpointID, *Observation, error) {
	raw, err := d.pager.PageURL(ctx, profile)
	if err != nil {
		return types.CheckpointUnknown, nil, err
	}

	obs := &Observation{RawURL: raw}
	if parsed, perr := url.Parse(raw); perr == nil {
		obs.URL = parsed
	}

	snapshot, snapErr := d.snaps.Match(ctx, profile, raw, match.Options{})
	obs.Snapshot = snapshot

	if snapErr != nil {
		for _, rule := range d.platform.Rules {
			if rule.URLOnly && rule.Matches(obs) {
				d.observe(rule.Checkpoint)
				return rule.Checkpoint, obs, nil
			}
		}
		return types.CheckpointUnknown, obs, errdefs.Wrap(errdefs.KindMatchTransient, "detection snapshot failed", snapErr)
	}

	for _, rule := range d.platform.Rules {
		if rule.Matches(obs) {
			d.observe(rule.Checkpoint)
			return rule.Checkpoint, obs, nil
		}
	}
	d.observe(types.CheckpointUnknown)
	return types.CheckpointUnknown, obs, nil
}

func (d *Detector) observe(cp types.CheckpointID) {
	metrics.CheckpointDetections.WithLabelValues(d.platform.Name, string(cp)).Inc()
	d.logger.Debug().Str("checkpoint", string(cp)).Msg("Checkpoint detected")
}
