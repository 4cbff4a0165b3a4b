package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/match"
	"github.com/droverhq/drover/pkg/types"
)

// fakePager serves a fixed URL
type fakePager struct{ url string }

func (f *fakePager) PageURL(ctx context.Context, profile string) (string, error) {
	return f.url, nil
}

// fakeSnapshotter serves a fixed snapshot or error
type fakeSnapshotter struct {
	snapshot *types.Snapshot
	err      error
}

func (f *fakeSnapshotter) Match(ctx context.Context, profile, url string, opts match.Options) (*types.Snapshot, error) {
	return f.snapshot, f.err
}

func snap(signals types.DOMSignals, matched ...string) *types.Snapshot {
	return &types.Snapshot{MatchedIDs: matched, Signals: signals}
}

func TestXiaohongshuDetectionTable(t *testing.T) {
	home := "https://www.xiaohongshu.com/"

	tests := []struct {
		name     string
		url      string
		snapshot *types.Snapshot
		want     types.CheckpointID
	}{
		{
			name:     "risk control by url",
			url:      "https://www.xiaohongshu.com/website-login/captcha?redirect=x",
			snapshot: snap(types.DOMSignals{}),
			want:     types.CheckpointRiskControl,
		},
		{
			name:     "risk control beats everything else",
			url:      "https://www.xiaohongshu.com/website-login/captcha",
			snapshot: snap(types.DOMSignals{}, "xiaohongshu_home", "xiaohongshu_home.login_anchor"),
			want:     types.CheckpointRiskControl,
		},
		{
			name:     "offsite",
			url:      "https://example.com/landing",
			snapshot: snap(types.DOMSignals{}),
			want:     types.CheckpointOffsite,
		},
		{
			name:     "login guard when anchor absent",
			url:      home,
			snapshot: snap(types.DOMSignals{}, "xiaohongshu_home", "xiaohongshu_home.login_guard"),
			want:     types.CheckpointLoginGuard,
		},
		{
			name:     "anchor present means no login guard",
			url:      home,
			snapshot: snap(types.DOMSignals{}, "xiaohongshu_home", "xiaohongshu_home.login_anchor"),
			want:     types.CheckpointHomeReady,
		},
		{
			name: "comments ready",
			url:  "https://www.xiaohongshu.com/explore/abc",
			snapshot: snap(types.DOMSignals{HasDetailMask: true},
				"xiaohongshu_detail", "xiaohongshu_detail.comment_section"),
			want: types.CheckpointCommentsReady,
		},
		{
			name: "detail ready needs shell and content",
			url:  "https://www.xiaohongshu.com/explore/abc",
			snapshot: snap(types.DOMSignals{HasDetailMask: true},
				"xiaohongshu_detail", "xiaohongshu_detail.modal_shell", "xiaohongshu_detail.content_anchor"),
			want: types.CheckpointDetailReady,
		},
		{
			name:     "shell alone is not detail ready",
			url:      "https://www.xiaohongshu.com/explore/abc",
			snapshot: snap(types.DOMSignals{HasDetailMask: true}, "xiaohongshu_detail", "xiaohongshu_detail.modal_shell"),
			want:     types.CheckpointUnknown,
		},
		{
			name: "search ready",
			url:  "https://www.xiaohongshu.com/search_result?keyword=tea",
			snapshot: snap(types.DOMSignals{HasSearchInput: true},
				"xiaohongshu_search", "xiaohongshu_search.search_bar", "xiaohongshu_search.search_result_list"),
			want: types.CheckpointSearchReady,
		},
		{
			name:     "home ready",
			url:      home,
			snapshot: snap(types.DOMSignals{}, "xiaohongshu_home", "xiaohongshu_home.login_anchor", "xiaohongshu_home.feed"),
			want:     types.CheckpointHomeReady,
		},
		{
			// URL carries a note id and the detail mask is up: the
			// DOM signal wins and blocks home_ready while the mask
			// is up.
			name:     "detail mask blocks home ready",
			url:      "https://www.xiaohongshu.com/explore/abc",
			snapshot: snap(types.DOMSignals{HasDetailMask: true}, "xiaohongshu_home", "xiaohongshu_home.login_anchor"),
			want:     types.CheckpointUnknown,
		},
		{
			name:     "nothing matches",
			url:      home,
			snapshot: snap(types.DOMSignals{}),
			want:     types.CheckpointUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector := NewDetector(Xiaohongshu(),
				&fakePager{url: tt.url},
				&fakeSnapshotter{snapshot: tt.snapshot})

			got, obs, err := detector.Detect(context.Background(), "p1")
			require.NoError(t, err)
			require.NotNil(t, obs)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectURLRulesFireWithoutSnapshot(t *testing.T) {
	detector := NewDetector(Xiaohongshu(),
		&fakePager{url: "https://www.xiaohongshu.com/website-login/captcha"},
		&fakeSnapshotter{err: errdefs.New(errdefs.KindMatchTransient, "bridge jitter")})

	got, _, err := detector.Detect(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointRiskControl, got)
}

func TestDetectSnapshotFailureSurfaces(t *testing.T) {
	detector := NewDetector(Xiaohongshu(),
		&fakePager{url: "https://www.xiaohongshu.com/"},
		&fakeSnapshotter{err: errdefs.New(errdefs.KindMatchTransient, "bridge jitter")})

	got, _, err := detector.Detect(context.Background(), "p1")
	assert.Equal(t, types.CheckpointUnknown, got)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMatchTransient))
}

// scriptedDetector plays back a detection sequence, repeating the
// last entry once exhausted
type scriptedDetector struct {
	seq []types.CheckpointID
	i   int
}

func (s *scriptedDetector) Detect(ctx context.Context, profile string) (types.CheckpointID, *Observation, error) {
	cp := s.seq[s.i]
	if s.i < len(s.seq)-1 {
		s.i++
	}
	return cp, &Observation{}, nil
}

// keysSpy records pressed keys
type keysSpy struct {
	pressed []string
	err     error
}

func (k *keysSpy) Keyboard(ctx context.Context, profile, action, value string) error {
	k.pressed = append(k.pressed, value)
	return k.err
}

func TestEnsureImmediateSuccess(t *testing.T) {
	keys := &keysSpy{}
	enf := NewEnforcer(&scriptedDetector{seq: []types.CheckpointID{types.CheckpointHomeReady}}, keys)

	result := enf.Ensure(context.Background(), "p1", types.CheckpointHomeReady, EnsureOptions{})
	assert.True(t, result.Success)
	assert.Equal(t, types.CheckpointHomeReady, result.Reached)
	assert.Empty(t, result.Attempts)
	assert.Empty(t, keys.pressed)
}

func TestEnsureRiskControlShortCircuits(t *testing.T) {
	keys := &keysSpy{}
	enf := NewEnforcer(&scriptedDetector{seq: []types.CheckpointID{types.CheckpointRiskControl}}, keys)

	result := enf.Ensure(context.Background(), "p1", types.CheckpointHomeReady, EnsureOptions{
		Timeout: 3 * time.Second,
	})

	assert.False(t, result.Success)
	assert.Equal(t, types.CheckpointRiskControl, result.Reached)
	assert.Empty(t, result.Attempts, "terminal states get zero recovery attempts")
	assert.True(t, errdefs.IsKind(result.Err, errdefs.KindRiskControl))
	assert.Empty(t, keys.pressed, "no automated probes against risk control")
}

func TestEnsureOffsiteShortCircuits(t *testing.T) {
	enf := NewEnforcer(&scriptedDetector{seq: []types.CheckpointID{types.CheckpointOffsite}}, &keysSpy{})

	result := enf.Ensure(context.Background(), "p1", types.CheckpointSearchReady, EnsureOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, types.CheckpointOffsite, result.Reached)
	assert.True(t, errdefs.IsKind(result.Err, errdefs.KindOffsite))
}

func TestEnsureEscRecoveryReachesTarget(t *testing.T) {
	keys := &keysSpy{}
	// detail -> (esc) -> search: target reached on re-detect.
	enf := NewEnforcer(&scriptedDetector{seq: []types.CheckpointID{
		types.CheckpointDetailReady,
		types.CheckpointSearchReady,
	}}, keys)

	result := enf.Ensure(context.Background(), "p1", types.CheckpointSearchReady, EnsureOptions{
		Timeout:       2 * time.Second,
		CheckInterval: 10 * time.Millisecond,
	})

	assert.True(t, result.Success)
	assert.Equal(t, types.CheckpointSearchReady, result.Reached)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "esc", result.Attempts[0].Action)
	assert.True(t, result.Attempts[0].OK)
	assert.Equal(t, []string{"Escape"}, keys.pressed)
}

func TestEnsureFallbackOneLevelUp(t *testing.T) {
	keys := &keysSpy{}
	// detail -> (esc) -> home, stuck at home; search never arrives.
	enf := NewEnforcer(&scriptedDetector{seq: []types.CheckpointID{
		types.CheckpointDetailReady,
		types.CheckpointHomeReady,
	}}, keys)

	result := enf.Ensure(context.Background(), "p1", types.CheckpointSearchReady, EnsureOptions{
		Timeout:                 200 * time.Millisecond,
		CheckInterval:           20 * time.Millisecond,
		AllowOneLevelUpFallback: true,
	})

	assert.False(t, result.Success, "fallback success still fails the original target")
	assert.Equal(t, types.CheckpointHomeReady, result.Reached)
	assert.True(t, errdefs.IsKind(result.Err, errdefs.KindCheckpointFallback))

	require.NotEmpty(t, result.Attempts)
	assert.Equal(t, "esc", result.Attempts[0].Action)
	assert.True(t, result.Attempts[0].OK)

	last := result.Attempts[len(result.Attempts)-1]
	assert.Equal(t, "need_user_action", last.Action)
	assert.False(t, last.OK)
	assert.Equal(t, "need to reach search_ready", last.Reason)

	// Only the first loop iteration could plausibly ESC; once at
	// home_ready the enforcer stops pressing keys.
	assert.Equal(t, []string{"Escape"}, keys.pressed)
}

func TestEnsureTimeoutWithoutFallback(t *testing.T) {
	enf := NewEnforcer(&scriptedDetector{seq: []types.CheckpointID{
		types.CheckpointHomeReady,
	}}, &keysSpy{})

	result := enf.Ensure(context.Background(), "p1", types.CheckpointSearchReady, EnsureOptions{
		Timeout:       100 * time.Millisecond,
		CheckInterval: 20 * time.Millisecond,
	})

	assert.False(t, result.Success)
	assert.Equal(t, types.CheckpointHomeReady, result.Reached)
	assert.True(t, errdefs.IsKind(result.Err, errdefs.KindCheckpointUnreachable))
}

func TestFallbackTargets(t *testing.T) {
	assert.Equal(t, types.CheckpointHomeReady, fallbackTarget(types.CheckpointSearchReady))
	assert.Equal(t, types.CheckpointDetailReady, fallbackTarget(types.CheckpointCommentsReady))
	assert.Equal(t, types.CheckpointSearchReady, fallbackTarget(types.CheckpointDetailReady))
	assert.Equal(t, types.CheckpointID(""), fallbackTarget(types.CheckpointHomeReady))
}

func TestOnsite(t *testing.T) {
	p := Xiaohongshu()
	assert.True(t, p.Onsite("www.xiaohongshu.com"))
	assert.True(t, p.Onsite("xiaohongshu.com"))
	assert.False(t, p.Onsite("xiaohongshu.com.evil.io"))
	assert.False(t, p.Onsite("weibo.com"))
}
