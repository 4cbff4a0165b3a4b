package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/types"
)

// fakeBridge counts session creations
type fakeBridge struct {
	created int
	live    []*types.Session
}

func (f *fakeBridge) SessionCreate(ctx context.Context, profile, site string) (*types.Session, error) {
	f.created++
	return &types.Session{ID: profile, Profile: profile, Site: site, CreatedAt: time.Now()}, nil
}

func (f *fakeBridge) SessionList(ctx context.Context) ([]*types.Session, error) {
	return f.live, nil
}

func TestEnsureCreatesOnce(t *testing.T) {
	bridge := &fakeBridge{}
	mgr := NewManager(bridge)

	first, err := mgr.Ensure(context.Background(), "p1", "xiaohongshu")
	require.NoError(t, err)
	second, err := mgr.Ensure(context.Background(), "p1", "xiaohongshu")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, bridge.created, "one session per profile")
}

func TestEnsureSeparateProfiles(t *testing.T) {
	bridge := &fakeBridge{}
	mgr := NewManager(bridge)

	_, err := mgr.Ensure(context.Background(), "p1", "xiaohongshu")
	require.NoError(t, err)
	_, err = mgr.Ensure(context.Background(), "p2", "weibo")
	require.NoError(t, err)

	assert.Equal(t, 2, bridge.created)
	assert.NotNil(t, mgr.Get("p1"))
	assert.NotNil(t, mgr.Get("p2"))
}

func TestDropForgetsSession(t *testing.T) {
	bridge := &fakeBridge{}
	mgr := NewManager(bridge)

	_, err := mgr.Ensure(context.Background(), "p1", "xiaohongshu")
	require.NoError(t, err)

	mgr.Drop("p1")
	assert.Nil(t, mgr.Get("p1"))

	_, err = mgr.Ensure(context.Background(), "p1", "xiaohongshu")
	require.NoError(t, err)
	assert.Equal(t, 2, bridge.created, "dropped profile recreates on next ensure")
}

func TestListRefreshesCachedURLs(t *testing.T) {
	bridge := &fakeBridge{}
	mgr := NewManager(bridge)

	cached, err := mgr.Ensure(context.Background(), "p1", "xiaohongshu")
	require.NoError(t, err)

	bridge.live = []*types.Session{
		{ID: "p1", Profile: "p1", URL: "https://www.xiaohongshu.com/explore/abc"},
	}

	remote, err := mgr.List(context.Background())
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc", cached.URL)
}
