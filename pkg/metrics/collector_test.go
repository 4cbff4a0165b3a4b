package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeDepths struct{ depths map[string]int }

func (f *fakeDepths) Depths() map[string]int { return f.depths }

type fakeSessions struct{ live int }

func (f *fakeSessions) Live() int { return f.live }

func TestCollectorRefreshesGauges(t *testing.T) {
	c := NewCollector(
		&fakeDepths{depths: map[string]int{"xiaohongshu_home.feed": 3}},
		&fakeSessions{live: 2},
	)

	c.Start()
	defer c.Stop()

	// The first collection fires immediately on Start.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(SessionsLive) == 2 &&
			testutil.ToFloat64(QueueDepth.WithLabelValues("xiaohongshu_home.feed")) == 3
	}, time.Second, 10*time.Millisecond)
}

func TestCollectorNilSources(t *testing.T) {
	c := NewCollector(nil, nil)
	c.Start()
	c.Stop()
}
