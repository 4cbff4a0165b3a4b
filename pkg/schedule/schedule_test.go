package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/workflow"
)

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := NewScheduler(workflow.NewEngine())
	_, err := s.Add("not a cron spec", "wf", nil)
	assert.Error(t, err)
}

func TestAddAndRemove(t *testing.T) {
	s := NewScheduler(workflow.NewEngine())

	id, err := s.Add("@hourly", "wf", map[string]any{"profile": "p1"})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()
	s.Remove(id)
}
