package jobmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestListAndStatusTrackRunningJobs(t *testing.T) {
	m := NewManager(nil)
	require.Equal(t, "No jobs are running.", m.Status())
	require.Empty(t, m.List())

	require.NoError(t, m.StartAsync("sweep", blockUntilCancelled))
	require.NoError(t, m.StartAsync("persist", blockUntilCancelled))

	require.Equal(t, []string{"persist", "sweep"}, m.List(), "names come back sorted")
	require.Equal(t, "Running jobs: persist, sweep", m.Status())

	require.NoError(t, m.Stop("sweep"))
	require.Equal(t, []string{"persist"}, m.List())

	m.StopAll()
	require.Empty(t, m.List())
}

func TestDuplicateNameRejected(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.StartAsync("sweep", blockUntilCancelled))
	require.Error(t, m.StartAsync("sweep", blockUntilCancelled))
	m.StopAll()
}
