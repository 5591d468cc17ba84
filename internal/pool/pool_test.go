package pool

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/types"
)

func TestAddListRemove(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), "implementer")
	require.NoError(t, err)

	entry := types.PoolEntry{Instance: "implementer-1", PID: os.Getpid(), TaskID: "t1", StartedAt: time.Now()}
	require.NoError(t, tr.Add(entry))

	list, err := tr.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "implementer-1", list[0].Instance)

	count, err := tr.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, tr.Remove("implementer-1"))
	list, err = tr.List()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestFinishedDetectsDeadProcess(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), "implementer")
	require.NoError(t, err)

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	deadPID := cmd.Process.Pid
	_ = cmd.Wait()

	require.NoError(t, tr.Add(types.PoolEntry{Instance: "dead-1", PID: deadPID, TaskID: "t1"}))
	require.NoError(t, tr.Add(types.PoolEntry{Instance: "alive-1", PID: os.Getpid(), TaskID: "t2"}))

	finished, err := tr.Finished()
	require.NoError(t, err)
	require.Len(t, finished, 1)
	require.Equal(t, "dead-1", finished[0].Instance)
}

func TestNewTrackerIsEmptyInitially(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), "reviewer")
	require.NoError(t, err)
	list, err := tr.List()
	require.NoError(t, err)
	require.Empty(t, list)
}
