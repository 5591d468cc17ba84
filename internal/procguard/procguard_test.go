package procguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunPasses(t *testing.T) {
	c := Checker{Command: []string{"true"}}
	r := c.Run(context.Background())
	require.True(t, r.Passed)
	require.NoError(t, r.Err)
}

func TestRunFails(t *testing.T) {
	c := Checker{Command: []string{"false"}}
	r := c.Run(context.Background())
	require.False(t, r.Passed)
	require.Error(t, r.Err)
}

func TestRunTimesOut(t *testing.T) {
	c := Checker{Command: []string{"sleep", "5"}}.WithTimeout(10 * time.Millisecond)
	r := c.Run(context.Background())
	require.False(t, r.Passed)
}

func TestRunEmptyCommand(t *testing.T) {
	c := Checker{}
	r := c.Run(context.Background())
	require.False(t, r.Passed)
	require.Error(t, r.Err)
}
