package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerState_CloneIsDeep(t *testing.T) {
	wake := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	expires := wake.Add(time.Hour)
	dur := int64(1200)
	orig := PollerState{
		Active:             true,
		NextWakeupAt:       &wake,
		LastPollDurationMs: &dur,
		TotalPolls:         3,
		Checkpoints: []CheckpointPollStatus{
			{CheckpointID: "cp-1", ExpiresAt: &expires, LastPollResult: PollResultNewData},
		},
	}

	cp := orig.Clone()
	*cp.NextWakeupAt = wake.Add(time.Hour)
	*cp.LastPollDurationMs = 1
	*cp.Checkpoints[0].ExpiresAt = expires.Add(time.Hour)
	cp.Checkpoints[0].LastPollResult = PollResultNotModified

	assert.Equal(t, wake, *orig.NextWakeupAt)
	assert.Equal(t, int64(1200), *orig.LastPollDurationMs)
	require.Len(t, orig.Checkpoints, 1)
	assert.Equal(t, expires, *orig.Checkpoints[0].ExpiresAt)
	assert.Equal(t, PollResultNewData, orig.Checkpoints[0].LastPollResult)
}

func TestPollerState_CloneEmpty(t *testing.T) {
	cp := PollerState{Active: true}.Clone()
	assert.True(t, cp.Active)
	assert.Nil(t, cp.NextWakeupAt)
	assert.NotNil(t, cp.Checkpoints)
	assert.Empty(t, cp.Checkpoints)
}
