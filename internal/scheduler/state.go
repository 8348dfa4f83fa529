package scheduler

import (
	"sync/atomic"

	"weatherbingo/internal/types"
)

// StateStore publishes poller snapshots for concurrent readers. Writers
// replace the whole snapshot; readers always receive a private copy.
type StateStore struct {
	current atomic.Pointer[types.PollerState]
}

// NewStateStore returns a store holding the initial, active state.
func NewStateStore() *StateStore {
	s := &StateStore{}
	s.current.Store(&types.PollerState{
		Active:      true,
		Checkpoints: []types.CheckpointPollStatus{},
	})
	return s
}

// Snapshot returns a deep copy of the latest published state.
func (s *StateStore) Snapshot() types.PollerState {
	return s.current.Load().Clone()
}

func (s *StateStore) publish(st types.PollerState) {
	c := st.Clone()
	s.current.Store(&c)
}

// update applies fn to a copy of the current state and publishes the result.
// Only the poller writes, so there is no lost-update race to guard against.
func (s *StateStore) update(fn func(*types.PollerState)) {
	st := s.Snapshot()
	fn(&st)
	s.publish(st)
}
