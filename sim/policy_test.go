package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinOccupancy_PicksLeastLoadedWithRoom(t *testing.T) {
	cands := []QueueCandidate{
		{QueueID: 0, CheckoutID: 0, CurrentSize: 3, MaxSize: 3},
		{QueueID: 1, CheckoutID: 1, CurrentSize: 2, MaxSize: 5},
		{QueueID: 2, CheckoutID: 2, CurrentSize: 1, MaxSize: 5},
	}

	i, ok := MinOccupancy{}.Select(cands)

	require.True(t, ok)
	assert.Equal(t, 2, cands[i].QueueID)
}

func TestMinOccupancy_TieGoesToLowestQueueID(t *testing.T) {
	cands := []QueueCandidate{
		{QueueID: 4, CurrentSize: 1, MaxSize: 5},
		{QueueID: 2, CurrentSize: 1, MaxSize: 5},
	}

	i, ok := MinOccupancy{}.Select(cands)

	require.True(t, ok)
	assert.Equal(t, 2, cands[i].QueueID)
}

func TestSelectors_NoRoom_ReturnFalse(t *testing.T) {
	full := []QueueCandidate{{QueueID: 0, CurrentSize: 2, MaxSize: 2}}
	for _, name := range []string{"min-occupancy", "first-found"} {
		_, ok := NewQueueSelector(name).Select(full)
		assert.False(t, ok, name)
		_, ok = NewQueueSelector(name).Select(nil)
		assert.False(t, ok, name)
	}
}

func TestFirstFound_PicksFirstWithRoom(t *testing.T) {
	cands := []QueueCandidate{
		{QueueID: 0, CurrentSize: 2, MaxSize: 2},
		{QueueID: 1, CurrentSize: 4, MaxSize: 5},
		{QueueID: 2, CurrentSize: 0, MaxSize: 5},
	}

	i, ok := FirstFound{}.Select(cands)

	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestNewQueueSelector_Unknown_Panics(t *testing.T) {
	assert.Panics(t, func() { NewQueueSelector("random") })
	assert.IsType(t, MinOccupancy{}, NewQueueSelector(""))
}

func testPolicyConfig() PolicyConfig {
	return PolicyConfig{CloseMargin: 4, MaxOpensPerTick: 1, MinOpenLanes: 1, PendingTTL: 3}
}

// shop builds a snapshot with the given lanes (queue id = lane id) and n shoppers.
func shopSnapshot(now int64, n int, lanes ...CheckoutLane) *Snapshot {
	s := &Snapshot{Clock: now}
	for i := 0; i < n; i++ {
		s.Shoppers = append(s.Shoppers, Shopper{ID: i})
	}
	for _, l := range lanes {
		l.QueueID = l.ID
		s.Lanes = append(s.Lanes, l)
		q := Queue{ID: l.ID, OriginalMaxSize: 5}
		if l.Open {
			q.MaxSize = 5
		}
		s.Queues = append(s.Queues, q)
	}
	return s
}

func TestThresholdLanes_DemandExceedsSupply_OpensFreshLane(t *testing.T) {
	// GIVEN no lanes and 4 shoppers
	p := NewLanePolicy("threshold", testPolicyConfig(), 8)
	ids := NewIDAllocator(0)

	// WHEN the policy plans
	actions := p.Plan(shopSnapshot(1, 4), NewPendingLanes(3), ids)

	// THEN it opens checkout 0 with the default capacity
	require.Len(t, actions, 1)
	assert.Equal(t, LaneOpen, actions[0].Kind)
	assert.Equal(t, 0, actions[0].CheckoutID)
	assert.Equal(t, 8, actions[0].Capacity)
	assert.False(t, actions[0].Reopen)
	assert.Equal(t, OpenCheckout(0), actions[0].Event())
}

func TestThresholdLanes_PrefersReopenOverNewID(t *testing.T) {
	// GIVEN lane 0 open (5) and lane 1 closed, with 7 shoppers
	p := NewLanePolicy("threshold", testPolicyConfig(), 8)
	ids := NewIDAllocator(0)
	snap := shopSnapshot(5, 7, CheckoutLane{ID: 0, Open: true}, CheckoutLane{ID: 1})

	actions := p.Plan(snap, NewPendingLanes(3), ids)

	// THEN lane 1 is reopened with its original capacity
	require.Len(t, actions, 1)
	assert.Equal(t, 1, actions[0].CheckoutID)
	assert.True(t, actions[0].Reopen)
	assert.Equal(t, 5, actions[0].Capacity)
	assert.Equal(t, 2, ids.Peek(), "lane ids seen in the snapshot are never reissued")
}

func TestThresholdLanes_PendingOpen_NotRepeated(t *testing.T) {
	// GIVEN an open of lane 0 sent last tick, not visible yet
	p := NewLanePolicy("threshold", testPolicyConfig(), 8)
	ids := NewIDAllocator(0)
	pending := NewPendingLanes(3)
	for _, a := range p.Plan(shopSnapshot(1, 4), pending, ids) {
		pending.Record(a, 1)
	}

	// WHEN the policy plans again with the same snapshot contents
	snap := shopSnapshot(2, 4)
	pending.Resolve(snap)
	actions := p.Plan(snap, pending, ids)

	// THEN it counts the pending capacity and does nothing
	assert.Empty(t, actions)
	assert.True(t, pending.Opening(0))
}

func TestThresholdLanes_MaxLanes_Bounded(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.MaxLanes = 1
	p := NewLanePolicy("threshold", cfg, 5)

	actions := p.Plan(shopSnapshot(3, 20, CheckoutLane{ID: 0, Open: true}), NewPendingLanes(3), NewIDAllocator(0))

	assert.Empty(t, actions)
}

func TestThresholdLanes_Surplus_ClosesHighestEmptyLane(t *testing.T) {
	// GIVEN three open lanes of 5 (S=15) and 2 shoppers, margin 4
	p := NewLanePolicy("threshold", testPolicyConfig(), 5)
	snap := shopSnapshot(9, 2,
		CheckoutLane{ID: 0, Open: true}, CheckoutLane{ID: 1, Open: true}, CheckoutLane{ID: 2, Open: true})

	actions := p.Plan(snap, NewPendingLanes(3), NewIDAllocator(0))

	// THEN lane 2 closes
	require.Len(t, actions, 1)
	assert.Equal(t, LaneClose, actions[0].Kind)
	assert.Equal(t, 2, actions[0].CheckoutID)
	assert.Equal(t, CloseCheckout(2), actions[0].Event())
}

func TestThresholdLanes_Close_SkipsBusyLanesAndKeepsMinimum(t *testing.T) {
	p := NewLanePolicy("threshold", testPolicyConfig(), 5)

	// Lane 1 has a shopper in line; lane 0 is the only other open lane.
	snap := shopSnapshot(9, 1, CheckoutLane{ID: 0, Open: true}, CheckoutLane{ID: 1, Open: true})
	snap.Queues[1].CurrentSize = 1
	snap.Queues[1].Line = []int{0}
	actions := p.Plan(snap, NewPendingLanes(3), NewIDAllocator(0))
	require.Len(t, actions, 1)
	assert.Equal(t, 0, actions[0].CheckoutID)

	// A single open lane is never closed below MinOpenLanes.
	snap = shopSnapshot(9, 0, CheckoutLane{ID: 0, Open: true})
	assert.Empty(t, p.Plan(snap, NewPendingLanes(3), NewIDAllocator(0)))
}

func TestThresholdLanes_WithinMargin_NoClose(t *testing.T) {
	p := NewLanePolicy("threshold", testPolicyConfig(), 5)
	snap := shopSnapshot(9, 6, CheckoutLane{ID: 0, Open: true}, CheckoutLane{ID: 1, Open: true})

	assert.Empty(t, p.Plan(snap, NewPendingLanes(3), NewIDAllocator(0)))
}

func TestNeverClose_KeepsSurplusLanes(t *testing.T) {
	p := NewLanePolicy("never-close", testPolicyConfig(), 5)
	snap := shopSnapshot(9, 0, CheckoutLane{ID: 0, Open: true}, CheckoutLane{ID: 1, Open: true})

	assert.Empty(t, p.Plan(snap, NewPendingLanes(3), NewIDAllocator(0)))
}

func TestPendingLanes_ResolveAndExpire(t *testing.T) {
	pending := NewPendingLanes(2)
	pending.Record(LaneAction{Kind: LaneOpen, CheckoutID: 0, Capacity: 5}, 1)
	pending.Record(LaneAction{Kind: LaneClose, CheckoutID: 3}, 1)

	// Lane 0 shows up open; lane 3 never confirms.
	pending.Resolve(shopSnapshot(2, 0, CheckoutLane{ID: 0, Open: true}, CheckoutLane{ID: 3, Open: true}))
	assert.False(t, pending.Opening(0))
	assert.True(t, pending.Closing(3))

	pending.Resolve(shopSnapshot(3, 0, CheckoutLane{ID: 3, Open: true}))
	assert.Equal(t, 0, pending.Len())
}

func TestNewLanePolicy_Unknown_Panics(t *testing.T) {
	assert.Panics(t, func() { NewLanePolicy("random", PolicyConfig{}, 5) })
}
