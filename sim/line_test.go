package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rulesWith(mode PrivilegeMode, privileged ...int) LineRules {
	set := map[int]bool{}
	for _, id := range privileged {
		set[id] = true
	}
	return LineRules{Mode: mode, Privileged: func(id int) bool { return set[id] }}
}

func TestQueue_Join_NonPrivileged_FIFO(t *testing.T) {
	// GIVEN A(1) then B(2), neither privileged, choose queue 0
	q := &Queue{ID: 0, MaxSize: 5}
	rules := rulesWith(PrivilegeFront)
	q.Join(1, false, rules)
	q.Join(2, false, rules)

	// THEN A is served first
	assert.Equal(t, 1, q.Head())
	require.True(t, q.Leave(1))
	assert.Equal(t, 2, q.Head())
	assert.Equal(t, 1, q.CurrentSize)
}

func TestQueue_Join_Privileged_PreemptsWaitingShopper(t *testing.T) {
	// GIVEN A(1) queued and B(2) privileged choosing after A
	q := &Queue{ID: 0, MaxSize: 5}
	rules := rulesWith(PrivilegeFront, 2)
	q.Join(1, false, rules)

	// WHEN B joins
	q.Join(2, true, rules)

	// THEN B is served next
	assert.Equal(t, []int{2, 1}, q.Line)
}

func TestQueue_Join_Privileged_StaysBehindShopperInService(t *testing.T) {
	q := &Queue{ID: 0, MaxSize: 5}
	rules := rulesWith(PrivilegeFront, 2)
	q.Join(1, false, rules)
	require.True(t, q.BeginService(1))

	q.Join(2, true, rules)

	assert.Equal(t, []int{1, 2}, q.Line)
	id, ok := q.InService()
	assert.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestQueue_Join_AfterPrivilegedMode_KeepsPrivilegedFIFO(t *testing.T) {
	q := &Queue{ID: 0, MaxSize: 5}
	front := rulesWith(PrivilegeFront, 2, 3)
	after := rulesWith(PrivilegeAfterPrivileged, 2, 3)

	q.Join(1, false, after)
	q.Join(2, true, after)
	q.Join(3, true, after)
	assert.Equal(t, []int{2, 3, 1}, q.Line)

	q2 := &Queue{ID: 1, MaxSize: 5}
	q2.Join(1, false, front)
	q2.Join(2, true, front)
	q2.Join(3, true, front)
	assert.Equal(t, []int{3, 2, 1}, q2.Line)
}

func TestQueue_Join_NoneMode_IgnoresPrivilege(t *testing.T) {
	q := &Queue{ID: 0, MaxSize: 5}
	rules := rulesWith(PrivilegeNone, 2)
	q.Join(1, false, rules)
	q.Join(2, true, rules)

	assert.Equal(t, []int{1, 2}, q.Line)
}

func TestQueue_Join_Duplicate_NoOp(t *testing.T) {
	q := &Queue{ID: 0, MaxSize: 5}
	rules := rulesWith(PrivilegeFront)
	require.True(t, q.Join(1, false, rules))

	assert.False(t, q.Join(1, false, rules))
	assert.Equal(t, 1, q.CurrentSize)
}

func TestQueue_BeginService_MovesPickedShopperToHead(t *testing.T) {
	// GIVEN the checkout picked 1 but privileged 2 got in front since
	q := &Queue{ID: 0, MaxSize: 5, Line: []int{2, 1}, CurrentSize: 2}

	require.True(t, q.BeginService(1))

	assert.Equal(t, []int{1, 2}, q.Line)
	assert.False(t, q.BeginService(9))
}

func TestQueue_Leave_UnknownShopper_False(t *testing.T) {
	q := &Queue{ID: 0, MaxSize: 5}
	assert.False(t, q.Leave(3))
	assert.Equal(t, 0, q.CurrentSize)
}

func TestQueue_Reopen_RestoresOriginalCapacity(t *testing.T) {
	// GIVEN a queue opened with capacity 5
	q := &Queue{ID: 0}
	require.True(t, q.Open(5))
	assert.Equal(t, 5, q.OriginalMaxSize)

	// WHEN it is closed then reopened with a different default
	require.True(t, q.Close())
	assert.Equal(t, 0, q.MaxSize)
	require.True(t, q.Open(8))

	// THEN maxSize is 5 again
	assert.Equal(t, 5, q.MaxSize)
	assert.False(t, q.Closed())
	assert.False(t, q.Open(8))
}

func TestQueue_Reconcile_OverCapacity_DemotesNewestNonPrivileged(t *testing.T) {
	// GIVEN a queue of capacity 2 with three joiners, the last one privileged
	rules := rulesWith(PrivilegeFront, 3)
	q := &Queue{ID: 0}
	q.Open(2)
	q.Join(1, false, rules)
	q.Join(2, false, rules)
	q.Join(3, true, rules)
	require.Equal(t, []int{3, 1, 2}, q.Line)

	// WHEN the owner reconciles at end of tick
	changed := q.Reconcile(rules)

	// THEN the newest non-privileged shopper waits in overflow
	assert.True(t, changed)
	assert.Equal(t, []int{3, 1}, q.Line)
	assert.Equal(t, []int{2}, q.Overflow)
	assert.NoError(t, q.CheckInvariant())

	// WHEN the head leaves and the queue reconciles again
	q.Leave(3)
	q.Reconcile(rules)

	// THEN the overflow shopper is admitted behind the rest
	assert.Equal(t, []int{1, 2}, q.Line)
	assert.Empty(t, q.Overflow)
	assert.Equal(t, 2, q.CurrentSize)
}

func TestQueue_Reconcile_ShopperInServiceNeverDemoted(t *testing.T) {
	// GIVEN non-privileged 1 in service and privileged 2 behind it, capacity 1
	rules := rulesWith(PrivilegeFront, 2)
	q := &Queue{ID: 0}
	q.Open(1)
	q.Join(1, false, rules)
	q.BeginService(1)
	q.Join(2, true, rules)
	require.Equal(t, []int{1, 2}, q.Line)

	// WHEN the queue reconciles
	q.Reconcile(rules)

	// THEN the privileged shopper waits rather than the one being served

	assert.Equal(t, []int{1}, q.Line)
	assert.Equal(t, []int{2}, q.Overflow)
}

func TestQueue_Reconcile_Closed_DrainsToZero(t *testing.T) {
	// GIVEN an open queue with two shoppers, then closed
	rules := rulesWith(PrivilegeFront)
	q := &Queue{ID: 0}
	q.Open(4)
	q.Join(1, false, rules)
	q.Join(2, false, rules)
	q.Close()

	// WHEN it reconciles, capacity follows occupancy
	q.Reconcile(rules)
	assert.Equal(t, 2, q.MaxSize)
	assert.NoError(t, q.CheckInvariant())

	// WHEN both are served
	q.Leave(1)
	q.Reconcile(rules)
	q.Leave(2)
	q.Reconcile(rules)

	// THEN it sits at 0/0 and still remembers its capacity
	assert.Equal(t, 0, q.MaxSize)
	assert.Equal(t, 0, q.CurrentSize)
	assert.Equal(t, 4, q.OriginalMaxSize)
}

func TestQueue_Reconcile_Closed_AbsorbsOverflow(t *testing.T) {
	rules := rulesWith(PrivilegeFront)
	q := &Queue{ID: 0}
	q.Open(1)
	q.Join(1, false, rules)
	q.Join(2, false, rules)
	q.Reconcile(rules)
	require.Equal(t, []int{2}, q.Overflow)

	q.Close()
	q.Reconcile(rules)

	assert.Equal(t, []int{1, 2}, q.Line)
	assert.Empty(t, q.Overflow)
	assert.Equal(t, 2, q.CurrentSize)
	assert.Equal(t, 2, q.MaxSize)
}

func TestQueue_Reconcile_NothingChanged_ReturnsFalse(t *testing.T) {
	rules := rulesWith(PrivilegeFront)
	q := &Queue{ID: 0}
	q.Open(3)
	q.Join(1, false, rules)

	assert.False(t, q.Reconcile(rules))
}

func TestQueue_CheckInvariant_OverCapacity_Errors(t *testing.T) {
	q := &Queue{ID: 4, MaxSize: 1, CurrentSize: 2}
	assert.Error(t, q.CheckInvariant())
}

func TestIsValidPrivilegeMode(t *testing.T) {
	assert.True(t, IsValidPrivilegeMode(""))
	assert.True(t, IsValidPrivilegeMode("after-privileged"))
	assert.False(t, IsValidPrivilegeMode("vip"))
}
