package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/federate"
	"github.com/inference-sim/checkout-sim/sim/internal/testutil"
)

func checkoutEnv(t *testing.T) (*Checkout, *checkoutFixture) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Checkout.ItemsPerTick = 10
	env, fb, _ := newEnv(t, "checkout", cfg)
	c := NewCheckout(cfg)
	require.NoError(t, c.Setup(env))
	deliver(env, sim.OpenCheckout(0), 0)
	mirror(env, 70, &sim.Shopper{ID: 5, Products: 15, Waiting: true})
	mirror(env, 71, &sim.Shopper{ID: 6, Products: 3, Waiting: true})
	mirror(env, 72, &sim.Queue{ID: 0, MaxSize: 10, OriginalMaxSize: 10, CurrentSize: 2, Line: []int{5, 6}})
	return c, &checkoutFixture{env: env, fb: fb}
}

func TestCheckout_OpenCheckout_CreatesLane(t *testing.T) {
	_, f := checkoutEnv(t)

	lane := f.env.Dir.Lane(0)

	require.NotNil(t, lane)
	assert.True(t, lane.Open)
	assert.Equal(t, 0, lane.QueueID)
}

func TestCheckout_Step_ScansBasketsAtItemsPerTick(t *testing.T) {
	// GIVEN lane 0 with shoppers 5 (15 items) and 6 (3 items) in line
	c, f := checkoutEnv(t)

	// WHEN the lane works for two ticks
	require.NoError(t, c.Step(f.env, 1))
	id, busy := c.Serving(0)
	require.NoError(t, c.Step(f.env, 2))
	require.NoError(t, f.env.Outbox.Flush())

	// THEN shopper 5 takes both ticks and shopper 6 fits in the remaining budget
	assert.True(t, busy)
	assert.Equal(t, 5, id)
	assert.Equal(t, []sim.Event{
		sim.StartService(0, 5),
		sim.EndService(0, 5),
		sim.StartService(0, 6),
		sim.EndService(0, 6),
	}, sent(t, f.fb))
	_, busy = c.Serving(0)
	assert.False(t, busy)
}

func TestCheckout_Step_ServedShoppersNotServedTwice(t *testing.T) {
	// GIVEN both shoppers served while the queue mirror still lists them
	c, f := checkoutEnv(t)
	require.NoError(t, c.Step(f.env, 1))
	require.NoError(t, c.Step(f.env, 2))
	require.NoError(t, f.env.Outbox.Flush())
	before := len(sent(t, f.fb))

	// WHEN the lane steps again before the queue update arrives
	require.NoError(t, c.Step(f.env, 3))
	require.NoError(t, f.env.Outbox.Flush())

	// THEN nothing new is announced
	assert.Len(t, sent(t, f.fb), before)

	// AND once the queue drops them, a newcomer is served
	mirror(f.env, 73, &sim.Shopper{ID: 8, Products: 20, Waiting: true})
	_ = f.env.Dir.Reflect(72, sim.KindQueue.Class(), (&sim.Queue{ID: 0, MaxSize: 10, OriginalMaxSize: 10, CurrentSize: 1, Line: []int{8}}).Values())
	require.NoError(t, c.Step(f.env, 4))
	id, busy := c.Serving(0)
	assert.True(t, busy)
	assert.Equal(t, 8, id)
}

func TestCheckout_ClosedLane_KeepsServing(t *testing.T) {
	c, f := checkoutEnv(t)
	deliver(f.env, sim.CloseCheckout(0), 1)

	require.NoError(t, c.Step(f.env, 1))

	assert.False(t, f.env.Dir.Lane(0).Open)
	id, busy := c.Serving(0)
	assert.True(t, busy)
	assert.Equal(t, 5, id)
}

func TestCheckout_UnknownBasket_ScansOneItem(t *testing.T) {
	// GIVEN a shopper in line whose object has not been mirrored
	c, f := checkoutEnv(t)
	_ = f.env.Dir.Reflect(72, sim.KindQueue.Class(), (&sim.Queue{ID: 0, MaxSize: 10, OriginalMaxSize: 10, CurrentSize: 1, Line: []int{9}}).Values())

	require.NoError(t, c.Step(f.env, 1))
	require.NoError(t, f.env.Outbox.Flush())

	assert.Equal(t, []sim.Event{sim.StartService(0, 9), sim.EndService(0, 9)}, sent(t, f.fb))
}

type checkoutFixture struct {
	env *federate.Env
	fb  *testutil.FakeBus
}
