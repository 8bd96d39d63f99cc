package federate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/internal/testutil"
)

// fakeConnector hands out one FakeBus.
type fakeConnector struct {
	bus        *testutil.FakeBus
	created    int
	createErr  error
	destroyErr error
	destroyed  int
}

func (c *fakeConnector) CreateFederation(context.Context, string) error {
	c.created++
	return c.createErr
}

func (c *fakeConnector) Join(context.Context, string, string) (bus.Bus, error) {
	return c.bus, nil
}

func (c *fakeConnector) DestroyFederation(context.Context, string) error {
	c.destroyed++
	return c.destroyErr
}

// stubRole records what the participant asks of it.
type stubRole struct {
	classes  []bus.ObjectClass
	setup    func(env *Env)
	step     func(env *Env, now int64)
	steps    []int64
	finished []int64
}

func (r *stubRole) Name() string               { return "stub" }
func (r *stubRole) Classes() []bus.ObjectClass { return r.classes }

func (r *stubRole) Setup(env *Env) error {
	if r.setup != nil {
		r.setup(env)
	}
	return nil
}

func (r *stubRole) Step(env *Env, now int64) error {
	r.steps = append(r.steps, now)
	if r.step != nil {
		r.step(env, now)
	}
	return nil
}

func (r *stubRole) Finish(_ *Env, now int64) { r.finished = append(r.finished, now) }

func testConfig(horizon int64) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Timing.Horizon = horizon
	return cfg
}

func TestParticipant_Join_FederationExists_StillJoinsAndSubscribes(t *testing.T) {
	// GIVEN a federation another participant already created
	fb := testutil.NewFakeBus("queue", testutil.SoloScript)
	conn := &fakeConnector{bus: fb, createErr: bus.ErrFederationExists}
	role := &stubRole{
		classes: []bus.ObjectClass{sim.KindShopper.Class()},
		setup: func(env *Env) {
			env.Dispatcher.Register(sim.EventEndService, func(sim.Event, int64) {})
		},
	}
	p := New("queue", testConfig(1), conn, role, Options{})

	// WHEN it joins
	require.NoError(t, p.Join(context.Background()))

	// THEN it subscribes to its classes and to the events it handles,
	// including the EndService alias
	assert.Equal(t, sim.KindShopper.Class(), fb.CallsTo("SubscribeObjectClass")[0].Class)
	var names []string
	for _, c := range fb.CallsTo("SubscribeInteraction") {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{sim.EventEndService, sim.EventEndSimulation, sim.EventClientExit}, names)
}

func TestParticipant_Run_StepsEveryTickUntilHorizon(t *testing.T) {
	// GIVEN a solo bus and a horizon of 3
	fb := testutil.NewFakeBus("p", testutil.SoloScript)
	role := &stubRole{}
	p := New("p", testConfig(3), &fakeConnector{bus: fb}, role, Options{})

	// WHEN the participant runs
	require.NoError(t, p.Run(context.Background()))

	// THEN it stepped at 0, 1, 2, advanced after each and finished at 3
	assert.Equal(t, []int64{0, 1, 2}, role.steps)
	var times []int64
	for _, c := range fb.CallsTo("RequestTimeAdvance") {
		times = append(times, c.Time)
	}
	assert.Equal(t, []int64{1, 2, 3}, times)
	assert.Equal(t, []int64{3}, role.finished)
	assert.Equal(t, int64(3), p.Ticks())
	assert.Equal(t, int64(3), p.Now())
}

func TestParticipant_Run_AppliesNotificationsBeforeStep(t *testing.T) {
	// GIVEN a queue discovered and reflected before the first step
	fb := testutil.NewFakeBus("client", testutil.SoloScript)
	var seen *sim.Queue
	role := &stubRole{
		classes: []bus.ObjectClass{sim.KindQueue.Class()},
		step: func(env *Env, now int64) {
			if now == 0 {
				seen = env.Dir.Queue(2)
			}
		},
	}
	p := New("client", testConfig(1), &fakeConnector{bus: fb}, role, Options{})
	require.NoError(t, p.Join(context.Background()))
	fb.Push(
		bus.Notification{Kind: bus.KindReflect, Handle: 4, Class: sim.KindQueue.Class(), Values: (&sim.Queue{ID: 2, MaxSize: 5}).Values()},
		bus.Notification{Kind: bus.KindDiscover, Handle: 4, Class: sim.KindQueue.Class()},
	)

	// WHEN it runs one tick
	require.NoError(t, p.Run(context.Background()))

	// THEN the step saw the queue, even though its update arrived first
	require.NotNil(t, seen)
	assert.Equal(t, 5, seen.MaxSize)
}

func TestParticipant_EndSimulation_StopsBeforeNextStep(t *testing.T) {
	// GIVEN a bus that delivers EndSimulation with the grant to t=2
	fb := testutil.NewFakeBus("p", func(c testutil.Call) []bus.Notification {
		out := testutil.SoloScript(c)
		if c.Op == "RequestTimeAdvance" && c.Time == 2 {
			end := sim.EndSimulation()
			out = append([]bus.Notification{{
				Kind: bus.KindInteraction, Interaction: end.Name, Values: end.Values(), MessageID: "end",
			}}, out...)
		}
		return out
	})
	role := &stubRole{}
	p := New("p", testConfig(0), &fakeConnector{bus: fb}, role, Options{})

	// WHEN it runs with no horizon
	require.NoError(t, p.Run(context.Background()))

	// THEN it stepped at 0 and 1 only
	assert.Equal(t, []int64{0, 1}, role.steps)
	assert.Equal(t, []int64{2}, role.finished)
}

func TestParticipant_Run_FlushesStepOutputBeforeAdvance(t *testing.T) {
	fb := testutil.NewFakeBus("manager", testutil.SoloScript)
	role := &stubRole{step: func(env *Env, now int64) { env.Outbox.Send(sim.OpenCheckout(int(now))) }}
	p := New("manager", testConfig(2), &fakeConnector{bus: fb}, role, Options{})

	require.NoError(t, p.Run(context.Background()))

	var seq []string
	for _, c := range fb.Calls() {
		if c.Op == "SendInteraction" || c.Op == "RequestTimeAdvance" {
			seq = append(seq, c.Op)
		}
	}
	assert.Equal(t, []string{"SendInteraction", "RequestTimeAdvance", "SendInteraction", "RequestTimeAdvance"}, seq)
}

func TestParticipant_Run_CancelledContext_ReturnsError(t *testing.T) {
	fb := testutil.NewFakeBus("p", nil)
	p := New("p", testConfig(5), &fakeConnector{bus: fb}, &stubRole{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestParticipant_Close_ResignsAndToleratesPeers(t *testing.T) {
	fb := testutil.NewFakeBus("p", testutil.SoloScript)
	conn := &fakeConnector{bus: fb, destroyErr: bus.ErrFederatesJoined}
	p := New("p", testConfig(1), conn, &stubRole{}, Options{})
	require.NoError(t, p.Join(context.Background()))

	require.NoError(t, p.Close(context.Background()))

	assert.Len(t, fb.CallsTo("Resign"), 1)
	assert.Equal(t, 1, conn.destroyed)
	require.NoError(t, p.Close(context.Background()), "second close is a no-op")
	assert.Len(t, fb.CallsTo("Resign"), 1)
}
