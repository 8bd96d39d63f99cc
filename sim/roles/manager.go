package roles

import (
	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/federate"
	"github.com/inference-sim/checkout-sim/sim/trace"
)

// Manager balances lane supply against demand. It owns nothing; each tick it
// reads a snapshot of every entity and sends OpenCheckout and CloseCheckout
// as the lane policy decides.
type Manager struct {
	policy  sim.LanePolicy
	pending *sim.PendingLanes
	ids     *sim.IDAllocator
}

// NewManager creates a manager role from the policy configuration.
func NewManager(cfg sim.Config) *Manager {
	return &Manager{
		policy:  sim.NewLanePolicy(cfg.Policy.Lanes, cfg.Policy, cfg.Queue.MaxSize),
		pending: sim.NewPendingLanes(cfg.Policy.PendingTTL),
		ids:     sim.NewIDAllocator(0),
	}
}

func (m *Manager) Name() string { return RoleManager }

func (m *Manager) Classes() []bus.ObjectClass {
	return []bus.ObjectClass{sim.KindShopper.Class(), sim.KindQueue.Class(), sim.KindCheckout.Class()}
}

// Setup installs only the EndService handler so that served shoppers stop
// counting as demand as soon as the checkout announces them.
func (m *Manager) Setup(env *federate.Env) error {
	sim.NewShop(env.Dir, env.Outbox, env.Config.Queue).Install(env.Dispatcher)
	return nil
}

// Pending returns lane actions sent but not yet confirmed.
func (m *Manager) Pending() int { return m.pending.Len() }

func (m *Manager) Step(env *federate.Env, now int64) error {
	snap := env.Dir.Snapshot(now)
	m.pending.Resolve(snap)
	for _, a := range m.policy.Plan(snap, m.pending, m.ids) {
		env.Outbox.Send(a.Event())
		m.pending.Record(a, now)
		env.Log.Infof("t=%d %s checkout %d (capacity %d, %s)", now, a.Kind, a.CheckoutID, a.Capacity, a.Reason)
		if env.Trace.Enabled() {
			env.Trace.RecordLane(trace.LaneRecord{
				Clock:        now,
				CheckoutID:   a.CheckoutID,
				Action:       a.Kind.String(),
				Reopen:       a.Reopen,
				Capacity:     a.Capacity,
				OpenCapacity: snap.OpenCapacity(),
				Unserviced:   snap.Unserviced(),
				Reason:       a.Reason,
			})
		}
	}
	return nil
}
