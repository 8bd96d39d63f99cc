package roles

import (
	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/federate"
)

// Queue owns the queues. It creates and reopens them on OpenCheckout, zeroes
// their capacity on CloseCheckout, and keeps each line in order as shoppers
// join and leave. At the end of every tick it reconciles capacity so that
// 0 <= currentSize <= maxSize holds for every queue it publishes.
type Queue struct {
	shop *sim.Shop
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Name() string { return RoleQueue }

// Shoppers are mirrored for their privilege flag, lanes for their queue id.
func (q *Queue) Classes() []bus.ObjectClass {
	return []bus.ObjectClass{sim.KindShopper.Class(), sim.KindCheckout.Class()}
}

func (q *Queue) Setup(env *federate.Env) error {
	q.shop = sim.NewShop(env.Dir, env.Outbox, env.Config.Queue, sim.KindQueue)
	q.shop.Install(env.Dispatcher)
	return nil
}

func (q *Queue) Step(env *federate.Env, now int64) error {
	q.shop.Reconcile()
	for _, h := range env.Dir.OwnedHandles(sim.KindQueue) {
		e, _ := env.Dir.Entry(h)
		if err := e.Entity.(*sim.Queue).CheckInvariant(); err != nil {
			env.Log.Errorf("t=%d %v", now, err)
		}
	}
	return nil
}
