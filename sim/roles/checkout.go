package roles

import (
	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/federate"
)

// service is the shopper a lane is scanning.
type service struct {
	clientID  int
	remaining int // items left to scan
}

// Checkout owns the lanes. Every tick each lane scans up to ItemsPerTick
// items: it takes the head of its queue (as last published by the queue
// owner), announces StartService, and announces EndService once the whole
// basket is scanned. A closed lane keeps serving until its line is empty.
type Checkout struct {
	itemsPerTick int
	shop         *sim.Shop

	serving map[int]*service // by checkout id
	// served maps shoppers already released to their queue id, until the
	// queue owner's update stops listing them.
	served map[int]int
}

// NewCheckout creates a checkout role.
func NewCheckout(cfg sim.Config) *Checkout {
	return &Checkout{
		itemsPerTick: max(cfg.Checkout.ItemsPerTick, 1),
		serving:      make(map[int]*service),
		served:       make(map[int]int),
	}
}

func (c *Checkout) Name() string { return RoleCheckout }

// Queues give the line to serve; shoppers give the basket size.
func (c *Checkout) Classes() []bus.ObjectClass {
	return []bus.ObjectClass{sim.KindQueue.Class(), sim.KindShopper.Class()}
}

func (c *Checkout) Setup(env *federate.Env) error {
	c.shop = sim.NewShop(env.Dir, env.Outbox, env.Config.Queue, sim.KindCheckout)
	c.shop.Install(env.Dispatcher)
	return nil
}

// Serving returns the shopper at the lane, if any.
func (c *Checkout) Serving(checkoutID int) (int, bool) {
	if svc, ok := c.serving[checkoutID]; ok {
		return svc.clientID, true
	}
	return 0, false
}

func (c *Checkout) Step(env *federate.Env, now int64) error {
	c.forgetServed(env.Dir)
	for _, h := range env.Dir.OwnedHandles(sim.KindCheckout) {
		e, _ := env.Dir.Entry(h)
		c.serve(env, now, e.Entity.(*sim.CheckoutLane))
	}
	return nil
}

func (c *Checkout) serve(env *federate.Env, now int64, lane *sim.CheckoutLane) {
	budget := c.itemsPerTick
	for budget > 0 {
		svc := c.serving[lane.ID]
		if svc == nil {
			svc = c.next(env, lane)
			if svc == nil {
				return
			}
			c.serving[lane.ID] = svc
			env.Outbox.Send(sim.StartService(lane.ID, svc.clientID))
			env.Log.Debugf("t=%d checkout %d serving shopper %d (%d items)", now, lane.ID, svc.clientID, svc.remaining)
		}
		scanned := min(budget, svc.remaining)
		svc.remaining -= scanned
		budget -= scanned
		if svc.remaining > 0 {
			return
		}
		delete(c.serving, lane.ID)
		c.served[svc.clientID] = lane.QueueID
		ev := sim.EndService(lane.ID, svc.clientID)
		env.Outbox.Send(ev)
		// Interactions are not echoed back to their sender.
		c.shop.EndService(ev, now)
	}
}

// next picks the first shopper in the lane's line not already served.
func (c *Checkout) next(env *federate.Env, lane *sim.CheckoutLane) *service {
	q := env.Dir.Queue(lane.QueueID)
	if q == nil {
		return nil
	}
	for _, id := range q.Line {
		if _, done := c.served[id]; done {
			continue
		}
		items := 1
		if sh := env.Dir.Shopper(id); sh != nil && sh.Products > 0 {
			items = sh.Products
		}
		return &service{clientID: id, remaining: items}
	}
	return nil
}

func (c *Checkout) forgetServed(dir *sim.Directory) {
	for id, qid := range c.served {
		if q := dir.Queue(qid); q == nil || !q.Contains(id) {
			delete(c.served, id)
		}
	}
}
