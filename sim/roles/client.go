package roles

import (
	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/federate"
	"github.com/inference-sim/checkout-sim/sim/trace"
)

// Client owns the shoppers. Each tick it may admit a new shopper, then sends
// every shopper done shopping to a queue with room. A shopper with nowhere
// to go keeps shopping and retries next tick. Shoppers are deleted once their
// EndService is observed. Shopper ids are the bus handles of the shoppers,
// so any number of client participants can share one run.
type Client struct {
	selector sim.QueueSelector
	shop     *sim.Shop
	created  int
}

// NewClient creates a client role using the configured queue selector.
func NewClient(cfg sim.Config) *Client {
	return &Client{
		selector: sim.NewQueueSelector(cfg.Policy.Selector),
	}
}

func (c *Client) Name() string { return RoleClient }

func (c *Client) Classes() []bus.ObjectClass {
	return []bus.ObjectClass{sim.KindQueue.Class(), sim.KindCheckout.Class()}
}

func (c *Client) Setup(env *federate.Env) error {
	c.shop = sim.NewShop(env.Dir, env.Outbox, env.Config.Queue, sim.KindShopper)
	c.shop.Install(env.Dispatcher)
	for i := 0; i < env.Config.Arrival.InitialShoppers; i++ {
		c.admit(env, 0, 0)
	}
	return nil
}

// Created returns how many shoppers this client has created.
func (c *Client) Created() int { return c.created }

func (c *Client) Step(env *federate.Env, now int64) error {
	arr := env.Config.Arrival
	if (arr.MaxShoppers == 0 || c.created < arr.MaxShoppers) &&
		env.RNG.Chance(env.Subsystem(sim.SubsystemArrivals), arr.Probability) {
		shopping := env.RNG.IntBetween(env.Subsystem(sim.SubsystemBasket), arr.MinShoppingTicks, arr.MaxShoppingTicks)
		c.admit(env, now, now+int64(shopping))
	}
	c.chooseQueues(env, now)
	return nil
}

func (c *Client) admit(env *federate.Env, now, doneAt int64) {
	arr := env.Config.Arrival
	sh := &sim.Shopper{
		Privileged:      env.RNG.Chance(env.Subsystem(sim.SubsystemPrivilege), arr.PrivilegedProbability),
		EndShoppingTime: doneAt,
		Products:        env.RNG.IntBetween(env.Subsystem(sim.SubsystemBasket), 1, arr.MaxProducts),
	}
	if _, ok := c.shop.CreateShopper(sh); ok {
		c.created++
		env.Log.Debugf("t=%d new %s", now, sh)
	}
}

// chooseQueues sends ready shoppers to queues in id order. Occupancy is
// bumped locally after each choice so one tick's shoppers spread out before
// the queue owner's updates come back.
func (c *Client) chooseQueues(env *federate.Env, now int64) {
	candidates := env.Dir.Snapshot(now).Candidates()
	for _, h := range env.Dir.OwnedHandles(sim.KindShopper) {
		e, _ := env.Dir.Entry(h)
		sh := e.Entity.(*sim.Shopper)
		if sh.Waiting || !sh.DoneShopping(now) {
			continue
		}
		i, ok := c.selector.Select(candidates)
		if !ok {
			env.Log.Debugf("t=%d no queue has room for shopper %d", now, sh.ID)
			return
		}
		chosen := &candidates[i]
		if env.Trace.Enabled() {
			env.Trace.RecordChoice(choiceRecord(now, sh, candidates, i))
		}
		env.Outbox.Send(sim.ChooseQueue(chosen.CheckoutID, sh.ID))
		chosen.CurrentSize++
		sh.Waiting = true
		c.shop.Touch(sim.KindShopper, sh.ID)
	}
}

func choiceRecord(now int64, sh *sim.Shopper, candidates []sim.QueueCandidate, chosen int) trace.QueueChoiceRecord {
	rec := trace.QueueChoiceRecord{
		ClientID:    sh.ID,
		Clock:       now,
		ChosenQueue: candidates[chosen].QueueID,
		CheckoutID:  candidates[chosen].CheckoutID,
		Privileged:  sh.Privileged,
	}
	least := -1
	for _, cand := range candidates {
		rec.Candidates = append(rec.Candidates, trace.CandidateLoad{
			QueueID:     cand.QueueID,
			CurrentSize: cand.CurrentSize,
			MaxSize:     cand.MaxSize,
		})
		if cand.HasRoom() && (least < 0 || cand.CurrentSize < least) {
			least = cand.CurrentSize
		}
	}
	rec.Imbalance = candidates[chosen].CurrentSize - least
	return rec
}
