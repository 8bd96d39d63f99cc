package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Publisher hands changes to locally-owned entities to the bus.
// Implemented by the participant's outbox; tests use an in-memory recorder.
type Publisher interface {
	// Register creates a bus object for a new owned entity and returns its handle.
	Register(e Entity) (bus.Handle, error)
	// Update schedules the owned entity at h for publication this tick.
	Update(h bus.Handle)
	// Delete removes the owned object at h from the bus.
	Delete(h bus.Handle)
}

// Shop applies checkout events to a participant's directory. It mutates only
// the kinds the participant owns and keeps mirrors of the rest in step where
// an event makes the outcome certain (a serviced shopper is gone everywhere).
//
// Thread-safety: NOT thread-safe. Driven by the step loop.
type Shop struct {
	dir      *Directory
	pub      Publisher
	owns     map[EntityKind]bool
	rules    LineRules
	capacity int

	served int
}

// NewShop creates a Shop owning the given kinds. New queues get capacity from cfg.
func NewShop(dir *Directory, pub Publisher, cfg QueueConfig, owns ...EntityKind) *Shop {
	s := &Shop{
		dir:      dir,
		pub:      pub,
		owns:     make(map[EntityKind]bool, len(owns)),
		capacity: cfg.MaxSize,
	}
	for _, k := range owns {
		s.owns[k] = true
	}
	s.rules = LineRules{
		Mode: PrivilegeMode(cfg.PrivilegeMode),
		Privileged: func(clientID int) bool {
			sh := dir.Shopper(clientID)
			return sh != nil && sh.Privileged
		},
	}
	return s
}

// Owns reports whether this participant is authoritative for kind.
func (s *Shop) Owns(kind EntityKind) bool { return s.owns[kind] }

// Rules returns the line placement rules in use.
func (s *Shop) Rules() LineRules { return s.rules }

// Served returns how many shoppers this participant has seen leave.
func (s *Shop) Served() int { return s.served }

// Install registers the handlers relevant to the owned kinds.
func (s *Shop) Install(d *Dispatcher) {
	if s.owns[KindQueue] || s.owns[KindCheckout] {
		d.Register(EventOpenCheckout, s.OpenCheckout)
		d.Register(EventCloseCheckout, s.CloseCheckout)
	}
	if s.owns[KindQueue] {
		d.Register(EventChooseQueue, s.ChooseQueue)
		d.Register(EventStartService, s.StartService)
	}
	d.Register(EventEndService, s.EndService)
}

// OpenCheckout reopens a known lane (restoring its queue's original capacity)
// or creates the lane and queue pair under the event's id.
func (s *Shop) OpenCheckout(ev Event, _ int64) {
	if s.owns[KindCheckout] {
		if lane := s.ownedLane(ev.CheckoutID); lane != nil {
			if !lane.Open {
				lane.Open = true
				s.update(KindCheckout, lane.ID)
			}
		} else if s.dir.Lane(ev.CheckoutID) == nil {
			s.create(&CheckoutLane{ID: ev.CheckoutID, QueueID: ev.CheckoutID, Open: true})
		}
	}
	if s.owns[KindQueue] {
		if q := s.ownedQueue(ev.CheckoutID); q != nil {
			if q.Open(s.capacity) {
				s.update(KindQueue, q.ID)
			}
		} else if qid := s.dir.QueueIDForLane(ev.CheckoutID); s.dir.Queue(qid) == nil {
			q := &Queue{ID: qid}
			q.Open(s.capacity)
			s.create(q)
		}
	}
}

// CloseCheckout closes the lane and forces its queue's capacity to 0.
// Shoppers already in line stay; until they drain, the published MaxSize
// tracks the remaining line (see Queue.Reconcile) and reaches 0 with it.
func (s *Shop) CloseCheckout(ev Event, _ int64) {
	if s.owns[KindCheckout] {
		lane := s.ownedLane(ev.CheckoutID)
		if lane == nil {
			logrus.Warnf("[shop] %s: unknown checkout, dropping", ev)
		} else if lane.Open {
			lane.Open = false
			s.update(KindCheckout, lane.ID)
		}
	}
	if s.owns[KindQueue] {
		q := s.ownedQueue(ev.CheckoutID)
		if q == nil {
			logrus.Warnf("[shop] %s: unknown queue, dropping", ev)
			return
		}
		if q.Close() {
			s.update(KindQueue, q.ID)
		}
	}
}

// ChooseQueue admits the shopper to the lane's queue.
func (s *Shop) ChooseQueue(ev Event, _ int64) {
	q := s.ownedQueue(ev.CheckoutID)
	if q == nil {
		logrus.Warnf("[shop] %s: unknown queue, dropping", ev)
		return
	}
	if q.Join(ev.ClientID, s.rules.isPrivileged(ev.ClientID), s.rules) {
		s.update(KindQueue, q.ID)
	}
}

// StartService pins the shopper at the head of its queue while it is served.
func (s *Shop) StartService(ev Event, _ int64) {
	q := s.ownedQueue(ev.CheckoutID)
	if q == nil {
		logrus.Warnf("[shop] %s: unknown queue, dropping", ev)
		return
	}
	if q.BeginService(ev.ClientID) {
		s.update(KindQueue, q.ID)
	} else {
		logrus.Debugf("[shop] %s: shopper not in line", ev)
	}
}

// EndService removes the served shopper from its queue and from the directory.
// An owned shopper is also deleted from the bus.
func (s *Shop) EndService(ev Event, _ int64) {
	if s.owns[KindQueue] {
		if q := s.ownedQueue(ev.CheckoutID); q != nil && q.Leave(ev.ClientID) {
			s.update(KindQueue, q.ID)
		}
	}
	h, ok := s.dir.HandleOf(KindShopper, ev.ClientID)
	if !ok {
		return
	}
	if e, _ := s.dir.Entry(h); e.Owned {
		s.pub.Delete(h)
	}
	s.dir.Remove(h)
	s.served++
}

// Reconcile enforces the capacity invariant on every owned queue.
// Called once per tick after the drain phase, before publishing.
func (s *Shop) Reconcile() {
	for _, h := range s.dir.OwnedHandles(KindQueue) {
		e, _ := s.dir.Entry(h)
		q := e.Entity.(*Queue)
		if q.Reconcile(s.rules) {
			if len(q.Overflow) > 0 {
				logrus.Debugf("[shop] queue %d over capacity, %d in overflow", q.ID, len(q.Overflow))
			}
			s.pub.Update(h)
		}
	}
}

// Create registers a new owned entity on the bus and in the directory.
func (s *Shop) Create(e Entity) (bus.Handle, bool) {
	return s.create(e)
}

// CreateShopper registers sh and numbers it after its bus handle. The RTI
// assigns handles per federation, so shoppers from several client
// participants never share an id.
func (s *Shop) CreateShopper(sh *Shopper) (bus.Handle, bool) {
	h, err := s.pub.Register(sh)
	if err != nil {
		logrus.Errorf("[shop] registering new shopper: %v", err)
		return 0, false
	}
	sh.ID = ShopperIDFor(h)
	s.dir.Insert(h, sh)
	s.pub.Update(h)
	return h, true
}

// ShopperIDFor returns the shopper id that goes with a bus handle.
func ShopperIDFor(h bus.Handle) int { return int(h) }

// Touch schedules an owned entity for publication.
func (s *Shop) Touch(kind EntityKind, id int) {
	s.update(kind, id)
}

func (s *Shop) create(e Entity) (bus.Handle, bool) {
	h, err := s.pub.Register(e)
	if err != nil {
		logrus.Errorf("[shop] registering %s %d: %v", e.Kind(), e.EntityID(), err)
		return 0, false
	}
	s.dir.Insert(h, e)
	s.pub.Update(h)
	return h, true
}

func (s *Shop) owned(kind EntityKind, id int) Entity {
	h, ok := s.dir.HandleOf(kind, id)
	if !ok {
		return nil
	}
	if e, _ := s.dir.Entry(h); e.Owned {
		return e.Entity
	}
	return nil
}

func (s *Shop) ownedQueue(checkoutID int) *Queue {
	if e := s.owned(KindQueue, s.dir.QueueIDForLane(checkoutID)); e != nil {
		return e.(*Queue)
	}
	return nil
}

func (s *Shop) ownedLane(checkoutID int) *CheckoutLane {
	if e := s.owned(KindCheckout, checkoutID); e != nil {
		return e.(*CheckoutLane)
	}
	return nil
}

func (s *Shop) update(kind EntityKind, id int) {
	if h, ok := s.dir.HandleOf(kind, id); ok {
		if e, _ := s.dir.Entry(h); e.Owned {
			s.pub.Update(h)
		}
	}
}
