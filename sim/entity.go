package sim

import (
	"fmt"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// EntityKind tags the three classes of shared entities.
type EntityKind string

const (
	KindShopper  EntityKind = "Shopper"
	KindQueue    EntityKind = "Queue"
	KindCheckout EntityKind = "CheckoutLane"
)

// Class returns the bus object class carrying entities of this kind.
func (k EntityKind) Class() bus.ObjectClass { return bus.ObjectClass(k) }

// KindOfClass maps a bus object class back to an EntityKind.
func KindOfClass(class bus.ObjectClass) (EntityKind, bool) {
	switch EntityKind(class) {
	case KindShopper, KindQueue, KindCheckout:
		return EntityKind(class), true
	}
	return "", false
}

// Attribute names as they appear on the bus.
const (
	AttrClientID        = "clientId"
	AttrIsPrivileged    = "isPrivileged"
	AttrEndShoppingTime = "endShoppingTime"
	AttrProducts        = "numberOfProducts"
	AttrIsWaiting       = "isWaiting"

	AttrQueueID         = "queueId"
	AttrMaxSize         = "maxSize"
	AttrCurrentSize     = "currentSize"
	AttrOriginalMaxSize = "originalMaxSize"
	AttrClients         = "clients"

	AttrCheckoutID = "checkoutId"
	AttrIsOpened   = "isOpened"
)

// attributesByKind lists the attributes each kind accepts in a reflection.
var attributesByKind = map[EntityKind]map[string]bool{
	KindShopper:  {AttrClientID: true, AttrIsPrivileged: true, AttrEndShoppingTime: true, AttrProducts: true, AttrIsWaiting: true},
	KindQueue:    {AttrQueueID: true, AttrMaxSize: true, AttrCurrentSize: true, AttrOriginalMaxSize: true, AttrClients: true},
	KindCheckout: {AttrCheckoutID: true, AttrQueueID: true, AttrIsOpened: true},
}

// Entity is the data half of a directory entry.
type Entity interface {
	Kind() EntityKind
	// EntityID returns the domain id (clientId, queueId, or checkoutId).
	EntityID() int
	// Apply merges the fields present in values; absent fields are left untouched.
	Apply(values bus.Values) error
	// Values encodes every field for publication.
	Values() bus.Values
	clone() Entity
}

// NewEntity returns a zero-valued entity of the given kind.
func NewEntity(kind EntityKind) Entity {
	switch kind {
	case KindShopper:
		return &Shopper{}
	case KindQueue:
		return &Queue{}
	case KindCheckout:
		return &CheckoutLane{}
	}
	panic(fmt.Sprintf("NewEntity: unknown kind %q", kind))
}

// === Shopper ===

// Shopper is a client of the shop. ID, Privileged and EndShoppingTime are fixed
// at creation.
type Shopper struct {
	ID              int
	Privileged      bool
	EndShoppingTime int64 // logical time at which shopping is done
	Products        int   // basket size, drives service time
	Waiting         bool  // ChooseQueue sent, not yet serviced
}

func (s *Shopper) Kind() EntityKind { return KindShopper }
func (s *Shopper) EntityID() int    { return s.ID }
func (s *Shopper) clone() Entity    { c := *s; return &c }

// DoneShopping reports whether the shopper is ready to queue at logical time now.
func (s *Shopper) DoneShopping(now int64) bool {
	return s.EndShoppingTime <= now
}

func (s *Shopper) Apply(v bus.Values) error {
	if x, ok, err := v.Int(AttrClientID); err != nil {
		return err
	} else if ok {
		s.ID = x
	}
	if b, ok, err := v.Bool(AttrIsPrivileged); err != nil {
		return err
	} else if ok {
		s.Privileged = b
	}
	if x, ok, err := v.Int(AttrEndShoppingTime); err != nil {
		return err
	} else if ok {
		s.EndShoppingTime = int64(x)
	}
	if x, ok, err := v.Int(AttrProducts); err != nil {
		return err
	} else if ok {
		s.Products = x
	}
	if b, ok, err := v.Bool(AttrIsWaiting); err != nil {
		return err
	} else if ok {
		s.Waiting = b
	}
	return nil
}

func (s *Shopper) Values() bus.Values {
	return bus.NewValues().
		SetInt(AttrClientID, s.ID).
		SetBool(AttrIsPrivileged, s.Privileged).
		SetInt(AttrEndShoppingTime, int(s.EndShoppingTime)).
		SetInt(AttrProducts, s.Products).
		SetBool(AttrIsWaiting, s.Waiting)
}

func (s *Shopper) String() string {
	return fmt.Sprintf("Shopper{id=%d privileged=%t done@%d products=%d waiting=%t}",
		s.ID, s.Privileged, s.EndShoppingTime, s.Products, s.Waiting)
}

// === Queue ===

// Queue is the waiting line in front of a checkout lane.
//
// OriginalMaxSize keeps the last non-zero capacity so a closed queue (MaxSize
// forced to 0) can be reopened to its prior size. Line holds the admitted
// shoppers in service order; Overflow holds joiners beyond capacity, which the
// owner promotes when capacity frees. Overflow, the closed flag and the
// in-service marker are owner-side state and are not published.
type Queue struct {
	ID              int
	MaxSize         int
	CurrentSize     int
	OriginalMaxSize int
	Line            []int
	Overflow        []int

	closed     bool
	inService  int
	hasService bool
}

func (q *Queue) Kind() EntityKind { return KindQueue }
func (q *Queue) EntityID() int    { return q.ID }

func (q *Queue) clone() Entity {
	c := *q
	c.Line = append([]int(nil), q.Line...)
	c.Overflow = append([]int(nil), q.Overflow...)
	return &c
}

// HasRoom reports whether another shopper can join without exceeding capacity.
func (q *Queue) HasRoom() bool {
	return q.CurrentSize < q.MaxSize
}

// Head returns the next shopper to be served, or -1 when the line is empty.
func (q *Queue) Head() int {
	if len(q.Line) == 0 {
		return -1
	}
	return q.Line[0]
}

// SetCapacity sets MaxSize and remembers non-zero capacities for reopening.
func (q *Queue) SetCapacity(n int) {
	q.MaxSize = n
	if n > 0 {
		q.OriginalMaxSize = n
	}
}

func (q *Queue) Apply(v bus.Values) error {
	if x, ok, err := v.Int(AttrQueueID); err != nil {
		return err
	} else if ok {
		q.ID = x
	}
	if x, ok, err := v.Int(AttrMaxSize); err != nil {
		return err
	} else if ok {
		q.MaxSize = x
	}
	if x, ok, err := v.Int(AttrCurrentSize); err != nil {
		return err
	} else if ok {
		q.CurrentSize = x
	}
	if x, ok, err := v.Int(AttrOriginalMaxSize); err != nil {
		return err
	} else if ok {
		q.OriginalMaxSize = x
	}
	if xs, ok, err := v.Ints(AttrClients); err != nil {
		return err
	} else if ok {
		q.Line = xs
	}
	return nil
}

func (q *Queue) Values() bus.Values {
	return bus.NewValues().
		SetInt(AttrQueueID, q.ID).
		SetInt(AttrMaxSize, q.MaxSize).
		SetInt(AttrCurrentSize, q.CurrentSize).
		SetInt(AttrOriginalMaxSize, q.OriginalMaxSize).
		SetInts(AttrClients, q.Line)
}

func (q *Queue) String() string {
	return fmt.Sprintf("Queue{id=%d size=%d/%d orig=%d line=%v overflow=%v}",
		q.ID, q.CurrentSize, q.MaxSize, q.OriginalMaxSize, q.Line, q.Overflow)
}

// === CheckoutLane ===

// CheckoutLane is a till. Its QueueID never changes once assigned; lanes are
// closed and reopened, never deleted.
type CheckoutLane struct {
	ID      int
	QueueID int
	Open    bool
}

func (c *CheckoutLane) Kind() EntityKind { return KindCheckout }
func (c *CheckoutLane) EntityID() int    { return c.ID }
func (c *CheckoutLane) clone() Entity    { l := *c; return &l }

func (c *CheckoutLane) Apply(v bus.Values) error {
	if x, ok, err := v.Int(AttrCheckoutID); err != nil {
		return err
	} else if ok {
		c.ID = x
	}
	if x, ok, err := v.Int(AttrQueueID); err != nil {
		return err
	} else if ok {
		c.QueueID = x
	}
	if b, ok, err := v.Bool(AttrIsOpened); err != nil {
		return err
	} else if ok {
		c.Open = b
	}
	return nil
}

func (c *CheckoutLane) Values() bus.Values {
	return bus.NewValues().
		SetInt(AttrCheckoutID, c.ID).
		SetInt(AttrQueueID, c.QueueID).
		SetBool(AttrIsOpened, c.Open)
}

func (c *CheckoutLane) String() string {
	return fmt.Sprintf("CheckoutLane{id=%d queue=%d open=%t}", c.ID, c.QueueID, c.Open)
}
