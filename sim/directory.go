// Implements the Entity Directory: a participant's local, eventually-consistent
// mirror of shared entities keyed by bus instance handle.

package sim

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// DefaultTombstoneWindow is how many removed handles a directory remembers.
const DefaultTombstoneWindow = 4096

var (
	ErrKindMismatch     = errors.New("attribute update does not match entity kind")
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// Entry is one directory record.
type Entry struct {
	Handle bus.Handle
	Entity Entity
	Owned  bool // registered by this participant, which is authoritative for it
	// identified is set once the entity's id attribute has been applied.
	identified bool
}

type pendingUpdate struct {
	class  bus.ObjectClass
	values bus.Values
}

// Directory mirrors remote entities and holds locally-owned ones.
//
// Discovery and reflection are independent notifications, so an update may
// arrive for a handle that has not been discovered yet. Such updates are
// buffered per handle and replayed, in arrival order, when discovery arrives.
// Removed handles are remembered in a bounded window; updates or discoveries
// that arrive for them late are dropped instead of buffered.
//
// Thread-safety: NOT thread-safe. Mutated only from the owning participant's
// step loop (drain phase and event handlers), never concurrently.
type Directory struct {
	entries map[bus.Handle]*Entry
	byID    map[EntityKind]map[int]bus.Handle
	pending map[bus.Handle][]pendingUpdate
	removed *lru.Cache[bus.Handle, struct{}]

	bufferedTotal int
	dropped       int
	late          int
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	removed, err := lru.New[bus.Handle, struct{}](DefaultTombstoneWindow)
	if err != nil {
		panic(fmt.Sprintf("NewDirectory: %v", err))
	}
	return &Directory{
		entries: make(map[bus.Handle]*Entry),
		byID: map[EntityKind]map[int]bus.Handle{
			KindShopper:  {},
			KindQueue:    {},
			KindCheckout: {},
		},
		pending: make(map[bus.Handle][]pendingUpdate),
		removed: removed,
	}
}

// Discover records a newly visible entity with zero-valued fields and replays
// any updates buffered for its handle. Returns false if the handle was already
// known (duplicate discovery is a no-op) or already removed.
func (d *Directory) Discover(h bus.Handle, kind EntityKind) bool {
	if d.removed.Contains(h) {
		d.late++
		logrus.Debugf("[directory] discovery of removed handle %d, ignoring", h)
		return false
	}
	if e, ok := d.entries[h]; ok {
		if e.Entity.Kind() != kind {
			logrus.Warnf("[directory] handle %d rediscovered as %s, already %s; ignoring", h, kind, e.Entity.Kind())
		}
		return false
	}
	e := &Entry{Handle: h, Entity: NewEntity(kind)}
	d.entries[h] = e

	if buffered, ok := d.pending[h]; ok {
		delete(d.pending, h)
		for _, u := range buffered {
			if err := d.apply(e, u.class, u.values); err != nil {
				logrus.Warnf("[directory] replaying buffered update for handle %d: %v", h, err)
			}
		}
	}
	return true
}

// Insert records an entity this participant owns.
func (d *Directory) Insert(h bus.Handle, entity Entity) {
	e := &Entry{Handle: h, Entity: entity, Owned: true, identified: true}
	d.entries[h] = e
	d.byID[entity.Kind()][entity.EntityID()] = h
}

// Reflect merges the fields present in values into the entity at h. Fields not
// in the update keep their previous values. Updates for unknown handles are
// buffered unless the handle was removed, in which case they are dropped.
// Unknown attributes are skipped and reported in the
// returned error after the known fields have been applied.
func (d *Directory) Reflect(h bus.Handle, class bus.ObjectClass, values bus.Values) error {
	e, ok := d.entries[h]
	if !ok {
		if d.removed.Contains(h) {
			d.late++
			logrus.Debugf("[directory] update for removed handle %d, dropping", h)
			return nil
		}
		d.pending[h] = append(d.pending[h], pendingUpdate{class: class, values: values.Clone()})
		d.bufferedTotal++
		logrus.Debugf("[directory] buffered update for undiscovered handle %d (%d pending)", h, len(d.pending[h]))
		return nil
	}
	return d.apply(e, class, values)
}

func (d *Directory) apply(e *Entry, class bus.ObjectClass, values bus.Values) error {
	kind := e.Entity.Kind()
	if class != "" && class != kind.Class() {
		d.dropped++
		return fmt.Errorf("handle %d is %s, update is for %s: %w", e.Handle, kind, class, ErrKindMismatch)
	}
	known := attributesByKind[kind]
	var unknown []string
	filtered := values
	for name := range values {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		filtered = bus.NewValues()
		for name, b := range values {
			if known[name] {
				filtered[name] = b
			}
		}
	}

	oldID, wasIdentified := e.Entity.EntityID(), e.identified
	if err := e.Entity.Apply(filtered); err != nil {
		d.dropped++
		return fmt.Errorf("handle %d (%s): %w", e.Handle, kind, err)
	}
	if filtered.Has(idAttribute(kind)) {
		if wasIdentified && oldID != e.Entity.EntityID() {
			delete(d.byID[kind], oldID)
		}
		e.identified = true
		d.byID[kind][e.Entity.EntityID()] = e.Handle
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("handle %d (%s): %w: %s", e.Handle, kind, ErrUnknownAttribute, strings.Join(unknown, ", "))
	}
	return nil
}

func idAttribute(kind EntityKind) string {
	switch kind {
	case KindShopper:
		return AttrClientID
	case KindQueue:
		return AttrQueueID
	default:
		return AttrCheckoutID
	}
}

// Remove deletes the entry at h along with any buffered updates for it, and
// remembers h so late updates are dropped. Returns the removed entity, if any.
func (d *Directory) Remove(h bus.Handle) (Entity, bool) {
	delete(d.pending, h)
	d.removed.Add(h, struct{}{})
	e, ok := d.entries[h]
	if !ok {
		return nil, false
	}
	delete(d.entries, h)
	if e.identified {
		kind := e.Entity.Kind()
		if d.byID[kind][e.Entity.EntityID()] == h {
			delete(d.byID[kind], e.Entity.EntityID())
		}
	}
	return e.Entity, true
}

// RemoveByID deletes the identified entity of kind with the given id.
func (d *Directory) RemoveByID(kind EntityKind, id int) (bus.Handle, bool) {
	h, ok := d.byID[kind][id]
	if !ok {
		return 0, false
	}
	d.Remove(h)
	return h, true
}

// Entry returns the record at h.
func (d *Directory) Entry(h bus.Handle) (*Entry, bool) {
	e, ok := d.entries[h]
	return e, ok
}

// HandleOf returns the handle of the identified entity of kind with the given id.
func (d *Directory) HandleOf(kind EntityKind, id int) (bus.Handle, bool) {
	h, ok := d.byID[kind][id]
	return h, ok
}

func (d *Directory) lookup(kind EntityKind, id int) Entity {
	h, ok := d.byID[kind][id]
	if !ok {
		return nil
	}
	return d.entries[h].Entity
}

// Shopper returns the live shopper with the given id, or nil.
func (d *Directory) Shopper(id int) *Shopper {
	if e := d.lookup(KindShopper, id); e != nil {
		return e.(*Shopper)
	}
	return nil
}

// Queue returns the live queue with the given id, or nil.
func (d *Directory) Queue(id int) *Queue {
	if e := d.lookup(KindQueue, id); e != nil {
		return e.(*Queue)
	}
	return nil
}

// Lane returns the live checkout lane with the given id, or nil.
func (d *Directory) Lane(id int) *CheckoutLane {
	if e := d.lookup(KindCheckout, id); e != nil {
		return e.(*CheckoutLane)
	}
	return nil
}

// QueueIDForLane resolves a checkout id to its queue id. Lanes and queues are
// allocated in pairs sharing an id, so an undiscovered lane falls back to that.
func (d *Directory) QueueIDForLane(checkoutID int) int {
	if lane := d.Lane(checkoutID); lane != nil {
		return lane.QueueID
	}
	return checkoutID
}

// QueueForLane returns the live queue behind a checkout lane, or nil.
func (d *Directory) QueueForLane(checkoutID int) *Queue {
	return d.Queue(d.QueueIDForLane(checkoutID))
}

// LaneForQueue returns the live lane serving a queue, or nil.
func (d *Directory) LaneForQueue(queueID int) *CheckoutLane {
	for _, h := range d.byID[KindCheckout] {
		lane := d.entries[h].Entity.(*CheckoutLane)
		if lane.QueueID == queueID {
			return lane
		}
	}
	return nil
}

// OwnedHandles returns the handles of locally-owned entities of kind, ordered by id.
func (d *Directory) OwnedHandles(kind EntityKind) []bus.Handle {
	ids := make([]int, 0, len(d.byID[kind]))
	for id, h := range d.byID[kind] {
		if d.entries[h].Owned {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]bus.Handle, len(ids))
	for i, id := range ids {
		out[i] = d.byID[kind][id]
	}
	return out
}

// Len returns the number of entries, identified or not.
func (d *Directory) Len() int { return len(d.entries) }

// PendingHandles returns how many undiscovered handles have buffered updates.
func (d *Directory) PendingHandles() int { return len(d.pending) }

// BufferedTotal returns how many updates were ever buffered before discovery.
func (d *Directory) BufferedTotal() int { return d.bufferedTotal }

// Dropped returns how many updates were rejected for a kind mismatch or a
// malformed field.
func (d *Directory) Dropped() int { return d.dropped }

// Late returns how many notifications arrived for already-removed handles.
func (d *Directory) Late() int { return d.late }

// Entities returns point-in-time copies of every identified entity of kind,
// ordered by id. Mutating the result does not affect the directory.
func (d *Directory) Entities(kind EntityKind) []Entity {
	ids := make([]int, 0, len(d.byID[kind]))
	for id := range d.byID[kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.entries[d.byID[kind][id]].Entity.clone())
	}
	return out
}

// Snapshot builds the read-only view handed to allocation policies.
func (d *Directory) Snapshot(now int64) *Snapshot {
	s := &Snapshot{Clock: now}
	for _, e := range d.Entities(KindShopper) {
		s.Shoppers = append(s.Shoppers, *e.(*Shopper))
	}
	for _, e := range d.Entities(KindQueue) {
		s.Queues = append(s.Queues, *e.(*Queue))
	}
	for _, e := range d.Entities(KindCheckout) {
		s.Lanes = append(s.Lanes, *e.(*CheckoutLane))
	}
	return s
}
