package federate

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Outbox stages a tick's output. Events and attribute updates produced while
// draining or deciding are held here and published together by Flush, which
// the step loop calls before requesting the next time advance.
//
// Object registration is immediate: the handle is needed to index the new
// entity in the directory.
//
// Thread-safety: NOT thread-safe. Owned by the step loop.
type Outbox struct {
	bus bus.Bus
	dir *sim.Directory

	events  []sim.Event
	dirty   []bus.Handle
	marked  map[bus.Handle]bool
	deletes []bus.Handle

	sentEvents  int
	sentUpdates int
}

var _ sim.Publisher = (*Outbox)(nil)

// NewOutbox creates an Outbox publishing owned entities found in dir.
func NewOutbox(b bus.Bus, dir *sim.Directory) *Outbox {
	return &Outbox{bus: b, dir: dir, marked: make(map[bus.Handle]bool)}
}

// Register implements sim.Publisher.
func (o *Outbox) Register(e sim.Entity) (bus.Handle, error) {
	h, err := o.bus.RegisterObject(e.Kind().Class())
	if err != nil {
		return 0, fmt.Errorf("registering %s %d: %w", e.Kind(), e.EntityID(), err)
	}
	return h, nil
}

// Update implements sim.Publisher.
func (o *Outbox) Update(h bus.Handle) {
	if o.marked[h] {
		return
	}
	o.marked[h] = true
	o.dirty = append(o.dirty, h)
}

// Delete implements sim.Publisher.
func (o *Outbox) Delete(h bus.Handle) {
	o.deletes = append(o.deletes, h)
}

// Send stages an event.
func (o *Outbox) Send(ev sim.Event) {
	o.events = append(o.events, ev)
}

// Pending returns how many events and updates are staged.
func (o *Outbox) Pending() int {
	return len(o.events) + len(o.dirty) + len(o.deletes)
}

// SentEvents returns how many events were published.
func (o *Outbox) SentEvents() int { return o.sentEvents }

// Flush publishes attribute updates, then staged events, then deletions, so a
// receiver has the latest state of a shopper before any event naming it and
// sees EndService before the shopper disappears.
// A failure does not stop the rest of the batch; all errors are returned.
func (o *Outbox) Flush() error {
	var errs error
	deleted := make(map[bus.Handle]bool, len(o.deletes))
	for _, h := range o.deletes {
		deleted[h] = true
	}
	for _, h := range o.dirty {
		if deleted[h] {
			continue
		}
		e, ok := o.dir.Entry(h)
		if !ok || !e.Owned {
			continue
		}
		if err := o.bus.UpdateAttributes(h, e.Entity.Values()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("updating %s %d: %w", e.Entity.Kind(), e.Entity.EntityID(), err))
			continue
		}
		o.sentUpdates++
	}
	for _, ev := range o.events {
		if err := o.bus.SendInteraction(ev.Name, ev.Values()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sending %s: %w", ev, err))
			continue
		}
		o.sentEvents++
	}
	for _, h := range o.deletes {
		if err := o.bus.DeleteObject(h); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deleting object %d: %w", h, err))
		}
	}

	o.events = o.events[:0]
	o.dirty = o.dirty[:0]
	o.deletes = o.deletes[:0]
	clear(o.marked)
	return errs
}
