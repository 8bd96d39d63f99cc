package sim

import (
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// DefaultDedupeWindow is how many recent message ids the dispatcher remembers.
const DefaultDedupeWindow = 4096

// Handler applies one decoded event at logical time now.
// Handlers must tolerate seeing the same logical event twice.
type Handler func(ev Event, now int64)

// Dispatcher routes received interactions to typed handlers by event name.
//
// Redelivered interactions (same bus message id) are dropped before decoding.
// Unknown or malformed events are logged and dropped; neither is fatal.
//
// Thread-safety: NOT thread-safe. Called only from the step loop's drain phase.
type Dispatcher struct {
	handlers map[string]Handler
	seen     *lru.Cache[string, struct{}]

	dispatched int
	duplicates int
	dropped    int
}

// NewDispatcher creates a Dispatcher remembering the last window message ids.
// A window < 1 uses DefaultDedupeWindow.
func NewDispatcher(window int) *Dispatcher {
	if window < 1 {
		window = DefaultDedupeWindow
	}
	seen, err := lru.New[string, struct{}](window)
	if err != nil {
		panic(fmt.Sprintf("NewDispatcher: %v", err))
	}
	return &Dispatcher{handlers: make(map[string]Handler), seen: seen}
}

// Register installs h for the named event, replacing any earlier handler.
// Panics on a name outside the event set.
func (d *Dispatcher) Register(name string, h Handler) {
	canonical := CanonicalEventName(name)
	if canonical == "" {
		panic(fmt.Sprintf("Dispatcher.Register: unknown event %q", name))
	}
	d.handlers[canonical] = h
}

// Names returns the registered event names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch decodes an interaction notification and runs its handler.
// Returns true if a handler ran.
func (d *Dispatcher) Dispatch(n bus.Notification, now int64) bool {
	if n.MessageID != "" {
		if d.seen.Contains(n.MessageID) {
			d.duplicates++
			logrus.Debugf("[dispatch] dropping redelivered %s (%s)", n.Interaction, n.MessageID)
			return false
		}
		d.seen.Add(n.MessageID, struct{}{})
	}

	ev, err := DecodeEvent(n.Interaction, n.Values)
	if err != nil {
		d.dropped++
		if errors.Is(err, ErrUnknownEvent) {
			logrus.Warnf("[dispatch] dropping unknown event %q from %s", n.Interaction, n.Sender)
		} else {
			logrus.Warnf("[dispatch] dropping malformed event from %s: %v", n.Sender, err)
		}
		return false
	}
	h, ok := d.handlers[ev.Name]
	if !ok {
		d.dropped++
		logrus.Debugf("[dispatch] no handler for %s", ev)
		return false
	}
	d.dispatched++
	h(ev, now)
	return true
}

// Dispatched returns how many events reached a handler.
func (d *Dispatcher) Dispatched() int { return d.dispatched }

// Duplicates returns how many redelivered interactions were dropped.
func (d *Dispatcher) Duplicates() int { return d.duplicates }

// Dropped returns how many unknown, malformed or unhandled events were dropped.
func (d *Dispatcher) Dropped() int { return d.dropped }
