// Package barrier implements the synchronization barrier: the startup
// rendezvous every participant passes before the first tick, and the
// per-tick time advance that blocks until the bus grants the next time.
//
// Waiting is an explicit poll loop. Each iteration pumps the bus once with a
// bounded timeout and routes whatever arrives; the loop ends when the awaited
// flag flips. The clock is injectable so stall warnings can be tested without
// sleeping.
package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// DefaultLabel is the startup rendezvous label.
const DefaultLabel = "ReadyToRun"

// Gate runs between announcement and achievement of the startup rendezvous,
// e.g. waiting for an operator to confirm. It may block until ctx is done.
type Gate func(ctx context.Context) error

// Options configures a Barrier. Zero values take defaults.
type Options struct {
	Label        string        // default DefaultLabel
	PollTimeout  time.Duration // default 100ms
	StallWarning time.Duration // 0 disables warnings
	Clock        clock.Clock   // default wall clock
	Gate         Gate          // default: no gate
	Logger       logrus.FieldLogger
}

// Barrier drives one participant through the rendezvous and time advances.
//
// Thread-safety: NOT thread-safe. Used only from the participant's step loop.
type Barrier struct {
	bus   bus.Bus
	route func(bus.Notification)
	opts  Options
	log   logrus.FieldLogger

	registered   bool
	announced    bool
	synchronized bool
	advancing    bool
	now          int64
}

// New creates a Barrier over b. Every notification pumped while waiting is
// passed to route, which must hand sync and time notifications back to
// Handle. A nil route uses Handle alone and discards everything else.
func New(b bus.Bus, route func(bus.Notification), opts Options) *Barrier {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	br := &Barrier{bus: b, route: route, opts: opts, log: log}
	if br.route == nil {
		br.route = func(n bus.Notification) { br.Handle(n) }
	}
	return br
}

// Now returns the last granted logical time.
func (b *Barrier) Now() int64 { return b.now }

// Advancing reports whether a time advance request is outstanding.
func (b *Barrier) Advancing() bool { return b.advancing }

// Synchronized reports whether the startup rendezvous completed.
func (b *Barrier) Synchronized() bool { return b.synchronized }

// Handle consumes synchronization and time notifications. Returns false for
// any other kind, leaving it to the caller.
func (b *Barrier) Handle(n bus.Notification) bool {
	switch n.Kind {
	case bus.KindSyncRegistered:
		if n.Label == b.opts.Label {
			b.registered = true
			b.log.Debugf("[barrier] registered %q", n.Label)
		}
	case bus.KindSyncRegistrationFailed:
		if n.Label == b.opts.Label {
			// A peer registered it first; the rendezvous exists either way.
			b.registered = true
			b.log.Debugf("[barrier] %q already registered (%s), proceeding", n.Label, n.Reason)
		}
	case bus.KindSyncAnnounced:
		if n.Label == b.opts.Label {
			b.announced = true
			b.log.Debugf("[barrier] %q announced", n.Label)
		}
	case bus.KindSynchronized:
		if n.Label == b.opts.Label {
			b.synchronized = true
			b.log.Debugf("[barrier] %q synchronized", n.Label)
		}
	case bus.KindTimeAdvanceGrant:
		if !b.advancing {
			b.log.Warnf("[barrier] unexpected grant to %d while not advancing", n.Time)
			return true
		}
		b.now = n.Time
		b.advancing = false
	default:
		return false
	}
	return true
}

// AnnounceAndWaitStart registers the rendezvous, waits for its announcement,
// runs the gate, achieves it, and waits until every participant has.
func (b *Barrier) AnnounceAndWaitStart(ctx context.Context) error {
	label := b.opts.Label
	if err := b.bus.RegisterSyncPoint(label); err != nil {
		return fmt.Errorf("registering %q: %w", label, err)
	}
	if err := b.waitFor(ctx, fmt.Sprintf("announcement of %q", label), func() bool { return b.announced }); err != nil {
		return err
	}
	if b.opts.Gate != nil {
		if err := b.opts.Gate(ctx); err != nil {
			return fmt.Errorf("start gate: %w", err)
		}
	}
	if err := b.bus.AchieveSyncPoint(label); err != nil {
		return fmt.Errorf("achieving %q: %w", label, err)
	}
	if err := b.waitFor(ctx, fmt.Sprintf("synchronization on %q", label), func() bool { return b.synchronized }); err != nil {
		return err
	}
	b.log.Infof("[barrier] %q passed, starting at t=%d", label, b.now)
	return nil
}

// RequestAdvance asks for now+delta and blocks until it is granted. Returns
// the new time. Without a grant it waits indefinitely; cancel ctx to stop it.
func (b *Barrier) RequestAdvance(ctx context.Context, delta int64) (int64, error) {
	if delta < 1 {
		return b.now, fmt.Errorf("advance delta must be >= 1, got %d", delta)
	}
	target := b.now + delta
	b.advancing = true
	if err := b.bus.RequestTimeAdvance(target); err != nil {
		b.advancing = false
		return b.now, fmt.Errorf("requesting advance to %d: %w", target, err)
	}
	err := b.waitFor(ctx, fmt.Sprintf("grant to t=%d", target), func() bool { return !b.advancing })
	return b.now, err
}

// waitFor pumps the bus until done reports true or ctx ends.
func (b *Barrier) waitFor(ctx context.Context, what string, done func() bool) error {
	start := b.opts.Clock.Now()
	nextWarn := start.Add(b.opts.StallWarning)
	for !done() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for %s: %w", what, err)
		}
		if _, err := b.bus.Evoke(ctx, b.opts.PollTimeout, b.route); err != nil {
			return fmt.Errorf("waiting for %s: %w", what, err)
		}
		if b.opts.StallWarning > 0 && !done() {
			if now := b.opts.Clock.Now(); !now.Before(nextWarn) {
				b.log.Warnf("[barrier] still waiting for %s after %s", what, now.Sub(start))
				nextWarn = now.Add(b.opts.StallWarning)
			}
		}
	}
	return nil
}
