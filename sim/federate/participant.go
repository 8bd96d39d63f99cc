package federate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/barrier"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/trace"
)

// Options carries optional collaborators for a Participant.
type Options struct {
	Clock clock.Clock            // default wall clock
	Gate  barrier.Gate           // startup gate, e.g. operator confirmation
	Trace *trace.SimulationTrace // shared decision trace
	RNG   *sim.PartitionedRNG    // default: seeded from Config.Seed
}

// Participant is one independently-executing simulation node.
//
// All directory and dispatcher mutations happen on the goroutine calling Run:
// the drain phase, the role's step, and notifications pumped while waiting
// in the barrier. Only Stop may be called from elsewhere.
type Participant struct {
	name      string
	cfg       sim.Config
	connector bus.Connector
	role      Role
	opts      Options
	log       *logrus.Entry

	bus     bus.Bus
	barrier *barrier.Barrier
	env     *Env
	router  Router

	running atomic.Bool
	ticks   int64
}

// New creates a participant named name playing role.
func New(name string, cfg sim.Config, connector bus.Connector, role Role, opts Options) *Participant {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RNG == nil {
		opts.RNG = sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	}
	return &Participant{
		name:      name,
		cfg:       cfg,
		connector: connector,
		role:      role,
		opts:      opts,
		log:       logrus.WithFields(logrus.Fields{"participant": name, "role": role.Name()}),
	}
}

// Name returns the participant name.
func (p *Participant) Name() string { return p.name }

// Env returns the role environment. Nil before Join.
func (p *Participant) Env() *Env { return p.env }

// Now returns the last granted logical time.
func (p *Participant) Now() int64 {
	if p.barrier == nil {
		return 0
	}
	return p.barrier.Now()
}

// Ticks returns how many steps have run.
func (p *Participant) Ticks() int64 { return p.ticks }

// Stop clears the running flag; the loop exits before its next step.
func (p *Participant) Stop() {
	if p.running.CompareAndSwap(true, false) {
		p.log.Infof("stopping at t=%d", p.Now())
	}
}

// Join creates the federation (or finds it already created by a peer), joins
// it, sets up the role and subscribes to what the role handles.
func (p *Participant) Join(ctx context.Context) error {
	fed := p.cfg.Federation.Name
	if err := p.connector.CreateFederation(ctx, fed); err != nil {
		if !errors.Is(err, bus.ErrFederationExists) {
			return fmt.Errorf("creating federation %q: %w", fed, err)
		}
		p.log.Debugf("federation %q already exists, joining", fed)
	}
	b, err := p.connector.Join(ctx, fed, p.name)
	if err != nil {
		return fmt.Errorf("joining federation %q: %w", fed, err)
	}
	p.bus = b

	dir := sim.NewDirectory()
	p.env = &Env{
		Name:       p.name,
		Config:     p.cfg,
		Dir:        dir,
		Dispatcher: sim.NewDispatcher(p.cfg.Federation.DedupeWindow),
		Outbox:     NewOutbox(b, dir),
		RNG:        p.opts.RNG,
		Trace:      p.opts.Trace,
		Log:        p.log,
		stop:       p.Stop,
	}
	p.barrier = barrier.New(b, p.route, barrier.Options{
		Label:        p.cfg.Federation.SyncLabel,
		PollTimeout:  p.cfg.Timing.PollTimeout,
		StallWarning: p.cfg.Timing.StallWarning,
		Clock:        p.opts.Clock,
		Gate:         p.opts.Gate,
		Logger:       p.log,
	})
	p.router = p.buildRouter()

	if err := p.role.Setup(p.env); err != nil {
		return fmt.Errorf("setting up %s: %w", p.role.Name(), err)
	}
	p.env.Dispatcher.Register(sim.EventEndSimulation, func(sim.Event, int64) { p.Stop() })

	for _, class := range p.role.Classes() {
		if err := b.SubscribeObjectClass(class); err != nil {
			return fmt.Errorf("subscribing to %s: %w", class, err)
		}
	}
	names := p.env.Dispatcher.Names()
	for _, name := range names {
		if name == sim.EventEndService {
			names = append(names, sim.EventClientExit)
			break
		}
	}
	for _, name := range names {
		if err := b.SubscribeInteraction(name); err != nil {
			return fmt.Errorf("subscribing to %s: %w", name, err)
		}
	}
	p.log.Infof("joined %q (classes %v, events %v)", fed, p.role.Classes(), names)
	return nil
}

func (p *Participant) buildRouter() Router {
	barrierKind := func(n bus.Notification) { p.barrier.Handle(n) }
	return Router{
		bus.KindSyncRegistered:         barrierKind,
		bus.KindSyncRegistrationFailed: barrierKind,
		bus.KindSyncAnnounced:          barrierKind,
		bus.KindSynchronized:           barrierKind,
		bus.KindTimeAdvanceGrant:       barrierKind,
		bus.KindDiscover: func(n bus.Notification) {
			kind, ok := sim.KindOfClass(n.Class)
			if !ok {
				p.log.Warnf("discovered object %d of unknown class %q, ignoring", n.Handle, n.Class)
				return
			}
			p.env.Dir.Discover(n.Handle, kind)
		},
		bus.KindReflect: func(n bus.Notification) {
			if err := p.env.Dir.Reflect(n.Handle, n.Class, n.Values); err != nil {
				p.log.Warnf("reflecting object %d: %v", n.Handle, err)
			}
		},
		bus.KindRemove: func(n bus.Notification) {
			p.env.Dir.Remove(n.Handle)
		},
		bus.KindInteraction: func(n bus.Notification) {
			p.env.Dispatcher.Dispatch(n, p.barrier.Now())
		},
	}
}

func (p *Participant) route(n bus.Notification) { p.router.Route(n) }

// drain applies every pending notification without waiting.
func (p *Participant) drain(ctx context.Context) error {
	for {
		n, err := p.bus.Evoke(ctx, 0, p.route)
		if err != nil {
			return fmt.Errorf("draining: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

// Run joins if needed, passes the startup rendezvous, then runs the step loop
// until stopped, the horizon is reached, or ctx ends.
//
// Each tick is drain, step, publish, advance, strictly in that order: time
// never advances while the tick's output is unpublished.
func (p *Participant) Run(ctx context.Context) error {
	if p.bus == nil {
		if err := p.Join(ctx); err != nil {
			return err
		}
	}
	if err := p.barrier.AnnounceAndWaitStart(ctx); err != nil {
		return fmt.Errorf("startup rendezvous: %w", err)
	}
	p.running.Store(true)

	horizon := p.cfg.Timing.Horizon
	now := p.barrier.Now()
	for p.running.Load() && (horizon == 0 || now < horizon) {
		if err := p.drain(ctx); err != nil {
			return err
		}
		if !p.running.Load() {
			break
		}
		if err := p.role.Step(p.env, now); err != nil {
			return fmt.Errorf("%s step at t=%d: %w", p.role.Name(), now, err)
		}
		if err := p.env.Outbox.Flush(); err != nil {
			return fmt.Errorf("publishing t=%d: %w", now, err)
		}
		p.ticks++

		next, err := p.barrier.RequestAdvance(ctx, p.cfg.Timing.Step)
		if err != nil {
			return err
		}
		now = next

		if d := p.cfg.Timing.TickDelay; d > 0 {
			select {
			case <-p.opts.Clock.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	p.running.Store(false)

	if f, ok := p.role.(Finisher); ok {
		f.Finish(p.env, now)
	}
	if err := p.env.Outbox.Flush(); err != nil {
		return fmt.Errorf("publishing final output: %w", err)
	}
	p.log.Infof("finished at t=%d after %d ticks", now, p.ticks)
	return nil
}

// Close resigns from the federation, which deletes every owned object, and
// tries to destroy it. Peers still joined are not an error.
func (p *Participant) Close(ctx context.Context) error {
	if p.bus == nil {
		return nil
	}
	var errs error
	if err := p.bus.Resign(ctx); err != nil && !errors.Is(err, bus.ErrNotJoined) {
		errs = multierr.Append(errs, fmt.Errorf("resigning: %w", err))
	}
	err := p.connector.DestroyFederation(ctx, p.cfg.Federation.Name)
	switch {
	case err == nil:
		p.log.Debugf("destroyed federation %q", p.cfg.Federation.Name)
	case errors.Is(err, bus.ErrFederatesJoined), errors.Is(err, bus.ErrFederationNotFound):
	default:
		errs = multierr.Append(errs, fmt.Errorf("destroying federation: %w", err))
	}
	p.bus = nil
	return errs
}
