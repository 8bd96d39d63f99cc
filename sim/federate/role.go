// Package federate runs one participant of the distributed simulation: it
// joins the federation, passes the startup rendezvous, and then drives the
// step loop (drain, decide, publish, advance) for a pluggable Role.
package federate

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/trace"
)

// Role is the behavior of one kind of participant.
type Role interface {
	// Name is the role name used in logs, e.g. "queue".
	Name() string
	// Classes lists the object classes the role mirrors.
	Classes() []bus.ObjectClass
	// Setup runs once after joining and before the rendezvous. Roles install
	// their event handlers on env.Dispatcher here; the participant subscribes
	// to exactly the events that have a handler.
	Setup(env *Env) error
	// Step runs once per tick, after every pending notification was applied.
	// Events and entity changes go through env.Outbox and are published
	// before the tick's time advance.
	Step(env *Env, now int64) error
}

// Finisher is implemented by roles with work to do when the loop ends.
type Finisher interface {
	Finish(env *Env, now int64)
}

// Env is what the participant hands to its role.
type Env struct {
	Name       string
	Config     sim.Config
	Dir        *sim.Directory
	Dispatcher *sim.Dispatcher
	Outbox     *Outbox
	RNG        *sim.PartitionedRNG
	Trace      *trace.SimulationTrace // nil or disabled unless decisions are traced
	Log        logrus.FieldLogger

	stop func()
}

// Stop ends the step loop after the current tick.
func (e *Env) Stop() {
	if e.stop != nil {
		e.stop()
	}
}

// Subsystem returns the RNG subsystem name private to this participant.
func (e *Env) Subsystem(name string) string {
	return sim.SubsystemParticipant(e.Name, name)
}
