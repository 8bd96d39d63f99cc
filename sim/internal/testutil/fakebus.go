// Package testutil provides shared test infrastructure for the checkout
// simulator: a scripted in-memory bus for driving the barrier and step loop
// deterministically, without a real RTI.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Call records one method invocation on a FakeBus.
type Call struct {
	Op     string // method name, e.g. "RequestTimeAdvance"
	Label  string
	Time   int64
	Handle bus.Handle
	Class  bus.ObjectClass
	Name   string // interaction name
	Values bus.Values
}

// Script decides which notifications a call produces. They are queued and
// delivered by the next Evoke.
type Script func(c Call) []bus.Notification

// FakeBus is a bus.Bus whose responses come from a Script.
//
// When Clock is set, an Evoke that finds nothing queued advances it by the
// timeout, as a real bus would spend that long waiting.
type FakeBus struct {
	Script Script
	Clock  *clock.Mock
	// Fail makes the named operation return the given error.
	Fail map[string]error

	mu         sync.Mutex
	name       string
	queue      []bus.Notification
	calls      []Call
	nextHandle bus.Handle
	evokes     int
}

var _ bus.Bus = (*FakeBus)(nil)

// NewFakeBus creates a FakeBus named name driven by script (nil: no responses).
func NewFakeBus(name string, script Script) *FakeBus {
	return &FakeBus{name: name, Script: script}
}

// SoloScript answers like an RTI with a single member: registration is
// followed by announcement, achievement by synchronization, and every time
// request is granted at once.
func SoloScript(c Call) []bus.Notification {
	switch c.Op {
	case "RegisterSyncPoint":
		return []bus.Notification{
			{Kind: bus.KindSyncRegistered, Label: c.Label},
			{Kind: bus.KindSyncAnnounced, Label: c.Label},
		}
	case "AchieveSyncPoint":
		return []bus.Notification{{Kind: bus.KindSynchronized, Label: c.Label}}
	case "RequestTimeAdvance":
		return []bus.Notification{{Kind: bus.KindTimeAdvanceGrant, Time: c.Time}}
	}
	return nil
}

// Push queues notifications for the next Evoke.
func (f *FakeBus) Push(ns ...bus.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, ns...)
}

// Calls returns a copy of every recorded call.
func (f *FakeBus) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of one operation.
func (f *FakeBus) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Evokes returns how many times Evoke was called.
func (f *FakeBus) Evokes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evokes
}

func (f *FakeBus) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if err := f.Fail[c.Op]; err != nil {
		return err
	}
	if f.Script != nil {
		f.queue = append(f.queue, f.Script(c)...)
	}
	return nil
}

func (f *FakeBus) Name() string { return f.name }

func (f *FakeBus) RegisterSyncPoint(label string) error {
	return f.record(Call{Op: "RegisterSyncPoint", Label: label})
}

func (f *FakeBus) AchieveSyncPoint(label string) error {
	return f.record(Call{Op: "AchieveSyncPoint", Label: label})
}

func (f *FakeBus) SubscribeObjectClass(class bus.ObjectClass) error {
	return f.record(Call{Op: "SubscribeObjectClass", Class: class})
}

func (f *FakeBus) SubscribeInteraction(name string) error {
	return f.record(Call{Op: "SubscribeInteraction", Name: name})
}

func (f *FakeBus) RegisterObject(class bus.ObjectClass) (bus.Handle, error) {
	f.mu.Lock()
	f.nextHandle++
	h := f.nextHandle
	f.mu.Unlock()
	if err := f.record(Call{Op: "RegisterObject", Class: class, Handle: h}); err != nil {
		return 0, err
	}
	return h, nil
}

func (f *FakeBus) UpdateAttributes(h bus.Handle, values bus.Values) error {
	return f.record(Call{Op: "UpdateAttributes", Handle: h, Values: values.Clone()})
}

func (f *FakeBus) DeleteObject(h bus.Handle) error {
	return f.record(Call{Op: "DeleteObject", Handle: h})
}

func (f *FakeBus) SendInteraction(name string, values bus.Values) error {
	return f.record(Call{Op: "SendInteraction", Name: name, Values: values.Clone()})
}

func (f *FakeBus) RequestTimeAdvance(t int64) error {
	return f.record(Call{Op: "RequestTimeAdvance", Time: t})
}

func (f *FakeBus) Evoke(ctx context.Context, timeout time.Duration, sink func(bus.Notification)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.evokes++
	batch := f.queue
	f.queue = nil
	if err := f.Fail["Evoke"]; err != nil {
		f.mu.Unlock()
		return 0, err
	}
	f.mu.Unlock()
	if len(batch) == 0 && timeout > 0 && f.Clock != nil {
		f.Clock.Add(timeout)
	}
	for _, n := range batch {
		sink(n)
	}
	return len(batch), nil
}

func (f *FakeBus) Resign(_ context.Context) error {
	return f.record(Call{Op: "Resign"})
}
