package sim

import (
	"fmt"
	"slices"
)

// PrivilegeMode decides where a privileged shopper joins a line.
type PrivilegeMode string

const (
	// PrivilegeFront puts privileged joiners at the head (behind a shopper in service).
	PrivilegeFront PrivilegeMode = "front"
	// PrivilegeAfterPrivileged puts them behind privileged shoppers already waiting.
	PrivilegeAfterPrivileged PrivilegeMode = "after-privileged"
	// PrivilegeNone ignores the flag; the line is plain FIFO.
	PrivilegeNone PrivilegeMode = "none"
)

// ValidPrivilegeModes is the set of recognized privilege modes. Empty means front.
var ValidPrivilegeModes = map[string]bool{"": true, "front": true, "after-privileged": true, "none": true}

// IsValidPrivilegeMode returns true if name is a recognized privilege mode.
func IsValidPrivilegeMode(name string) bool {
	return ValidPrivilegeModes[name]
}

// LineRules decides line placement for a queue owner.
type LineRules struct {
	Mode PrivilegeMode
	// Privileged looks up a shopper's flag. Nil treats everyone as non-privileged.
	Privileged func(clientID int) bool
}

func (r LineRules) isPrivileged(clientID int) bool {
	return r.Privileged != nil && r.Privileged(clientID)
}

// position returns the index at which clientID joins q.Line.
func (r LineRules) position(q *Queue, privileged bool) int {
	if !privileged || r.Mode == PrivilegeNone {
		return len(q.Line)
	}
	start := 0
	if q.servingHead() {
		start = 1
	}
	if r.Mode == PrivilegeAfterPrivileged {
		for start < len(q.Line) && r.isPrivileged(q.Line[start]) {
			start++
		}
	}
	return start
}

// === Owner-side line operations ===
//
// These run only on the participant that owns the queue. Every operation is a
// no-op when replayed, so redelivered events leave the queue unchanged.

func (q *Queue) servingHead() bool {
	return q.hasService && len(q.Line) > 0 && q.Line[0] == q.inService
}

// Contains reports whether the shopper is admitted or waiting in overflow.
func (q *Queue) Contains(clientID int) bool {
	return slices.Contains(q.Line, clientID) || slices.Contains(q.Overflow, clientID)
}

// Join admits a shopper and increments occupancy. Capacity is not checked here:
// a join may overshoot until Reconcile runs at the end of the tick.
// Returns false if the shopper is already in this queue.
func (q *Queue) Join(clientID int, privileged bool, rules LineRules) bool {
	if q.Contains(clientID) {
		return false
	}
	q.Line = slices.Insert(q.Line, rules.position(q, privileged), clientID)
	q.CurrentSize++
	return true
}

// BeginService marks the shopper as being served, moving it to the head if a
// privileged joiner got in front since the checkout picked it.
// Returns false if the shopper is not admitted in this queue.
func (q *Queue) BeginService(clientID int) bool {
	i := slices.Index(q.Line, clientID)
	if i < 0 {
		return false
	}
	if i > 0 {
		q.Line = slices.Insert(slices.Delete(q.Line, i, i+1), 0, clientID)
	}
	q.inService, q.hasService = clientID, true
	return true
}

// InService returns the shopper currently being served, if any.
func (q *Queue) InService() (int, bool) {
	return q.inService, q.hasService
}

// Leave removes a served shopper and decrements occupancy. The shopper is
// normally the head. Returns false if it is not in this queue.
func (q *Queue) Leave(clientID int) bool {
	if q.hasService && q.inService == clientID {
		q.hasService = false
	}
	if i := slices.Index(q.Line, clientID); i >= 0 {
		q.Line = slices.Delete(q.Line, i, i+1)
		q.CurrentSize--
		return true
	}
	if i := slices.Index(q.Overflow, clientID); i >= 0 {
		q.Overflow = slices.Delete(q.Overflow, i, i+1)
		return true
	}
	return false
}

// Open restores the queue's original capacity, or defaultCapacity if it never
// had one. Returns false if it was already open.
func (q *Queue) Open(defaultCapacity int) bool {
	if !q.closed && q.MaxSize > 0 {
		return false
	}
	capacity := q.OriginalMaxSize
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	q.closed = false
	q.SetCapacity(capacity)
	return true
}

// Close forces capacity to 0. Occupancy is left alone: admitted shoppers are
// still served. Returns false if it was already closed.
func (q *Queue) Close() bool {
	if q.closed {
		return false
	}
	q.closed = true
	q.MaxSize = 0
	return true
}

// Closed reports whether the owner closed this queue.
func (q *Queue) Closed() bool { return q.closed }

// Reconcile restores 0 <= CurrentSize <= MaxSize at the end of a tick.
//
// Open queue over capacity: the newest non-privileged shoppers move to the
// overflow list, and come back in order as capacity frees. Closed queue:
// capacity follows occupancy down so the remaining line drains to 0.
// Returns true if anything published changed.
func (q *Queue) Reconcile(rules LineRules) bool {
	before := q.clone().(*Queue)

	if q.closed {
		if len(q.Overflow) > 0 {
			q.Line = append(q.Line, q.Overflow...)
			q.Overflow = nil
		}
		q.CurrentSize = len(q.Line)
		q.MaxSize = q.CurrentSize
	} else {
		for len(q.Line) > q.MaxSize {
			i := q.demotable(rules)
			if i < 0 {
				break
			}
			id := q.Line[i]
			q.Line = slices.Delete(q.Line, i, i+1)
			q.Overflow = slices.Insert(q.Overflow, 0, id)
		}
		for len(q.Line) < q.MaxSize && len(q.Overflow) > 0 {
			id := q.Overflow[0]
			q.Overflow = q.Overflow[1:]
			q.Line = slices.Insert(q.Line, rules.position(q, rules.isPrivileged(id)), id)
		}
		q.CurrentSize = len(q.Line)
	}

	return q.MaxSize != before.MaxSize ||
		q.CurrentSize != before.CurrentSize ||
		!slices.Equal(q.Line, before.Line)
}

// demotable picks the line position to move to overflow: the newest
// non-privileged shopper, else the newest privileged one. The shopper in
// service never moves. Returns -1 if nothing can move.
func (q *Queue) demotable(rules LineRules) int {
	fallback := -1
	for i := len(q.Line) - 1; i >= 0; i-- {
		if i == 0 && q.servingHead() {
			break
		}
		if !rules.isPrivileged(q.Line[i]) {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

// CheckInvariant returns an error if the end-of-tick capacity invariant fails.
func (q *Queue) CheckInvariant() error {
	if q.CurrentSize < 0 || q.CurrentSize > q.MaxSize {
		return fmt.Errorf("queue %d: currentSize %d outside [0, %d]", q.ID, q.CurrentSize, q.MaxSize)
	}
	return nil
}
