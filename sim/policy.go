package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// === Queue selection ===

// QueueSelector picks the queue a ready shopper joins.
// Used by the client role once per ready shopper, in arrival order.
type QueueSelector interface {
	// Select returns the index of the chosen candidate, or false when no
	// candidate has room (the shopper keeps shopping and retries next tick).
	Select(candidates []QueueCandidate) (int, bool)
}

// MinOccupancy joins the least-occupied queue with room. Ties go to the lowest queue id.
type MinOccupancy struct{}

func (MinOccupancy) Select(candidates []QueueCandidate) (int, bool) {
	best := -1
	for i, c := range candidates {
		if !c.HasRoom() {
			continue
		}
		if best < 0 ||
			c.CurrentSize < candidates[best].CurrentSize ||
			(c.CurrentSize == candidates[best].CurrentSize && c.QueueID < candidates[best].QueueID) {
			best = i
		}
	}
	return best, best >= 0
}

// FirstFound joins the first queue with room, in candidate order.
type FirstFound struct{}

func (FirstFound) Select(candidates []QueueCandidate) (int, bool) {
	for i, c := range candidates {
		if c.HasRoom() {
			return i, true
		}
	}
	return -1, false
}

// ValidQueueSelectors is the set of recognized queue selector names.
var ValidQueueSelectors = map[string]bool{"": true, "min-occupancy": true, "first-found": true}

// IsValidQueueSelector returns true if name is a recognized queue selector.
func IsValidQueueSelector(name string) bool {
	return ValidQueueSelectors[name]
}

// NewQueueSelector creates a queue selector by name.
// An empty string defaults to min-occupancy. Panics on unrecognized names.
func NewQueueSelector(name string) QueueSelector {
	if !IsValidQueueSelector(name) {
		panic(fmt.Sprintf("unknown queue selector %q", name))
	}
	switch name {
	case "", "min-occupancy":
		return MinOccupancy{}
	case "first-found":
		return FirstFound{}
	default:
		panic(fmt.Sprintf("unhandled queue selector %q", name))
	}
}

// === Lane open/close ===

// LaneActionKind tags a lane decision.
type LaneActionKind int

const (
	LaneOpen LaneActionKind = iota + 1
	LaneClose
)

func (k LaneActionKind) String() string {
	switch k {
	case LaneOpen:
		return "open"
	case LaneClose:
		return "close"
	default:
		return fmt.Sprintf("lane-action(%d)", int(k))
	}
}

// LaneAction is one open or close decision.
type LaneAction struct {
	Kind       LaneActionKind
	CheckoutID int
	Reopen     bool // opening a lane that already exists
	Capacity   int  // capacity gained (open) or given up (close)
	Reason     string
}

// Event returns the interaction that carries out the action.
func (a LaneAction) Event() Event {
	if a.Kind == LaneClose {
		return CloseCheckout(a.CheckoutID)
	}
	return OpenCheckout(a.CheckoutID)
}

type pendingEntry struct {
	since    int64
	capacity int
}

// PendingLanes tracks lane actions sent but not yet visible in the directory,
// so the manager does not repeat them while the owners' updates are in flight.
//
// Thread-safety: NOT thread-safe. Owned by the manager's step loop.
type PendingLanes struct {
	ttl    int64
	opens  map[int]pendingEntry
	closes map[int]pendingEntry
}

// NewPendingLanes creates a tracker whose entries expire after ttl ticks.
func NewPendingLanes(ttl int64) *PendingLanes {
	return &PendingLanes{
		ttl:    max(ttl, 1),
		opens:  make(map[int]pendingEntry),
		closes: make(map[int]pendingEntry),
	}
}

// Record remembers an action sent at now.
func (p *PendingLanes) Record(a LaneAction, now int64) {
	e := pendingEntry{since: now, capacity: a.Capacity}
	if a.Kind == LaneClose {
		delete(p.opens, a.CheckoutID)
		p.closes[a.CheckoutID] = e
	} else {
		delete(p.closes, a.CheckoutID)
		p.opens[a.CheckoutID] = e
	}
}

// Resolve drops entries the snapshot confirms and entries older than the ttl.
func (p *PendingLanes) Resolve(s *Snapshot) {
	for id, e := range p.opens {
		lane, ok := s.Lane(id)
		q, qok := s.Queue(lane.QueueID)
		switch {
		case ok && lane.Open && qok && q.MaxSize > 0:
			delete(p.opens, id)
		case s.Clock-e.since >= p.ttl:
			logrus.Warnf("[policy] open of checkout %d unconfirmed after %d ticks, forgetting", id, s.Clock-e.since)
			delete(p.opens, id)
		}
	}
	for id, e := range p.closes {
		lane, ok := s.Lane(id)
		switch {
		case ok && !lane.Open:
			delete(p.closes, id)
		case s.Clock-e.since >= p.ttl:
			logrus.Warnf("[policy] close of checkout %d unconfirmed after %d ticks, forgetting", id, s.Clock-e.since)
			delete(p.closes, id)
		}
	}
}

// Opening reports whether an open of the checkout is in flight.
func (p *PendingLanes) Opening(id int) bool { _, ok := p.opens[id]; return ok }

// Closing reports whether a close of the checkout is in flight.
func (p *PendingLanes) Closing(id int) bool { _, ok := p.closes[id]; return ok }

// Len returns the number of in-flight actions.
func (p *PendingLanes) Len() int { return len(p.opens) + len(p.closes) }

// LanePolicy decides which lanes to open or close this tick.
type LanePolicy interface {
	// Plan reads the snapshot and in-flight actions and returns new actions.
	// Fresh checkout ids come from ids.
	Plan(s *Snapshot, pending *PendingLanes, ids *IDAllocator) []LaneAction
}

// ThresholdLanes compares S (open capacity) with N (unserviced shoppers).
//
// S < N, or fewer open lanes than MinOpenLanes: open lanes, reopening closed
// ones (lowest id first) before allocating a new id. New ids are bounded by
// MaxLanes; at most MaxOpensPerTick opens per tick.
//
// S - N > CloseMargin: close the highest-id open lane whose queue is empty,
// provided S stays >= N and open lanes stay >= MinOpenLanes. At most one close
// per tick, and never in a tick that opened a lane.
type ThresholdLanes struct {
	cfg             PolicyConfig
	defaultCapacity int
	allowClose      bool
}

func (t *ThresholdLanes) Plan(s *Snapshot, pending *PendingLanes, ids *IDAllocator) []LaneAction {
	for _, l := range s.Lanes {
		ids.Observe(l.ID)
	}
	capacityOf := func(queueID int) int {
		if q, ok := s.Queue(queueID); ok && q.OriginalMaxSize > 0 {
			return q.OriginalMaxSize
		}
		return t.defaultCapacity
	}

	supply := s.OpenCapacity()
	openLanes := s.OpenLanes()
	knownLanes := len(s.Lanes)
	for id, e := range pending.opens {
		if lane, ok := s.Lane(id); ok && lane.Open {
			continue // already counted
		} else if !ok {
			knownLanes++
		}
		supply += e.capacity
		openLanes++
	}
	for id := range pending.closes {
		if lane, ok := s.Lane(id); ok && lane.Open {
			if q, ok := s.Queue(lane.QueueID); ok {
				supply -= q.MaxSize
			}
			openLanes--
		}
	}
	demand := s.Unserviced()

	var closed []CheckoutLane
	for _, l := range s.Lanes {
		if !l.Open && !pending.Opening(l.ID) {
			closed = append(closed, l)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })

	var actions []LaneAction
	for (supply < demand || openLanes < t.cfg.MinOpenLanes) && len(actions) < t.cfg.MaxOpensPerTick {
		var a LaneAction
		switch {
		case len(closed) > 0:
			lane := closed[0]
			closed = closed[1:]
			a = LaneAction{Kind: LaneOpen, CheckoutID: lane.ID, Reopen: true, Capacity: capacityOf(lane.QueueID)}
		case t.cfg.MaxLanes == 0 || knownLanes < t.cfg.MaxLanes:
			a = LaneAction{Kind: LaneOpen, CheckoutID: ids.Next(), Capacity: t.defaultCapacity}
			knownLanes++
		default:
			logrus.Debugf("[policy] S=%d < N=%d but lane limit %d reached", supply, demand, t.cfg.MaxLanes)
		}
		if a.Kind == 0 {
			break
		}
		a.Reason = fmt.Sprintf("S=%d N=%d open=%d", supply, demand, openLanes)
		supply += a.Capacity
		openLanes++
		actions = append(actions, a)
	}
	if len(actions) > 0 || !t.allowClose {
		return actions
	}

	if supply-demand <= t.cfg.CloseMargin || openLanes <= t.cfg.MinOpenLanes {
		return nil
	}
	for i := len(s.Lanes) - 1; i >= 0; i-- {
		lane := s.Lanes[i]
		if !lane.Open || pending.Closing(lane.ID) || pending.Opening(lane.ID) {
			continue
		}
		q, ok := s.Queue(lane.QueueID)
		if !ok || q.CurrentSize != 0 || len(q.Line) != 0 {
			continue
		}
		if supply-q.MaxSize < demand {
			continue
		}
		return []LaneAction{{
			Kind:       LaneClose,
			CheckoutID: lane.ID,
			Capacity:   q.MaxSize,
			Reason:     fmt.Sprintf("S=%d N=%d margin=%d", supply, demand, t.cfg.CloseMargin),
		}}
	}
	return nil
}

// ValidLanePolicies is the set of recognized lane policy names.
var ValidLanePolicies = map[string]bool{"": true, "threshold": true, "never-close": true}

// IsValidLanePolicy returns true if name is a recognized lane policy.
func IsValidLanePolicy(name string) bool {
	return ValidLanePolicies[name]
}

// NewLanePolicy creates a lane policy by name. New queues are assumed to get
// defaultCapacity. An empty string defaults to threshold. Panics on
// unrecognized names.
func NewLanePolicy(name string, cfg PolicyConfig, defaultCapacity int) LanePolicy {
	if !IsValidLanePolicy(name) {
		panic(fmt.Sprintf("unknown lane policy %q", name))
	}
	cfg.MaxOpensPerTick = max(cfg.MaxOpensPerTick, 1)
	switch name {
	case "", "threshold":
		return &ThresholdLanes{cfg: cfg, defaultCapacity: defaultCapacity, allowClose: true}
	case "never-close":
		return &ThresholdLanes{cfg: cfg, defaultCapacity: defaultCapacity}
	default:
		panic(fmt.Sprintf("unhandled lane policy %q", name))
	}
}
