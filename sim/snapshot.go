package sim

// Snapshot provides a participant's view of shared state to allocation policies.
// Built by Directory.Snapshot after the drain phase of each tick, so it reflects
// every arrival and departure observed so far this tick. It holds copies: policies
// may read it freely while the directory keeps changing.
//
// Entries are ordered by id. Only entities whose id attribute has been received
// appear here.
type Snapshot struct {
	Clock    int64 // logical time of the tick being decided
	Shoppers []Shopper
	Queues   []Queue
	Lanes    []CheckoutLane
}

// Queue returns the queue with the given id.
func (s *Snapshot) Queue(id int) (Queue, bool) {
	for _, q := range s.Queues {
		if q.ID == id {
			return q, true
		}
	}
	return Queue{}, false
}

// Lane returns the checkout lane with the given id.
func (s *Snapshot) Lane(id int) (CheckoutLane, bool) {
	for _, l := range s.Lanes {
		if l.ID == id {
			return l, true
		}
	}
	return CheckoutLane{}, false
}

// LaneForQueue returns the lane serving the given queue.
func (s *Snapshot) LaneForQueue(queueID int) (CheckoutLane, bool) {
	for _, l := range s.Lanes {
		if l.QueueID == queueID {
			return l, true
		}
	}
	return CheckoutLane{}, false
}

// OpenLanes counts lanes flagged open.
func (s *Snapshot) OpenLanes() int {
	n := 0
	for _, l := range s.Lanes {
		if l.Open {
			n++
		}
	}
	return n
}

// OpenCapacity is S: the summed capacity of queues behind open lanes. A queue
// whose lane has not been seen yet counts if it has capacity.
func (s *Snapshot) OpenCapacity() int {
	total := 0
	for _, q := range s.Queues {
		if l, ok := s.LaneForQueue(q.ID); ok && !l.Open {
			continue
		}
		total += q.MaxSize
	}
	return total
}

// Unserviced is N: shoppers still present, shopping or waiting. Serviced
// shoppers are removed from the directory.
func (s *Snapshot) Unserviced() int {
	return len(s.Shoppers)
}

// Waiting counts shoppers that have chosen a queue.
func (s *Snapshot) Waiting() int {
	n := 0
	for _, sh := range s.Shoppers {
		if sh.Waiting {
			n++
		}
	}
	return n
}

// QueueCandidate is a queue a shopper may join, as seen by the selector.
type QueueCandidate struct {
	QueueID     int
	CheckoutID  int
	CurrentSize int
	MaxSize     int
}

// HasRoom reports whether the candidate can take another shopper.
func (c QueueCandidate) HasRoom() bool { return c.CurrentSize < c.MaxSize }

// Candidates returns one candidate per open lane whose queue is known, ordered
// by queue id. Full queues are included; selectors skip them.
func (s *Snapshot) Candidates() []QueueCandidate {
	var out []QueueCandidate
	for _, q := range s.Queues {
		l, ok := s.LaneForQueue(q.ID)
		if !ok || !l.Open {
			continue
		}
		out = append(out, QueueCandidate{
			QueueID:     q.ID,
			CheckoutID:  l.ID,
			CurrentSize: q.CurrentSize,
			MaxSize:     q.MaxSize,
		})
	}
	return out
}
