// Package trace provides decision-trace recording for allocation policy analysis.
// It has no dependencies on sim/ and stores pure data types.
package trace

// CandidateLoad captures one queue a shopper could have joined.
type CandidateLoad struct {
	QueueID     int
	CurrentSize int
	MaxSize     int
}

// QueueChoiceRecord captures a single queue selection.
type QueueChoiceRecord struct {
	ClientID    int
	Clock       int64
	ChosenQueue int
	CheckoutID  int
	Privileged  bool
	Candidates  []CandidateLoad // every open queue at decision time, by queue id
	Imbalance   int             // chosen occupancy - least occupancy among candidates with room
}

// LaneRecord captures a single lane open or close decision.
type LaneRecord struct {
	Clock        int64
	CheckoutID   int
	Action       string // "open" or "close"
	Reopen       bool
	Capacity     int
	OpenCapacity int // S at decision time
	Unserviced   int // N at decision time
	Reason       string
}
