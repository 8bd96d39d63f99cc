// Package bus defines the Shared Bus contract that participants use to exchange
// entity state and events, rendezvous at synchronization points, and advance a
// shared logical clock.
//
// Two implementations live in sub-packages:
//   - sim/bus/local: an in-memory RTI for single-process runs and tests
//   - sim/bus/wsbus: a websocket transport that exposes a local RTI to remote participants
//
// Callbacks are never pushed into participant code. A participant pumps its
// session with Evoke, which hands every queued Notification to a sink in the
// order the bus received it.
package bus

import (
	"context"
	"fmt"
	"time"
)

// Handle is an opaque object instance handle assigned by the bus.
type Handle uint64

// ObjectClass names a class of shared entities.
type ObjectClass string

// Connector creates, joins, and destroys federations.
type Connector interface {
	// CreateFederation creates a named federation. Returns ErrFederationExists if
	// another participant already created it; callers treat that as success.
	CreateFederation(ctx context.Context, name string) error

	// Join joins a federation under a unique participant name.
	Join(ctx context.Context, federation, participant string) (Bus, error)

	// DestroyFederation removes an empty federation. Returns ErrFederatesJoined
	// while participants remain, ErrFederationNotFound if it is already gone.
	DestroyFederation(ctx context.Context, name string) error
}

// Bus is one participant's joined session.
type Bus interface {
	// Name returns the participant name used at join.
	Name() string

	RegisterSyncPoint(label string) error
	AchieveSyncPoint(label string) error

	SubscribeObjectClass(class ObjectClass) error
	SubscribeInteraction(name string) error

	// RegisterObject registers a new object instance owned by this participant.
	RegisterObject(class ObjectClass) (Handle, error)
	// UpdateAttributes merges values into an owned object and reflects them to subscribers.
	UpdateAttributes(h Handle, values Values) error
	// DeleteObject removes an owned object.
	DeleteObject(h Handle) error

	// SendInteraction publishes a one-shot event to every subscriber except the sender.
	SendInteraction(name string, values Values) error

	// RequestTimeAdvance asks to advance to logical time t. The grant arrives
	// later as a KindTimeAdvanceGrant notification.
	RequestTimeAdvance(t int64) error

	// Evoke waits up to timeout for at least one notification, then delivers
	// every queued notification to sink in arrival order. A zero timeout never
	// waits. Returns the number of notifications delivered.
	Evoke(ctx context.Context, timeout time.Duration, sink func(Notification)) (int, error)

	// Resign leaves the federation and deletes every object this participant owns.
	Resign(ctx context.Context) error
}

// Kind tags the variant carried by a Notification.
type Kind int

const (
	KindSyncRegistered Kind = iota + 1
	KindSyncRegistrationFailed
	KindSyncAnnounced
	KindSynchronized
	KindTimeAdvanceGrant
	KindDiscover
	KindReflect
	KindInteraction
	KindRemove
)

var kindNames = map[Kind]string{
	KindSyncRegistered:         "sync-registered",
	KindSyncRegistrationFailed: "sync-registration-failed",
	KindSyncAnnounced:          "sync-announced",
	KindSynchronized:           "synchronized",
	KindTimeAdvanceGrant:       "time-advance-grant",
	KindDiscover:               "discover",
	KindReflect:                "reflect",
	KindInteraction:            "interaction",
	KindRemove:                 "remove",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Notification is a single callback from the bus. Which fields are set depends on Kind:
//   - sync kinds: Label (and Reason for registration failures)
//   - KindTimeAdvanceGrant: Time
//   - KindDiscover: Handle, Class
//   - KindReflect: Handle, Class, Values, Time
//   - KindInteraction: Interaction, Values, Time, MessageID, Sender
//   - KindRemove: Handle, Class
type Notification struct {
	Kind        Kind        `json:"kind"`
	Label       string      `json:"label,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Time        int64       `json:"time,omitempty"`
	Handle      Handle      `json:"handle,omitempty"`
	Class       ObjectClass `json:"class,omitempty"`
	Interaction string      `json:"interaction,omitempty"`
	Values      Values      `json:"values,omitempty"`
	MessageID   string      `json:"message_id,omitempty"`
	Sender      string      `json:"sender,omitempty"`
}

func (n Notification) String() string {
	switch n.Kind {
	case KindSyncRegistered, KindSyncAnnounced, KindSynchronized:
		return fmt.Sprintf("%s(%s)", n.Kind, n.Label)
	case KindSyncRegistrationFailed:
		return fmt.Sprintf("%s(%s: %s)", n.Kind, n.Label, n.Reason)
	case KindTimeAdvanceGrant:
		return fmt.Sprintf("%s(%d)", n.Kind, n.Time)
	case KindDiscover, KindRemove:
		return fmt.Sprintf("%s(%s#%d)", n.Kind, n.Class, n.Handle)
	case KindReflect:
		return fmt.Sprintf("%s(%s#%d, %d attrs)", n.Kind, n.Class, n.Handle, len(n.Values))
	case KindInteraction:
		return fmt.Sprintf("%s(%s from %s)", n.Kind, n.Interaction, n.Sender)
	default:
		return n.Kind.String()
	}
}
