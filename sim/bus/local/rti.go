// Package local implements the Shared Bus in memory. One RTI hosts any number of
// federations; each joined participant gets a Session with its own FIFO callback
// queue. Sessions may be pumped from different goroutines.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// RTI is the in-memory runtime infrastructure. It implements bus.Connector.
type RTI struct {
	mu           sync.Mutex
	clk          clock.Clock
	minFederates int
	federations  map[string]*federation
}

// NewRTI creates an RTI. Synchronization points are not announced until at
// least minFederates participants have joined the federation (values < 1 mean 1).
// A nil clock defaults to the wall clock.
func NewRTI(clk clock.Clock, minFederates int) *RTI {
	if clk == nil {
		clk = clock.New()
	}
	return &RTI{
		clk:          clk,
		minFederates: max(minFederates, 1),
		federations:  make(map[string]*federation),
	}
}

var _ bus.Connector = (*RTI)(nil)

type federation struct {
	name       string
	members    []*Session // join order; resigned sessions are removed
	objects    map[bus.Handle]*object
	nextHandle bus.Handle
	syncPoints map[string]*syncPoint
	now        int64 // last granted time
}

type object struct {
	handle bus.Handle
	class  bus.ObjectClass
	owner  *Session
	values bus.Values
}

type syncPoint struct {
	label     string
	announced bool
	achieved  map[*Session]bool // membership fixed at announcement
}

// CreateFederation implements bus.Connector.
func (r *RTI) CreateFederation(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.federations[name]; ok {
		return fmt.Errorf("create %q: %w", name, bus.ErrFederationExists)
	}
	r.federations[name] = &federation{
		name:       name,
		objects:    make(map[bus.Handle]*object),
		syncPoints: make(map[string]*syncPoint),
	}
	logrus.Debugf("[rti] created federation %q", name)
	return nil
}

// DestroyFederation implements bus.Connector.
func (r *RTI) DestroyFederation(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fed, ok := r.federations[name]
	if !ok {
		return fmt.Errorf("destroy %q: %w", name, bus.ErrFederationNotFound)
	}
	if len(fed.members) > 0 {
		return fmt.Errorf("destroy %q (%d joined): %w", name, len(fed.members), bus.ErrFederatesJoined)
	}
	delete(r.federations, name)
	logrus.Debugf("[rti] destroyed federation %q", name)
	return nil
}

// Join implements bus.Connector.
func (r *RTI) Join(_ context.Context, federationName, participant string) (bus.Bus, error) {
	return r.JoinSession(federationName, participant)
}

// JoinSession is Join returning the concrete session type.
func (r *RTI) JoinSession(federationName, participant string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fed, ok := r.federations[federationName]
	if !ok {
		return nil, fmt.Errorf("join %q: %w", federationName, bus.ErrFederationNotFound)
	}
	for _, m := range fed.members {
		if m.name == participant {
			return nil, fmt.Errorf("join %q as %q: %w", federationName, participant, bus.ErrNameInUse)
		}
	}
	s := &Session{
		rti:          r,
		fed:          fed,
		name:         participant,
		wake:         make(chan struct{}, 1),
		classes:      make(map[bus.ObjectClass]bool),
		interactions: make(map[string]bool),
		now:          fed.now,
	}
	fed.members = append(fed.members, s)
	logrus.Debugf("[rti] %q joined %q (%d members)", participant, federationName, len(fed.members))

	for _, sp := range fed.syncPoints {
		if sp.announced {
			sp.achieved[s] = false
			s.enqueue(bus.Notification{Kind: bus.KindSyncAnnounced, Label: sp.label})
		}
	}
	r.announceReadyLocked(fed)
	return s, nil
}

// announceReadyLocked announces every pending sync point once enough members joined.
func (r *RTI) announceReadyLocked(fed *federation) {
	if len(fed.members) < r.minFederates {
		return
	}
	for _, sp := range fed.syncPoints {
		if sp.announced {
			continue
		}
		sp.announced = true
		sp.achieved = make(map[*Session]bool, len(fed.members))
		for _, m := range fed.members {
			sp.achieved[m] = false
			m.enqueue(bus.Notification{Kind: bus.KindSyncAnnounced, Label: sp.label})
		}
	}
}

// synchronizeLocked completes sync points every member has achieved.
func (r *RTI) synchronizeLocked(fed *federation) {
	for label, sp := range fed.syncPoints {
		if !sp.announced || len(sp.achieved) == 0 {
			continue
		}
		done := true
		for _, ok := range sp.achieved {
			if !ok {
				done = false
				break
			}
		}
		if !done {
			continue
		}
		for _, m := range fed.members {
			if _, member := sp.achieved[m]; member {
				m.enqueue(bus.Notification{Kind: bus.KindSynchronized, Label: label})
			}
		}
		delete(fed.syncPoints, label)
	}
}

// grantLocked grants the smallest pending request once every member is waiting.
// Grants are queued behind any notification already queued, so a granted
// participant has seen everything sent before its grant.
func (r *RTI) grantLocked(fed *federation) {
	if len(fed.members) == 0 {
		return
	}
	least := int64(-1)
	for _, m := range fed.members {
		if !m.advancing {
			return
		}
		if least < 0 || m.requested < least {
			least = m.requested
		}
	}
	for _, m := range fed.members {
		if m.requested == least {
			m.advancing = false
			m.now = least
			m.enqueue(bus.Notification{Kind: bus.KindTimeAdvanceGrant, Time: least})
		}
	}
	fed.now = least
}
