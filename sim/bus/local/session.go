package local

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Session is one participant's membership in a federation. It implements bus.Bus.
type Session struct {
	rti  *RTI
	fed  *federation
	name string

	resigned bool
	queue    []bus.Notification
	wake     chan struct{}

	classes      map[bus.ObjectClass]bool
	interactions map[string]bool

	now       int64
	requested int64
	advancing bool
}

var _ bus.Bus = (*Session)(nil)

func (s *Session) Name() string { return s.name }

// Now returns the last time granted to this session.
func (s *Session) Now() int64 {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	return s.now
}

// Pending returns how many notifications are queued and not yet evoked.
func (s *Session) Pending() int {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	return len(s.queue)
}

// enqueue must be called with rti.mu held.
func (s *Session) enqueue(n bus.Notification) {
	if s.resigned {
		return
	}
	s.queue = append(s.queue, n)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) checkJoinedLocked() error {
	if s.resigned {
		return fmt.Errorf("%s: %w", s.name, bus.ErrNotJoined)
	}
	return nil
}

func (s *Session) RegisterSyncPoint(label string) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	if _, exists := s.fed.syncPoints[label]; exists {
		s.enqueue(bus.Notification{Kind: bus.KindSyncRegistrationFailed, Label: label, Reason: "label not unique"})
		return nil
	}
	s.fed.syncPoints[label] = &syncPoint{label: label}
	s.enqueue(bus.Notification{Kind: bus.KindSyncRegistered, Label: label})
	s.rti.announceReadyLocked(s.fed)
	return nil
}

func (s *Session) AchieveSyncPoint(label string) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	sp, ok := s.fed.syncPoints[label]
	if !ok || !sp.announced {
		return fmt.Errorf("achieve %q: %w", label, bus.ErrUnknownSyncPoint)
	}
	if _, member := sp.achieved[s]; !member {
		return fmt.Errorf("achieve %q by %q: %w", label, s.name, bus.ErrUnknownSyncPoint)
	}
	sp.achieved[s] = true
	s.rti.synchronizeLocked(s.fed)
	return nil
}

func (s *Session) SubscribeObjectClass(class bus.ObjectClass) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	if s.classes[class] {
		return nil
	}
	s.classes[class] = true
	// Late subscribers discover what already exists, in handle order.
	for h := bus.Handle(1); h <= s.fed.nextHandle; h++ {
		obj, ok := s.fed.objects[h]
		if !ok || obj.class != class || obj.owner == s {
			continue
		}
		s.enqueue(bus.Notification{Kind: bus.KindDiscover, Handle: h, Class: class})
		if len(obj.values) > 0 {
			s.enqueue(bus.Notification{Kind: bus.KindReflect, Handle: h, Class: class, Values: obj.values.Clone(), Time: s.now})
		}
	}
	return nil
}

func (s *Session) SubscribeInteraction(name string) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	s.interactions[name] = true
	return nil
}

func (s *Session) RegisterObject(class bus.ObjectClass) (bus.Handle, error) {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return 0, err
	}
	s.fed.nextHandle++
	h := s.fed.nextHandle
	s.fed.objects[h] = &object{handle: h, class: class, owner: s, values: bus.NewValues()}
	for _, m := range s.fed.members {
		if m != s && m.classes[class] {
			m.enqueue(bus.Notification{Kind: bus.KindDiscover, Handle: h, Class: class})
		}
	}
	return h, nil
}

func (s *Session) ownedLocked(h bus.Handle) (*object, error) {
	obj, ok := s.fed.objects[h]
	if !ok {
		return nil, fmt.Errorf("object %d: %w", h, bus.ErrUnknownObject)
	}
	if obj.owner != s {
		return nil, fmt.Errorf("object %d owned by %q: %w", h, obj.owner.name, bus.ErrNotOwner)
	}
	return obj, nil
}

func (s *Session) UpdateAttributes(h bus.Handle, values bus.Values) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	obj, err := s.ownedLocked(h)
	if err != nil {
		return err
	}
	obj.values.Merge(values)
	for _, m := range s.fed.members {
		if m != s && m.classes[obj.class] {
			m.enqueue(bus.Notification{Kind: bus.KindReflect, Handle: h, Class: obj.class, Values: values.Clone(), Time: s.now})
		}
	}
	return nil
}

func (s *Session) DeleteObject(h bus.Handle) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	obj, err := s.ownedLocked(h)
	if err != nil {
		return err
	}
	s.deleteLocked(obj)
	return nil
}

func (s *Session) deleteLocked(obj *object) {
	delete(s.fed.objects, obj.handle)
	for _, m := range s.fed.members {
		if m != obj.owner && m.classes[obj.class] {
			m.enqueue(bus.Notification{Kind: bus.KindRemove, Handle: obj.handle, Class: obj.class})
		}
	}
}

func (s *Session) SendInteraction(name string, values bus.Values) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	id := uuid.NewString()
	for _, m := range s.fed.members {
		if m != s && m.interactions[name] {
			m.enqueue(bus.Notification{
				Kind:        bus.KindInteraction,
				Interaction: name,
				Values:      values.Clone(),
				Time:        s.now,
				MessageID:   id,
				Sender:      s.name,
			})
		}
	}
	return nil
}

func (s *Session) RequestTimeAdvance(t int64) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	if s.advancing {
		return fmt.Errorf("%s requesting %d: %w", s.name, t, bus.ErrAdvancePending)
	}
	if t <= s.now {
		return fmt.Errorf("%s requesting %d at %d: %w", s.name, t, s.now, bus.ErrTimeRegression)
	}
	s.advancing = true
	s.requested = t
	s.rti.grantLocked(s.fed)
	return nil
}

// Evoke implements bus.Bus.
func (s *Session) Evoke(ctx context.Context, timeout time.Duration, sink func(bus.Notification)) (int, error) {
	batch, err := s.take()
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 && timeout > 0 {
		timer := s.rti.clk.Timer(timeout)
		defer timer.Stop()
		select {
		case <-s.wake:
		case <-timer.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if batch, err = s.take(); err != nil {
			return 0, err
		}
	}
	for _, n := range batch {
		sink(n)
	}
	return len(batch), nil
}

func (s *Session) take() ([]bus.Notification, error) {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return nil, err
	}
	batch := s.queue
	s.queue = nil
	return batch, nil
}

// Resign implements bus.Bus. Owned objects are deleted and every pending
// rendezvous or time grant is re-evaluated without this participant.
func (s *Session) Resign(_ context.Context) error {
	s.rti.mu.Lock()
	defer s.rti.mu.Unlock()
	if err := s.checkJoinedLocked(); err != nil {
		return err
	}
	for h := bus.Handle(1); h <= s.fed.nextHandle; h++ {
		if obj, ok := s.fed.objects[h]; ok && obj.owner == s {
			s.deleteLocked(obj)
		}
	}
	members := s.fed.members[:0]
	for _, m := range s.fed.members {
		if m != s {
			members = append(members, m)
		}
	}
	s.fed.members = members
	for _, sp := range s.fed.syncPoints {
		delete(sp.achieved, s)
	}
	s.resigned = true
	s.queue = nil
	logrus.Debugf("[rti] %q resigned from %q (%d members)", s.name, s.fed.name, len(s.fed.members))

	s.rti.synchronizeLocked(s.fed)
	s.rti.grantLocked(s.fed)
	return nil
}
