package wsbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// DefaultCallTimeout bounds a single request/response round trip.
const DefaultCallTimeout = 30 * time.Second

// Client dials a Server. It implements bus.Connector.
type Client struct {
	URL         string
	Dialer      *websocket.Dialer
	CallTimeout time.Duration
	Clock       clock.Clock // Evoke timers; defaults to the wall clock
}

var _ bus.Connector = (*Client)(nil)

// NewClient creates a client for a ws:// or wss:// endpoint.
func NewClient(url string) *Client {
	return &Client{URL: url}
}

func (c *Client) dial(ctx context.Context) (*Session, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.URL, err)
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := c.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	s := &Session{
		ws:      ws,
		clk:     clk,
		timeout: timeout,
		calls:   make(map[uint64]chan Frame),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// oneShot runs a single request on a fresh connection.
func (c *Client) oneShot(ctx context.Context, req Request) error {
	s, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	_, err = s.call(ctx, req)
	return err
}

// CreateFederation implements bus.Connector.
func (c *Client) CreateFederation(ctx context.Context, name string) error {
	return c.oneShot(ctx, Request{Op: OpCreate, Federation: name})
}

// DestroyFederation implements bus.Connector.
func (c *Client) DestroyFederation(ctx context.Context, name string) error {
	return c.oneShot(ctx, Request{Op: OpDestroy, Federation: name})
}

// Join implements bus.Connector. The returned session keeps its connection
// open until Resign.
func (c *Client) Join(ctx context.Context, federation, participant string) (bus.Bus, error) {
	s, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.call(ctx, Request{Op: OpJoin, Federation: federation, Participant: participant}); err != nil {
		s.close()
		return nil, err
	}
	s.name = participant
	return s, nil
}

// Session is a joined participant on a remote bus. It implements bus.Bus.
// A background reader files responses with their callers and appends pushed
// notifications to a local queue drained by Evoke.
type Session struct {
	ws      *websocket.Conn
	clk     clock.Clock
	timeout time.Duration
	name    string

	writeMu sync.Mutex

	mu     sync.Mutex
	nextID uint64
	calls  map[uint64]chan Frame
	queue  []bus.Notification
	err    error

	wake chan struct{}
	done chan struct{}
}

var _ bus.Bus = (*Session)(nil)

func (s *Session) Name() string { return s.name }

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		var f Frame
		if err := s.ws.ReadJSON(&f); err != nil {
			s.mu.Lock()
			s.err = fmt.Errorf("%w: %v", ErrClosed, err)
			s.mu.Unlock()
			return
		}
		switch f.Type {
		case FrameNotification:
			if f.Notification == nil {
				continue
			}
			s.mu.Lock()
			s.queue = append(s.queue, *f.Notification)
			s.mu.Unlock()
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case FrameResponse:
			s.mu.Lock()
			ch, ok := s.calls[f.ID]
			delete(s.calls, f.ID)
			s.mu.Unlock()
			if ok {
				ch <- f
			}
		default:
			logrus.Debugf("[wsbus] ignoring frame type %q", f.Type)
		}
	}
}

func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrClosed
}

func (s *Session) call(ctx context.Context, req Request) (Frame, error) {
	ch := make(chan Frame, 1)
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return Frame{}, err
	}
	s.nextID++
	req.ID = s.nextID
	s.calls[req.ID] = ch
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.calls, req.ID)
		s.mu.Unlock()
	}

	s.writeMu.Lock()
	err := s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err == nil {
		err = s.ws.WriteJSON(req)
	}
	s.writeMu.Unlock()
	if err != nil {
		forget()
		return Frame{}, fmt.Errorf("%s: %w", req.Op, err)
	}

	select {
	case f := <-ch:
		return f, f.err()
	case <-s.done:
		forget()
		return Frame{}, s.closedErr()
	case <-ctx.Done():
		forget()
		return Frame{}, ctx.Err()
	}
}

func (s *Session) do(req Request) (Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.call(ctx, req)
}

func (s *Session) RegisterSyncPoint(label string) error {
	_, err := s.do(Request{Op: OpRegisterSync, Label: label})
	return err
}

func (s *Session) AchieveSyncPoint(label string) error {
	_, err := s.do(Request{Op: OpAchieveSync, Label: label})
	return err
}

func (s *Session) SubscribeObjectClass(class bus.ObjectClass) error {
	_, err := s.do(Request{Op: OpSubscribeClass, Class: class})
	return err
}

func (s *Session) SubscribeInteraction(name string) error {
	_, err := s.do(Request{Op: OpSubscribeInteraction, Name: name})
	return err
}

func (s *Session) RegisterObject(class bus.ObjectClass) (bus.Handle, error) {
	f, err := s.do(Request{Op: OpRegisterObject, Class: class})
	if err != nil {
		return 0, err
	}
	return f.Handle, nil
}

func (s *Session) UpdateAttributes(h bus.Handle, values bus.Values) error {
	_, err := s.do(Request{Op: OpUpdate, Handle: h, Values: values})
	return err
}

func (s *Session) DeleteObject(h bus.Handle) error {
	_, err := s.do(Request{Op: OpDelete, Handle: h})
	return err
}

func (s *Session) SendInteraction(name string, values bus.Values) error {
	_, err := s.do(Request{Op: OpSend, Name: name, Values: values})
	return err
}

func (s *Session) RequestTimeAdvance(t int64) error {
	_, err := s.do(Request{Op: OpAdvance, Time: t})
	return err
}

// Evoke implements bus.Bus with the same semantics as the in-memory session.
func (s *Session) Evoke(ctx context.Context, timeout time.Duration, sink func(bus.Notification)) (int, error) {
	batch, err := s.take()
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 && timeout > 0 {
		timer := s.clk.Timer(timeout)
		defer timer.Stop()
		select {
		case <-s.wake:
		case <-timer.C:
		case <-s.done:
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

// take returns queued notifications. Once the connection is gone and the
// queue is empty it returns the connection error.
func (s *Session) take() ([]bus.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	if len(batch) == 0 && s.err != nil {
		return nil, s.err
	}
	return batch, nil
}

// Resign implements bus.Bus and closes the connection.
func (s *Session) Resign(ctx context.Context) error {
	_, err := s.call(ctx, Request{Op: OpResign})
	s.close()
	return err
}

func (s *Session) close() {
	s.writeMu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	_ = s.ws.Close()
	<-s.done
}
