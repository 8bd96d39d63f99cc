package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/bus/local"
)

const (
	writeWait = 10 * time.Second
	// pumpInterval bounds how long a notification pump blocks in Evoke before
	// rechecking whether its connection is still alive.
	pumpInterval = 250 * time.Millisecond
)

// Server is an http.Handler serving the bus over websockets. Each connection
// may create or destroy federations and join at most one. When a joined
// connection drops without resigning, the server resigns for it so the
// remaining participants are not held at the next time grant.
type Server struct {
	rti      *local.RTI
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	wg sync.WaitGroup
}

// NewServer serves rti.
func NewServer(rti *local.RTI) *Server {
	return &Server{
		rti: rti,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logrus.WithField("component", "wsbus"),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	c := &conn{server: s, ws: ws, log: s.log.WithField("remote", r.RemoteAddr)}
	c.serve(r.Context())
}

// Wait blocks until every connection has been torn down.
func (s *Server) Wait() {
	s.wg.Wait()
}

type conn struct {
	server *Server
	ws     *websocket.Conn
	log    logrus.FieldLogger

	writeMu sync.Mutex

	session  *local.Session
	resigned bool
	stopPump context.CancelFunc
	pumpDone chan struct{}
}

func (c *conn) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *conn) serve(ctx context.Context) {
	defer c.close()
	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugf("read: %v", err)
			}
			return
		}
		resp := c.handle(ctx, req)
		if err := c.write(resp); err != nil {
			c.log.Warnf("write response to %s: %v", req.Op, err)
			return
		}
	}
}

func (c *conn) handle(ctx context.Context, req Request) Frame {
	rti := c.server.rti
	switch req.Op {
	case OpCreate:
		return responseFor(req, rti.CreateFederation(ctx, req.Federation))
	case OpDestroy:
		return responseFor(req, rti.DestroyFederation(ctx, req.Federation))
	case OpJoin:
		if c.session != nil {
			return responseFor(req, fmt.Errorf("connection already joined as %q: %w", c.session.Name(), bus.ErrNameInUse))
		}
		sess, err := rti.JoinSession(req.Federation, req.Participant)
		if err != nil {
			return responseFor(req, err)
		}
		c.session = sess
		c.log = c.log.WithField("participant", req.Participant)
		c.startPump()
		return responseFor(req, nil)
	}

	if c.session == nil {
		return responseFor(req, fmt.Errorf("%s before join: %w", req.Op, bus.ErrNotJoined))
	}
	sess := c.session
	switch req.Op {
	case OpRegisterSync:
		return responseFor(req, sess.RegisterSyncPoint(req.Label))
	case OpAchieveSync:
		return responseFor(req, sess.AchieveSyncPoint(req.Label))
	case OpSubscribeClass:
		return responseFor(req, sess.SubscribeObjectClass(req.Class))
	case OpSubscribeInteraction:
		return responseFor(req, sess.SubscribeInteraction(req.Name))
	case OpRegisterObject:
		h, err := sess.RegisterObject(req.Class)
		f := responseFor(req, err)
		f.Handle = h
		return f
	case OpUpdate:
		return responseFor(req, sess.UpdateAttributes(req.Handle, req.Values))
	case OpDelete:
		return responseFor(req, sess.DeleteObject(req.Handle))
	case OpSend:
		return responseFor(req, sess.SendInteraction(req.Name, req.Values))
	case OpAdvance:
		return responseFor(req, sess.RequestTimeAdvance(req.Time))
	case OpResign:
		err := sess.Resign(ctx)
		if err == nil {
			c.resigned = true
		}
		return responseFor(req, err)
	default:
		return responseFor(req, fmt.Errorf("unknown op %q", req.Op))
	}
}

// startPump forwards the session's notifications in order until the session
// is resigned or the connection closes.
func (c *conn) startPump() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopPump = cancel
	c.pumpDone = make(chan struct{})
	sess := c.session
	go func() {
		defer close(c.pumpDone)
		for {
			var werr error
			_, err := sess.Evoke(ctx, pumpInterval, func(n bus.Notification) {
				if werr != nil {
					return
				}
				werr = c.write(Frame{Type: FrameNotification, Notification: &n})
			})
			switch {
			case werr != nil:
				c.log.Debugf("pump write: %v", werr)
				return
			case errors.Is(err, bus.ErrNotJoined), errors.Is(err, context.Canceled):
				return
			case err != nil:
				c.log.Warnf("pump: %v", err)
				return
			}
		}
	}()
}

func (c *conn) close() {
	if c.session != nil && !c.resigned {
		c.log.Warnf("connection lost without resign; resigning %q", c.session.Name())
		if err := c.session.Resign(context.Background()); err != nil {
			c.log.Warnf("resign: %v", err)
		}
	}
	if c.stopPump != nil {
		c.stopPump()
		<-c.pumpDone
	}
	_ = c.ws.Close()
}
