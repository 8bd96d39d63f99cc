// Package wsbus carries the Shared Bus over websockets. A Server exposes an
// in-memory RTI (sim/bus/local) at an HTTP endpoint; a Client dials it and
// implements bus.Connector, so remote participants run the same step loop as
// in-process ones.
//
// Every frame is a JSON text message. The client sends Requests; the server
// answers each with a response Frame carrying the same id, and pushes
// notification Frames whenever the participant's session has something queued.
package wsbus

import (
	"errors"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Operation names.
const (
	OpCreate               = "create"
	OpDestroy              = "destroy"
	OpJoin                 = "join"
	OpRegisterSync         = "register_sync"
	OpAchieveSync          = "achieve_sync"
	OpSubscribeClass       = "subscribe_class"
	OpSubscribeInteraction = "subscribe_interaction"
	OpRegisterObject       = "register_object"
	OpUpdate               = "update"
	OpDelete               = "delete"
	OpSend                 = "send"
	OpAdvance              = "advance"
	OpResign               = "resign"
)

// Frame types.
const (
	FrameResponse     = "response"
	FrameNotification = "notification"
)

// Request is a client-to-server frame.
type Request struct {
	ID          uint64          `json:"id"`
	Op          string          `json:"op"`
	Federation  string          `json:"federation,omitempty"`
	Participant string          `json:"participant,omitempty"`
	Label       string          `json:"label,omitempty"`
	Class       bus.ObjectClass `json:"class,omitempty"`
	Name        string          `json:"name,omitempty"`
	Handle      bus.Handle      `json:"handle,omitempty"`
	Values      bus.Values      `json:"values,omitempty"`
	Time        int64           `json:"time,omitempty"`
}

// Frame is a server-to-client frame: either the response to a Request or a
// pushed notification.
type Frame struct {
	Type         string            `json:"type"`
	ID           uint64            `json:"id,omitempty"`
	Error        string            `json:"error,omitempty"`
	Code         string            `json:"code,omitempty"`
	Handle       bus.Handle        `json:"handle,omitempty"`
	Notification *bus.Notification `json:"notification,omitempty"`
}

// RemoteError is an error returned by the server. It unwraps to the matching
// bus sentinel when the server sent a known code.
type RemoteError struct {
	Message  string
	Code     string
	sentinel error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.sentinel }

// ErrClosed is returned by calls on a session whose connection has gone away.
var ErrClosed = errors.New("wsbus: connection closed")

func responseFor(req Request, err error) Frame {
	f := Frame{Type: FrameResponse, ID: req.ID}
	if err != nil {
		f.Error = err.Error()
		f.Code = bus.ErrorCode(err)
	}
	return f
}

func (f Frame) err() error {
	if f.Error == "" && f.Code == "" {
		return nil
	}
	return &RemoteError{Message: f.Error, Code: f.Code, sentinel: bus.ErrorFromCode(f.Code)}
}
