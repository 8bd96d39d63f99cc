package sim

import (
	"errors"
	"fmt"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Event names as they appear on the bus.
const (
	EventOpenCheckout  = "OpenCheckout"
	EventCloseCheckout = "CloseCheckout"
	EventChooseQueue   = "ChooseQueue"
	EventStartService  = "StartService"
	EventEndService    = "EndService"
	EventEndSimulation = "EndSimulation"

	// EventClientExit is accepted on receipt as another name for EndService.
	EventClientExit = "ClientExit"
)

// Event parameter names.
const (
	ParamCheckoutID = "checkoutId"
	ParamClientID   = "clientId"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMissingParam = errors.New("missing event parameter")
)

// eventParams lists the parameters each event carries.
var eventParams = map[string][]string{
	EventOpenCheckout:  {ParamCheckoutID},
	EventCloseCheckout: {ParamCheckoutID},
	EventChooseQueue:   {ParamCheckoutID, ParamClientID},
	EventStartService:  {ParamCheckoutID, ParamClientID},
	EventEndService:    {ParamCheckoutID, ParamClientID},
	EventEndSimulation: nil,
}

// EventNames is the closed set of event names, in a stable order.
var EventNames = []string{
	EventOpenCheckout,
	EventCloseCheckout,
	EventChooseQueue,
	EventStartService,
	EventEndService,
	EventEndSimulation,
}

// CanonicalEventName resolves aliases. Returns "" for unknown names.
func CanonicalEventName(name string) string {
	if name == EventClientExit {
		return EventEndService
	}
	if _, ok := eventParams[name]; ok {
		return name
	}
	return ""
}

// IsValidEventName reports whether name (or its alias) is a known event.
func IsValidEventName(name string) bool {
	return CanonicalEventName(name) != ""
}

// Event is a one-shot notification. Fields a given event does not carry are zero.
type Event struct {
	Name       string
	CheckoutID int
	ClientID   int
}

func OpenCheckout(checkoutID int) Event {
	return Event{Name: EventOpenCheckout, CheckoutID: checkoutID}
}

func CloseCheckout(checkoutID int) Event {
	return Event{Name: EventCloseCheckout, CheckoutID: checkoutID}
}

func ChooseQueue(checkoutID, clientID int) Event {
	return Event{Name: EventChooseQueue, CheckoutID: checkoutID, ClientID: clientID}
}

func StartService(checkoutID, clientID int) Event {
	return Event{Name: EventStartService, CheckoutID: checkoutID, ClientID: clientID}
}

func EndService(checkoutID, clientID int) Event {
	return Event{Name: EventEndService, CheckoutID: checkoutID, ClientID: clientID}
}

func EndSimulation() Event {
	return Event{Name: EventEndSimulation}
}

// Values encodes the event's parameters.
func (e Event) Values() bus.Values {
	v := bus.NewValues()
	for _, p := range eventParams[CanonicalEventName(e.Name)] {
		switch p {
		case ParamCheckoutID:
			v.SetInt(p, e.CheckoutID)
		case ParamClientID:
			v.SetInt(p, e.ClientID)
		}
	}
	return v
}

func (e Event) String() string {
	switch len(eventParams[CanonicalEventName(e.Name)]) {
	case 0:
		return e.Name
	case 1:
		return fmt.Sprintf("%s{checkout=%d}", e.Name, e.CheckoutID)
	default:
		return fmt.Sprintf("%s{checkout=%d client=%d}", e.Name, e.CheckoutID, e.ClientID)
	}
}

// DecodeEvent builds an Event from a received interaction. Aliases are
// resolved, so a ClientExit decodes as EndService. Extra parameters are ignored.
func DecodeEvent(name string, values bus.Values) (Event, error) {
	canonical := CanonicalEventName(name)
	if canonical == "" {
		return Event{}, fmt.Errorf("%q: %w", name, ErrUnknownEvent)
	}
	ev := Event{Name: canonical}
	for _, p := range eventParams[canonical] {
		x, ok, err := values.Int(p)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", canonical, err)
		}
		if !ok {
			return Event{}, fmt.Errorf("%s.%s: %w", canonical, p, ErrMissingParam)
		}
		switch p {
		case ParamCheckoutID:
			ev.CheckoutID = x
		case ParamClientID:
			ev.ClientID = x
		}
	}
	return ev, nil
}
