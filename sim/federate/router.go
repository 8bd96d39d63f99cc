package federate

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim/bus"
)

// Router is the single notification handler table: one entry per
// notification kind.
type Router map[bus.Kind]func(bus.Notification)

// Route hands n to the handler for its kind. Kinds without a handler are
// logged and dropped.
func (r Router) Route(n bus.Notification) {
	if h, ok := r[n.Kind]; ok {
		h(n)
		return
	}
	logrus.Debugf("[router] no handler for %s", n)
}
