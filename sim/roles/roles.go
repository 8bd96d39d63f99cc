// Package roles holds the five participant roles of the checkout simulation.
// Each role owns one kind of entity (or none) and plugs into the federate
// step loop:
//
//   - client: creates shoppers and sends them to queues
//   - queue: owns the queues, applies joins and departures
//   - checkout: owns the lanes and serves the head of each line
//   - manager: opens and closes lanes against demand
//   - statistic: observes everything and reports
package roles

import (
	"fmt"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/federate"
)

// Role names.
const (
	RoleClient    = "client"
	RoleQueue     = "queue"
	RoleCheckout  = "checkout"
	RoleManager   = "manager"
	RoleStatistic = "statistic"
)

// ValidRoles is the set of recognized role names.
var ValidRoles = map[string]bool{
	RoleClient:    true,
	RoleQueue:     true,
	RoleCheckout:  true,
	RoleManager:   true,
	RoleStatistic: true,
}

// IsValidRole returns true if name is a recognized role.
func IsValidRole(name string) bool {
	return ValidRoles[name]
}

// Names returns every role name, sorted.
func Names() []string {
	names := make([]string, 0, len(ValidRoles))
	for name := range ValidRoles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRole creates a role by name. The statistic role registers its metrics
// on a fresh registry and prints to stdout. Panics on unrecognized names.
func NewRole(name string, cfg sim.Config) federate.Role {
	if !IsValidRole(name) {
		panic(fmt.Sprintf("unknown role %q", name))
	}
	switch name {
	case RoleClient:
		return NewClient(cfg)
	case RoleQueue:
		return NewQueue()
	case RoleCheckout:
		return NewCheckout(cfg)
	case RoleManager:
		return NewManager(cfg)
	case RoleStatistic:
		return NewStatistic(prometheus.NewRegistry(), os.Stdout)
	default:
		panic(fmt.Sprintf("unhandled role %q", name))
	}
}
