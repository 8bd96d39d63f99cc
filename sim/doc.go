// Package sim provides the shared domain model of the checkout simulation:
// the entities every participant mirrors, the events they exchange, and the
// policies that decide where shoppers queue and how many lanes are open.
//
// # Reading Guide
//
// Start with these files:
//   - entity.go: Shopper, Queue and CheckoutLane, and their attribute encoding
//   - event.go: the six events (OpenCheckout, CloseCheckout, ChooseQueue,
//     StartService, EndService, EndSimulation) and their parameters
//   - handlers.go: Shop, the event handlers each participant installs for the
//     kinds it owns
//   - line.go: queue ordering, privilege, overflow and the capacity invariant
//
// # Architecture
//
// Participants never share memory. Each keeps a Directory of the entities it
// owns or mirrors, updated from bus notifications, and builds a Snapshot of it
// for its policies once per tick. Sub-packages:
//   - sim/bus/: the publish/subscribe bus contract; bus/local is the in-memory
//     RTI and bus/wsbus carries it over websockets
//   - sim/barrier/: start rendezvous and lockstep time advance
//   - sim/federate/: the participant step loop (drain, step, publish, advance)
//   - sim/roles/: client, queue, checkout, manager and statistic roles
//   - sim/trace/: decision trace recording
//
// # Key Interfaces
//
//   - QueueSelector: pick the queue a ready shopper joins
//   - LanePolicy: plan lane opens and closes from open capacity against demand
//   - Publisher: where a Shop sends registrations, updates and deletions
package sim
