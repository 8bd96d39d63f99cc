package roles

import (
	"fmt"
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/federate"
)

// Summary aggregates what the statistic participant observed for final reporting.
type Summary struct {
	Ticks         int64
	Created       int // shoppers discovered
	Joins         int // ChooseQueue events
	Served        int // EndService events
	Opens         int // OpenCheckout events for new lanes
	Reopens       int // OpenCheckout events for known lanes
	Closes        int
	TotalWait     int64 // sum of ChooseQueue -> StartService ticks
	Started       int   // StartService events with a matching ChooseQueue
	MaxWait       int64
	PeakShoppers  int
	PeakOpenLanes int
	PeakWaiting   int
}

// Print writes the summary in the same layout as the simulator's other reports.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Ticks                : %d\n", s.Ticks)
	fmt.Fprintf(w, "Shoppers Seen        : %d\n", s.Created)
	fmt.Fprintf(w, "Queue Joins          : %d\n", s.Joins)
	fmt.Fprintf(w, "Shoppers Served      : %d\n", s.Served)
	fmt.Fprintf(w, "Lanes Opened         : %d (%d reopened)\n", s.Opens+s.Reopens, s.Reopens)
	fmt.Fprintf(w, "Lanes Closed         : %d\n", s.Closes)
	if s.Started > 0 {
		fmt.Fprintf(w, "Average Wait         : %.2f ticks\n", float64(s.TotalWait)/float64(s.Started))
		fmt.Fprintf(w, "Max Wait             : %d ticks\n", s.MaxWait)
	}
	fmt.Fprintf(w, "Peak Shoppers        : %d\n", s.PeakShoppers)
	fmt.Fprintf(w, "Peak Waiting         : %d\n", s.PeakWaiting)
	fmt.Fprintf(w, "Peak Open Lanes      : %d\n", s.PeakOpenLanes)
}

// Statistic observes every entity and event without owning anything. It keeps
// Prometheus metrics current each tick and prints a summary when the run ends.
type Statistic struct {
	out     io.Writer
	summary Summary
	shop    *sim.Shop

	joinedAt map[int]int64 // client id -> tick of its ChooseQueue
	seen     map[int]bool  // shopper ids ever mirrored

	served     prometheus.Counter
	joins      prometheus.Counter
	laneEvents *prometheus.CounterVec
	wait       prometheus.Histogram
	shoppers   prometheus.Gauge
	openLanes  prometheus.Gauge
	capacity   prometheus.Gauge
	occupancy  *prometheus.GaugeVec
}

// NewStatistic creates a statistic role registering its metrics on reg and
// printing its summary to out.
func NewStatistic(reg prometheus.Registerer, out io.Writer) *Statistic {
	s := &Statistic{
		out:      out,
		joinedAt: make(map[int]int64),
		seen:     make(map[int]bool),
		served: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_shoppers_served_total",
			Help: "Shoppers whose service ended.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_queue_joins_total",
			Help: "ChooseQueue events observed.",
		}),
		laneEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_lane_events_total",
			Help: "Lane open, reopen and close events observed.",
		}, []string{"action"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_wait_ticks",
			Help:    "Ticks between joining a queue and starting service.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		shoppers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_shoppers",
			Help: "Shoppers currently in the shop (N).",
		}),
		openLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_open_lanes",
			Help: "Lanes currently open.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_open_capacity",
			Help: "Summed capacity of open queues (S).",
		}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkout_queue_occupancy",
			Help: "Current size of each queue.",
		}, []string{"queue"}),
	}
	reg.MustRegister(s.served, s.joins, s.laneEvents, s.wait, s.shoppers, s.openLanes, s.capacity, s.occupancy)
	return s
}

func (s *Statistic) Name() string { return RoleStatistic }

func (s *Statistic) Classes() []bus.ObjectClass {
	return []bus.ObjectClass{sim.KindShopper.Class(), sim.KindQueue.Class(), sim.KindCheckout.Class()}
}

func (s *Statistic) Setup(env *federate.Env) error {
	s.shop = sim.NewShop(env.Dir, env.Outbox, env.Config.Queue)
	d := env.Dispatcher
	d.Register(sim.EventOpenCheckout, func(ev sim.Event, now int64) {
		if env.Dir.Lane(ev.CheckoutID) != nil {
			s.summary.Reopens++
			s.laneEvents.WithLabelValues("reopen").Inc()
		} else {
			s.summary.Opens++
			s.laneEvents.WithLabelValues("open").Inc()
		}
		env.Log.Infof("t=%d %s", now, ev)
	})
	d.Register(sim.EventCloseCheckout, func(ev sim.Event, now int64) {
		s.summary.Closes++
		s.laneEvents.WithLabelValues("close").Inc()
		env.Log.Infof("t=%d %s", now, ev)
	})
	d.Register(sim.EventChooseQueue, func(ev sim.Event, now int64) {
		s.summary.Joins++
		s.joins.Inc()
		s.joinedAt[ev.ClientID] = now
		env.Log.Debugf("t=%d %s", now, ev)
	})
	d.Register(sim.EventStartService, func(ev sim.Event, now int64) {
		joined, ok := s.joinedAt[ev.ClientID]
		if !ok {
			return
		}
		delete(s.joinedAt, ev.ClientID)
		waited := now - joined
		s.summary.Started++
		s.summary.TotalWait += waited
		s.summary.MaxWait = max(s.summary.MaxWait, waited)
		s.wait.Observe(float64(waited))
	})
	d.Register(sim.EventEndService, func(ev sim.Event, now int64) {
		s.summary.Served++
		s.served.Inc()
		s.shop.EndService(ev, now)
		env.Log.Debugf("t=%d %s", now, ev)
	})
	return nil
}

// Summary returns a copy of the aggregates so far.
func (s *Statistic) Summary() Summary { return s.summary }

func (s *Statistic) Step(env *federate.Env, now int64) error {
	snap := env.Dir.Snapshot(now)
	s.summary.Ticks = now + 1
	for _, sh := range snap.Shoppers {
		s.seen[sh.ID] = true
	}
	s.summary.Created = len(s.seen)
	s.summary.PeakShoppers = max(s.summary.PeakShoppers, len(snap.Shoppers))
	s.summary.PeakOpenLanes = max(s.summary.PeakOpenLanes, snap.OpenLanes())
	s.summary.PeakWaiting = max(s.summary.PeakWaiting, snap.Waiting())

	s.shoppers.Set(float64(len(snap.Shoppers)))
	s.openLanes.Set(float64(snap.OpenLanes()))
	s.capacity.Set(float64(snap.OpenCapacity()))
	for _, q := range snap.Queues {
		s.occupancy.WithLabelValues(strconv.Itoa(q.ID)).Set(float64(q.CurrentSize))
	}
	return nil
}

// Finish prints the summary.
func (s *Statistic) Finish(env *federate.Env, now int64) {
	env.Log.Infof("simulation ended at t=%d", now)
	s.summary.Print(s.out)
}
