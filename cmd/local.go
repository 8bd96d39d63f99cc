package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus/local"
	"github.com/inference-sim/checkout-sim/sim/federate"
	"github.com/inference-sim/checkout-sim/sim/roles"
	"github.com/inference-sim/checkout-sim/sim/trace"
)

// localCmd runs every role in-process on the in-memory bus
var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run all participants in one process on the in-memory bus",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd.Flags())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		reg := prometheus.NewRegistry()
		if metricsAddr != "" {
			serveMetrics(ctx, metricsAddr, reg)
		}
		tr := newTrace(cfg)

		logrus.Infof("Starting local simulation: %d roles, horizon=%d ticks, seed=%d", len(roles.ValidRoles), cfg.Timing.Horizon, cfg.Seed)
		startTime := time.Now()
		if err := runLocal(ctx, cfg, reg, tr); err != nil {
			logrus.Fatalf("%v", err)
		}
		printTrace(tr)
		logrus.Infof("Simulation complete in %s.", time.Since(startTime))
	},
}

// runLocal runs one participant per role on a fresh in-memory RTI and waits
// for all of them. The rendezvous waits until every role has joined.
func runLocal(ctx context.Context, cfg sim.Config, reg prometheus.Registerer, tr *trace.SimulationTrace) error {
	names := roles.Names()
	cfg.Federation.MinFederates = max(cfg.Federation.MinFederates, len(names))
	rti := local.NewRTI(nil, cfg.Federation.MinFederates)

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		p := federate.New(name, cfg, rti, newRole(name, cfg, reg, os.Stdout), federate.Options{
			Gate:  gateFor(cfg),
			Trace: tr,
		})
		g.Go(func() error {
			return runParticipant(ctx, p)
		})
	}
	return g.Wait()
}

func init() {
	localCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics at this address")
}
