package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/checkout-sim/sim/bus/wsbus"
	"github.com/inference-sim/checkout-sim/sim/federate"
)

var (
	roleName        string // Role played by this participant
	participantName string // Unique participant name (defaults to the role)
)

// runCmd runs a single participant against a remote bus
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one participant against a websocket bus",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd.Flags())
		name := participantName
		if name == "" {
			name = roleName
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		reg := prometheus.NewRegistry()
		role := newRole(roleName, cfg, reg, os.Stdout)
		if metricsAddr != "" {
			serveMetrics(ctx, metricsAddr, reg)
		}

		tr := newTrace(cfg)
		p := federate.New(name, cfg, wsbus.NewClient(cfg.Federation.Endpoint), role, federate.Options{
			Gate:  gateFor(cfg),
			Trace: tr,
		})
		logrus.Infof("Starting %s as %q on %s, horizon=%d ticks", roleName, name, cfg.Federation.Endpoint, cfg.Timing.Horizon)
		if err := runParticipant(ctx, p); err != nil {
			logrus.Fatalf("%v", err)
		}
		printTrace(tr)
		logrus.Info("Participant finished.")
	},
}

func init() {
	runCmd.Flags().StringVar(&roleName, "role", "", "Role to play (checkout, client, manager, queue, statistic)")
	runCmd.Flags().StringVar(&participantName, "name", "", "Participant name (default: the role)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics at this address (statistic role)")
	_ = runCmd.MarkFlagRequired("role")
}
