package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/bus/wsbus"
)

// finishCmd asks every participant to stop
var finishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Broadcast EndSimulation to a running federation",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd.Flags())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sendFinish(ctx, wsbus.NewClient(cfg.Federation.Endpoint), cfg.Federation.Name); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Info("EndSimulation sent.")
	},
}

// sendFinish joins briefly, broadcasts EndSimulation and resigns. It never
// advances time, so the federation's grants wait only while it is joined.
func sendFinish(ctx context.Context, connector bus.Connector, federation string) error {
	b, err := connector.Join(ctx, federation, "finish")
	if err != nil {
		return err
	}
	ev := sim.EndSimulation()
	sendErr := b.SendInteraction(ev.Name, ev.Values())
	if err := b.Resign(ctx); err != nil && sendErr == nil {
		return err
	}
	return sendErr
}
