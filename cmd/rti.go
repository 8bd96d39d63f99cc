package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/checkout-sim/sim/bus/local"
	"github.com/inference-sim/checkout-sim/sim/bus/wsbus"
)

var listenAddr string // Address the bus listens on

// rtiCmd serves the shared bus for remote participants
var rtiCmd = &cobra.Command{
	Use:   "rti",
	Short: "Serve the shared bus over websockets",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd.Flags())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		server := wsbus.NewServer(local.NewRTI(nil, cfg.Federation.MinFederates))
		mux := http.NewServeMux()
		mux.Handle("/bus", server)
		srv := &http.Server{Addr: listenAddr, Handler: mux}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logrus.Infof("Serving bus on %s/bus, waiting for %d participants", listenAddr, cfg.Federation.MinFederates)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("bus server: %v", err)
		}
		logrus.Info("Bus stopped.")
	},
}

func init() {
	rtiCmd.Flags().StringVar(&listenAddr, "listen", ":8642", "Listen address")
}
