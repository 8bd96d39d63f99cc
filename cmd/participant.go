package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/barrier"
	"github.com/inference-sim/checkout-sim/sim/federate"
	"github.com/inference-sim/checkout-sim/sim/roles"
	"github.com/inference-sim/checkout-sim/sim/trace"
)

var metricsAddr string // Address serving /metrics for the statistic role

// newRole builds a role by name. The statistic role registers on reg.
func newRole(name string, cfg sim.Config, reg prometheus.Registerer, out io.Writer) federate.Role {
	if !roles.IsValidRole(name) {
		logrus.Fatalf("Unknown role %q; valid roles: %v", name, roles.Names())
	}
	if name == roles.RoleStatistic {
		return roles.NewStatistic(reg, out)
	}
	return roles.NewRole(name, cfg)
}

// newTrace returns the decision trace for the configured level.
func newTrace(cfg sim.Config) *trace.SimulationTrace {
	return trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(cfg.Trace.Level)})
}

// operatorGate blocks the start rendezvous until Enter is pressed on in.
func operatorGate(in io.Reader) barrier.Gate {
	return func(ctx context.Context) error {
		fmt.Println("Press Enter to start the simulation...")
		done := make(chan error, 1)
		go func() {
			_, err := bufio.NewReader(in).ReadString('\n')
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading operator confirmation: %w", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func gateFor(cfg sim.Config) barrier.Gate {
	if cfg.Timing.WaitForOperator {
		return operatorGate(os.Stdin)
	}
	return nil
}

// serveMetrics exposes reg at addr/metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		logrus.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
}

// runParticipant joins, runs and closes p. A cancelled context is a normal stop.
func runParticipant(ctx context.Context, p *federate.Participant) error {
	if err := p.Join(ctx); err != nil {
		return err
	}
	runErr := p.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	closeErr := p.Close(context.Background())
	if runErr != nil {
		return fmt.Errorf("%s: %w", p.Name(), runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%s: %w", p.Name(), closeErr)
	}
	return nil
}

// printTrace prints the decision trace summary when tracing was enabled.
func printTrace(st *trace.SimulationTrace) {
	if !st.Enabled() {
		return
	}
	s := trace.Summarize(st)
	fmt.Println("=== Decision Trace ===")
	fmt.Printf("Queue Choices        : %d (%d privileged)\n", s.TotalChoices, s.PrivilegedChoices)
	fmt.Printf("Mean Imbalance       : %.2f\n", s.MeanImbalance)
	fmt.Printf("Max Imbalance        : %d\n", s.MaxImbalance)
	fmt.Printf("Queues Used          : %d\n", s.UniqueQueues)
	fmt.Printf("Lane Opens           : %d (%d reopens)\n", s.Opens, s.Reopens)
	fmt.Printf("Lane Closes          : %d\n", s.Closes)
}
