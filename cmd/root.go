package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/inference-sim/checkout-sim/sim"
)

var (
	logLevel   string // Log verbosity level
	configPath string // Optional YAML config file

	// Overrides applied on top of the config file when the flag is set
	seed         int64  // Seed for shopper generation
	horizon      int64  // Ticks to run (0 = until EndSimulation)
	federation   string // Federation name
	endpoint     string // Websocket bus URL
	minFederates int    // Participants required before the rendezvous
	traceLevel   string // Decision trace level
	selector     string // Queue selection policy
	lanePolicy   string // Lane open/close policy
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "checkout-sim",
	Short: "Distributed time-stepped simulation of supermarket checkouts",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// loadConfig builds the run configuration: defaults, then the config file,
// then any flag the user set explicitly.
func loadConfig(flags *pflag.FlagSet) sim.Config {
	cfg := sim.DefaultConfig()
	if configPath != "" {
		loaded, err := sim.LoadConfig(configPath, cfg)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		cfg = loaded
	}
	applyOverrides(&cfg, flags)
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func applyOverrides(cfg *sim.Config, flags *pflag.FlagSet) {
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("horizon") {
		cfg.Timing.Horizon = horizon
	}
	if flags.Changed("federation") {
		cfg.Federation.Name = federation
	}
	if flags.Changed("endpoint") {
		cfg.Federation.Endpoint = endpoint
	}
	if flags.Changed("min-federates") {
		cfg.Federation.MinFederates = minFederates
	}
	if flags.Changed("trace-level") {
		cfg.Trace.Level = traceLevel
	}
	if flags.Changed("selector") {
		cfg.Policy.Selector = selector
	}
	if flags.Changed("lane-policy") {
		cfg.Policy.Lanes = lanePolicy
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&configPath, "config", "", "YAML configuration file")
	pf.Int64Var(&seed, "seed", 42, "Seed for shopper generation")
	pf.Int64Var(&horizon, "horizon", 100, "Ticks to run (0 = until EndSimulation)")
	pf.StringVar(&federation, "federation", "Shop", "Federation name")
	pf.StringVar(&endpoint, "endpoint", "ws://127.0.0.1:8642/bus", "Websocket bus URL")
	pf.IntVar(&minFederates, "min-federates", 1, "Participants required before the start rendezvous")
	pf.StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")
	pf.StringVar(&selector, "selector", "min-occupancy", "Queue selection policy (min-occupancy, first-found)")
	pf.StringVar(&lanePolicy, "lane-policy", "threshold", "Lane policy (threshold, never-close)")

	rootCmd.AddCommand(rtiCmd, runCmd, localCmd, finishCmd)
}
