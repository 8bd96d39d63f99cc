package sim

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/checkout-sim/sim/trace"
)

// FederationConfig groups bus membership parameters.
type FederationConfig struct {
	Name         string `yaml:"name"`          // federation name (default "Shop")
	SyncLabel    string `yaml:"sync_label"`    // startup rendezvous label (default "ReadyToRun")
	MinFederates int    `yaml:"min_federates"` // participants required before the rendezvous is announced
	Endpoint     string `yaml:"endpoint"`      // websocket bus URL for remote participants
	DedupeWindow int    `yaml:"dedupe_window"` // recent interaction ids remembered per participant
}

// TimingConfig groups step loop and barrier timing.
type TimingConfig struct {
	Horizon         int64         `yaml:"horizon"`           // ticks to run, [0, horizon) (0 = until stopped)
	Step            int64         `yaml:"step"`              // ticks requested per advance (default 1)
	TickDelay       time.Duration `yaml:"tick_delay"`        // wall-clock pacing per tick (0 = none)
	PollTimeout     time.Duration `yaml:"poll_timeout"`      // bound on one barrier pump
	StallWarning    time.Duration `yaml:"stall_warning"`     // warn when a barrier wait exceeds this
	WaitForOperator bool          `yaml:"wait_for_operator"` // gate the start on operator confirmation
}

// ArrivalConfig groups shopper generation parameters for the client role.
type ArrivalConfig struct {
	InitialShoppers       int     `yaml:"initial_shoppers"`       // shoppers present at tick 0
	Probability           float64 `yaml:"probability"`            // chance of one arrival per tick
	MaxShoppers           int     `yaml:"max_shoppers"`           // cap on shoppers created (0 = unbounded)
	MinShoppingTicks      int     `yaml:"min_shopping_ticks"`     // shortest time spent shopping
	MaxShoppingTicks      int     `yaml:"max_shopping_ticks"`     // longest time spent shopping
	PrivilegedProbability float64 `yaml:"privileged_probability"` // chance a new shopper is privileged
	MaxProducts           int     `yaml:"max_products"`           // basket size upper bound
}

// QueueConfig groups queue parameters.
type QueueConfig struct {
	MaxSize       int    `yaml:"max_size"`       // capacity of a newly created queue
	PrivilegeMode string `yaml:"privilege_mode"` // "front" (default), "after-privileged", "none"
}

// CheckoutConfig groups checkout lane service parameters.
type CheckoutConfig struct {
	ItemsPerTick int `yaml:"items_per_tick"` // products a lane scans per tick
}

// PolicyConfig groups allocation policy selection and thresholds.
type PolicyConfig struct {
	Selector        string `yaml:"selector"`           // "min-occupancy" (default) or "first-found"
	Lanes           string `yaml:"lanes"`              // "threshold" (default) or "never-close"
	CloseMargin     int    `yaml:"close_margin"`       // close only when S - N exceeds this
	MaxLanes        int    `yaml:"max_lanes"`          // cap on lanes ever created (0 = unbounded)
	MaxOpensPerTick int    `yaml:"max_opens_per_tick"` // open decisions per tick
	MinOpenLanes    int    `yaml:"min_open_lanes"`     // never close below this many open lanes
	PendingTTL      int64  `yaml:"pending_ttl"`        // ticks an unconfirmed open/close stays pending
}

// TraceConfig groups decision trace parameters.
type TraceConfig struct {
	Level string `yaml:"level"` // "none" (default) or "decisions"
}

// Config is the full run configuration shared by every participant.
type Config struct {
	Federation FederationConfig `yaml:"federation"`
	Timing     TimingConfig     `yaml:"timing"`
	Arrival    ArrivalConfig    `yaml:"arrival"`
	Queue      QueueConfig      `yaml:"queue"`
	Checkout   CheckoutConfig   `yaml:"checkout"`
	Policy     PolicyConfig     `yaml:"policy"`
	Trace      TraceConfig      `yaml:"trace"`
	Seed       int64            `yaml:"seed"`
}

// DefaultConfig returns the configuration used when no file or flag overrides it.
func DefaultConfig() Config {
	return Config{
		Federation: FederationConfig{
			Name:         "Shop",
			SyncLabel:    "ReadyToRun",
			MinFederates: 1,
			Endpoint:     "ws://127.0.0.1:8642/bus",
			DedupeWindow: DefaultDedupeWindow,
		},
		Timing: TimingConfig{
			Horizon:      100,
			Step:         1,
			PollTimeout:  100 * time.Millisecond,
			StallWarning: 5 * time.Second,
		},
		Arrival: ArrivalConfig{
			InitialShoppers:       4,
			Probability:           0.5,
			MinShoppingTicks:      1,
			MaxShoppingTicks:      5,
			PrivilegedProbability: 0.1,
			MaxProducts:           50,
		},
		Queue:    QueueConfig{MaxSize: 10, PrivilegeMode: string(PrivilegeFront)},
		Checkout: CheckoutConfig{ItemsPerTick: 10},
		Policy: PolicyConfig{
			Selector:        "min-occupancy",
			Lanes:           "threshold",
			CloseMargin:     10,
			MaxOpensPerTick: 1,
			MinOpenLanes:    1,
			PendingTTL:      3,
		},
		Trace: TraceConfig{Level: "none"},
		Seed:  42,
	}
}

// LoadConfig decodes a YAML file over base. Fields absent from the file keep
// base's values. Unknown keys are an error.
func LoadConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks names and parameter ranges.
func (c *Config) Validate() error {
	if c.Federation.Name == "" {
		return fmt.Errorf("federation name must be set")
	}
	if c.Federation.SyncLabel == "" {
		return fmt.Errorf("sync label must be set")
	}
	if c.Federation.MinFederates < 1 {
		return fmt.Errorf("min_federates must be >= 1, got %d", c.Federation.MinFederates)
	}
	if c.Timing.Horizon < 0 {
		return fmt.Errorf("horizon must be non-negative, got %d", c.Timing.Horizon)
	}
	if c.Timing.Step < 1 {
		return fmt.Errorf("step must be >= 1, got %d", c.Timing.Step)
	}
	if c.Timing.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive, got %s", c.Timing.PollTimeout)
	}
	if c.Timing.TickDelay < 0 {
		return fmt.Errorf("tick_delay must be non-negative, got %s", c.Timing.TickDelay)
	}
	if c.Arrival.InitialShoppers < 0 || c.Arrival.MaxShoppers < 0 {
		return fmt.Errorf("shopper counts must be non-negative")
	}
	if c.Arrival.Probability < 0 || c.Arrival.Probability > 1 {
		return fmt.Errorf("arrival probability must be in [0, 1], got %f", c.Arrival.Probability)
	}
	if c.Arrival.PrivilegedProbability < 0 || c.Arrival.PrivilegedProbability > 1 {
		return fmt.Errorf("privileged_probability must be in [0, 1], got %f", c.Arrival.PrivilegedProbability)
	}
	if c.Arrival.MinShoppingTicks < 0 || c.Arrival.MaxShoppingTicks < c.Arrival.MinShoppingTicks {
		return fmt.Errorf("shopping ticks must satisfy 0 <= min <= max, got [%d, %d]",
			c.Arrival.MinShoppingTicks, c.Arrival.MaxShoppingTicks)
	}
	if c.Arrival.MaxProducts < 1 {
		return fmt.Errorf("max_products must be >= 1, got %d", c.Arrival.MaxProducts)
	}
	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("queue max_size must be >= 1, got %d", c.Queue.MaxSize)
	}
	if !IsValidPrivilegeMode(c.Queue.PrivilegeMode) {
		return fmt.Errorf("unknown privilege mode %q", c.Queue.PrivilegeMode)
	}
	if c.Checkout.ItemsPerTick < 1 {
		return fmt.Errorf("items_per_tick must be >= 1, got %d", c.Checkout.ItemsPerTick)
	}
	if !IsValidQueueSelector(c.Policy.Selector) {
		return fmt.Errorf("unknown queue selector %q", c.Policy.Selector)
	}
	if !IsValidLanePolicy(c.Policy.Lanes) {
		return fmt.Errorf("unknown lane policy %q", c.Policy.Lanes)
	}
	if c.Policy.CloseMargin < 0 || c.Policy.MaxLanes < 0 || c.Policy.MinOpenLanes < 0 {
		return fmt.Errorf("policy thresholds must be non-negative")
	}
	if c.Policy.MaxOpensPerTick < 1 {
		return fmt.Errorf("max_opens_per_tick must be >= 1, got %d", c.Policy.MaxOpensPerTick)
	}
	if c.Policy.PendingTTL < 1 {
		return fmt.Errorf("pending_ttl must be >= 1, got %d", c.Policy.PendingTTL)
	}
	if !trace.IsValidTraceLevel(c.Trace.Level) {
		return fmt.Errorf("unknown trace level %q", c.Trace.Level)
	}
	return nil
}
