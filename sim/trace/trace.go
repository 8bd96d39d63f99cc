package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every queue choice and lane open/close decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a run. In a local run the
// client and manager participants share one trace from separate goroutines,
// so recording is guarded by a mutex.
type SimulationTrace struct {
	Config  TraceConfig
	Choices []QueueChoiceRecord
	Lanes   []LaneRecord

	mu sync.Mutex
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:  config,
		Choices: make([]QueueChoiceRecord, 0),
		Lanes:   make([]LaneRecord, 0),
	}
}

// Enabled reports whether decisions should be recorded. Safe on a nil trace.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordChoice appends a queue choice record.
func (st *SimulationTrace) RecordChoice(record QueueChoiceRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Choices = append(st.Choices, record)
}

// RecordLane appends a lane decision record.
func (st *SimulationTrace) RecordLane(record LaneRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Lanes = append(st.Lanes, record)
}
