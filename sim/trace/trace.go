package trace

// TraceLevel controls the verbosity of run tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelRounds captures completed end-to-end rounds only.
	TraceLevelRounds TraceLevel = "rounds"
	// TraceLevelSignals captures rounds and every bus emission.
	TraceLevelSignals TraceLevel = "signals"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:    true,
	TraceLevelRounds:  true,
	TraceLevelSignals: true,
	"":                true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// MaxSignals caps recorded signals; 0 means unlimited.
	MaxSignals int
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Config  TraceConfig
	Signals []SignalRecord
	Rounds  []RoundRecord
	// Dropped counts signals not recorded because of MaxSignals.
	Dropped int
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:  config,
		Signals: make([]SignalRecord, 0),
		Rounds:  make([]RoundRecord, 0),
	}
}

// RecordSignal appends a signal record when the level is signals.
func (st *SimulationTrace) RecordSignal(record SignalRecord) {
	if st.Config.Level != TraceLevelSignals {
		return
	}
	if st.Config.MaxSignals > 0 && len(st.Signals) >= st.Config.MaxSignals {
		st.Dropped++
		return
	}
	st.Signals = append(st.Signals, record)
}

// RecordRound appends a round record unless tracing is off.
func (st *SimulationTrace) RecordRound(record RoundRecord) {
	if st.Config.Level == TraceLevelNone || st.Config.Level == "" {
		return
	}
	st.Rounds = append(st.Rounds, record)
}
