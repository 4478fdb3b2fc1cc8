package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalSignals  int
	SignalCounts  map[string]int // signal name → emissions
	SourceCounts  map[string]int // emitter ID → emissions
	UniqueSources int

	TotalRounds       int
	Successes         int
	Failures          int
	IdealRounds       int
	SuccessRate       float64
	MeanRoundDuration float64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		SignalCounts: make(map[string]int),
		SourceCounts: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalSignals = len(st.Signals)
	for _, s := range st.Signals {
		summary.SignalCounts[s.Name]++
		summary.SourceCounts[s.Source]++
	}
	summary.UniqueSources = len(summary.SourceCounts)

	summary.TotalRounds = len(st.Rounds)
	if len(st.Rounds) > 0 {
		var total int64
		for _, r := range st.Rounds {
			if r.Success {
				summary.Successes++
			} else {
				summary.Failures++
			}
			if r.Ideal() {
				summary.IdealRounds++
			}
			total += r.Duration
		}
		summary.SuccessRate = float64(summary.Successes) / float64(len(st.Rounds))
		summary.MeanRoundDuration = float64(total) / float64(len(st.Rounds))
	}

	return summary
}
