package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalChoices      int
	PrivilegedChoices int
	MeanImbalance     float64
	MaxImbalance      int
	UniqueQueues      int
	QueueDistribution map[int]int // queue ID → count of shoppers sent there
	Opens             int
	Reopens           int
	Closes            int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		QueueDistribution: make(map[int]int),
	}
	if st == nil {
		return summary
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	summary.TotalChoices = len(st.Choices)
	if len(st.Choices) > 0 {
		total := 0
		for _, c := range st.Choices {
			summary.QueueDistribution[c.ChosenQueue]++
			if c.Privileged {
				summary.PrivilegedChoices++
			}
			total += c.Imbalance
			if c.Imbalance > summary.MaxImbalance {
				summary.MaxImbalance = c.Imbalance
			}
		}
		summary.MeanImbalance = float64(total) / float64(len(st.Choices))
	}
	summary.UniqueQueues = len(summary.QueueDistribution)

	for _, l := range st.Lanes {
		switch l.Action {
		case "open":
			if l.Reopen {
				summary.Reopens++
			} else {
				summary.Opens++
			}
		case "close":
			summary.Closes++
		}
	}
	return summary
}
