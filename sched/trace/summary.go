package trace

// Summary aggregates statistics from a Trace.
type Summary struct {
	Placements          int
	Migrations          int
	PowerRequests       int
	WakeRequests        int
	MachineDistribution map[int]int // machine ID → count of tasks placed
}

// Summarize computes aggregate statistics from a Trace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *Trace) *Summary {
	s := &Summary{
		MachineDistribution: make(map[int]int),
	}
	if t == nil {
		return s
	}
	s.Placements = len(t.Placements)
	s.Migrations = len(t.Migrations)
	s.PowerRequests = len(t.Power)
	for _, p := range t.Placements {
		s.MachineDistribution[p.Machine]++
	}
	for _, p := range t.Power {
		if p.Target == "ACTIVE" {
			s.WakeRequests++
		}
	}
	return s
}
