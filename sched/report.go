package sched

import (
	"fmt"
	"io"
)

// Report aggregates end-of-run statistics: per-SLA-class violation
// percentages, cluster energy, simulated duration, and task totals.
type Report struct {
	SLAViolations  map[SLAClass]float64
	TotalEnergy    float64 // kWh
	Duration       float64 // seconds of simulated time
	TotalTasks     int
	TasksCompleted int
}

// BuildReport snapshots the run's statistics at simulated time now.
func (c *Controller) BuildReport(now int64) Report {
	r := Report{
		SLAViolations:  make(map[SLAClass]float64, 3),
		TotalEnergy:    c.driver.ClusterEnergy(),
		Duration:       float64(now) / 1e6,
		TotalTasks:     c.totalTasks,
		TasksCompleted: c.tasksCompleted,
	}
	// SLA3 is best-effort and is left out of the report.
	for _, sla := range []SLAClass{SLA0, SLA1, SLA2} {
		r.SLAViolations[sla] = c.driver.SLAReport(sla)
	}
	return r
}

// Print writes the report to w in the fixed text format consumed by the
// run scripts.
func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "SLA violation report")
	for _, sla := range []SLAClass{SLA0, SLA1, SLA2} {
		fmt.Fprintf(w, "%s: %.2f%%\n", sla, r.SLAViolations[sla])
	}
	fmt.Fprintf(w, "Total Energy %.3f KW-Hour\n", r.TotalEnergy)
	fmt.Fprintf(w, "Simulation run finished in %.6f seconds\n", r.Duration)
	fmt.Fprintf(w, "total tasks: %d completed tasks: %d\n", r.TotalTasks, r.TasksCompleted)
}
