package sched

import (
	"fmt"
	"sort"
)

// Policy maps simulator events to placement actions. Handlers run
// synchronously on the simulator's event loop: each call sees a consistent
// world model and must leave one behind. Handlers issue actions through
// the Controller, never against the driver directly, so that bookkeeping
// (reservations, transition flags, the task index) stays ahead of the
// simulator.
//
// OnNewTask, OnSLAWarning and OnStateChangeComplete may return
// *NoPlacementError when the cluster cannot accommodate a task at all.
type Policy interface {
	Name() string

	OnInit(c *Controller) error
	OnNewTask(c *Controller, now int64, t TaskID) error
	// OnTaskComplete receives the VM the task was bound to; bound is false
	// when the controller never placed the task (stale completion).
	OnTaskComplete(c *Controller, now int64, t TaskID, vm VMID, bound bool) error
	OnSLAWarning(c *Controller, now int64, t TaskID) error
	OnMemoryWarning(c *Controller, now int64, m MachineID) error
	// OnMigrationComplete receives the just-ended migration record; the
	// reservation has already been released.
	OnMigrationComplete(c *Controller, now int64, rec MigrationRecord) error
	OnStateChangeComplete(c *Controller, now int64, m MachineID, state PowerState) error
	OnTick(c *Controller, now int64) error
	OnShutdown(c *Controller, now int64) error
}

// Valid policy name registry. Unexported to prevent external mutation.
var validPolicies = map[string]bool{
	"":         true, // empty defaults to greedy
	"greedy":   true,
	"p-mapper": true,
	"e-eco":    true,
}

// IsValidPolicy returns true if name is a recognized placement policy.
func IsValidPolicy(name string) bool {
	return validPolicies[name]
}

// ValidPolicyNames returns the accepted non-empty policy names, sorted.
func ValidPolicyNames() []string {
	names := make([]string, 0, len(validPolicies))
	for name := range validPolicies {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewPolicy creates a placement policy by name. An empty string defaults
// to Greedy (for CLI flag default compatibility). Panics on unrecognized
// names; callers validate with IsValidPolicy first.
func NewPolicy(name string) Policy {
	if !IsValidPolicy(name) {
		panic(fmt.Sprintf("unknown placement policy %q", name))
	}
	switch name {
	case "", "greedy":
		return NewGreedy()
	case "p-mapper":
		return NewPMapper()
	case "e-eco":
		return NewEEco()
	default:
		panic(fmt.Sprintf("unhandled placement policy %q", name))
	}
}
