// Package sched implements a power- and SLA-aware placement controller for a
// simulated virtualized datacenter.
//
// # Reading Guide
//
// Start with these three files to understand the controller:
//   - driver.go: the ClusterDriver boundary: everything the controller can
//     query or ask the simulated datacenter to do
//   - world.go: the controller's private bookkeeping (awake set, in-flight
//     migrations, memory reservations, wake-pending queues)
//   - controller.go: the event router that turns simulator callbacks into
//     world-model updates followed by a policy invocation
//
// # Architecture
//
// The sched package defines the core; implementations of the collaborators
// live in sub-packages:
//   - sched/cluster/: reference discrete-event cluster simulator that
//     implements ClusterDriver and drives the controller callbacks
//   - sched/trace/: placement decision trace recording
//
// The extension point is the Policy interface (policy.go): Greedy, P-Mapper
// and E-Eco are selected by name at init time via NewPolicy.
package sched

import "fmt"

// MachineID identifies a physical machine. Machines are created at
// simulator init and never destroyed, so IDs are dense indices.
type MachineID int

// VMID identifies a virtual machine created by the controller.
type VMID int

// TaskID identifies a unit of work submitted by the workload.
type TaskID int

// VMMemoryOverhead is the fixed memory cost (in MB) charged for every VM on
// top of the memory of its tasks. Every fit calculation includes it.
const VMMemoryOverhead = 8

// CPUType is a processor family. Tasks run only on machines of their
// required family; VMs inherit the family of their host.
type CPUType int

const (
	ARM CPUType = iota
	Power
	RISCV
	X86
)

func (c CPUType) String() string {
	switch c {
	case ARM:
		return "ARM"
	case Power:
		return "POWER"
	case RISCV:
		return "RISCV"
	case X86:
		return "X86"
	default:
		return fmt.Sprintf("CPUType(%d)", int(c))
	}
}

// VMType is the guest platform a task requires.
type VMType int

const (
	Linux VMType = iota
	LinuxRT
	Win
	AIX
)

func (v VMType) String() string {
	switch v {
	case Linux:
		return "LINUX"
	case LinuxRT:
		return "LINUX_RT"
	case Win:
		return "WIN"
	case AIX:
		return "AIX"
	default:
		return fmt.Sprintf("VMType(%d)", int(v))
	}
}

// SLAClass is a service-level tier. SLA0 is the strictest; SLA3 is
// best-effort and is left out of the end-of-run report.
type SLAClass int

const (
	SLA0 SLAClass = iota
	SLA1
	SLA2
	SLA3
)

func (s SLAClass) String() string {
	switch s {
	case SLA0:
		return "SLA0"
	case SLA1:
		return "SLA1"
	case SLA2:
		return "SLA2"
	case SLA3:
		return "SLA3"
	default:
		return fmt.Sprintf("SLAClass(%d)", int(s))
	}
}

// Priority is the scheduling priority a task runs with inside its VM.
type Priority int

const (
	LowPriority Priority = iota
	MidPriority
	HighPriority
)

func (p Priority) String() string {
	switch p {
	case HighPriority:
		return "HIGH"
	case MidPriority:
		return "MID"
	case LowPriority:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// SLAToPriority maps a task's SLA class to the priority it is added with.
func SLAToPriority(sla SLAClass) Priority {
	switch sla {
	case SLA0, SLA1:
		return HighPriority
	case SLA2:
		return MidPriority
	default:
		return LowPriority
	}
}

// PowerState is a machine sleep level, ordered from fully on to fully off.
// Only Active machines can host VMs; the deeper the state, the cheaper it
// is to hold and the longer the transition back to Active.
type PowerState int

const (
	Active PowerState = iota
	IdleLight
	IdleMedium
	SleepLight
	SleepMedium
	SleepDeep1
	SleepDeep2
	Off
)

func (s PowerState) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case IdleLight:
		return "IDLE_LIGHT"
	case IdleMedium:
		return "IDLE_MEDIUM"
	case SleepLight:
		return "SLEEP_LIGHT"
	case SleepMedium:
		return "SLEEP_MEDIUM"
	case SleepDeep1:
		return "SLEEP_DEEP_1"
	case SleepDeep2:
		return "SLEEP_DEEP_2"
	case Off:
		return "OFF"
	default:
		return fmt.Sprintf("PowerState(%d)", int(s))
	}
}
