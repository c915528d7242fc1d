package sched

// MachineInfo is a snapshot of a physical machine as reported by the
// simulator. Dynamic fields (MemoryUsed, ActiveVMs, ActiveTasks, State,
// EnergyConsumed) are authoritative only at the instant of the query; the
// controller re-reads them rather than caching across events.
type MachineInfo struct {
	ID             MachineID
	CPU            CPUType
	GPU            bool
	MemorySize     int64 // MB
	MemoryUsed     int64 // MB, live tasks plus per-VM overhead
	State          PowerState
	ActiveVMs      int
	ActiveTasks    int
	EnergyConsumed float64 // kWh accumulated so far
}

// VMInfo is a snapshot of a virtual machine.
type VMInfo struct {
	ID          VMID
	Type        VMType
	CPU         CPUType
	Machine     MachineID
	ActiveTasks []TaskID
}

// TaskInfo is a snapshot of a task's requirements and progress.
type TaskInfo struct {
	ID               TaskID
	RequiredCPU      CPUType
	RequiredVM       VMType
	RequiredMemory   int64 // MB
	GPUCapable       bool
	SLA              SLAClass
	Priority         Priority
	Arrival          int64 // µs
	TargetCompletion int64 // µs
	Completed        bool
}

// ClusterDriver is the boundary between the controller and the simulated
// datacenter. Queries are cheap and pure; actions marked asynchronous
// complete via a later controller callback, never synchronously.
//
// sched/cluster provides the reference implementation.
type ClusterDriver interface {
	// MachineTotal returns the number of physical machines. Machine IDs
	// are 0..MachineTotal()-1.
	MachineTotal() int
	MachineInfo(m MachineID) MachineInfo
	MachineCPUType(m MachineID) CPUType
	VMInfo(vm VMID) VMInfo
	TaskInfo(t TaskID) TaskInfo
	TaskMemory(t TaskID) int64

	// SLAReport returns the violation percentage for an SLA class.
	SLAReport(sla SLAClass) float64
	// ClusterEnergy returns total energy consumed across all machines, in kWh.
	ClusterEnergy() float64

	// SetPowerState begins an asynchronous power transition. Completion is
	// reported via Controller.OnStateChangeComplete.
	SetPowerState(m MachineID, state PowerState)

	// VMCreate allocates a new, unattached VM. Synchronous.
	VMCreate(vmType VMType, cpu CPUType) VMID
	// VMAttach places an unattached VM on a machine. Synchronous.
	VMAttach(vm VMID, m MachineID)
	// VMAddTask adds a task to an attached VM at the given priority. Synchronous.
	VMAddTask(vm VMID, t TaskID, prio Priority)
	// VMMigrate begins an asynchronous migration. Completion is reported
	// via Controller.OnMigrationComplete.
	VMMigrate(vm VMID, dst MachineID)
	// VMShutdown destroys a VM. The VM must have no active tasks and must
	// not be migrating.
	VMShutdown(vm VMID)
}
