package sched

// Placement predicates. All are stateless: they combine a task's or VM's
// requirements with the simulator's live machine snapshot and the world
// model's reservations, and never mutate either.

// CPUCompatible reports whether m's processor family matches the task's
// required family.
func CPUCompatible(d ClusterDriver, m MachineID, t TaskID) bool {
	return d.MachineCPUType(m) == d.TaskInfo(t).RequiredCPU
}

// GPUCompatible reports whether m can satisfy the task's GPU need: either
// the task does not use a GPU, or m has one.
func GPUCompatible(d ClusterDriver, m MachineID, t TaskID) bool {
	return !d.TaskInfo(t).GPUCapable || d.MachineInfo(m).GPU
}

// VMTypeMatches reports whether vm is of the guest type the task requires.
func VMTypeMatches(d ClusterDriver, vm VMID, t TaskID) bool {
	return d.VMInfo(vm).Type == d.TaskInfo(t).RequiredVM
}

// TaskFits reports whether m has room for the task in a fresh VM: task
// memory plus live usage plus outstanding reservations plus the VM
// overhead must not exceed capacity.
func TaskFits(d ClusterDriver, w *World, m MachineID, t TaskID) bool {
	info := d.MachineInfo(m)
	return d.TaskMemory(t)+info.MemoryUsed+w.Reserved(m)+VMMemoryOverhead <= info.MemorySize
}

// VMMemory returns the memory footprint of vm: the sum of its active
// tasks' memory plus the VM overhead.
func VMMemory(d ClusterDriver, vm VMID) int64 {
	total := int64(VMMemoryOverhead)
	for _, t := range d.VMInfo(vm).ActiveTasks {
		total += d.TaskMemory(t)
	}
	return total
}

// VMFits reports whether m has room for the whole of vm, counting live
// usage and outstanding reservations.
func VMFits(d ClusterDriver, w *World, m MachineID, vm VMID) bool {
	info := d.MachineInfo(m)
	return VMMemory(d, vm)+info.MemoryUsed+w.Reserved(m) <= info.MemorySize
}

// StableAwake reports whether the controller believes m is awake with no
// power transition in flight. Only stable-awake machines may receive
// placements or migrations.
func StableAwake(w *World, m MachineID) bool {
	return w.IsAwake(m) && !w.ChangingState(m)
}

// CanMigrate reports whether vm can be sent to m right now: m must be
// stable awake with a matching CPU family and enough free capacity, and vm
// must not already be in flight.
func CanMigrate(d ClusterDriver, w *World, vm VMID, m MachineID) bool {
	if !StableAwake(w, m) || w.Migrating(vm) {
		return false
	}
	if d.VMInfo(vm).CPU != d.MachineInfo(m).CPU {
		return false
	}
	return VMFits(d, w, m, vm)
}
