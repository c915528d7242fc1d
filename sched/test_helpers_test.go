package sched

import "fmt"

// fakeDriver is an in-memory ClusterDriver for unit tests. Asynchronous
// actions (power transitions, migrations) stay pending until the test
// completes them explicitly, so tests control interleaving.
type fakeDriver struct {
	machines map[MachineID]*MachineInfo
	vms      map[VMID]*VMInfo
	tasks    map[TaskID]*TaskInfo
	nextVM   VMID

	pendingState     map[MachineID]PowerState
	pendingMigration map[VMID]MachineID

	actions []string
}

func newFakeDriver(machines ...MachineInfo) *fakeDriver {
	d := &fakeDriver{
		machines:         make(map[MachineID]*MachineInfo),
		vms:              make(map[VMID]*VMInfo),
		tasks:            make(map[TaskID]*TaskInfo),
		pendingState:     make(map[MachineID]PowerState),
		pendingMigration: make(map[VMID]MachineID),
	}
	for i := range machines {
		m := machines[i]
		d.machines[m.ID] = &m
	}
	return d
}

func (d *fakeDriver) addTask(info TaskInfo) {
	t := info
	t.Priority = SLAToPriority(t.SLA)
	d.tasks[t.ID] = &t
}

func (d *fakeDriver) record(format string, args ...any) {
	d.actions = append(d.actions, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) MachineTotal() int { return len(d.machines) }

func (d *fakeDriver) MachineInfo(m MachineID) MachineInfo { return *d.machines[m] }

func (d *fakeDriver) MachineCPUType(m MachineID) CPUType { return d.machines[m].CPU }

func (d *fakeDriver) VMInfo(vm VMID) VMInfo {
	info := *d.vms[vm]
	info.ActiveTasks = append([]TaskID(nil), info.ActiveTasks...)
	return info
}

func (d *fakeDriver) TaskInfo(t TaskID) TaskInfo { return *d.tasks[t] }

func (d *fakeDriver) TaskMemory(t TaskID) int64 { return d.tasks[t].RequiredMemory }

func (d *fakeDriver) SLAReport(sla SLAClass) float64 { return 0 }

func (d *fakeDriver) ClusterEnergy() float64 {
	var total float64
	for _, m := range d.machines {
		total += m.EnergyConsumed
	}
	return total
}

func (d *fakeDriver) SetPowerState(m MachineID, state PowerState) {
	d.record("set_state %d %s", m, state)
	d.pendingState[m] = state
}

// completeStateChange applies the pending transition and delivers the
// completion callback.
func (d *fakeDriver) completeStateChange(ctl *Controller, now int64, m MachineID) error {
	state, ok := d.pendingState[m]
	if !ok {
		panic(fmt.Sprintf("fake: no pending state change for machine %d", m))
	}
	delete(d.pendingState, m)
	d.machines[m].State = state
	return ctl.OnStateChangeComplete(now, m)
}

func (d *fakeDriver) VMCreate(vmType VMType, cpu CPUType) VMID {
	id := d.nextVM
	d.nextVM++
	d.vms[id] = &VMInfo{ID: id, Type: vmType, CPU: cpu, Machine: -1}
	d.record("vm_create %d %s", id, vmType)
	return id
}

func (d *fakeDriver) VMAttach(vm VMID, m MachineID) {
	v := d.vms[vm]
	v.Machine = m
	d.machines[m].ActiveVMs++
	d.machines[m].MemoryUsed += VMMemoryOverhead
	d.record("vm_attach %d %d", vm, m)
}

func (d *fakeDriver) VMAddTask(vm VMID, t TaskID, prio Priority) {
	v := d.vms[vm]
	v.ActiveTasks = append(v.ActiveTasks, t)
	d.tasks[t].Priority = prio
	m := d.machines[v.Machine]
	m.ActiveTasks++
	m.MemoryUsed += d.tasks[t].RequiredMemory
	d.record("vm_add_task %d %d %s", vm, t, prio)
}

func (d *fakeDriver) VMMigrate(vm VMID, dst MachineID) {
	v := d.vms[vm]
	src := d.machines[v.Machine]
	src.ActiveVMs--
	src.ActiveTasks -= len(v.ActiveTasks)
	src.MemoryUsed -= d.vmFootprint(vm)
	v.Machine = -1
	d.pendingMigration[vm] = dst
	d.record("vm_migrate %d %d", vm, dst)
}

// completeMigration lands the VM and delivers the completion callback.
func (d *fakeDriver) completeMigration(ctl *Controller, now int64, vm VMID) error {
	dst, ok := d.pendingMigration[vm]
	if !ok {
		panic(fmt.Sprintf("fake: no pending migration for VM %d", vm))
	}
	delete(d.pendingMigration, vm)
	v := d.vms[vm]
	v.Machine = dst
	m := d.machines[dst]
	m.ActiveVMs++
	m.ActiveTasks += len(v.ActiveTasks)
	m.MemoryUsed += d.vmFootprint(vm)
	return ctl.OnMigrationComplete(now, vm)
}

func (d *fakeDriver) VMShutdown(vm VMID) {
	v := d.vms[vm]
	if len(v.ActiveTasks) > 0 {
		panic(fmt.Sprintf("fake: VMShutdown(%d) with active tasks", vm))
	}
	if v.Machine >= 0 {
		m := d.machines[v.Machine]
		m.ActiveVMs--
		m.MemoryUsed -= VMMemoryOverhead
	}
	delete(d.vms, vm)
	d.record("vm_shutdown %d", vm)
}

func (d *fakeDriver) vmFootprint(vm VMID) int64 {
	total := int64(VMMemoryOverhead)
	for _, t := range d.vms[vm].ActiveTasks {
		total += d.tasks[t].RequiredMemory
	}
	return total
}

// completeTask removes the task from its VM and machine accounting, then
// delivers the completion callback, in the simulator's completion order.
func (d *fakeDriver) completeTask(ctl *Controller, now int64, t TaskID) error {
	info := d.tasks[t]
	info.Completed = true
	for _, v := range d.vms {
		for i, held := range v.ActiveTasks {
			if held != t {
				continue
			}
			v.ActiveTasks = append(v.ActiveTasks[:i], v.ActiveTasks[i+1:]...)
			if v.Machine >= 0 {
				m := d.machines[v.Machine]
				m.ActiveTasks--
				m.MemoryUsed -= info.RequiredMemory
			}
			return ctl.OnTaskComplete(now, t)
		}
	}
	return ctl.OnTaskComplete(now, t)
}

// testbed builds the three-machine cluster used across the policy tests:
// M0 X86 128GB, M1 X86 64GB with GPU, M2 ARM 128GB.
func testbed() *fakeDriver {
	return newFakeDriver(
		MachineInfo{ID: 0, CPU: X86, MemorySize: 131072, State: Active},
		MachineInfo{ID: 1, CPU: X86, GPU: true, MemorySize: 65536, State: Active},
		MachineInfo{ID: 2, CPU: ARM, MemorySize: 131072, State: Active},
	)
}

func newTestController(d *fakeDriver, p Policy) *Controller {
	ctl := NewController(d, p)
	if err := ctl.Init(); err != nil {
		panic(err)
	}
	return ctl
}
