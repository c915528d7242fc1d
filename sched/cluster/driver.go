package cluster

import (
	"fmt"

	"github.com/placement-sim/placement-sim/sched"
)

// sched.ClusterDriver implementation. Query methods return copies; the
// controller never holds references into the cluster's state. Action
// preconditions are asserted with panics: a violated precondition means
// the controller issued an action its own bookkeeping forbids.

var _ sched.ClusterDriver = (*Cluster)(nil)

// MachineTotal implements sched.ClusterDriver.
func (c *Cluster) MachineTotal() int { return len(c.machines) }

// MachineInfo implements sched.ClusterDriver.
func (c *Cluster) MachineInfo(id sched.MachineID) sched.MachineInfo {
	m := c.lookupMachine(id)
	c.accrueEnergy(m, c.clock)
	return m.info
}

// MachineCPUType implements sched.ClusterDriver.
func (c *Cluster) MachineCPUType(id sched.MachineID) sched.CPUType {
	return c.lookupMachine(id).info.CPU
}

// VMInfo implements sched.ClusterDriver.
func (c *Cluster) VMInfo(id sched.VMID) sched.VMInfo {
	v := c.lookupVM(id)
	tasks := make([]sched.TaskID, len(v.tasks))
	for i, t := range v.tasks {
		tasks[i] = t.info.ID
	}
	return sched.VMInfo{
		ID:          v.id,
		Type:        v.vmType,
		CPU:         v.cpu,
		Machine:     v.machine,
		ActiveTasks: tasks,
	}
}

// TaskInfo implements sched.ClusterDriver.
func (c *Cluster) TaskInfo(id sched.TaskID) sched.TaskInfo {
	return c.lookupTask(id).info
}

// TaskMemory implements sched.ClusterDriver.
func (c *Cluster) TaskMemory(id sched.TaskID) int64 {
	return c.lookupTask(id).info.RequiredMemory
}

// SLAReport implements sched.ClusterDriver.
func (c *Cluster) SLAReport(sla sched.SLAClass) float64 {
	total := c.slaTotals[sla]
	if total == 0 {
		return 0
	}
	return 100 * float64(c.slaViolations[sla]) / float64(total)
}

// ClusterEnergy implements sched.ClusterDriver.
func (c *Cluster) ClusterEnergy() float64 {
	var total float64
	for _, m := range c.machines {
		c.accrueEnergy(m, c.clock)
		total += m.info.EnergyConsumed
	}
	return total
}

// SetPowerState implements sched.ClusterDriver. Completion is delivered
// via OnStateChangeComplete after the state-dependent transition delay.
func (c *Cluster) SetPowerState(id sched.MachineID, state sched.PowerState) {
	m := c.lookupMachine(id)
	if m.transitioning {
		panic(fmt.Sprintf("cluster: SetPowerState(%d) during a transition", id))
	}
	c.accrueEnergy(m, c.clock)
	m.transitioning = true
	c.transitionsInFlight++
	c.schedule(&stateChangeEvent{
		time:    c.clock + transitionDelay(m.info.State, state),
		machine: m,
		target:  state,
	})
}

// VMCreate implements sched.ClusterDriver.
func (c *Cluster) VMCreate(vmType sched.VMType, cpu sched.CPUType) sched.VMID {
	id := c.nextVM
	c.nextVM++
	c.vms[id] = &vm{id: id, vmType: vmType, cpu: cpu, machine: -1, dst: -1}
	return id
}

// VMAttach implements sched.ClusterDriver.
func (c *Cluster) VMAttach(id sched.VMID, machineID sched.MachineID) {
	v := c.lookupVM(id)
	if v.machine >= 0 || v.migrating {
		panic(fmt.Sprintf("cluster: VMAttach(%d) but VM is not free", id))
	}
	m := c.lookupMachine(machineID)
	if m.info.State != sched.Active {
		panic(fmt.Sprintf("cluster: VMAttach(%d) to machine %d in state %s", id, machineID, m.info.State))
	}
	c.accrueEnergy(m, c.clock)
	v.machine = machineID
	m.info.ActiveVMs++
	m.info.MemoryUsed += sched.VMMemoryOverhead
	c.checkOvercommit(m)
}

// VMAddTask implements sched.ClusterDriver. The task starts immediately;
// its completion event is scheduled at now + duration.
func (c *Cluster) VMAddTask(id sched.VMID, taskID sched.TaskID, prio sched.Priority) {
	v := c.lookupVM(id)
	if v.machine < 0 || v.migrating {
		panic(fmt.Sprintf("cluster: VMAddTask(%d) but VM is not resident", id))
	}
	t := c.lookupTask(taskID)
	if t.started || t.info.Completed {
		panic(fmt.Sprintf("cluster: task %d added twice", taskID))
	}
	t.started = true
	t.startTime = c.clock
	t.vm = id
	t.info.Priority = prio
	v.tasks = append(v.tasks, t)
	m := c.machines[v.machine]
	c.accrueEnergy(m, c.clock)
	m.info.MemoryUsed += t.info.RequiredMemory
	m.info.ActiveTasks++
	c.schedule(&completionEvent{time: c.clock + t.duration, task: t})
	c.checkOvercommit(m)
}

// VMMigrate implements sched.ClusterDriver. The VM leaves its source
// immediately and lands after the configured migration delay; its tasks
// keep running in flight.
func (c *Cluster) VMMigrate(id sched.VMID, dst sched.MachineID) {
	v := c.lookupVM(id)
	if v.machine < 0 || v.migrating {
		panic(fmt.Sprintf("cluster: VMMigrate(%d) but VM is not resident", id))
	}
	c.lookupMachine(dst)
	src := c.machines[v.machine]
	c.accrueEnergy(src, c.clock)
	src.info.ActiveVMs--
	src.info.ActiveTasks -= len(v.tasks)
	src.info.MemoryUsed -= vmFootprint(v)
	v.machine = -1
	v.migrating = true
	v.dst = dst
	c.migrationsInFlight++
	c.schedule(&migrationDoneEvent{time: c.clock + c.cfg.MigrationDelayUS, vm: v})
}

// VMShutdown implements sched.ClusterDriver.
func (c *Cluster) VMShutdown(id sched.VMID) {
	v := c.lookupVM(id)
	if len(v.tasks) > 0 || v.migrating {
		panic(fmt.Sprintf("cluster: VMShutdown(%d) with active tasks or in flight", id))
	}
	if v.machine >= 0 {
		m := c.machines[v.machine]
		c.accrueEnergy(m, c.clock)
		m.info.ActiveVMs--
		m.info.MemoryUsed -= sched.VMMemoryOverhead
	}
	delete(c.vms, id)
}

func (c *Cluster) lookupMachine(id sched.MachineID) *machine {
	if id < 0 || int(id) >= len(c.machines) {
		panic(fmt.Sprintf("cluster: unknown machine %d", id))
	}
	return c.machines[id]
}

func (c *Cluster) lookupVM(id sched.VMID) *vm {
	v, ok := c.vms[id]
	if !ok {
		panic(fmt.Sprintf("cluster: unknown VM %d", id))
	}
	return v
}

func (c *Cluster) lookupTask(id sched.TaskID) *task {
	if id < 0 || int(id) >= len(c.tasks) {
		panic(fmt.Sprintf("cluster: unknown task %d", id))
	}
	return c.tasks[id]
}
