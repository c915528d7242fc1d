package sched

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// Helpers shared by the consolidating policies (Greedy and P-Mapper).
// Both keep a persistent machine ordering that event handlers re-sort;
// ties always break by machine ID ascending so runs are deterministic.

// sortByActiveTasks orders machines ascending by live task count.
func sortByActiveTasks(c *Controller, machines []MachineID) {
	sort.SliceStable(machines, func(i, j int) bool {
		ti := c.Driver().MachineInfo(machines[i]).ActiveTasks
		tj := c.Driver().MachineInfo(machines[j]).ActiveTasks
		if ti != tj {
			return ti < tj
		}
		return machines[i] < machines[j]
	})
}

// sortByEnergy orders machines ascending by energy consumed so far.
func sortByEnergy(c *Controller, machines []MachineID) {
	sort.SliceStable(machines, func(i, j int) bool {
		ei := c.Driver().MachineInfo(machines[i]).EnergyConsumed
		ej := c.Driver().MachineInfo(machines[j]).EnergyConsumed
		if ei != ej {
			return ei < ej
		}
		return machines[i] < machines[j]
	})
}

// findCompatibleVM returns a resident, non-migrating VM on m of the
// task's required type, if one exists.
func findCompatibleVM(c *Controller, m MachineID, t TaskID) (VMID, bool) {
	for _, vm := range c.VMsOn(m) {
		if VMTypeMatches(c.Driver(), vm, t) {
			return vm, true
		}
	}
	return 0, false
}

// slaAllocate is the escalation path for a task that found no stable-awake
// machine: sort by utilization, take the first machine with a compatible
// CPU and enough capacity (awake or not). An awake machine gets a fresh VM
// immediately; a sleeping one gets the task queued and a wake request.
// Returns *NoPlacementError when no machine qualifies at all.
func slaAllocate(c *Controller, now int64, t TaskID, machines []MachineID) error {
	sortByActiveTasks(c, machines)
	d := c.Driver()
	w := c.World()
	for _, m := range machines {
		if !CPUCompatible(d, m, t) || !TaskFits(d, w, m, t) {
			continue
		}
		if StableAwake(w, m) {
			c.PlaceOnNewVM(now, m, t, "sla-escalation")
			return nil
		}
		w.EnqueueWakeup(m, WakeItem{Kind: WakeTask, Task: t})
		if !w.ChangingState(m) {
			c.RequestPowerState(now, m, Active, "wake for queued task")
		}
		logrus.Debugf("[policy] task %d queued on sleeping machine %d", t, m)
		return nil
	}
	return &NoPlacementError{Task: t}
}

// migrateOrWake relocates a VM whose task is at SLA risk: sort by
// utilization, take the first machine with a compatible CPU and enough
// capacity. A stable-awake machine receives the migration immediately,
// unless it is the VM's current host or CanMigrate rejects the move, in
// which case nothing is done; a sleeping one gets the VM queued and a wake
// request. Returns *NoPlacementError when no machine qualifies for a VM
// that still has tasks.
func migrateOrWake(c *Controller, now int64, vm VMID, machines []MachineID) error {
	sortByActiveTasks(c, machines)
	d := c.Driver()
	w := c.World()
	info := d.VMInfo(vm)
	var probe TaskID
	if len(info.ActiveTasks) > 0 {
		probe = info.ActiveTasks[0]
	}
	for _, m := range machines {
		if len(info.ActiveTasks) > 0 {
			if !CPUCompatible(d, m, probe) || !TaskFits(d, w, m, probe) {
				continue
			}
		} else if d.MachineCPUType(m) != info.CPU {
			continue
		}
		if StableAwake(w, m) {
			if m != info.Machine && CanMigrate(d, w, vm, m) {
				c.MigrateVM(now, vm, m, "sla-relocation")
			}
			return nil
		}
		w.EnqueueWakeup(m, WakeItem{Kind: WakeVM, VM: vm})
		if !w.ChangingState(m) {
			c.RequestPowerState(now, m, Active, "wake for queued migration")
		}
		logrus.Debugf("[policy] VM %d queued for sleeping machine %d", vm, m)
		return nil
	}
	if len(info.ActiveTasks) > 0 {
		return &NoPlacementError{Task: probe}
	}
	return nil
}

// drainWakeQueue places the items queued for a machine that just reached
// Active. Stale entries (completed tasks, shut-down or in-flight VMs) are
// dropped; items the machine can no longer accommodate are re-routed
// through the escalation path.
func drainWakeQueue(c *Controller, now int64, m MachineID, machines []MachineID) error {
	d := c.Driver()
	w := c.World()
	for _, item := range w.DrainWakeups(m) {
		switch item.Kind {
		case WakeTask:
			t := item.Task
			if d.TaskInfo(t).Completed {
				continue
			}
			if _, bound := w.TaskVM(t); bound {
				continue
			}
			if CPUCompatible(d, m, t) && TaskFits(d, w, m, t) && StableAwake(w, m) {
				c.PlaceOnNewVM(now, m, t, "wake-queue drain")
				continue
			}
			if err := slaAllocate(c, now, t, machines); err != nil {
				return err
			}
		case WakeVM:
			vm := item.VM
			if !w.HasVM(vm) || w.Migrating(vm) {
				continue
			}
			if CanMigrate(d, w, vm, m) && d.VMInfo(vm).Machine != m {
				c.MigrateVM(now, vm, m, "wake-queue drain")
				continue
			}
			if err := migrateOrWake(c, now, vm, machines); err != nil {
				return err
			}
		}
	}
	return nil
}

// redispatchWakeQueue re-evaluates items left queued on a machine that
// finished transitioning into a sleep state: the wake the items waited
// for never happened, so each is routed afresh.
func redispatchWakeQueue(c *Controller, now int64, m MachineID, machines []MachineID) error {
	d := c.Driver()
	w := c.World()
	if w.PendingWakeups(m) == 0 {
		return nil
	}
	for _, item := range w.DrainWakeups(m) {
		switch item.Kind {
		case WakeTask:
			if d.TaskInfo(item.Task).Completed {
				continue
			}
			if _, bound := w.TaskVM(item.Task); bound {
				continue
			}
			if err := slaAllocate(c, now, item.Task, machines); err != nil {
				return err
			}
		case WakeVM:
			if !w.HasVM(item.VM) || w.Migrating(item.VM) {
				continue
			}
			if err := migrateOrWake(c, now, item.VM, machines); err != nil {
				return err
			}
		}
	}
	return nil
}

// completeEmptyVM shuts a VM down if its last task has gone and it is not
// in flight. A migrating VM is left alone: the check re-runs when the
// migration completes.
func completeEmptyVM(c *Controller, vm VMID) {
	w := c.World()
	if !w.HasVM(vm) || w.Migrating(vm) {
		return
	}
	if len(c.Driver().VMInfo(vm).ActiveTasks) == 0 {
		c.ShutdownVM(vm)
	}
}

// firstResidentTask returns one task running on machine m, if any.
func firstResidentTask(c *Controller, m MachineID) (TaskID, bool) {
	for _, vm := range c.VMsOn(m) {
		tasks := c.Driver().VMInfo(vm).ActiveTasks
		if len(tasks) > 0 {
			return tasks[0], true
		}
	}
	return 0, false
}

// shutdownLeftoverVMs destroys every empty, resident VM at end of run.
func shutdownLeftoverVMs(c *Controller) {
	for _, vm := range c.World().VMs() {
		completeEmptyVM(c, vm)
	}
}
