package sched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreedy_NewTask_FirstFit(t *testing.T) {
	// GIVEN the three-machine testbed and an X86 Linux task
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 32768, SLA: SLA1})
	ctl := newTestController(d, NewGreedy())

	// WHEN the task arrives
	require.NoError(t, ctl.OnNewTask(0, 0))

	// THEN it lands on M0, the first machine in scan order
	vm, bound := ctl.World().TaskVM(0)
	require.True(t, bound)
	assert.Equal(t, MachineID(0), d.VMInfo(vm).Machine)
	assert.Equal(t, HighPriority, d.TaskInfo(0).Priority, "SLA1 maps to HIGH")

	// AND no machine was woken to serve it
	for _, a := range d.actions {
		assert.NotContains(t, a, "ACTIVE")
	}
}

func TestGreedy_NewTask_SweepsIdleMachinesAfterPlacement(t *testing.T) {
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 1024, SLA: SLA2})
	ctl := newTestController(d, NewGreedy())

	require.NoError(t, ctl.OnNewTask(0, 0))

	// M1 and M2 are empty, so the sweep powers them off; M0 hosts the task.
	w := ctl.World()
	assert.True(t, w.IsAwake(0))
	assert.False(t, w.IsAwake(1))
	assert.False(t, w.IsAwake(2))
	assert.Equal(t, Off, w.TransitionTarget(1))
	assert.Contains(t, d.actions, "set_state 1 OFF")
	assert.Contains(t, d.actions, "set_state 2 OFF")
}

func TestGreedy_NewTask_GPURequirementSkipsGPUlessMachine(t *testing.T) {
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 16384, GPUCapable: true, SLA: SLA1})
	ctl := newTestController(d, NewGreedy())

	require.NoError(t, ctl.OnNewTask(0, 0))

	vm, bound := ctl.World().TaskVM(0)
	require.True(t, bound)
	assert.Equal(t, MachineID(1), d.VMInfo(vm).Machine, "only M1 has a GPU")
}

func TestGreedy_NewTask_ReusesCompatibleVM(t *testing.T) {
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 4096, SLA: SLA2})
	d.addTask(TaskInfo{ID: 1, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 4096, SLA: SLA2})
	ctl := newTestController(d, NewGreedy())

	require.NoError(t, ctl.OnNewTask(0, 0))
	require.NoError(t, ctl.OnNewTask(10, 1))

	vm0, _ := ctl.World().TaskVM(0)
	vm1, _ := ctl.World().TaskVM(1)
	assert.Equal(t, vm0, vm1, "second task of the same type joins the existing VM")
}

func TestGreedy_WakeOnSLA(t *testing.T) {
	// GIVEN M1 and M2 asleep and M0 too full for anything
	d := testbed()
	ctl := newTestController(d, NewGreedy())
	for _, m := range []MachineID{1, 2} {
		require.True(t, ctl.RequestPowerState(0, m, Off, "test setup"))
		require.NoError(t, d.completeStateChange(ctl, 0, m))
	}
	d.machines[0].MemoryUsed = d.machines[0].MemorySize - 4

	// WHEN an ARM task arrives that only sleeping M2 could host
	d.addTask(TaskInfo{ID: 0, RequiredCPU: ARM, RequiredVM: Linux, RequiredMemory: 16384, SLA: SLA1})
	require.NoError(t, ctl.OnNewTask(100, 0))

	// THEN the task is parked on M2's wake queue and a wake is requested
	w := ctl.World()
	assert.Equal(t, 1, w.PendingWakeups(2))
	assert.True(t, w.ChangingState(2))
	assert.Equal(t, Active, w.TransitionTarget(2))
	assert.Contains(t, d.actions, "set_state 2 ACTIVE")
	_, bound := w.TaskVM(0)
	assert.False(t, bound)

	// WHEN the wake completes
	require.NoError(t, d.completeStateChange(ctl, 200, 2))

	// THEN the queue drains and the task runs on M2
	vm, bound := w.TaskVM(0)
	require.True(t, bound)
	assert.Equal(t, MachineID(2), d.VMInfo(vm).Machine)
	assert.Zero(t, w.PendingWakeups(2))
}

func TestGreedy_TaskComplete_ConsolidatesTowardBusierMachine(t *testing.T) {
	// GIVEN VMa+VMb on M0 (two tasks) and VMc on M1 (two tasks)
	d := testbed()
	for i := 0; i < 4; i++ {
		d.addTask(TaskInfo{ID: TaskID(i), RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 8192, SLA: SLA2})
	}
	ctl := newTestController(d, NewGreedy())
	vmA := ctl.PlaceOnNewVM(0, 0, 0, "setup")
	vmB := ctl.PlaceOnNewVM(0, 0, 1, "setup")
	vmC := ctl.PlaceOnNewVM(0, 1, 2, "setup")
	ctl.AddToVM(0, vmC, 3, "setup")

	// WHEN VMa's task completes
	require.NoError(t, d.completeTask(ctl, 100, 0))

	// THEN the empty VM is shut down and VMb migrates to busier M1
	assert.False(t, ctl.World().HasVM(vmA))
	require.True(t, ctl.World().Migrating(vmB))
	rec, _ := ctl.World().Migration(vmB)
	assert.Equal(t, MachineID(1), rec.Dst)
	assert.Equal(t, int64(8192+VMMemoryOverhead), ctl.World().Reserved(1))

	// WHEN the migration lands
	require.NoError(t, d.completeMigration(ctl, 200, vmB))

	// THEN the source machine is powered off
	assert.Zero(t, ctl.World().Reserved(1))
	assert.False(t, ctl.World().IsAwake(0))
	assert.Contains(t, d.actions, "set_state 0 OFF")
}

func TestGreedy_ReservationBlocksOverlappingPlacement(t *testing.T) {
	// GIVEN a big VM in flight toward M1
	d := newFakeDriver(
		MachineInfo{ID: 0, CPU: X86, MemorySize: 131072, State: Active},
		MachineInfo{ID: 1, CPU: X86, MemorySize: 65536, State: Active},
		MachineInfo{ID: 2, CPU: X86, MemorySize: 131072, State: Active},
	)
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 40000, SLA: SLA2})
	ctl := newTestController(d, NewGreedy())
	vm := ctl.PlaceOnNewVM(0, 0, 0, "setup")
	ctl.MigrateVM(10, vm, 1, "setup")
	require.Equal(t, int64(40008), ctl.World().Reserved(1))

	// M0 has no room for the new task
	d.machines[0].MemoryUsed = d.machines[0].MemorySize - 4

	// WHEN a task arrives that would fit M1 only without the reservation
	d.addTask(TaskInfo{ID: 1, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 32768, SLA: SLA1})
	require.NoError(t, ctl.OnNewTask(20, 1))

	// THEN it falls through to M2
	vm1, bound := ctl.World().TaskVM(1)
	require.True(t, bound)
	assert.Equal(t, MachineID(2), d.VMInfo(vm1).Machine)
}

func TestGreedy_NoPlacementPossible(t *testing.T) {
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: Power, RequiredVM: AIX, RequiredMemory: 1024, SLA: SLA0})
	ctl := newTestController(d, NewGreedy())

	err := ctl.OnNewTask(0, 0)

	var npe *NoPlacementError
	require.True(t, errors.As(err, &npe))
	assert.Equal(t, TaskID(0), npe.Task)
}

func TestGreedy_SLAWarning_MigratesBoundTask(t *testing.T) {
	// GIVEN a task on overloaded M1 and room on M0
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 8192, SLA: SLA1})
	ctl := newTestController(d, NewGreedy())
	vm := ctl.PlaceOnNewVM(0, 1, 0, "setup")
	d.machines[1].ActiveTasks += 5 // make M1 look busy so M0 sorts first

	// WHEN its SLA is at risk
	require.NoError(t, ctl.OnSLAWarning(100, 0))

	// THEN the VM is sent to the least-utilized compatible machine
	require.True(t, ctl.World().Migrating(vm))
	rec, _ := ctl.World().Migration(vm)
	assert.Equal(t, MachineID(0), rec.Dst)
}

func TestGreedy_MemoryWarning_RelocatesOneTask(t *testing.T) {
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 8192, SLA: SLA2})
	ctl := newTestController(d, NewGreedy())
	vm := ctl.PlaceOnNewVM(0, 1, 0, "setup")
	d.machines[1].MemoryUsed = d.machines[1].MemorySize + 100
	d.machines[1].ActiveTasks += 5

	require.NoError(t, ctl.OnMemoryWarning(50, 1))

	assert.True(t, ctl.World().Migrating(vm), "one resident task's VM relocates")
}

func TestGreedy_TaskCompleteDuringMigration_BuffersShutdown(t *testing.T) {
	// GIVEN a single-task VM in flight
	d := testbed()
	d.addTask(TaskInfo{ID: 0, RequiredCPU: X86, RequiredVM: Linux, RequiredMemory: 8192, SLA: SLA2})
	ctl := newTestController(d, NewGreedy())
	vm := ctl.PlaceOnNewVM(0, 0, 0, "setup")
	ctl.MigrateVM(10, vm, 1, "setup")

	// WHEN the task completes mid-flight
	require.NoError(t, d.completeTask(ctl, 20, 0))

	// THEN the VM survives until the migration lands, then is shut down
	assert.True(t, ctl.World().HasVM(vm))
	require.NoError(t, d.completeMigration(ctl, 30, vm))
	assert.False(t, ctl.World().HasVM(vm))
	assert.Contains(t, d.actions, "vm_shutdown 0")
}

func TestGreedy_StateChangeToSleep_RedispatchesQueuedItems(t *testing.T) {
	// GIVEN a wake request racing a sleep transition: M2 is heading to
	// sleep when an ARM task needs it
	d := testbed()
	ctl := newTestController(d, NewGreedy())
	require.True(t, ctl.RequestPowerState(0, 2, SleepDeep1, "test setup"))
	d.machines[0].MemoryUsed = d.machines[0].MemorySize - 4

	d.addTask(TaskInfo{ID: 0, RequiredCPU: ARM, RequiredVM: Linux, RequiredMemory: 4096, SLA: SLA1})
	require.NoError(t, ctl.OnNewTask(5, 0))

	// The task queues on M2; no second set_state is issued mid-flight.
	assert.Equal(t, 1, ctl.World().PendingWakeups(2))
	assert.NotContains(t, d.actions, "set_state 2 ACTIVE")

	// WHEN the sleep completes, the policy re-evaluates and wakes M2
	require.NoError(t, d.completeStateChange(ctl, 50, 2))
	assert.Contains(t, d.actions, "set_state 2 ACTIVE")
	assert.Equal(t, 1, ctl.World().PendingWakeups(2))

	// AND the eventual wake places the task
	require.NoError(t, d.completeStateChange(ctl, 100, 2))
	vm, bound := ctl.World().TaskVM(0)
	require.True(t, bound)
	assert.Equal(t, MachineID(2), d.VMInfo(vm).Machine)
}
