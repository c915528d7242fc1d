package sched

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/placement-sim/placement-sim/sched/trace"
)

// Controller owns the world model and the active policy. The simulator
// calls the On* methods; each call updates the world for the observed
// fact, then invokes the policy's handler. Policies act back through the
// controller's action methods, which keep bookkeeping ordered ahead of
// the simulator (reserve before migrate, flag before power request).
type Controller struct {
	driver ClusterDriver
	world  *World
	policy Policy
	trace  *trace.Trace
	out    io.Writer

	totalTasks     int
	tasksCompleted int
}

// NewController creates a controller bound to a driver and a policy.
func NewController(d ClusterDriver, p Policy) *Controller {
	return &Controller{
		driver: d,
		world:  NewWorld(d.MachineTotal()),
		policy: p,
		trace:  trace.New(trace.LevelNone),
		out:    os.Stdout,
	}
}

// SetTrace installs a decision trace. A nil trace disables recording.
func (c *Controller) SetTrace(t *trace.Trace) { c.trace = t }

// SetOutput redirects the final report. Defaults to stdout.
func (c *Controller) SetOutput(w io.Writer) { c.out = w }

// Driver returns the bound cluster driver.
func (c *Controller) Driver() ClusterDriver { return c.driver }

// World returns the controller's world model.
func (c *Controller) World() *World { return c.world }

// Policy returns the active placement policy.
func (c *Controller) Policy() Policy { return c.policy }

// Trace returns the installed decision trace.
func (c *Controller) Trace() *trace.Trace { return c.trace }

// Init runs the policy's startup hook. Must be called once before any
// event is delivered.
func (c *Controller) Init() error {
	logrus.Infof("[controller] %s policy, %d machines", c.policy.Name(), c.driver.MachineTotal())
	return c.policy.OnInit(c)
}

// OnNewTask handles a task arrival.
func (c *Controller) OnNewTask(now int64, t TaskID) error {
	c.totalTasks++
	logrus.Debugf("[controller] new task %d at %dµs", t, now)
	return c.policy.OnNewTask(c, now, t)
}

// OnTaskComplete handles a task completion. The task is removed from the
// task→VM index before the policy runs.
func (c *Controller) OnTaskComplete(now int64, t TaskID) error {
	c.tasksCompleted++
	vm, bound := c.world.UnbindTask(t)
	logrus.Debugf("[controller] task %d complete at %dµs", t, now)
	return c.policy.OnTaskComplete(c, now, t, vm, bound)
}

// OnSLAWarning handles an SLA-at-risk notification for a task.
func (c *Controller) OnSLAWarning(now int64, t TaskID) error {
	logrus.Debugf("[controller] SLA warning for task %d at %dµs", t, now)
	return c.policy.OnSLAWarning(c, now, t)
}

// OnMemoryWarning handles a memory overcommit notification for a machine.
func (c *Controller) OnMemoryWarning(now int64, m MachineID) error {
	logrus.Warnf("[controller] memory overflow on machine %d at %dµs", m, now)
	return c.policy.OnMemoryWarning(c, now, m)
}

// OnMigrationComplete handles the end of a migration the controller
// issued earlier. The reservation is released before the policy runs.
func (c *Controller) OnMigrationComplete(now int64, vm VMID) error {
	rec := c.world.EndMigration(vm)
	logrus.Debugf("[controller] VM %d arrived on machine %d at %dµs", vm, rec.Dst, now)
	return c.policy.OnMigrationComplete(c, now, rec)
}

// OnStateChangeComplete handles the end of a power transition. The
// transition flag is cleared and the believes-awake set updated before
// the policy runs. A duplicate completion is a no-op apart from the
// policy call, which sees an empty wake queue.
func (c *Controller) OnStateChangeComplete(now int64, m MachineID) error {
	observed := c.driver.MachineInfo(m).State
	if !c.world.CompleteTransition(m, observed) {
		logrus.Debugf("[controller] duplicate state-change completion for machine %d", m)
	}
	logrus.Debugf("[controller] machine %d now %s at %dµs", m, observed, now)
	return c.policy.OnStateChangeComplete(c, now, m, observed)
}

// OnTick handles the simulator's periodic callback.
func (c *Controller) OnTick(now int64) error {
	return c.policy.OnTick(c, now)
}

// OnSimulationComplete runs the policy's shutdown hook and emits the
// final report.
func (c *Controller) OnSimulationComplete(now int64) error {
	if err := c.policy.OnShutdown(c, now); err != nil {
		return err
	}
	c.BuildReport(now).Print(c.out)
	return nil
}

// Action methods, used by policies. Each keeps the world model consistent
// with the action it issues.

// PlaceOnNewVM creates a VM of the task's required type on m, attaches
// it, and adds the task at its priority. The caller must have classified
// m as a valid target.
func (c *Controller) PlaceOnNewVM(now int64, m MachineID, t TaskID, reason string) VMID {
	info := c.driver.TaskInfo(t)
	vm := c.driver.VMCreate(info.RequiredVM, c.driver.MachineCPUType(m))
	c.world.RegisterVM(vm)
	c.driver.VMAttach(vm, m)
	c.driver.VMAddTask(vm, t, info.Priority)
	c.world.BindTask(t, vm)
	c.trace.RecordPlacement(trace.PlacementRecord{
		Clock: now, Task: int(t), VM: int(vm), Machine: int(m), Reason: reason,
	})
	logrus.Debugf("[controller] task %d placed on new VM %d on machine %d (%s)", t, vm, m, reason)
	return vm
}

// AddToVM adds the task to an existing resident VM.
func (c *Controller) AddToVM(now int64, vm VMID, t TaskID, reason string) {
	if c.world.Migrating(vm) {
		panic("sched: AddToVM on a migrating VM")
	}
	info := c.driver.TaskInfo(t)
	c.driver.VMAddTask(vm, t, info.Priority)
	c.world.BindTask(t, vm)
	c.trace.RecordPlacement(trace.PlacementRecord{
		Clock: now, Task: int(t), VM: int(vm), Machine: int(c.driver.VMInfo(vm).Machine), Reason: reason,
	})
}

// MigrateVM reserves the VM's memory on dst, records the in-flight
// migration, then issues it. The caller must have checked CanMigrate.
func (c *Controller) MigrateVM(now int64, vm VMID, dst MachineID, reason string) {
	src := c.driver.VMInfo(vm).Machine
	reserve := VMMemory(c.driver, vm)
	c.world.BeginMigration(vm, src, dst, reserve)
	c.driver.VMMigrate(vm, dst)
	c.trace.RecordMigration(trace.MigrationRecord{
		Clock: now, VM: int(vm), Src: int(src), Dst: int(dst), Reason: reason,
	})
	logrus.Debugf("[controller] migrating VM %d from machine %d to %d, %d MB reserved (%s)",
		vm, src, dst, reserve, reason)
}

// ShutdownVM destroys an empty, resident VM.
func (c *Controller) ShutdownVM(vm VMID) {
	c.world.DeregisterVM(vm)
	c.driver.VMShutdown(vm)
}

// RequestPowerState flags the transition and issues it. Returns false
// without issuing anything when a transition is already in flight; the
// pending intent waits for the current one to complete.
func (c *Controller) RequestPowerState(now int64, m MachineID, target PowerState, reason string) bool {
	if err := c.world.BeginTransition(m, target); err != nil {
		logrus.Debugf("[controller] machine %d busy, not requesting %s: %v", m, target, err)
		return false
	}
	c.driver.SetPowerState(m, target)
	c.trace.RecordPower(trace.PowerRecord{
		Clock: now, Machine: int(m), Target: target.String(), Reason: reason,
	})
	logrus.Debugf("[controller] machine %d -> %s (%s)", m, target, reason)
	return true
}

// TryShutdownMachine powers m down to target if it is stable awake,
// empty, and not a migration destination.
func (c *Controller) TryShutdownMachine(now int64, m MachineID, target PowerState, reason string) bool {
	if !c.world.CanShutdown(c.driver.MachineInfo(m)) {
		return false
	}
	return c.RequestPowerState(now, m, target, reason)
}

// VMsOn returns the controller's non-migrating VMs resident on m, in
// creation order.
func (c *Controller) VMsOn(m MachineID) []VMID {
	var out []VMID
	for _, vm := range c.world.VMs() {
		if c.world.Migrating(vm) {
			continue
		}
		if c.driver.VMInfo(vm).Machine == m {
			out = append(out, vm)
		}
	}
	return out
}
