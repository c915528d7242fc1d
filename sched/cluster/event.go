package cluster

import (
	"container/heap"

	"github.com/placement-sim/placement-sim/sched"
)

// Event is a simulation occurrence delivered at a fixed simulated time.
type Event interface {
	Timestamp() int64
	Execute(c *Cluster)
}

// eventQueue implements heap.Interface and orders events by timestamp,
// with a sequence number so same-time events pop in push order.
type eventQueue []queued

type queued struct {
	event Event
	seq   int64
}

func (eq eventQueue) Len() int { return len(eq) }
func (eq eventQueue) Less(i, j int) bool {
	if eq[i].event.Timestamp() != eq[j].event.Timestamp() {
		return eq[i].event.Timestamp() < eq[j].event.Timestamp()
	}
	return eq[i].seq < eq[j].seq
}
func (eq eventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *eventQueue) Push(x any) {
	*eq = append(*eq, x.(queued))
}

func (eq *eventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

func (c *Cluster) schedule(e Event) {
	heap.Push(&c.events, queued{event: e, seq: c.nextSeq})
	c.nextSeq++
}

// arrivalEvent delivers a new task to the controller.
type arrivalEvent struct {
	time int64
	task *task
}

func (e *arrivalEvent) Timestamp() int64 { return e.time }
func (e *arrivalEvent) Execute(c *Cluster) {
	c.slaTotals[e.task.info.SLA]++
	c.fail(c.ctl.OnNewTask(e.time, e.task.info.ID))
}

// completionEvent finishes a started task and notifies the controller.
type completionEvent struct {
	time int64
	task *task
}

func (e *completionEvent) Timestamp() int64 { return e.time }
func (e *completionEvent) Execute(c *Cluster) {
	c.completeTask(e.time, e.task)
	c.fail(c.ctl.OnTaskComplete(e.time, e.task.info.ID))
}

// slaWarningEvent fires at a task's deadline if it has not completed.
type slaWarningEvent struct {
	time int64
	task *task
}

func (e *slaWarningEvent) Timestamp() int64 { return e.time }
func (e *slaWarningEvent) Execute(c *Cluster) {
	if e.task.info.Completed {
		return
	}
	// A started task that will finish by the deadline is not at risk even
	// if its completion event shares this timestamp.
	if e.task.started && e.task.startTime+e.task.duration <= e.time {
		return
	}
	c.fail(c.ctl.OnSLAWarning(e.time, e.task.info.ID))
}

// migrationDoneEvent lands an in-flight VM on its destination.
type migrationDoneEvent struct {
	time int64
	vm   *vm
}

func (e *migrationDoneEvent) Timestamp() int64 { return e.time }
func (e *migrationDoneEvent) Execute(c *Cluster) {
	c.finishMigration(e.time, e.vm)
	c.fail(c.ctl.OnMigrationComplete(e.time, e.vm.id))
}

// stateChangeEvent completes a power transition.
type stateChangeEvent struct {
	time    int64
	machine *machine
	target  sched.PowerState
}

func (e *stateChangeEvent) Timestamp() int64 { return e.time }
func (e *stateChangeEvent) Execute(c *Cluster) {
	c.accrueEnergy(e.machine, e.time)
	e.machine.info.State = e.target
	e.machine.transitioning = false
	c.transitionsInFlight--
	c.fail(c.ctl.OnStateChangeComplete(e.time, e.machine.info.ID))
}

// memoryWarningEvent reports an overcommitted machine.
type memoryWarningEvent struct {
	time    int64
	machine sched.MachineID
}

func (e *memoryWarningEvent) Timestamp() int64 { return e.time }
func (e *memoryWarningEvent) Execute(c *Cluster) {
	m := c.machines[e.machine]
	if m.info.MemoryUsed <= m.info.MemorySize {
		return // resolved before delivery
	}
	c.fail(c.ctl.OnMemoryWarning(e.time, e.machine))
}

// tickEvent drives the controller's periodic callback. It re-arms itself
// while the simulation still has outstanding work.
type tickEvent struct {
	time int64
}

func (e *tickEvent) Timestamp() int64 { return e.time }
func (e *tickEvent) Execute(c *Cluster) {
	c.fail(c.ctl.OnTick(e.time))
	if c.outstanding() {
		c.schedule(&tickEvent{time: e.time + c.cfg.TickIntervalUS})
	}
}
