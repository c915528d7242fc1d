// Package cluster is a reference discrete-event simulator for the
// placement controller: a small virtualized datacenter with asynchronous
// VM migration and machine power transitions. It implements
// sched.ClusterDriver and delivers the controller callbacks in
// non-decreasing simulated-time order.
package cluster

import (
	"container/heap"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/placement-sim/placement-sim/sched"
)

type machine struct {
	info          sched.MachineInfo
	lastEnergyAt  int64
	transitioning bool
}

type vm struct {
	id        sched.VMID
	vmType    sched.VMType
	cpu       sched.CPUType
	machine   sched.MachineID // -1 while unattached or in flight
	tasks     []*task
	migrating bool
	dst       sched.MachineID
}

type task struct {
	info      sched.TaskInfo
	duration  int64
	started   bool
	startTime int64
	vm        sched.VMID // -1 until placed
}

// Cluster is the simulation kernel: the event heap, the machine/VM/task
// state, and the accounting the controller queries through the driver
// interface.
type Cluster struct {
	cfg Config
	ctl *sched.Controller

	clock   int64
	events  eventQueue
	nextSeq int64

	machines []*machine
	vms      map[sched.VMID]*vm
	nextVM   sched.VMID
	tasks    []*task

	slaTotals     map[sched.SLAClass]int
	slaViolations map[sched.SLAClass]int

	tasksRemaining      int
	migrationsInFlight  int
	transitionsInFlight int

	err error
}

// New builds a cluster from a topology config and a workload trace. All
// machines start Active; tasks are injected at their arrival times when
// Run is called.
func New(cfg *Config, w *Workload) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tasks, err := w.build()
	if err != nil {
		return nil, err
	}
	c := &Cluster{
		cfg:           *cfg,
		vms:           make(map[sched.VMID]*vm),
		tasks:         tasks,
		slaTotals:     make(map[sched.SLAClass]int),
		slaViolations: make(map[sched.SLAClass]int),
	}
	if c.cfg.MigrationDelayUS == 0 {
		c.cfg.MigrationDelayUS = DefaultMigrationDelayUS
	}
	for _, spec := range cfg.Machines {
		cpu, _ := sched.ParseCPUType(spec.CPU)
		count := spec.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			id := sched.MachineID(len(c.machines))
			c.machines = append(c.machines, &machine{
				info: sched.MachineInfo{
					ID:         id,
					CPU:        cpu,
					GPU:        spec.GPU,
					MemorySize: spec.MemoryMB,
					State:      sched.Active,
				},
			})
		}
	}
	return c, nil
}

// Bind attaches the controller whose callbacks the cluster will drive.
func (c *Cluster) Bind(ctl *sched.Controller) { c.ctl = ctl }

// Clock returns the current simulated time in µs.
func (c *Cluster) Clock() int64 { return c.clock }

// fail records the first hard error from a controller callback; the run
// loop stops at the next iteration.
func (c *Cluster) fail(err error) {
	if err != nil && c.err == nil {
		c.err = err
	}
}

// outstanding reports whether the simulation still has work that can
// produce events beyond the ones queued.
func (c *Cluster) outstanding() bool {
	return c.tasksRemaining > 0 || c.migrationsInFlight > 0 || c.transitionsInFlight > 0
}

// Run initializes the controller, replays the workload, and drains the
// event heap. Returns the first hard controller error, or nil after the
// end-of-run report is emitted.
func (c *Cluster) Run() error {
	if c.ctl == nil {
		return fmt.Errorf("cluster: Run without a bound controller")
	}
	if err := c.ctl.Init(); err != nil {
		return err
	}
	c.tasksRemaining = len(c.tasks)
	for _, t := range c.tasks {
		c.schedule(&arrivalEvent{time: t.info.Arrival, task: t})
		if t.info.TargetCompletion > t.info.Arrival {
			c.schedule(&slaWarningEvent{time: t.info.TargetCompletion, task: t})
		}
	}
	if c.cfg.TickIntervalUS > 0 {
		c.schedule(&tickEvent{time: c.cfg.TickIntervalUS})
	}

	for c.events.Len() > 0 {
		next := c.pop()
		if c.cfg.HorizonUS > 0 && next.Timestamp() > c.cfg.HorizonUS {
			logrus.Warnf("[cluster] horizon %dµs reached with %d events pending", c.cfg.HorizonUS, c.events.Len()+1)
			break
		}
		c.clock = next.Timestamp()
		next.Execute(c)
		if c.err != nil {
			return c.err
		}
	}
	if c.tasksRemaining > 0 {
		logrus.Warnf("[cluster] %d tasks never completed; workload may not fit the topology", c.tasksRemaining)
	}
	return c.ctl.OnSimulationComplete(c.clock)
}

func (c *Cluster) pop() Event {
	return heap.Pop(&c.events).(queued).event
}

// completeTask finalizes a task at time now: accounting on its VM's host,
// SLA bookkeeping, and removal from the VM's task list.
func (c *Cluster) completeTask(now int64, t *task) {
	t.info.Completed = true
	c.tasksRemaining--
	if now > t.info.TargetCompletion {
		c.slaViolations[t.info.SLA]++
	}
	v := c.vms[t.vm]
	if v == nil {
		panic(fmt.Sprintf("cluster: completed task %d has no VM", t.info.ID))
	}
	for i, held := range v.tasks {
		if held == t {
			v.tasks = append(v.tasks[:i], v.tasks[i+1:]...)
			break
		}
	}
	if v.machine >= 0 {
		m := c.machines[v.machine]
		c.accrueEnergy(m, now)
		m.info.MemoryUsed -= t.info.RequiredMemory
		m.info.ActiveTasks--
	}
}

// finishMigration lands v on its destination: the VM's full footprint
// moves onto the destination's live accounting.
func (c *Cluster) finishMigration(now int64, v *vm) {
	m := c.machines[v.dst]
	c.accrueEnergy(m, now)
	v.migrating = false
	v.machine = v.dst
	v.dst = -1
	m.info.ActiveVMs++
	m.info.ActiveTasks += len(v.tasks)
	m.info.MemoryUsed += vmFootprint(v)
	c.migrationsInFlight--
	c.checkOvercommit(m)
}

func vmFootprint(v *vm) int64 {
	total := int64(sched.VMMemoryOverhead)
	for _, t := range v.tasks {
		total += t.info.RequiredMemory
	}
	return total
}

// checkOvercommit schedules a memory warning when a machine's live usage
// exceeds its capacity. Delivery is asynchronous, after the current
// handler returns.
func (c *Cluster) checkOvercommit(m *machine) {
	if m.info.MemoryUsed > m.info.MemorySize {
		logrus.Debugf("[cluster] machine %d overcommitted: %d/%d MB", m.info.ID, m.info.MemoryUsed, m.info.MemorySize)
		c.schedule(&memoryWarningEvent{time: c.clock, machine: m.info.ID})
	}
}
