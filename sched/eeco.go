package sched

import (
	"github.com/sirupsen/logrus"
)

// EEco partitions machines into a fully-on pool that takes work and an
// idle pool held at SLEEP_MEDIUM for quick promotion. New tasks go to
// the least-loaded fully-on machine, preferring one whose GPU presence
// matches the task's need. Completions demote empty machines until only
// one stays on or the idle pool reaches half the cluster; SLA pressure
// promotes one machine back.
type EEco struct {
	fullyOn []MachineID
	idle    []MachineID
}

// NewEEco creates the E-Eco policy.
func NewEEco() *EEco { return &EEco{} }

func (e *EEco) Name() string { return "e-eco" }

// demoteState is the sleep level idle-pool machines are held at: deep
// enough to save energy, shallow enough to promote quickly.
const demoteState = SleepMedium

func (e *EEco) OnInit(c *Controller) error {
	total := c.Driver().MachineTotal()
	e.fullyOn = make([]MachineID, total)
	for i := 0; i < total; i++ {
		e.fullyOn[i] = MachineID(i)
	}
	e.idle = nil
	return nil
}

func removeMachine(pool []MachineID, m MachineID) []MachineID {
	for i, id := range pool {
		if id == m {
			return append(pool[:i], pool[i+1:]...)
		}
	}
	return pool
}

func (e *EEco) OnNewTask(c *Controller, now int64, t TaskID) error {
	return e.placeOrPromote(c, now, t)
}

// placeOrPromote puts the task on the best fully-on machine, or promotes
// an idle machine and queues the task for its wake-up.
func (e *EEco) placeOrPromote(c *Controller, now int64, t TaskID) error {
	d := c.Driver()
	w := c.World()
	wantGPU := d.TaskInfo(t).GPUCapable

	best := MachineID(-1)
	bestTasks := 0
	bestMatch := false
	for _, m := range e.fullyOn {
		if !CPUCompatible(d, m, t) || !TaskFits(d, w, m, t) ||
			!GPUCompatible(d, m, t) || !StableAwake(w, m) {
			continue
		}
		info := d.MachineInfo(m)
		match := info.GPU == wantGPU
		switch {
		case best < 0:
		case match != bestMatch:
			if !match {
				continue
			}
		case info.ActiveTasks >= bestTasks:
			continue
		}
		best = m
		bestTasks = info.ActiveTasks
		bestMatch = match
	}
	if best >= 0 {
		c.PlaceOnNewVM(now, best, t, "e-eco least-loaded")
		return nil
	}

	// Nothing in the on pool fits; bring an idle machine up and park the
	// task on its wake queue.
	for _, m := range e.idle {
		if !CPUCompatible(d, m, t) || !TaskFits(d, w, m, t) {
			continue
		}
		if w.ChangingState(m) && w.TransitionTarget(m) != Active {
			continue
		}
		if !w.ChangingState(m) {
			c.RequestPowerState(now, m, Active, "promote for queued task")
		}
		e.idle = removeMachine(e.idle, m)
		e.fullyOn = append(e.fullyOn, m)
		w.EnqueueWakeup(m, WakeItem{Kind: WakeTask, Task: t})
		logrus.Debugf("[e-eco] promoted machine %d for task %d", m, t)
		return nil
	}

	// A machine mid-transition can still take the task once it settles:
	// its completion event re-routes everything left on the queue.
	for _, m := range append(append([]MachineID(nil), e.fullyOn...), e.idle...) {
		if !w.ChangingState(m) {
			continue
		}
		if CPUCompatible(d, m, t) && TaskFits(d, w, m, t) {
			w.EnqueueWakeup(m, WakeItem{Kind: WakeTask, Task: t})
			return nil
		}
	}
	return &NoPlacementError{Task: t}
}

func (e *EEco) OnTaskComplete(c *Controller, now int64, t TaskID, vm VMID, bound bool) error {
	if bound {
		completeEmptyVM(c, vm)
	}
	e.lowerLevel(c, now)
	return nil
}

// lowerLevel demotes empty fully-on machines into the idle pool, keeping
// at least one machine on and the idle pool at no more than half the
// cluster.
func (e *EEco) lowerLevel(c *Controller, now int64) {
	d := c.Driver()
	w := c.World()
	total := d.MachineTotal()
	for i := 0; i < len(e.fullyOn); {
		if len(e.fullyOn) == 1 || len(e.idle) >= total/2 {
			break
		}
		m := e.fullyOn[i]
		if w.CanShutdown(d.MachineInfo(m)) && w.PendingWakeups(m) == 0 {
			c.RequestPowerState(now, m, demoteState, "demote to idle pool")
			e.fullyOn = append(e.fullyOn[:i], e.fullyOn[i+1:]...)
			e.idle = append(e.idle, m)
			continue
		}
		i++
	}
}

func (e *EEco) OnSLAWarning(c *Controller, now int64, t TaskID) error {
	d := c.Driver()
	w := c.World()
	if _, bound := w.TaskVM(t); !bound && !d.TaskInfo(t).Completed {
		return e.placeOrPromote(c, now, t)
	}
	// The task is already running; widen the on pool so pressure drops.
	for _, m := range e.idle {
		if !CPUCompatible(d, m, t) {
			continue
		}
		if w.ChangingState(m) {
			continue
		}
		c.RequestPowerState(now, m, Active, "promote on SLA pressure")
		e.idle = removeMachine(e.idle, m)
		e.fullyOn = append(e.fullyOn, m)
		return nil
	}
	return nil
}

func (e *EEco) OnMemoryWarning(c *Controller, now int64, m MachineID) error {
	if t, ok := firstResidentTask(c, m); ok {
		return e.OnSLAWarning(c, now, t)
	}
	return nil
}

func (e *EEco) OnMigrationComplete(c *Controller, now int64, rec MigrationRecord) error {
	// E-Eco never migrates; the record is already closed by the router.
	completeEmptyVM(c, rec.VM)
	return nil
}

func (e *EEco) OnStateChangeComplete(c *Controller, now int64, m MachineID, state PowerState) error {
	d := c.Driver()
	w := c.World()
	if state != Active {
		// The wake these items waited for never happened; route each
		// afresh.
		for _, item := range w.DrainWakeups(m) {
			if item.Kind != WakeTask || d.TaskInfo(item.Task).Completed {
				continue
			}
			if _, bound := w.TaskVM(item.Task); bound {
				continue
			}
			if err := e.placeOrPromote(c, now, item.Task); err != nil {
				return err
			}
		}
		return nil
	}
	for _, item := range w.DrainWakeups(m) {
		if item.Kind != WakeTask {
			continue
		}
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
		if err := e.placeOrPromote(c, now, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *EEco) OnTick(c *Controller, now int64) error { return nil }

func (e *EEco) OnShutdown(c *Controller, now int64) error {
	shutdownLeftoverVMs(c)
	return nil
}

// Pools returns snapshots of the fully-on and idle pools, for inspection.
func (e *EEco) Pools() (fullyOn, idle []MachineID) {
	fullyOn = append([]MachineID(nil), e.fullyOn...)
	idle = append([]MachineID(nil), e.idle...)
	return fullyOn, idle
}
