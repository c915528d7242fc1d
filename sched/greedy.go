package sched

// Greedy consolidates onto the fewest machines that satisfy SLAs: new
// tasks go to the first machine that fits in the current scan order, task
// completions trigger migrations from lightly used machines toward
// heavily used ones, and any machine left empty is powered off.
type Greedy struct {
	machines []MachineID
}

// NewGreedy creates the Greedy policy.
func NewGreedy() *Greedy { return &Greedy{} }

func (g *Greedy) Name() string { return "greedy" }

func (g *Greedy) OnInit(c *Controller) error {
	total := c.Driver().MachineTotal()
	g.machines = make([]MachineID, total)
	for i := 0; i < total; i++ {
		g.machines[i] = MachineID(i)
	}
	return nil
}

func (g *Greedy) OnNewTask(c *Controller, now int64, t TaskID) error {
	d := c.Driver()
	w := c.World()
	for _, m := range g.machines {
		if !CPUCompatible(d, m, t) || !TaskFits(d, w, m, t) ||
			!GPUCompatible(d, m, t) || !StableAwake(w, m) {
			continue
		}
		if vm, ok := findCompatibleVM(c, m, t); ok {
			c.AddToVM(now, vm, t, "greedy first-fit")
		} else {
			c.PlaceOnNewVM(now, m, t, "greedy first-fit")
		}
		// Placement succeeded; power off anything left idle.
		for _, idle := range g.machines {
			c.TryShutdownMachine(now, idle, Off, "idle sweep")
		}
		return nil
	}
	return slaAllocate(c, now, t, g.machines)
}

func (g *Greedy) OnTaskComplete(c *Controller, now int64, t TaskID, vm VMID, bound bool) error {
	if bound {
		completeEmptyVM(c, vm)
	}
	g.consolidate(c, now)
	return nil
}

// consolidate walks machines from least to most utilized and migrates
// each resident VM to the first more-utilized machine that can take it,
// so the light end of the order empties out.
func (g *Greedy) consolidate(c *Controller, now int64) {
	d := c.Driver()
	w := c.World()
	sortByActiveTasks(c, g.machines)
	for j, src := range g.machines {
		if !StableAwake(w, src) || d.MachineInfo(src).ActiveVMs == 0 {
			continue
		}
		for _, vm := range c.VMsOn(src) {
			for k := j + 1; k < len(g.machines); k++ {
				dst := g.machines[k]
				if CanMigrate(d, w, vm, dst) {
					c.MigrateVM(now, vm, dst, "consolidation")
					break
				}
			}
		}
	}
}

func (g *Greedy) OnSLAWarning(c *Controller, now int64, t TaskID) error {
	if vm, bound := c.World().TaskVM(t); bound {
		return migrateOrWake(c, now, vm, g.machines)
	}
	return slaAllocate(c, now, t, g.machines)
}

func (g *Greedy) OnMemoryWarning(c *Controller, now int64, m MachineID) error {
	// Relocate exactly one resident task. The reference simulator warns
	// again only when a later VM attach, task addition or migration
	// arrival leaves the machine overcommitted.
	if t, ok := firstResidentTask(c, m); ok {
		return g.OnSLAWarning(c, now, t)
	}
	return nil
}

func (g *Greedy) OnMigrationComplete(c *Controller, now int64, rec MigrationRecord) error {
	completeEmptyVM(c, rec.VM)
	c.TryShutdownMachine(now, rec.Src, Off, "drained by migration")
	return nil
}

func (g *Greedy) OnStateChangeComplete(c *Controller, now int64, m MachineID, state PowerState) error {
	if state == Active {
		return drainWakeQueue(c, now, m, g.machines)
	}
	return redispatchWakeQueue(c, now, m, g.machines)
}

func (g *Greedy) OnTick(c *Controller, now int64) error { return nil }

func (g *Greedy) OnShutdown(c *Controller, now int64) error {
	shutdownLeftoverVMs(c)
	return nil
}
