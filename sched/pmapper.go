package sched

// PMapper is the Greedy skeleton with two different selection rules: new
// tasks prefer the machines that have consumed the least energy, and
// consolidation moves a single small VM from the least-loaded machine
// toward the middle of the utilization order rather than packing the hot
// end harder.
type PMapper struct {
	machines []MachineID
}

// NewPMapper creates the P-Mapper policy.
func NewPMapper() *PMapper { return &PMapper{} }

func (p *PMapper) Name() string { return "p-mapper" }

func (p *PMapper) OnInit(c *Controller) error {
	total := c.Driver().MachineTotal()
	p.machines = make([]MachineID, total)
	for i := 0; i < total; i++ {
		p.machines[i] = MachineID(i)
	}
	return nil
}

func (p *PMapper) OnNewTask(c *Controller, now int64, t TaskID) error {
	d := c.Driver()
	w := c.World()
	sortByEnergy(c, p.machines)
	for _, m := range p.machines {
		if !CPUCompatible(d, m, t) || !TaskFits(d, w, m, t) ||
			!GPUCompatible(d, m, t) || !StableAwake(w, m) {
			continue
		}
		if vm, ok := findCompatibleVM(c, m, t); ok {
			c.AddToVM(now, vm, t, "p-mapper cold-first")
		} else {
			c.PlaceOnNewVM(now, m, t, "p-mapper cold-first")
		}
		for _, idle := range p.machines {
			c.TryShutdownMachine(now, idle, Off, "idle sweep")
		}
		return nil
	}
	return slaAllocate(c, now, t, p.machines)
}

func (p *PMapper) OnTaskComplete(c *Controller, now int64, t TaskID, vm VMID, bound bool) error {
	if bound {
		completeEmptyVM(c, vm)
	}
	p.rebalance(c, now)
	return nil
}

// rebalance migrates the smallest VM on the least-loaded machine toward
// the median of the utilization order. Targeting the median instead of
// the most-loaded machine drains the light end without creating a new
// hotspot at the heavy end.
func (p *PMapper) rebalance(c *Controller, now int64) {
	d := c.Driver()
	w := c.World()
	sortByActiveTasks(c, p.machines)

	first := -1
	for i, m := range p.machines {
		if d.MachineInfo(m).ActiveTasks > 0 {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	src := p.machines[first]
	if !StableAwake(w, src) {
		return
	}

	var smallest VMID
	found := false
	lowest := -1
	for _, vm := range c.VMsOn(src) {
		n := len(d.VMInfo(vm).ActiveTasks)
		if !found || n < lowest {
			smallest = vm
			lowest = n
			found = true
		}
	}
	if !found {
		return
	}

	for k := (first + len(p.machines)) / 2; k < len(p.machines); k++ {
		dst := p.machines[k]
		if dst != src && CanMigrate(d, w, smallest, dst) {
			c.MigrateVM(now, smallest, dst, "rebalance toward median")
			return
		}
	}
}

func (p *PMapper) OnSLAWarning(c *Controller, now int64, t TaskID) error {
	if vm, bound := c.World().TaskVM(t); bound {
		return migrateOrWake(c, now, vm, p.machines)
	}
	return slaAllocate(c, now, t, p.machines)
}

func (p *PMapper) OnMemoryWarning(c *Controller, now int64, m MachineID) error {
	if t, ok := firstResidentTask(c, m); ok {
		return p.OnSLAWarning(c, now, t)
	}
	return nil
}

func (p *PMapper) OnMigrationComplete(c *Controller, now int64, rec MigrationRecord) error {
	completeEmptyVM(c, rec.VM)
	c.TryShutdownMachine(now, rec.Src, Off, "drained by migration")
	return nil
}

func (p *PMapper) OnStateChangeComplete(c *Controller, now int64, m MachineID, state PowerState) error {
	if state == Active {
		return drainWakeQueue(c, now, m, p.machines)
	}
	return redispatchWakeQueue(c, now, m, p.machines)
}

func (p *PMapper) OnTick(c *Controller, now int64) error { return nil }

func (p *PMapper) OnShutdown(c *Controller, now int64) error {
	shutdownLeftoverVMs(c)
	return nil
}
