package cluster

import "github.com/placement-sim/placement-sim/sched"

// Power draw per state, in watts. The numbers are representative server
// figures; relative order is what the policies react to.
var powerDraw = map[sched.PowerState]float64{
	sched.Active:      200,
	sched.IdleLight:   120,
	sched.IdleMedium:  100,
	sched.SleepLight:  50,
	sched.SleepMedium: 30,
	sched.SleepDeep1:  15,
	sched.SleepDeep2:  10,
	sched.Off:         0,
}

// taskDraw is the extra draw per running task on an active machine.
const taskDraw = 15

// Wake latency per origin state, in µs. Deeper states wake slower.
var wakeDelayUS = map[sched.PowerState]int64{
	sched.Active:      0,
	sched.IdleLight:   10_000,
	sched.IdleMedium:  30_000,
	sched.SleepLight:  80_000,
	sched.SleepMedium: 150_000,
	sched.SleepDeep1:  300_000,
	sched.SleepDeep2:  400_000,
	sched.Off:         500_000,
}

// sleepDelayUS is the fixed latency for any transition away from Active.
const sleepDelayUS = 50_000

// transitionDelay returns the simulated duration of a power transition.
func transitionDelay(from, to sched.PowerState) int64 {
	if to == sched.Active {
		return wakeDelayUS[from]
	}
	return sleepDelayUS
}

// accrueEnergy charges m for the time elapsed since its last accrual at
// its current state's draw.
func (c *Cluster) accrueEnergy(m *machine, now int64) {
	dt := now - m.lastEnergyAt
	if dt <= 0 {
		return
	}
	watts := powerDraw[m.info.State]
	if m.info.State == sched.Active {
		watts += taskDraw * float64(m.info.ActiveTasks)
	}
	// W·µs → kWh
	m.info.EnergyConsumed += watts * float64(dt) / 3.6e12
	m.lastEnergyAt = now
}
