package cluster

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placement-sim/placement-sim/sched"
	"github.com/placement-sim/placement-sim/sched/trace"
)

func testConfig() *Config {
	return &Config{
		Machines: []MachineSpec{
			{CPU: "X86", MemoryMB: 131072},
			{CPU: "X86", MemoryMB: 65536, GPU: true},
			{CPU: "ARM", MemoryMB: 131072},
		},
		TickIntervalUS: 100_000,
	}
}

func testWorkload() *Workload {
	return &Workload{Tasks: []TaskSpec{
		{ArrivalUS: 0, DurationUS: 2_000_000, CPU: "X86", VMType: "LINUX", MemoryMB: 32768, SLA: "SLA1"},
		{ArrivalUS: 100_000, DurationUS: 1_000_000, CPU: "X86", VMType: "LINUX", MemoryMB: 16384, GPU: true, SLA: "SLA1"},
		{ArrivalUS: 200_000, DurationUS: 3_000_000, CPU: "ARM", VMType: "LINUX", MemoryMB: 16384, SLA: "SLA2"},
		{ArrivalUS: 4_000_000, DurationUS: 500_000, CPU: "X86", VMType: "WIN", MemoryMB: 8192, SLA: "SLA0"},
	}}
}

func runPolicy(t *testing.T, policy string) (*Cluster, *sched.Controller, *trace.Trace, string) {
	t.Helper()
	sim, err := New(testConfig(), testWorkload())
	require.NoError(t, err)
	ctl := sched.NewController(sim, sched.NewPolicy(policy))
	tr := trace.New(trace.LevelDecisions)
	ctl.SetTrace(tr)
	var out bytes.Buffer
	ctl.SetOutput(&out)
	sim.Bind(ctl)
	require.NoError(t, sim.Run())
	return sim, ctl, tr, out.String()
}

func TestRun_Greedy_CompletesWorkload(t *testing.T) {
	sim, ctl, tr, out := runPolicy(t, "greedy")

	for i := 0; i < 4; i++ {
		assert.True(t, sim.TaskInfo(sched.TaskID(i)).Completed, "task %d should complete", i)
	}
	assert.Contains(t, out, "total tasks: 4 completed tasks: 4")
	assert.Greater(t, sim.ClusterEnergy(), 0.0)
	assert.Zero(t, ctl.World().BoundTasks(), "index drained after all completions")
	assert.NoError(t, ctl.World().CheckInvariants(sim))
	// The GPU and ARM tasks arrive after the idle sweep put their hosts
	// to sleep, so the run must include wake requests.
	s := trace.Summarize(tr)
	assert.GreaterOrEqual(t, s.WakeRequests, 2)
}

func TestRun_PMapper_CompletesWorkload(t *testing.T) {
	sim, ctl, _, out := runPolicy(t, "p-mapper")

	for i := 0; i < 4; i++ {
		assert.True(t, sim.TaskInfo(sched.TaskID(i)).Completed, "task %d should complete", i)
	}
	assert.Contains(t, out, "total tasks: 4 completed tasks: 4")
	assert.NoError(t, ctl.World().CheckInvariants(sim))
}

func TestRun_EEco_CompletesWorkload(t *testing.T) {
	sim, ctl, _, out := runPolicy(t, "e-eco")

	for i := 0; i < 4; i++ {
		assert.True(t, sim.TaskInfo(sched.TaskID(i)).Completed, "task %d should complete", i)
	}
	assert.Contains(t, out, "total tasks: 4 completed tasks: 4")
	assert.NoError(t, ctl.World().CheckInvariants(sim))
}

func TestRun_NoPlacementPossible_StopsWithError(t *testing.T) {
	w := &Workload{Tasks: []TaskSpec{
		{ArrivalUS: 0, DurationUS: 1000, CPU: "POWER", VMType: "AIX", MemoryMB: 1024, SLA: "SLA0"},
	}}
	sim, err := New(testConfig(), w)
	require.NoError(t, err)
	ctl := sched.NewController(sim, sched.NewPolicy("greedy"))
	sim.Bind(ctl)

	err = sim.Run()

	var npe *sched.NoPlacementError
	require.True(t, errors.As(err, &npe))
	assert.Equal(t, sched.TaskID(0), npe.Task)
}

func TestRun_LateWake_CountsSLAViolation(t *testing.T) {
	// The ARM task's deadline is tight enough that waking M2 from OFF
	// makes it finish late.
	cfg := testConfig()
	w := &Workload{Tasks: []TaskSpec{
		// Runs on M0 and triggers the idle sweep that powers M2 off.
		{ArrivalUS: 0, DurationUS: 6_000_000, CPU: "X86", VMType: "LINUX", MemoryMB: 32768, SLA: "SLA3"},
		{ArrivalUS: 1_000_000, DurationUS: 1_000_000, CPU: "ARM", VMType: "LINUX", MemoryMB: 16384, SLA: "SLA1",
			TargetUS: 2_100_000},
	}}
	sim, err := New(cfg, w)
	require.NoError(t, err)
	ctl := sched.NewController(sim, sched.NewPolicy("greedy"))
	var out bytes.Buffer
	ctl.SetOutput(&out)
	sim.Bind(ctl)

	require.NoError(t, sim.Run())

	assert.True(t, sim.TaskInfo(1).Completed)
	assert.Greater(t, sim.SLAReport(sched.SLA1), 0.0, "late completion counts against SLA1")
	assert.Zero(t, sim.SLAReport(sched.SLA3))
}

func TestRun_Horizon_StopsEarly(t *testing.T) {
	cfg := testConfig()
	cfg.HorizonUS = 50_000
	sim, err := New(cfg, testWorkload())
	require.NoError(t, err)
	ctl := sched.NewController(sim, sched.NewPolicy("greedy"))
	var out bytes.Buffer
	ctl.SetOutput(&out)
	sim.Bind(ctl)

	require.NoError(t, sim.Run())

	assert.False(t, sim.TaskInfo(3).Completed, "late task cut off by horizon")
	assert.Contains(t, out.String(), "SLA violation report")
}

func TestRun_WithoutController_Errors(t *testing.T) {
	sim, err := New(testConfig(), testWorkload())
	require.NoError(t, err)

	assert.Error(t, sim.Run())
}

func TestDriver_MigrationMovesFootprint(t *testing.T) {
	sim, err := New(testConfig(), &Workload{Tasks: []TaskSpec{
		{ArrivalUS: 0, DurationUS: 1000, CPU: "X86", VMType: "LINUX", MemoryMB: 1024, SLA: "SLA2"},
	}})
	require.NoError(t, err)
	ctl := sched.NewController(sim, sched.NewPolicy("greedy"))
	sim.Bind(ctl)

	vm := sim.VMCreate(sched.Linux, sched.X86)
	sim.VMAttach(vm, 0)
	sim.VMAddTask(vm, 0, sched.MidPriority)
	require.Equal(t, int64(1024+sched.VMMemoryOverhead), sim.MachineInfo(0).MemoryUsed)

	sim.VMMigrate(vm, 1)

	assert.Zero(t, sim.MachineInfo(0).MemoryUsed, "footprint leaves the source at migrate start")
	assert.Equal(t, sched.MachineID(-1), sim.VMInfo(vm).Machine, "in flight")
	assert.Zero(t, sim.MachineInfo(1).MemoryUsed, "nothing lands until completion")
}

func TestDriver_VMAttach_SleepingMachine_Panics(t *testing.T) {
	sim, err := New(testConfig(), &Workload{})
	require.NoError(t, err)
	sim.machines[1].info.State = sched.Off

	vm := sim.VMCreate(sched.Linux, sched.X86)

	assert.Panics(t, func() { sim.VMAttach(vm, 1) })
}

func TestTransitionDelay_DeeperStatesWakeSlower(t *testing.T) {
	assert.Less(t, transitionDelay(sched.SleepLight, sched.Active), transitionDelay(sched.Off, sched.Active))
	assert.Equal(t, int64(sleepDelayUS), transitionDelay(sched.Active, sched.Off))
}
