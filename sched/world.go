package sched

import "fmt"

// MigrationRecord tracks a VM that is in flight between two machines.
// Created when the controller issues a migration, destroyed when the
// simulator reports completion. While the record exists, ReservedMB is
// held against the destination's capacity.
type MigrationRecord struct {
	VM         VMID
	Src        MachineID
	Dst        MachineID
	ReservedMB int64
}

// WakeItemKind discriminates entries on a machine's wake-pending queue.
type WakeItemKind int

const (
	// WakeTask defers placing a new task until the machine is active.
	WakeTask WakeItemKind = iota
	// WakeVM defers migrating an existing VM until the machine is active.
	WakeVM
)

// WakeItem is a task or VM waiting for a machine to finish waking up.
type WakeItem struct {
	Kind WakeItemKind
	Task TaskID
	VM   VMID
}

// World is the controller's private mirror of the cluster: which machines
// it believes are awake, which VMs are in flight, what memory it has
// provisionally reserved, and which task lives on which VM. The simulator
// owns machine/VM/task facts; World owns only controller intent.
//
// Mutators panic on invariant violations; the controller treats a broken
// invariant as a bug, never as a recoverable error.
type World struct {
	awake      map[MachineID]bool
	power      map[MachineID]*powerMachine
	migrations map[VMID]MigrationRecord
	// inbound counts migrations targeting a machine; a machine with
	// inbound > 0 must never be powered down.
	inbound    map[MachineID]int
	reserved   map[MachineID]int64
	taskToVM   map[TaskID]VMID
	wakeQueues map[MachineID][]WakeItem
	// vms holds every VM the controller has created and not yet shut
	// down, in creation order.
	vms   []VMID
	vmSet map[VMID]bool
}

// NewWorld creates a World tracking machines 0..total-1, all initially
// awake and steady.
func NewWorld(total int) *World {
	w := &World{
		awake:      make(map[MachineID]bool, total),
		power:      make(map[MachineID]*powerMachine, total),
		migrations: make(map[VMID]MigrationRecord),
		inbound:    make(map[MachineID]int),
		reserved:   make(map[MachineID]int64),
		taskToVM:   make(map[TaskID]VMID),
		wakeQueues: make(map[MachineID][]WakeItem),
		vmSet:      make(map[VMID]bool),
	}
	for i := 0; i < total; i++ {
		m := MachineID(i)
		w.awake[m] = true
		w.power[m] = newPowerMachine()
	}
	return w
}

func (w *World) machine(m MachineID) *powerMachine {
	p, ok := w.power[m]
	if !ok {
		panic(fmt.Sprintf("sched: unknown machine %d", m))
	}
	return p
}

// IsAwake reports whether the controller believes machine m is awake: it
// has not asked m to sleep since the last observed transition to Active.
func (w *World) IsAwake(m MachineID) bool {
	return w.awake[m]
}

// ChangingState reports whether a power transition is in flight for m.
func (w *World) ChangingState(m MachineID) bool {
	return w.machine(m).transitioning()
}

// TransitionTarget returns the target of the in-flight transition for m.
// Only meaningful while ChangingState(m) is true.
func (w *World) TransitionTarget(m MachineID) PowerState {
	return w.machine(m).target
}

// MarkAwake adds m to the believes-awake set.
func (w *World) MarkAwake(m MachineID) {
	if w.machine(m).transitioning() {
		panic(fmt.Sprintf("sched: MarkAwake(%d) during power transition", m))
	}
	w.awake[m] = true
}

// MarkAsleep removes m from the believes-awake set.
func (w *World) MarkAsleep(m MachineID) {
	if w.machine(m).transitioning() {
		panic(fmt.Sprintf("sched: MarkAsleep(%d) during power transition", m))
	}
	delete(w.awake, m)
}

// BeginTransition records that a SetPowerState(m, target) is about to be
// issued. Returns an error when a transition is already in flight; the
// caller skips or defers rather than issuing a conflicting request.
// A transition away from Active immediately removes m from the
// believes-awake set.
func (w *World) BeginTransition(m MachineID, target PowerState) error {
	if err := w.machine(m).begin(target); err != nil {
		return err
	}
	if target != Active {
		delete(w.awake, m)
	}
	return nil
}

// CompleteTransition clears the in-flight flag for m and toggles the
// believes-awake set according to the observed state. Returns false when
// no transition was in flight (duplicate callback), leaving the world
// unchanged apart from reasserting the awake set for observed.
func (w *World) CompleteTransition(m MachineID, observed PowerState) bool {
	done := w.machine(m).complete()
	if observed == Active {
		w.awake[m] = true
	} else {
		delete(w.awake, m)
	}
	return done
}

// Migrating reports whether vm has an in-flight migration.
func (w *World) Migrating(vm VMID) bool {
	_, ok := w.migrations[vm]
	return ok
}

// Migration returns the in-flight record for vm, if any.
func (w *World) Migration(vm VMID) (MigrationRecord, bool) {
	rec, ok := w.migrations[vm]
	return rec, ok
}

// MigrationDestination reports whether any in-flight migration targets m.
func (w *World) MigrationDestination(m MachineID) bool {
	return w.inbound[m] > 0
}

// Reserved returns the memory (MB) provisionally claimed on m for
// in-flight migrations.
func (w *World) Reserved(m MachineID) int64 {
	return w.reserved[m]
}

// BeginMigration records an in-flight migration of vm from src to dst and
// reserves reserveMB on dst. Panics if vm is already migrating or dst is
// not stable-awake; the policy must have classified the move first.
func (w *World) BeginMigration(vm VMID, src, dst MachineID, reserveMB int64) {
	if _, ok := w.migrations[vm]; ok {
		panic(fmt.Sprintf("sched: VM %d is already migrating", vm))
	}
	if !w.IsAwake(dst) || w.ChangingState(dst) {
		panic(fmt.Sprintf("sched: migration of VM %d targets unstable machine %d", vm, dst))
	}
	if reserveMB < VMMemoryOverhead {
		panic(fmt.Sprintf("sched: migration of VM %d reserves %d MB, below VM overhead", vm, reserveMB))
	}
	w.migrations[vm] = MigrationRecord{VM: vm, Src: src, Dst: dst, ReservedMB: reserveMB}
	w.inbound[dst]++
	w.reserved[dst] += reserveMB
}

// EndMigration releases the reservation for vm's completed migration and
// returns the record. Panics if no migration is in flight for vm.
func (w *World) EndMigration(vm VMID) MigrationRecord {
	rec, ok := w.migrations[vm]
	if !ok {
		panic(fmt.Sprintf("sched: EndMigration(%d) without a migration record", vm))
	}
	delete(w.migrations, vm)
	w.inbound[rec.Dst]--
	if w.inbound[rec.Dst] < 0 {
		panic(fmt.Sprintf("sched: negative inbound count on machine %d", rec.Dst))
	}
	if w.inbound[rec.Dst] == 0 {
		delete(w.inbound, rec.Dst)
	}
	w.reserved[rec.Dst] -= rec.ReservedMB
	if w.reserved[rec.Dst] < 0 {
		panic(fmt.Sprintf("sched: negative reservation on machine %d", rec.Dst))
	}
	if w.reserved[rec.Dst] == 0 {
		delete(w.reserved, rec.Dst)
	}
	return rec
}

// BindTask records that t was placed on vm. Panics if t is already bound.
func (w *World) BindTask(t TaskID, vm VMID) {
	if prev, ok := w.taskToVM[t]; ok {
		panic(fmt.Sprintf("sched: task %d already bound to VM %d", t, prev))
	}
	w.taskToVM[t] = vm
}

// UnbindTask removes t from the index and returns the VM it was bound to.
func (w *World) UnbindTask(t TaskID) (VMID, bool) {
	vm, ok := w.taskToVM[t]
	if ok {
		delete(w.taskToVM, t)
	}
	return vm, ok
}

// TaskVM returns the VM t is bound to, if any.
func (w *World) TaskVM(t TaskID) (VMID, bool) {
	vm, ok := w.taskToVM[t]
	return vm, ok
}

// BoundTasks returns the number of tasks currently in the index.
func (w *World) BoundTasks() int {
	return len(w.taskToVM)
}

// RegisterVM records a VM the controller has created. Panics on double
// registration.
func (w *World) RegisterVM(vm VMID) {
	if w.vmSet[vm] {
		panic(fmt.Sprintf("sched: VM %d registered twice", vm))
	}
	w.vmSet[vm] = true
	w.vms = append(w.vms, vm)
}

// DeregisterVM removes a VM the controller has shut down. Panics if the
// VM is unknown or still migrating.
func (w *World) DeregisterVM(vm VMID) {
	if !w.vmSet[vm] {
		panic(fmt.Sprintf("sched: DeregisterVM(%d) for unknown VM", vm))
	}
	if w.Migrating(vm) {
		panic(fmt.Sprintf("sched: DeregisterVM(%d) while migrating", vm))
	}
	delete(w.vmSet, vm)
	for i, id := range w.vms {
		if id == vm {
			w.vms = append(w.vms[:i], w.vms[i+1:]...)
			break
		}
	}
}

// HasVM reports whether the controller currently owns vm.
func (w *World) HasVM(vm VMID) bool {
	return w.vmSet[vm]
}

// VMs returns a snapshot of the controller's VMs in creation order. Safe
// to iterate while shutting VMs down.
func (w *World) VMs() []VMID {
	out := make([]VMID, len(w.vms))
	copy(out, w.vms)
	return out
}

// EnqueueWakeup appends item to m's wake-pending queue. The queue is
// drained when m's transition to Active completes.
func (w *World) EnqueueWakeup(m MachineID, item WakeItem) {
	w.wakeQueues[m] = append(w.wakeQueues[m], item)
}

// DrainWakeups returns and clears m's wake-pending queue.
func (w *World) DrainWakeups(m MachineID) []WakeItem {
	items := w.wakeQueues[m]
	delete(w.wakeQueues, m)
	return items
}

// PendingWakeups returns the number of queued items for m.
func (w *World) PendingWakeups(m MachineID) int {
	return len(w.wakeQueues[m])
}

// CanShutdown implements the shutdown eligibility rule: m must be stable
// awake, host no tasks and no VMs, and must not be the destination of any
// in-flight migration. info is the simulator's current snapshot of m.
func (w *World) CanShutdown(info MachineInfo) bool {
	m := info.ID
	if w.MigrationDestination(m) || !w.IsAwake(m) || w.ChangingState(m) {
		return false
	}
	return info.ActiveTasks == 0 && info.ActiveVMs == 0
}

// CheckInvariants validates the world against the simulator's view.
// Intended for tests; returns the first violation found.
func (w *World) CheckInvariants(d ClusterDriver) error {
	inbound := make(map[MachineID]int)
	reserved := make(map[MachineID]int64)
	for vm, rec := range w.migrations {
		if rec.VM != vm {
			return fmt.Errorf("migration record for VM %d names VM %d", vm, rec.VM)
		}
		if !w.IsAwake(rec.Dst) {
			return fmt.Errorf("migration of VM %d targets sleeping machine %d", vm, rec.Dst)
		}
		if w.ChangingState(rec.Dst) && w.TransitionTarget(rec.Dst) != Active {
			return fmt.Errorf("migration of VM %d targets machine %d scheduled for shutdown", vm, rec.Dst)
		}
		inbound[rec.Dst]++
		reserved[rec.Dst] += rec.ReservedMB
	}
	for m, n := range w.inbound {
		if inbound[m] != n {
			return fmt.Errorf("machine %d inbound count %d, records say %d", m, n, inbound[m])
		}
	}
	for m, r := range w.reserved {
		if reserved[m] != r {
			return fmt.Errorf("machine %d reservation %d MB, records say %d MB", m, r, reserved[m])
		}
		info := d.MachineInfo(m)
		if r+info.MemoryUsed > info.MemorySize {
			return fmt.Errorf("machine %d overcommitted: %d MB reserved + %d MB used > %d MB",
				m, r, info.MemoryUsed, info.MemorySize)
		}
	}
	for _, vm := range w.vms {
		if w.Migrating(vm) {
			continue
		}
		if d.VMInfo(vm).Machine < 0 {
			return fmt.Errorf("VM %d is neither resident nor in flight", vm)
		}
	}
	for t, vm := range w.taskToVM {
		info := d.VMInfo(vm)
		if w.Migrating(vm) {
			continue
		}
		found := false
		for _, held := range info.ActiveTasks {
			if held == t {
				found = true
				break
			}
		}
		if !found && !d.TaskInfo(t).Completed {
			return fmt.Errorf("task %d bound to VM %d but not among its active tasks", t, vm)
		}
	}
	return nil
}
