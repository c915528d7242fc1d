package cluster

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/placement-sim/placement-sim/sched"
)

// TaskSpec describes one task in the workload trace.
type TaskSpec struct {
	ArrivalUS  int64  `yaml:"arrival_us"`
	DurationUS int64  `yaml:"duration_us"`
	CPU        string `yaml:"cpu"`
	VMType     string `yaml:"vm_type"`
	MemoryMB   int64  `yaml:"memory_mb"`
	GPU        bool   `yaml:"gpu,omitempty"`
	SLA        string `yaml:"sla"`
	// TargetUS is the completion deadline; 0 derives arrival + 2×duration.
	TargetUS int64 `yaml:"target_us,omitempty"`
}

// Workload is a task trace, loadable from a YAML file.
type Workload struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// LoadWorkload reads and parses a YAML workload file. Uses strict
// parsing: unrecognized keys (typos) are rejected.
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload: %w", err)
	}
	var w Workload
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&w); err != nil {
		return nil, fmt.Errorf("parsing workload: %w", err)
	}
	return &w, nil
}

// build converts the specs to internal tasks with IDs assigned in trace
// order.
func (w *Workload) build() ([]*task, error) {
	tasks := make([]*task, 0, len(w.Tasks))
	for i, spec := range w.Tasks {
		cpu, err := sched.ParseCPUType(spec.CPU)
		if err != nil {
			return nil, fmt.Errorf("workload task %d: %w", i, err)
		}
		vmType, err := sched.ParseVMType(spec.VMType)
		if err != nil {
			return nil, fmt.Errorf("workload task %d: %w", i, err)
		}
		sla, err := sched.ParseSLAClass(spec.SLA)
		if err != nil {
			return nil, fmt.Errorf("workload task %d: %w", i, err)
		}
		if spec.DurationUS <= 0 {
			return nil, fmt.Errorf("workload task %d: duration_us must be positive", i)
		}
		if spec.MemoryMB <= 0 {
			return nil, fmt.Errorf("workload task %d: memory_mb must be positive", i)
		}
		target := spec.TargetUS
		if target == 0 {
			target = spec.ArrivalUS + 2*spec.DurationUS
		}
		tasks = append(tasks, &task{
			info: sched.TaskInfo{
				ID:               sched.TaskID(i),
				RequiredCPU:      cpu,
				RequiredVM:       vmType,
				RequiredMemory:   spec.MemoryMB,
				GPUCapable:       spec.GPU,
				SLA:              sla,
				Priority:         sched.SLAToPriority(sla),
				Arrival:          spec.ArrivalUS,
				TargetCompletion: target,
			},
			duration: spec.DurationUS,
			vm:       -1,
		})
	}
	return tasks, nil
}
