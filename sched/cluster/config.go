package cluster

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/placement-sim/placement-sim/sched"
)

// MachineSpec describes one machine shape in the cluster topology.
// Count > 1 expands into that many identical machines.
type MachineSpec struct {
	CPU      string `yaml:"cpu"`
	MemoryMB int64  `yaml:"memory_mb"`
	GPU      bool   `yaml:"gpu"`
	Count    int    `yaml:"count,omitempty"` // 0 means 1
}

// Config is the cluster topology and simulation parameters, loadable from
// a YAML file.
type Config struct {
	Machines []MachineSpec `yaml:"machines"`
	// MigrationDelayUS is the fixed time a VM spends in flight.
	MigrationDelayUS int64 `yaml:"migration_delay_us,omitempty"`
	// TickIntervalUS enables periodic controller ticks when > 0.
	TickIntervalUS int64 `yaml:"tick_interval_us,omitempty"`
	// HorizonUS stops event delivery past this simulated time when > 0.
	HorizonUS int64 `yaml:"horizon_us,omitempty"`
}

// DefaultMigrationDelayUS applies when the config leaves the delay unset.
const DefaultMigrationDelayUS = 1_000_000

// Validate checks the topology for obvious misconfiguration.
func (c *Config) Validate() error {
	if len(c.Machines) == 0 {
		return fmt.Errorf("cluster config: no machines defined")
	}
	for i, m := range c.Machines {
		if _, err := sched.ParseCPUType(m.CPU); err != nil {
			return fmt.Errorf("cluster config: machine %d: %w", i, err)
		}
		if m.MemoryMB <= sched.VMMemoryOverhead {
			return fmt.Errorf("cluster config: machine %d: memory_mb %d cannot hold a single VM", i, m.MemoryMB)
		}
		if m.Count < 0 {
			return fmt.Errorf("cluster config: machine %d: negative count", i)
		}
	}
	if c.MigrationDelayUS < 0 || c.TickIntervalUS < 0 || c.HorizonUS < 0 {
		return fmt.Errorf("cluster config: negative duration")
	}
	return nil
}

// LoadConfig reads and parses a YAML cluster config file. Uses strict
// parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cluster config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing cluster config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
