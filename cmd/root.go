// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/placement-sim/placement-sim/sched"
	"github.com/placement-sim/placement-sim/sched/cluster"
	"github.com/placement-sim/placement-sim/sched/trace"
)

var (
	clusterPath  string
	workloadPath string
	policyName   string
	logLevel     string
	traceLevel   string
	tickInterval int64
	horizon      int64
)

var rootCmd = &cobra.Command{
	Use:   "placement-sim",
	Short: "Power- and SLA-aware placement controller for a simulated datacenter",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload through the placement controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)
		if !sched.IsValidPolicy(policyName) {
			return fmt.Errorf("unknown policy %q (valid: %v)", policyName, sched.ValidPolicyNames())
		}
		if !trace.IsValidLevel(traceLevel) {
			return fmt.Errorf("unknown trace level %q", traceLevel)
		}

		cfg, err := cluster.LoadConfig(clusterPath)
		if err != nil {
			return err
		}
		if tickInterval > 0 {
			cfg.TickIntervalUS = tickInterval
		}
		if horizon > 0 {
			cfg.HorizonUS = horizon
		}
		workload, err := cluster.LoadWorkload(workloadPath)
		if err != nil {
			return err
		}

		sim, err := cluster.New(cfg, workload)
		if err != nil {
			return err
		}
		ctl := sched.NewController(sim, sched.NewPolicy(policyName))
		tr := trace.New(trace.Level(traceLevel))
		ctl.SetTrace(tr)
		sim.Bind(ctl)

		logrus.Infof("Starting run: %d machines, %d tasks, policy=%s",
			sim.MachineTotal(), len(workload.Tasks), ctl.Policy().Name())
		if err := sim.Run(); err != nil {
			return err
		}
		if tr.Level == trace.LevelDecisions {
			s := trace.Summarize(tr)
			logrus.Infof("trace: %d placements, %d migrations, %d power requests (%d wakes)",
				s.Placements, s.Migrations, s.PowerRequests, s.WakeRequests)
		}
		logrus.Info("Run complete.")
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&clusterPath, "cluster", "examples/cluster.yaml", "Cluster topology YAML file")
	runCmd.Flags().StringVar(&workloadPath, "workload", "examples/workload.yaml", "Workload trace YAML file")
	runCmd.Flags().StringVar(&policyName, "policy", "greedy", "Placement policy (greedy, p-mapper, e-eco)")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Decision trace level (none, decisions)")
	runCmd.Flags().Int64Var(&tickInterval, "tick", 0, "Periodic controller tick interval in µs (0 = config value)")
	runCmd.Flags().Int64Var(&horizon, "horizon", 0, "Simulation horizon in µs (0 = config value)")

	rootCmd.AddCommand(runCmd)
}
