package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qnet-sim/qnet-sim/sim/scenario"
	"github.com/qnet-sim/qnet-sim/sim/trace"
)

var (
	// CLI flags shared by every protocol
	scenarioPath      string   // YAML or HCL scenario file
	scenarioVars      []string // key=value pairs exposed to HCL as var.<key>
	seed              int64    // Seed for the partitioned RNG
	simulationHorizon int64    // Total simulation time (in ticks), 0 for none
	logLevel          string   // Log verbosity level
	traceLevel        string   // none, rounds or signals
	outputPath        string   // Metrics JSON file
	traceOutputPath   string   // Trace JSON file

	// Link and device flags, registered on each protocol subcommand
	classicalDelay int64   // Classical channel delay (ticks)
	quantumDelay   int64   // Quantum channel delay (ticks)
	gateDuration   int64   // Duration of every gate and measurement (ticks)
	errorProb      float64 // Probability a source pair gets a random Pauli error
	rounds         int     // End-to-end rounds to run

	// Chain flags
	chainNodes        int   // Nodes in the chain, terminals included
	chainSourcePeriod int64 // Ticks between link pair emissions

	// Distill flags
	distillLayers  int   // Depth of the purification tree
	distillTimeout int64 // Exchange timeout (ticks), 0 waits indefinitely
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "qnet-sim",
	Short: "Discrete-event simulator for quantum network protocols",
}

// chainCmd runs a linear repeater chain
var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Run entanglement swapping along a repeater chain",
	Run: func(cmd *cobra.Command, args []string) {
		runProtocol(cmd, scenario.ProtocolChain)
	},
}

// distillCmd runs nested purification between two nodes
var distillCmd = &cobra.Command{
	Use:   "distill",
	Short: "Run nested entanglement purification between two nodes",
	Run: func(cmd *cobra.Command, args []string) {
		runProtocol(cmd, scenario.ProtocolDistill)
	},
}

func runProtocol(cmd *cobra.Command, protocol string) {
	// Set up logging
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)

	sc, err := loadScenario(protocol)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	applyFlags(cmd, sc)
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		logrus.Fatalf("Invalid scenario: %v", err)
	}

	logrus.Infof("Starting %s simulation with seed=%d, horizon=%dticks", sc.Protocol, sc.Seed, sc.Horizon)
	startTime := time.Now()

	rep, err := Run(sc)
	if err != nil {
		logrus.Fatalf("Simulation failed: %v", err)
	}
	if err := rep.Metrics.SaveResults(sc.Protocol, sc.Seed, startTime, outputPath); err != nil {
		logrus.Fatalf("%v", err)
	}
	if rep.Trace.Config.Level != trace.TraceLevelNone {
		printTraceSummary(rep.Trace)
		if traceOutputPath != "" {
			if err := writeTrace(rep.Trace, traceOutputPath); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
	}

	logrus.Info("Simulation complete.")
}

// loadScenario reads --scenario when given, otherwise starts from defaults.
func loadScenario(protocol string) (*scenario.Scenario, error) {
	if scenarioPath == "" {
		if len(scenarioVars) > 0 {
			return nil, fmt.Errorf("--var requires --scenario")
		}
		return scenario.Default(protocol), nil
	}
	vars, err := scenario.ParseVars(scenarioVars)
	if err != nil {
		return nil, err
	}
	sc, err := scenario.Load(scenarioPath, vars)
	if err != nil {
		return nil, err
	}
	if sc.Protocol == "" {
		sc.Protocol = protocol
	}
	if sc.Protocol != protocol {
		return nil, fmt.Errorf("scenario %s is for protocol %q, not %q", scenarioPath, sc.Protocol, protocol)
	}
	return sc, nil
}

// applyFlags overrides scenario values with flags the user actually set.
func applyFlags(cmd *cobra.Command, sc *scenario.Scenario) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		sc.Seed = seed
	}
	if flags.Changed("horizon") {
		sc.Horizon = simulationHorizon
	}
	if flags.Changed("trace") {
		sc.Trace = traceLevel
	}
	switch sc.Protocol {
	case scenario.ProtocolChain:
		c := &sc.Chain
		if flags.Changed("nodes") {
			c.Nodes = chainNodes
		}
		if flags.Changed("source-period") {
			c.SourcePeriod = chainSourcePeriod
		}
		overrideLink(cmd, &c.ClassicalDelay, &c.QuantumDelay, &c.GateDuration, &c.ErrorProb, &c.Rounds)
	case scenario.ProtocolDistill:
		d := &sc.Distill
		if flags.Changed("layers") {
			d.Layers = distillLayers
		}
		if flags.Changed("timeout") {
			d.Timeout = distillTimeout
		}
		overrideLink(cmd, &d.ClassicalDelay, &d.QuantumDelay, &d.GateDuration, &d.ErrorProb, &d.Rounds)
	}
}

func overrideLink(cmd *cobra.Command, cDelay, qDelay, gate *int64, prob *float64, n *int) {
	flags := cmd.Flags()
	if flags.Changed("classical-delay") {
		*cDelay = classicalDelay
	}
	if flags.Changed("quantum-delay") {
		*qDelay = quantumDelay
	}
	if flags.Changed("gate-duration") {
		*gate = gateDuration
	}
	if flags.Changed("error-prob") {
		*prob = errorProb
	}
	if flags.Changed("rounds") {
		*n = rounds
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addLinkFlags(cmd *cobra.Command, defaultRounds int) {
	cmd.Flags().Int64Var(&classicalDelay, "classical-delay", 100, "Classical channel delay (in ticks)")
	cmd.Flags().Int64Var(&quantumDelay, "quantum-delay", 100, "Quantum channel delay (in ticks)")
	cmd.Flags().Int64Var(&gateDuration, "gate-duration", 10, "Gate and measurement duration (in ticks)")
	cmd.Flags().Float64Var(&errorProb, "error-prob", 0, "Probability that a source pair carries a random Pauli error")
	cmd.Flags().IntVar(&rounds, "rounds", defaultRounds, "End-to-end rounds to run")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "scenario", "", "Scenario file (.yaml, .yml or .hcl)")
	rootCmd.PersistentFlags().StringArrayVar(&scenarioVars, "var", nil, "HCL scenario variable as key=value (can be repeated)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", scenario.DefaultSeed, "Seed for random draws")
	rootCmd.PersistentFlags().Int64Var(&simulationHorizon, "horizon", 0, "Total simulation horizon (in ticks), 0 for none")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&traceLevel, "trace", "none", "Trace level (none, rounds, signals)")
	rootCmd.PersistentFlags().StringVar(&outputPath, "output", "", "Write metrics JSON to this file")
	rootCmd.PersistentFlags().StringVar(&traceOutputPath, "trace-output", "", "Write the trace JSON to this file")

	addLinkFlags(chainCmd, 10)
	chainCmd.Flags().IntVar(&chainNodes, "nodes", 5, "Nodes in the chain, terminals included")
	chainCmd.Flags().Int64Var(&chainSourcePeriod, "source-period", 0, "Ticks between link pair emissions, 0 to derive")

	addLinkFlags(distillCmd, 5)
	distillCmd.Flags().IntVar(&distillLayers, "layers", 3, "Depth of the purification tree")
	distillCmd.Flags().Int64Var(&distillTimeout, "timeout", 0, "Exchange timeout (in ticks), 0 waits indefinitely")

	rootCmd.AddCommand(chainCmd, distillCmd)
}
