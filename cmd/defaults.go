package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qnet-sim/qnet-sim/sim/scenario"
)

var defaultsCmd = &cobra.Command{
	Use:       "defaults <chain|distill>",
	Short:     "Print a default scenario as YAML",
	Long:      "Print the default scenario for a protocol. The output is a valid --scenario file to edit. Output is written to stdout.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{scenario.ProtocolChain, scenario.ProtocolDistill},
	Run: func(cmd *cobra.Command, args []string) {
		sc := scenario.Default(args[0])
		sc.ApplyDefaults()
		if err := sc.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}
		writeScenarioToStdout(sc)
	},
}

func writeScenarioToStdout(sc *scenario.Scenario) {
	data, err := yaml.Marshal(sc)
	if err != nil {
		logrus.Fatalf("YAML marshal failed: %v", err)
	}
	fmt.Print(string(data))
}

func init() {
	rootCmd.AddCommand(defaultsCmd)
}
