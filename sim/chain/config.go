package chain

import (
	"fmt"

	"github.com/qnet-sim/qnet-sim/sim"
)

// Config describes a repeater chain. Delays and durations are in ticks.
type Config struct {
	Nodes          int     `yaml:"nodes" hcl:"nodes,optional"`
	ClassicalDelay int64   `yaml:"classical_delay" hcl:"classical_delay,optional"`
	QuantumDelay   int64   `yaml:"quantum_delay" hcl:"quantum_delay,optional"`
	GateDuration   int64   `yaml:"gate_duration" hcl:"gate_duration,optional"`
	SourcePeriod   int64   `yaml:"source_period" hcl:"source_period,optional"` // 0 derives a period long enough for one round
	ErrorProb      float64 `yaml:"error_prob" hcl:"error_prob,optional"`
	Rounds         int     `yaml:"rounds" hcl:"rounds,optional"` // 0 runs until the horizon
}

// DefaultConfig is a five-node chain with round-trip friendly delays.
func DefaultConfig() Config {
	return Config{
		Nodes:          5,
		ClassicalDelay: 100,
		QuantumDelay:   100,
		GateDuration:   10,
		Rounds:         10,
	}
}

// ApplyDefaults fills the derived source period.
func (c *Config) ApplyDefaults() {
	if c.SourcePeriod == 0 {
		c.SourcePeriod = int64(c.Nodes)*(c.ClassicalDelay+c.GateDuration) + c.QuantumDelay
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Nodes < 3 {
		return fmt.Errorf("%w: chain needs at least 3 nodes, got %d", sim.ErrInvalidTopology, c.Nodes)
	}
	if c.ClassicalDelay < 0 || c.QuantumDelay < 0 || c.GateDuration < 0 {
		return fmt.Errorf("%w: chain delays must be non-negative", sim.ErrConstruction)
	}
	if c.SourcePeriod < 0 {
		return fmt.Errorf("%w: chain source_period must be non-negative, got %d", sim.ErrConstruction, c.SourcePeriod)
	}
	if c.ErrorProb < 0 || c.ErrorProb > 1 {
		return fmt.Errorf("%w: chain error_prob must be in [0,1], got %v", sim.ErrConstruction, c.ErrorProb)
	}
	if c.Rounds < 0 {
		return fmt.Errorf("%w: chain rounds must be non-negative, got %d", sim.ErrConstruction, c.Rounds)
	}
	return nil
}
