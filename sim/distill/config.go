package distill

import (
	"fmt"

	"github.com/qnet-sim/qnet-sim/sim"
)

// Config describes a two-node nested purification run. Delays, durations
// and the timeout are in ticks.
type Config struct {
	Layers         int     `yaml:"layers" hcl:"layers,optional"`
	ClassicalDelay int64   `yaml:"classical_delay" hcl:"classical_delay,optional"`
	QuantumDelay   int64   `yaml:"quantum_delay" hcl:"quantum_delay,optional"`
	GateDuration   int64   `yaml:"gate_duration" hcl:"gate_duration,optional"`
	ErrorProb      float64 `yaml:"error_prob" hcl:"error_prob,optional"`
	Rounds         int     `yaml:"rounds" hcl:"rounds,optional"`
	Timeout        int64   `yaml:"timeout" hcl:"timeout,optional"` // 0 waits for the peer indefinitely
}

// maxLayers bounds the memory size, 2^(layers+1) slots per node.
const maxLayers = 12

// DefaultConfig is a three-layer tree with equal classical and quantum delays.
func DefaultConfig() Config {
	return Config{
		Layers:         3,
		ClassicalDelay: 100,
		QuantumDelay:   100,
		GateDuration:   10,
		Rounds:         5,
	}
}

// ApplyDefaults runs a single round when none is configured.
func (c *Config) ApplyDefaults() {
	if c.Rounds == 0 {
		c.Rounds = 1
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Layers < 1 {
		return fmt.Errorf("%w: purification needs at least 1 layer, got %d", sim.ErrInvalidTopology, c.Layers)
	}
	if c.Layers > maxLayers {
		return fmt.Errorf("%w: distill layers must be at most %d, got %d", sim.ErrConstruction, maxLayers, c.Layers)
	}
	if c.ClassicalDelay < 0 || c.QuantumDelay < 0 || c.GateDuration < 0 || c.Timeout < 0 {
		return fmt.Errorf("%w: distill delays must be non-negative", sim.ErrConstruction)
	}
	if c.ErrorProb < 0 || c.ErrorProb > 1 {
		return fmt.Errorf("%w: distill error_prob must be in [0,1], got %v", sim.ErrConstruction, c.ErrorProb)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("%w: distill rounds must be positive, got %d", sim.ErrConstruction, c.Rounds)
	}
	return nil
}

// Positions is the number of memory slots per node.
func (c Config) Positions() int { return 1 << (c.Layers + 1) }

// InputSlot is the slot fresh pairs are delivered into.
func (c Config) InputSlot() int { return c.Positions() - 2 }

// Leaves is the number of leaf blocks, 2^(layers-1).
func (c Config) Leaves() int { return 1 << (c.Layers - 1) }
