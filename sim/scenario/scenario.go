// Package scenario loads run descriptions from YAML or HCL files.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/sirupsen/logrus"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/chain"
	"github.com/qnet-sim/qnet-sim/sim/distill"
	"github.com/qnet-sim/qnet-sim/sim/trace"
)

// Protocol families a scenario can run.
const (
	ProtocolChain   = "chain"
	ProtocolDistill = "distill"
)

// DefaultSeed is used when neither the file nor the CLI sets a seed.
const DefaultSeed int64 = 42

// Scenario is one run: which protocol, its parameters and the kernel
// settings. Only the block matching Protocol is used.
type Scenario struct {
	Protocol string         `yaml:"protocol"`
	Seed     int64          `yaml:"seed"`
	Horizon  int64          `yaml:"horizon"` // 0 runs until the event queue drains
	Trace    string         `yaml:"trace"`
	Chain    chain.Config   `yaml:"chain"`
	Distill  distill.Config `yaml:"distill"`
}

// Default returns a scenario for protocol with every block at its defaults.
func Default(protocol string) *Scenario {
	return &Scenario{
		Protocol: protocol,
		Seed:     DefaultSeed,
		Trace:    string(trace.TraceLevelNone),
		Chain:    chain.DefaultConfig(),
		Distill:  distill.DefaultConfig(),
	}
}

// hclScenario mirrors Scenario for HCL. Protocol blocks are decoded in a
// second pass onto the defaults, so attributes left out keep them.
type hclScenario struct {
	Protocol string    `hcl:"protocol"`
	Seed     *int64    `hcl:"seed,optional"`
	Horizon  *int64    `hcl:"horizon,optional"`
	Trace    *string   `hcl:"trace,optional"`
	Chain    *hclBlock `hcl:"chain,block"`
	Distill  *hclBlock `hcl:"distill,block"`
}

type hclBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// Load reads a scenario file. The format follows the extension: .yaml or
// .yml for YAML, .hcl for HCL. vars populate the HCL `var` object and are
// rejected for YAML files.
func Load(path string, vars map[string]string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc *Scenario
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if len(vars) > 0 {
			return nil, fmt.Errorf("scenario %s: variables are only supported in HCL scenarios", path)
		}
		sc, err = decodeYAML(data)
	case ".hcl":
		sc, err = decodeHCL(path, data, vars)
	default:
		return nil, fmt.Errorf("scenario %s: unknown format %q; valid: .yaml, .yml, .hcl", path, ext)
	}
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Loaded %s scenario from %s", sc.Protocol, path)
	return sc, nil
}

// decodeYAML uses strict parsing: unrecognized keys (typos) are rejected.
func decodeYAML(data []byte) (*Scenario, error) {
	sc := Default("")
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return sc, nil
}

func decodeHCL(filename string, data []byte, vars map[string]string) (*Scenario, error) {
	ctx := EvalContext(vars)
	var raw hclScenario
	if err := hclsimple.Decode(filename, data, ctx, &raw); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	sc := Default(raw.Protocol)
	if raw.Seed != nil {
		sc.Seed = *raw.Seed
	}
	if raw.Horizon != nil {
		sc.Horizon = *raw.Horizon
	}
	if raw.Trace != nil {
		sc.Trace = *raw.Trace
	}
	if raw.Chain != nil {
		if diags := gohcl.DecodeBody(raw.Chain.Body, ctx, &sc.Chain); diags.HasErrors() {
			return nil, fmt.Errorf("parsing scenario chain block: %s", diags.Error())
		}
	}
	if raw.Distill != nil {
		if diags := gohcl.DecodeBody(raw.Distill.Body, ctx, &sc.Distill); diags.HasErrors() {
			return nil, fmt.Errorf("parsing scenario distill block: %s", diags.Error())
		}
	}
	return sc, nil
}

// EvalContext exposes vars to HCL expressions as `var.<name>` strings;
// HCL converts them to the attribute's type on decode.
func EvalContext(vars map[string]string) *hcl.EvalContext {
	obj := cty.EmptyObjectVal
	if len(vars) > 0 {
		vals := make(map[string]cty.Value, len(vars))
		for k, v := range vars {
			vals[k] = cty.StringVal(v)
		}
		obj = cty.ObjectVal(vals)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"var": obj}}
}

// ParseVars splits key=value pairs as given on the command line.
func ParseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid variable %q; expected key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// ApplyDefaults fills derived values of the selected protocol block.
func (s *Scenario) ApplyDefaults() {
	switch s.Protocol {
	case ProtocolChain:
		s.Chain.ApplyDefaults()
	case ProtocolDistill:
		s.Distill.ApplyDefaults()
	}
	if s.Trace == "" {
		s.Trace = string(trace.TraceLevelNone)
	}
}

// Validate reports the first invalid field.
func (s *Scenario) Validate() error {
	if s.Horizon < 0 {
		return fmt.Errorf("%w: horizon must be non-negative, got %d", sim.ErrConstruction, s.Horizon)
	}
	if !trace.IsValidTraceLevel(s.Trace) {
		return fmt.Errorf("%w: unknown trace level %q; valid: none, rounds, signals", sim.ErrConstruction, s.Trace)
	}
	switch s.Protocol {
	case ProtocolChain:
		if err := s.Chain.Validate(); err != nil {
			return fmt.Errorf("chain: %w", err)
		}
		if s.Chain.Rounds == 0 && s.Horizon == 0 {
			return fmt.Errorf("%w: chain with rounds 0 runs until the horizon, so horizon must be positive", sim.ErrConstruction)
		}
	case ProtocolDistill:
		if err := s.Distill.Validate(); err != nil {
			return fmt.Errorf("distill: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown protocol %q; valid: chain, distill", sim.ErrConstruction, s.Protocol)
	}
	return nil
}
