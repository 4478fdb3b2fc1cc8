package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/chain"
	"github.com/qnet-sim/qnet-sim/sim/distill"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML_OverlaysDefaults(t *testing.T) {
	// GIVEN a YAML scenario setting only some chain fields
	path := writeFile(t, "run.yaml", `
protocol: chain
seed: 7
chain:
  nodes: 4
  rounds: 2
`)

	// WHEN loaded
	sc, err := Load(path, nil)

	// THEN the given fields are set and the rest keep their defaults
	require.NoError(t, err)
	def := chain.DefaultConfig()
	assert.Equal(t, ProtocolChain, sc.Protocol)
	assert.Equal(t, int64(7), sc.Seed)
	assert.Equal(t, 4, sc.Chain.Nodes)
	assert.Equal(t, 2, sc.Chain.Rounds)
	assert.Equal(t, def.ClassicalDelay, sc.Chain.ClassicalDelay)
	assert.Equal(t, def.GateDuration, sc.Chain.GateDuration)
	assert.Equal(t, distill.DefaultConfig(), sc.Distill)
}

func TestLoad_YAML_UnknownKey_Rejected(t *testing.T) {
	// GIVEN a YAML scenario with a typo in a chain key
	path := writeFile(t, "run.yaml", `
protocol: chain
chain:
  nodez: 4
`)

	// WHEN loaded
	_, err := Load(path, nil)

	// THEN strict parsing rejects it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodez")
}

func TestLoad_YAML_WithVars_Rejected(t *testing.T) {
	path := writeFile(t, "run.yml", "protocol: chain\n")
	_, err := Load(path, map[string]string{"nodes": "4"})
	assert.Error(t, err)
}

func TestLoad_HCL_VarsAndDefaults(t *testing.T) {
	// GIVEN an HCL scenario reading layers and timeout from variables
	path := writeFile(t, "run.hcl", `
protocol = "distill"
seed     = 11
trace    = "rounds"

distill {
  layers  = var.layers
  timeout = var.timeout
  rounds  = 2
}
`)

	// WHEN loaded with the variables set
	sc, err := Load(path, map[string]string{"layers": "2", "timeout": "500"})

	// THEN the variables are converted to the attribute types
	require.NoError(t, err)
	assert.Equal(t, ProtocolDistill, sc.Protocol)
	assert.Equal(t, int64(11), sc.Seed)
	assert.Equal(t, "rounds", sc.Trace)
	assert.Equal(t, 2, sc.Distill.Layers)
	assert.Equal(t, int64(500), sc.Distill.Timeout)
	assert.Equal(t, 2, sc.Distill.Rounds)

	// AND attributes left out keep their defaults
	def := distill.DefaultConfig()
	assert.Equal(t, def.QuantumDelay, sc.Distill.QuantumDelay)
	assert.Equal(t, def.GateDuration, sc.Distill.GateDuration)
	assert.Equal(t, DefaultSeed, Default("").Seed)
}

func TestLoad_HCL_MissingVar_Fails(t *testing.T) {
	path := writeFile(t, "run.hcl", `
protocol = "chain"
chain {
  nodes = var.nodes
}
`)
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoad_HCL_UnknownAttribute_Fails(t *testing.T) {
	path := writeFile(t, "run.hcl", `
protocol = "chain"
chain {
  hops = 4
}
`)
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoad_UnknownExtension_Fails(t *testing.T) {
	path := writeFile(t, "run.toml", "protocol = 'chain'\n")
	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestLoad_MissingFile_Fails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestParseVars(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"pairs", []string{"a=1", "b=x=y"}, map[string]string{"a": "1", "b": "x=y"}, false},
		{"empty value", []string{"a="}, map[string]string{"a": ""}, false},
		{"no equals", []string{"a"}, nil, true},
		{"no key", []string{"=1"}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseVars(tc.pairs)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Scenario)
		wantErr  bool
		topology bool
	}{
		{"default chain", func(s *Scenario) {}, false, false},
		{"distill", func(s *Scenario) { s.Protocol = ProtocolDistill }, false, false},
		{"unknown protocol", func(s *Scenario) { s.Protocol = "teleport" }, true, false},
		{"negative horizon", func(s *Scenario) { s.Horizon = -1 }, true, false},
		{"bad trace", func(s *Scenario) { s.Trace = "everything" }, true, false},
		{"short chain", func(s *Scenario) { s.Chain.Nodes = 2 }, true, true},
		{"no layers", func(s *Scenario) { s.Protocol = ProtocolDistill; s.Distill.Layers = 0 }, true, true},
		{"unused block ignored", func(s *Scenario) { s.Distill.Layers = 0 }, false, false},
		{"unbounded chain", func(s *Scenario) { s.Chain.Rounds = 0 }, true, false},
		{"chain bounded by horizon", func(s *Scenario) { s.Chain.Rounds = 0; s.Horizon = 5000 }, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc := Default(ProtocolChain)
			tc.mutate(sc)
			sc.ApplyDefaults()
			err := sc.Validate()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, sim.ErrConstruction), "expected ErrConstruction, got %v", err)
			if tc.topology {
				assert.True(t, errors.Is(err, sim.ErrInvalidTopology))
			}
		})
	}
}

func TestScenario_ApplyDefaults_DerivesSourcePeriod(t *testing.T) {
	sc := Default(ProtocolChain)
	sc.Chain.SourcePeriod = 0
	sc.ApplyDefaults()
	assert.Positive(t, sc.Chain.SourcePeriod)
}
