package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/qnet-sim/qnet-sim/sim"
	"github.com/qnet-sim/qnet-sim/sim/chain"
	"github.com/qnet-sim/qnet-sim/sim/distill"
	"github.com/qnet-sim/qnet-sim/sim/scenario"
	"github.com/qnet-sim/qnet-sim/sim/trace"
)

// Report is what one run produced.
type Report struct {
	Metrics *sim.Metrics
	Trace   *trace.SimulationTrace
}

// Run builds the scenario's network on a fresh simulator, runs it to
// completion and collects metrics and the trace. sc must already be
// validated.
func Run(sc *scenario.Scenario) (*Report, error) {
	s := sim.NewSimulator(sc.Horizon, sc.Seed)
	rep := &Report{
		Metrics: sim.NewMetrics(),
		Trace:   trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(sc.Trace)}),
	}
	if rep.Trace.Config.Level == trace.TraceLevelSignals {
		s.Bus().Observe(func(sig sim.Signal) { rep.Trace.RecordSignal(signalRecord(sig)) })
	}

	var err error
	switch sc.Protocol {
	case scenario.ProtocolChain:
		err = runChain(s, sc.Chain, rep)
	case scenario.ProtocolDistill:
		err = runDistill(s, sc.Distill, rep)
	default:
		err = fmt.Errorf("%w: unknown protocol %q", sim.ErrConstruction, sc.Protocol)
	}
	if err != nil {
		return nil, err
	}
	rep.Metrics.SimEndedTime = s.Clock
	rep.Metrics.Events = s.EventCount
	return rep, nil
}

func runChain(s *sim.Simulator, cfg chain.Config, rep *Report) error {
	net, err := chain.Build(s, cfg)
	if err != nil {
		return err
	}
	if err := net.Start(); err != nil {
		return err
	}
	s.Run()
	var prev int64
	for i, r := range net.Correct.Rounds {
		ideal := r.Held && r.EndToEnd && r.Frame == 0
		rep.Metrics.RecordRound(true, ideal, r.Time-prev)
		rep.Trace.RecordRound(trace.RoundRecord{
			Protocol: scenario.ProtocolChain,
			Round:    i + 1,
			Time:     r.Time,
			Duration: r.Time - prev,
			Success:  true,
			Frame:    r.Frame,
			EndToEnd: r.Held && r.EndToEnd,
		})
		prev = r.Time
	}
	logrus.Infof("chain: %d rounds completed", net.Completed())
	return nil
}

func runDistill(s *sim.Simulator, cfg distill.Config, rep *Report) error {
	net, err := distill.Build(s, cfg)
	if err != nil {
		return err
	}
	if err := net.Start(); err != nil {
		return err
	}
	s.Run()
	for _, r := range net.Results() {
		rep.Metrics.RecordRound(r.Success, r.EndToEnd && r.Frame == 0, r.Duration)
		rep.Trace.RecordRound(trace.RoundRecord{
			Protocol: scenario.ProtocolDistill,
			Round:    r.Round,
			Time:     r.Start + r.Duration,
			Duration: r.Duration,
			Success:  r.Success,
			Frame:    r.Frame,
			EndToEnd: r.EndToEnd,
		})
	}
	logrus.Infof("distill: %d rounds completed", len(net.Results()))
	return nil
}

func signalRecord(sig sim.Signal) trace.SignalRecord {
	rec := trace.SignalRecord{Seq: sig.Seq, Time: sig.Time, Source: sig.Source, Name: string(sig.Name)}
	if sig.Payload != nil {
		rec.Payload = fmt.Sprint(sig.Payload)
	}
	return rec
}

// printTraceSummary writes the trace summary after the metrics block.
func printTraceSummary(st *trace.SimulationTrace) {
	summary := trace.Summarize(st)
	fmt.Println("=== Trace Summary ===")
	fmt.Printf("Rounds: %d (success %d, failed %d, ideal %d)\n",
		summary.TotalRounds, summary.Successes, summary.Failures, summary.IdealRounds)
	fmt.Printf("Success rate: %.3f, mean round duration: %.1f ticks\n", summary.SuccessRate, summary.MeanRoundDuration)
	if summary.TotalSignals > 0 {
		fmt.Printf("Signals: %d from %d sources\n", summary.TotalSignals, summary.UniqueSources)
		for _, name := range []sim.SignalName{sim.SignalSuccess, sim.SignalFail, sim.SignalSlotFreed} {
			fmt.Printf("  %-10s %d\n", name, summary.SignalCounts[string(name)])
		}
	}
}

// writeTrace saves the full trace as JSON.
func writeTrace(st *trace.SimulationTrace, path string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing trace to %s: %w", path, err)
	}
	logrus.Infof("Trace written to: %s", path)
	return nil
}
