// Tracks protocol round outcomes for the end-of-run report.

package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics aggregates end-to-end round outcomes over one run.
type Metrics struct {
	Rounds       int   // Rounds completed, success or failure
	Successes    int   // Rounds that ended with SUCCESS
	IdealRounds  int   // Successful rounds whose surviving pair is ideal and end-to-end
	SimEndedTime int64 // Clock when the run stopped
	Events       int64 // Events executed

	RoundDurations []int64 // Ticks from round start to decision, in completion order
}

// MetricsOutput is the JSON form of a run's metrics.
type MetricsOutput struct {
	Protocol          string  `json:"protocol"`
	Seed              int64   `json:"seed"`
	Rounds            int     `json:"rounds"`
	Successes         int     `json:"successes"`
	Failures          int     `json:"failures"`
	SuccessRate       float64 `json:"success_rate"`
	IdealRounds       int     `json:"ideal_rounds"`
	SimEndedTime      int64   `json:"sim_ended_time"`
	Events            int64   `json:"events"`
	RoundDurationMean float64 `json:"round_duration_mean"`
	RoundDurationP50  float64 `json:"round_duration_p50"`
	RoundDurationP99  float64 `json:"round_duration_p99"`
	WallTimeSeconds   float64 `json:"wall_time_seconds"`
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{RoundDurations: make([]int64, 0)}
}

// RecordRound adds one completed round.
func (m *Metrics) RecordRound(success, ideal bool, duration int64) {
	m.Rounds++
	if success {
		m.Successes++
		if ideal {
			m.IdealRounds++
		}
	}
	m.RoundDurations = append(m.RoundDurations, duration)
}

// Output summarises the metrics for reporting.
func (m *Metrics) Output(protocol string, seed int64, startTime time.Time) MetricsOutput {
	out := MetricsOutput{
		Protocol:          protocol,
		Seed:              seed,
		Rounds:            m.Rounds,
		Successes:         m.Successes,
		Failures:          m.Rounds - m.Successes,
		IdealRounds:       m.IdealRounds,
		SimEndedTime:      m.SimEndedTime,
		Events:            m.Events,
		RoundDurationMean: CalculateMean(m.RoundDurations),
		RoundDurationP50:  CalculatePercentile(m.RoundDurations, 50),
		RoundDurationP99:  CalculatePercentile(m.RoundDurations, 99),
		WallTimeSeconds:   time.Since(startTime).Seconds(),
	}
	if m.Rounds > 0 {
		out.SuccessRate = float64(m.Successes) / float64(m.Rounds)
	}
	return out
}

// SaveResults prints the metrics JSON to stdout and, when outputPath is
// set, also writes it there.
func (m *Metrics) SaveResults(protocol string, seed int64, startTime time.Time, outputPath string) error {
	out := m.Output(protocol, seed, startTime)
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	fmt.Println("=== Simulation Metrics ===")
	fmt.Println(string(data))
	if outputPath == "" {
		return nil
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", outputPath, err)
	}
	logrus.Infof("Metrics written to: %s", outputPath)
	return nil
}
