// Package trace provides signal and round recording for protocol analysis.
// This package has no dependencies on sim/ or its protocol packages; it stores pure data types.
package trace

// SignalRecord captures a single bus emission.
type SignalRecord struct {
	Seq     int64  `json:"seq"`
	Time    int64  `json:"time"`
	Source  string `json:"source"`
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"` // formatted payload, empty when nil
}

// RoundRecord captures one completed end-to-end round of a protocol.
type RoundRecord struct {
	Protocol string `json:"protocol"`
	Round    int    `json:"round"`
	Time     int64  `json:"time"`
	Duration int64  `json:"duration"`
	Success  bool   `json:"success"`
	Frame    uint8  `json:"frame"`      // Pauli frame of the surviving pair
	EndToEnd bool   `json:"end_to_end"` // surviving units are the two ends of one pair
}

// Ideal reports whether the round left an error-free end-to-end pair.
func (r RoundRecord) Ideal() bool { return r.Success && r.EndToEnd && r.Frame == 0 }
