// Package qproc is a stochastic stand-in for the physical layer: entangled
// pairs tracked as a two-bit Pauli frame, a per-node processor that
// serialises operations, and a pair source.
//
// Frames use the same encoding as measurement outcomes: bit 0 is an X flip,
// bit 1 a Z flip. A frame of 0 is the ideal Bell state.
package qproc

import "fmt"

// Pauli frame bits.
const (
	FrameX uint8 = 1 << 0
	FrameZ uint8 = 1 << 1
)

// Role distinguishes the two ends of a purification exchange.
type Role int

const (
	RoleA Role = iota
	RoleB
)

// ParseRole accepts "A" or "B" in either case.
func ParseRole(s string) (Role, error) {
	switch s {
	case "A", "a":
		return RoleA, nil
	case "B", "b":
		return RoleB, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if r == RoleB {
		return "B"
	}
	return "A"
}

// Pair is a two-ended resource shared by two memories.
type Pair struct {
	ID    int
	Frame uint8
	Ends  [2]*Unit

	coin    uint8
	coinSet bool
}

// Unit is one end of a pair, the thing that sits in a memory slot.
type Unit struct {
	Pair *Pair
	Side int
}

// NewPair returns a pair with the given frame and both ends attached.
func NewPair(id int, frame uint8) *Pair {
	p := &Pair{ID: id, Frame: frame & 3}
	p.Ends[0] = &Unit{Pair: p, Side: 0}
	p.Ends[1] = &Unit{Pair: p, Side: 1}
	return p
}

// Partner returns the unit at the other end of u's pair.
func (u *Unit) Partner() *Unit {
	return u.Pair.Ends[1-u.Side]
}

func (u *Unit) String() string {
	return fmt.Sprintf("pair%d/%d", u.Pair.ID, u.Side)
}

// Swap joins two pairs at a node holding one end of each. The outer ends of
// left and right become a new pair whose frame is the XOR of both frames and
// the measurement outcome, so applying the outcome as a correction restores
// the combined frame. The new pair keeps the left pair's ID.
func Swap(left, right *Unit, outcome uint8) *Pair {
	outerL := left.Partner()
	outerR := right.Partner()
	p := &Pair{ID: left.Pair.ID, Frame: (left.Pair.Frame ^ right.Pair.Frame ^ outcome) & 3}
	p.Ends[0], p.Ends[1] = outerL, outerR
	outerL.Pair, outerL.Side = p, 0
	outerR.Pair, outerR.Side = p, 1
	return p
}

// Correct applies X and/or Z to u, flipping its pair's frame bits.
func Correct(u *Unit, x, z bool) {
	if x {
		u.Pair.Frame ^= FrameX
	}
	if z {
		u.Pair.Frame ^= FrameZ
	}
}

// DecodeOutcome splits a two-bit outcome into X and Z toggles:
// 01 and 11 toggle X, 10 and 11 toggle Z.
func DecodeOutcome(outcome int) (x, z bool) {
	return outcome&1 == 1, outcome&2 == 2
}

// CompareBit is the local one-bit result of comparing a goal pair against a
// measurement pair. Both sides draw on the measurement pair's shared coin, so
// A and B report equal bits exactly when the two pairs carry the same frame.
func CompareBit(role Role, goal, meas *Pair, coin uint8) uint8 {
	bit := coin & 1
	if role == RoleB && goal.Frame != meas.Frame {
		bit ^= 1
	}
	return bit
}
