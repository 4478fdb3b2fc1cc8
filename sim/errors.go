package sim

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the kernel and the protocol families.
// Callers match with errors.Is; messages carry the wrapped context.
var (
	// ErrConstruction covers bad role strings, missing bindings and
	// duplicate identities. Raised at build time and never recovered.
	ErrConstruction = errors.New("construction error")

	// ErrInvalidTopology is a construction error for topologies that are too small.
	ErrInvalidTopology = fmt.Errorf("%w: invalid topology", ErrConstruction)

	// ErrReuse is returned when an await expression that was already armed
	// or resolved is awaited again.
	ErrReuse = errors.New("await expression already consumed")

	// ErrOutOfResources is returned when a slot claim exceeds availability.
	ErrOutOfResources = errors.New("out of resources")

	// ErrNotReady is returned when starting a protocol whose readiness predicate fails.
	ErrNotReady = errors.New("protocol not ready")

	// ErrSlotNotOwned is returned when a slot operation is attempted by an
	// owner that does not hold the claim.
	ErrSlotNotOwned = errors.New("slot not owned")

	// ErrNoSuchSlot is returned for slot ids outside a memory's range.
	ErrNoSuchSlot = errors.New("no such slot")
)
