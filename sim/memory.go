// sim/memory.go
package sim

import "fmt"

// Slot is one storage position of a Memory.
type Slot struct {
	ID      int
	Owner   string // claiming protocol; empty when free
	Content any    // stored unit; nil when empty
}

// Memory is a node's fixed-size slot store. Protocols claim slots before
// using them and release them when done. Claimed sets of distinct owners are
// disjoint and an occupied slot always has an owner.
//
// Releasing a slot discards its content and raises SLOT_FREED(id).
type Memory struct {
	id      string
	sim     *Simulator
	slots   []*Slot
	usedCnt int // claimed slots, tracked incrementally
}

// NewMemory creates a memory with n free slots and registers it on the bus.
func NewMemory(s *Simulator, id string, n int) (*Memory, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: memory %q needs at least one slot, got %d", ErrConstruction, id, n)
	}
	if err := s.Bus().Register(id); err != nil {
		return nil, err
	}
	m := &Memory{id: id, sim: s, slots: make([]*Slot, n)}
	for i := range m.slots {
		m.slots[i] = &Slot{ID: i}
	}
	return m, nil
}

// ID returns the memory's emitter ID.
func (m *Memory) ID() string { return m.id }

// Size returns the number of slots.
func (m *Memory) Size() int { return len(m.slots) }

// UsedCount returns how many slots are claimed.
func (m *Memory) UsedCount() int { return m.usedCnt }

func (m *Memory) slot(id int) (*Slot, error) {
	if id < 0 || id >= len(m.slots) {
		return nil, fmt.Errorf("%w: memory %s has no slot %d", ErrNoSuchSlot, m.id, id)
	}
	return m.slots[id], nil
}

func (m *Memory) owned(owner string, id int) (*Slot, error) {
	sl, err := m.slot(id)
	if err != nil {
		return nil, err
	}
	if sl.Owner != owner {
		return nil, fmt.Errorf("%w: %s slot %d held by %q, not %q", ErrSlotNotOwned, m.id, id, sl.Owner, owner)
	}
	return sl, nil
}

// Claim reserves count free slots for owner, lowest ids first.
// Fails with ErrOutOfResources without claiming anything when fewer are free.
func (m *Memory) Claim(owner string, count int) ([]int, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrConstruction)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %s: negative claim count %d from %q", ErrConstruction, m.id, count, owner)
	}
	if free := len(m.slots) - m.usedCnt; count > free {
		return nil, fmt.Errorf("%w: %s has %d free slots, %q wants %d", ErrOutOfResources, m.id, free, owner, count)
	}
	ids := make([]int, 0, count)
	for _, sl := range m.slots {
		if len(ids) == count {
			break
		}
		if sl.Owner == "" {
			sl.Owner = owner
			ids = append(ids, sl.ID)
		}
	}
	m.usedCnt += len(ids)
	return ids, nil
}

// ClaimAt reserves exactly the given slots for owner, all or nothing.
// Slots the owner already holds count as available.
func (m *Memory) ClaimAt(owner string, ids ...int) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner", ErrConstruction)
	}
	for _, id := range ids {
		sl, err := m.slot(id)
		if err != nil {
			return err
		}
		if sl.Owner != "" && sl.Owner != owner {
			return fmt.Errorf("%w: %s slot %d held by %q", ErrOutOfResources, m.id, id, sl.Owner)
		}
	}
	for _, id := range ids {
		if sl := m.slots[id]; sl.Owner == "" {
			sl.Owner = owner
			m.usedCnt++
		}
	}
	return nil
}

// Release frees the given slots held by owner. Free slots, foreign slots and
// unknown ids are ignored, so releasing twice is harmless.
func (m *Memory) Release(owner string, ids ...int) {
	for _, id := range ids {
		if id < 0 || id >= len(m.slots) {
			continue
		}
		sl := m.slots[id]
		if sl.Owner == "" || sl.Owner != owner {
			continue
		}
		sl.Owner = ""
		sl.Content = nil
		m.usedCnt--
		m.sim.Bus().Emit(m, SignalSlotFreed, id)
	}
}

// ReleaseAll frees every slot held by owner and returns their ids.
func (m *Memory) ReleaseAll(owner string) []int {
	ids := m.Claimed(owner)
	m.Release(owner, ids...)
	return ids
}

// Transfer hands the given slots, content included, from one owner to another.
// Every slot must be held by from; nothing moves otherwise.
func (m *Memory) Transfer(from, to string, ids ...int) error {
	if to == "" {
		return fmt.Errorf("%w: empty owner", ErrConstruction)
	}
	for _, id := range ids {
		if _, err := m.owned(from, id); err != nil {
			return err
		}
	}
	for _, id := range ids {
		m.slots[id].Owner = to
	}
	return nil
}

// Put stores unit in a slot held by owner, replacing any previous content.
func (m *Memory) Put(owner string, id int, unit any) error {
	sl, err := m.owned(owner, id)
	if err != nil {
		return err
	}
	sl.Content = unit
	return nil
}

// Peek returns a slot's content without removing it.
func (m *Memory) Peek(id int) (any, bool) {
	if id < 0 || id >= len(m.slots) || m.slots[id].Content == nil {
		return nil, false
	}
	return m.slots[id].Content, true
}

// Pop removes and returns the content of a slot held by owner.
// The slot stays claimed.
func (m *Memory) Pop(owner string, id int) (any, error) {
	sl, err := m.owned(owner, id)
	if err != nil {
		return nil, err
	}
	unit := sl.Content
	sl.Content = nil
	return unit, nil
}

// Move relocates content between two slots held by owner, replacing the
// destination's content.
func (m *Memory) Move(owner string, from, to int) error {
	src, err := m.owned(owner, from)
	if err != nil {
		return err
	}
	dst, err := m.owned(owner, to)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	dst.Content = src.Content
	src.Content = nil
	return nil
}

// IsFree reports whether a slot is unclaimed.
func (m *Memory) IsFree(id int) bool {
	return id >= 0 && id < len(m.slots) && m.slots[id].Owner == ""
}

// Owner returns a slot's owner, or "" when free.
func (m *Memory) Owner(id int) string {
	if id < 0 || id >= len(m.slots) {
		return ""
	}
	return m.slots[id].Owner
}

// FreeSlots returns the ids of unclaimed slots in ascending order.
func (m *Memory) FreeSlots() []int {
	ids := make([]int, 0, len(m.slots)-m.usedCnt)
	for _, sl := range m.slots {
		if sl.Owner == "" {
			ids = append(ids, sl.ID)
		}
	}
	return ids
}

// Claimed returns the ids held by owner in ascending order.
func (m *Memory) Claimed(owner string) []int {
	var ids []int
	for _, sl := range m.slots {
		if owner != "" && sl.Owner == owner {
			ids = append(ids, sl.ID)
		}
	}
	return ids
}
