package pipeline

// PRF flag bits carried in a slot's 16-bit flags word alongside the three
// x86 arithmetic-flag bits (ZF/CF/OF occupy the low bits).
const (
	FlagInvalid uint16 = 1 << 8 // propagated-exception marker
	FlagWait    uint16 = 1 << 9 // allocated but not yet produced
	FlagZF      uint16 = 1 << 0
	FlagCF      uint16 = 1 << 1
	FlagOF      uint16 = 1 << 2
)

// PRFState is one of the six lifecycle states a physical register slot
// moves through.
type PRFState uint8

const (
	PRFFree PRFState = iota
	PRFUsed
	PRFReady
	PRFWritten
	PRFArch
	PRFPendingFree
)

// prfSlot is one physical register: a data word, a flags word, a
// saturating refcount, the architectural register it is currently mapped
// from (if any), and its lifecycle state.
type prfSlot struct {
	data     uint64
	flags    uint16
	refcount uint32
	archReg  int // -1 if not currently an architectural mapping
	state    PRFState
}

// PRF is the bounded pool of physical register slots shared by every
// in-flight uop. The first archBase slots are permanent and begin in
// PRFArch; slot 0 is the hard-wired architectural zero register.
type PRF struct {
	slots   []prfSlot
	archBase int
	free    []int // stack of free slot indices, LIFO like a real free-list
}

// NewPRF allocates a PRF of the given total size with the first archBase
// slots permanently resident in PRFArch (slot 0 reading as zero).
func NewPRF(size, archBase int) *PRF {
	p := &PRF{
		slots:    make([]prfSlot, size),
		archBase: archBase,
	}
	for i := range p.slots {
		p.slots[i].archReg = -1
	}
	for i := 0; i < archBase; i++ {
		p.slots[i].state = PRFArch
		p.slots[i].archReg = i
		p.slots[i].refcount = 1
	}
	for i := size - 1; i >= archBase; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Size returns the total slot count.
func (p *PRF) Size() int { return len(p.slots) }

// Alloc returns a free slot transitioned to PRFUsed with flags={WAIT} and
// undefined data, or -1 if the pool is exhausted.
func (p *PRF) Alloc() int {
	n := len(p.free)
	if n == 0 {
		return -1
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	s := &p.slots[idx]
	s.state = PRFUsed
	s.flags = FlagWait
	s.refcount = 0
	s.archReg = -1
	return idx
}

// Complete transitions used -> ready: the value has been produced and is
// available for bypass to dependents.
func (p *PRF) Complete(slot int, data uint64, flags uint16) {
	s := &p.slots[slot]
	s.data = data
	s.flags = flags &^ FlagWait
	s.state = PRFReady
}

// Writeback transitions ready -> written: the value is now in the
// register file proper and bypass is no longer required.
func (p *PRF) Writeback(slot int) {
	p.slots[slot].state = PRFWritten
}

// Commit transitions ready/written -> arch, installing the slot as the
// architectural mapping for archReg. Callers must addref separately for
// the new architectural owner per the rename-table contract in §4.11.
func (p *PRF) Commit(slot, archReg int) {
	s := &p.slots[slot]
	s.state = PRFArch
	s.archReg = archReg
}

// Free unconditionally transitions a slot to PRFFree; callers must
// guarantee refcount is already zero.
func (p *PRF) Free(slot int) {
	s := &p.slots[slot]
	s.refcount = 0
	s.archReg = -1
	s.state = PRFFree
	p.free = append(p.free, slot)
}

// MarkPendingFree moves an overwritten architectural slot to
// PRFPendingFree; it becomes eligible for Free once its refcount reaches
// zero (checked by Sweep).
func (p *PRF) MarkPendingFree(slot int) {
	p.slots[slot].state = PRFPendingFree
}

// Addref saturates rather than wraps.
func (p *PRF) Addref(slot int) {
	s := &p.slots[slot]
	if s.refcount != ^uint32(0) {
		s.refcount++
	}
}

// Unref decrements the refcount; it is a fatal condition (per §7) to
// unref below zero, reported here as a panic since it can only indicate
// an engine bookkeeping bug, not guest-triggerable behavior.
func (p *PRF) Unref(slot int) {
	s := &p.slots[slot]
	if s.refcount == 0 {
		panic("pipeline: PRF refcount went negative")
	}
	s.refcount--
}

func (p *PRF) Refcount(slot int) uint32 { return p.slots[slot].refcount }
func (p *PRF) State(slot int) PRFState  { return p.slots[slot].state }
func (p *PRF) Data(slot int) uint64     { return p.slots[slot].data }
func (p *PRF) Flags(slot int) uint16    { return p.slots[slot].flags }

func (p *PRF) SetData(slot int, data uint64)  { p.slots[slot].data = data }
func (p *PRF) SetFlags(slot int, flags uint16) { p.slots[slot].flags = flags }

// Sweep moves every PRFPendingFree slot with a zero refcount to PRFFree.
// Run once per cycle, ahead of commit, per the top-level stage order.
func (p *PRF) Sweep() {
	for i := range p.slots {
		s := &p.slots[i]
		if s.state == PRFPendingFree && s.refcount == 0 {
			s.archReg = -1
			s.state = PRFFree
			p.free = append(p.free, i)
		}
	}
}

// CountByState returns the six state-list sizes in PRFFree..PRFPendingFree
// order; their sum must equal Size() (invariant §8.2).
func (p *PRF) CountByState() [6]int {
	var counts [6]int
	for i := range p.slots {
		counts[p.slots[i].state]++
	}
	return counts
}
