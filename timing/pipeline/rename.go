package pipeline

import "github.com/sarchlab/x86ooo/insts"

// NumGPRArchRegs is the renameable general-purpose register count; flag
// groups are appended after it as synthetic architectural names so the
// rename table can treat ZF/CF/OF exactly like any other destination.
const NumGPRArchRegs = 16

// FlagArchReg maps a flag group to its synthetic architectural register
// index, placed immediately after the real GPRs.
func FlagArchReg(g insts.FlagGroup) int { return NumGPRArchRegs + int(g) }

// RRT is a register rename table: a flat mapping from architectural
// register index (GPRs 0..15, then the three flag-group synthetic names)
// to the PRF slot currently holding that register's value.
type RRT struct {
	mapping []int
}

// NewRRT creates a table of the given size with every entry mapped to
// the identity slot i (valid only when slot i is permanently resident,
// i.e. i < archBase — the architectural RRT at reset is exactly this).
func NewRRT(size int) *RRT {
	t := &RRT{mapping: make([]int, size)}
	for i := range t.mapping {
		t.mapping[i] = i
	}
	return t
}

func (t *RRT) Get(archReg int) int       { return t.mapping[archReg] }
func (t *RRT) Set(archReg, slot int)     { t.mapping[archReg] = slot }
func (t *RRT) Len() int                  { return len(t.mapping) }

// Clone returns an independent copy, used when rebuilding the speculative
// table wholesale from the architectural one during annul.
func (t *RRT) Clone() *RRT {
	c := &RRT{mapping: make([]int, len(t.mapping))}
	copy(c.mapping, t.mapping)
	return c
}

// CopyFrom overwrites every mapping from src, used by annul's RRT rebuild
// pass. The caller is responsible for the surrounding unref/addref walk.
func (t *RRT) CopyFrom(src *RRT) {
	copy(t.mapping, src.mapping)
}
