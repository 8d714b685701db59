// Package latency provides instruction timing models for cycle-accurate
// simulation. Latency values are indexed by insts.OpClass and can be
// configured via TimingConfig.
package latency

import (
	"github.com/sarchlab/x86ooo/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{config: DefaultTimingConfig()}
}

// NewTableWithConfig creates a new latency table with custom timing
// configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{config: config}
}

// GetLatency returns the execution latency in cycles for the given
// opclass. For variable-latency operations (multiply, divide) this
// returns the typical/expected latency.
func (t *Table) GetLatency(class insts.OpClass) uint64 {
	switch class {
	case insts.ClassALU:
		return t.config.ALULatency
	case insts.ClassBranch:
		return t.config.BranchLatency
	case insts.ClassLoad:
		return t.config.LoadLatency
	case insts.ClassStore:
		return t.config.StoreLatency
	case insts.ClassMul:
		return t.config.MultiplyLatency
	case insts.ClassSyscall:
		return t.config.SyscallLatency
	default:
		return 1
	}
}

// GetMinLatency returns the minimum execution latency for variable-latency
// operations such as divide, which this engine's opclasses model as a
// range even though no dedicated divide class exists yet.
func (t *Table) GetMinLatency(class insts.OpClass) uint64 {
	if class == insts.ClassMul {
		return t.config.DivideLatencyMin
	}
	return t.GetLatency(class)
}

// GetMaxLatency returns the maximum execution latency for variable-latency
// operations.
func (t *Table) GetMaxLatency(class insts.OpClass) uint64 {
	if class == insts.ClassMul {
		return t.config.DivideLatencyMax
	}
	return t.GetLatency(class)
}

// IsMemoryOp returns true if the opclass accesses memory.
func (t *Table) IsMemoryOp(class insts.OpClass) bool {
	return class == insts.ClassLoad || class == insts.ClassStore
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
