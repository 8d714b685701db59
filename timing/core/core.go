// Package core provides the cycle-accurate CPU core model. It wraps the
// out-of-order pipeline engine to provide a high-level interface a
// driver can reset, step, and run to completion.
package core

import (
	"github.com/sarchlab/x86ooo/emu"
	"github.com/sarchlab/x86ooo/insts"
	"github.com/sarchlab/x86ooo/timing/pipeline"
)

// Stats holds performance statistics for the core, derived from the
// engine's richer Statistics struct.
type Stats struct {
	Cycles            uint64
	Instructions      uint64
	MacroOps          uint64
	Stalls            uint64
	Flushes           uint64
	BranchMispredicts uint64
}

// Core wraps a pipeline.Engine and the external collaborators it was
// built against, presenting the simple reset/tick/run surface a CLI
// driver or test wants without exposing the engine's internal structures.
type Core struct {
	Engine *pipeline.Engine

	memory        *emu.Memory
	lastRunHalted bool
}

// NewCore creates a Core from a pipeline configuration and the external
// collaborators the engine consumes: a decoded basic-block provider, the
// instruction/data cache oracles, and an address-executability checker.
func NewCore(cfg pipeline.Config, memory *emu.Memory, bbProvider insts.BasicBlockProvider, icache pipeline.ICache, dcache pipeline.DCache, addrCheck pipeline.AddressChecker) *Core {
	return &Core{
		Engine: pipeline.NewEngine(cfg, bbProvider, icache, dcache, addrCheck),
		memory: memory,
	}
}

// SetPC resets the engine with a fresh architectural state whose RIP is
// pc and every other register zero, then positions fetch there.
func (c *Core) SetPC(pc uint64) {
	c.Engine.Reset(pc)
}

// Tick executes one pipeline cycle. The engine's commit-level result
// code for the cycle is discarded; call Engine.Tick directly to see it.
func (c *Core) Tick() {
	c.Engine.Tick()
}

// Halted reports whether the most recent Run/RunCycles call terminated on
// a stop or exception result rather than running to its cycle/commit
// budget.
func (c *Core) Halted() bool {
	return c.lastRunHalted
}

// exitCodeReg is the architectural register this engine's demo workloads
// use to carry a syscall's argument, playing the role x86-64's RAX plays
// under the real ABI. GPR 0 cannot serve this purpose: it is the
// engine's hard-wired always-zero register (§4.1), a RISC-style
// convention this engine borrows for the PRF's permanent zero slot.
const exitCodeReg = 1

// ExitCode returns the low bits of the register a barrier-committing
// syscall left its argument in. A real host-integration layer would
// decode the actual syscall number/argument convention; that translation
// is out of this engine's scope (§1).
func (c *Core) ExitCode() int64 {
	return int64(c.Engine.CoreToExternalState().GPR[exitCodeReg])
}

// Stats returns a flattened performance summary for the core.
func (c *Core) Stats() Stats {
	s := c.Engine.Stats()
	return Stats{
		Cycles:            s.Cycles,
		Instructions:      s.CommittedUops,
		MacroOps:          s.CommittedMacroOps,
		Stalls:            s.StallROBFull + s.StallPRFFull + s.StallLDQFull + s.StallSTQFull + s.StallLSQFull + s.StallNoCluster + s.StallNoFU + s.StallFetchQueueEmpty,
		Flushes:           s.BranchMispredicts + s.AliasingViolations + s.UnalignedRetranslates,
		BranchMispredicts: s.BranchMispredicts,
	}
}

// Run executes the core until a terminal condition and returns the
// top-level result.
func (c *Core) Run() pipeline.RunResult {
	result := c.Engine.Run()
	c.lastRunHalted = result == pipeline.RunStop || result == pipeline.RunException
	return result
}

// RunCycles executes the core for up to the given number of cycles. It
// returns false if an exception or stop result ended the run early, and
// true if every cycle ran; a barrier result does not end the run.
func (c *Core) RunCycles(cycles uint64) bool {
	for i := uint64(0); i < cycles; i++ {
		result := c.Engine.Tick()
		if result == pipeline.ResultException || result == pipeline.ResultStop {
			c.lastRunHalted = true
			return false
		}
	}
	return true
}

// Reset reinitializes the engine at the given architectural entry point.
func (c *Core) Reset(pc uint64) {
	c.Engine.Reset(pc)
	c.lastRunHalted = false
}
