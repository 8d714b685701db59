package pipeline_test

import (
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86ooo/emu"
	"github.com/sarchlab/x86ooo/insts"
	"github.com/sarchlab/x86ooo/timing/pipeline"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

// ripProgram is a fixed, RIP-indexed sequence of single-uop basic blocks,
// the same addressing scheme workload.Program uses (workload/program.go):
// each uop occupies a fixed-width slot at base+i*step, and Translate keys
// strictly off the requested rip rather than serving one canned block
// regardless of address. That matters once fetch itself starts following
// the branch predictor's target (frontend.go's fetch): a provider that
// ignored rip would make every fetch indistinguishable from every other,
// masking whether the engine actually redirected fetch correctly.
type ripProgram struct {
	base uint64
	step uint64
	uops []insts.Uop
}

// newRipProgram lays out uops at consecutive step-sized addresses starting
// at base, stamping each uop's RIP field to match — callers pass target
// addresses (e.g. a branch's taken target) computed from the same base and
// step so labels stay consistent with the actual layout.
func newRipProgram(base uint64, step uint64, uops []insts.Uop) *ripProgram {
	laid := make([]insts.Uop, len(uops))
	for i, u := range uops {
		u.RIP = base + uint64(i)*step
		laid[i] = u
	}
	return &ripProgram{base: base, step: step, uops: laid}
}

func (p *ripProgram) Translate(rip uint64) (*insts.BasicBlock, error) {
	if rip < p.base {
		return nil, fmt.Errorf("test: rip %#x before program base %#x", rip, p.base)
	}
	idx := (rip - p.base) / p.step
	if idx >= uint64(len(p.uops)) {
		return nil, fmt.Errorf("test: rip %#x past end of program", rip)
	}
	u := p.uops[idx]
	return &insts.BasicBlock{RIP: rip, Uops: []insts.Uop{u}, Length: int(p.step)}, nil
}
func (p *ripProgram) InvalidatePage(addr uint64) {}
func (p *ripProgram) InvalidateRIP(rip uint64)   {}

// singleBlockProvider serves one fixed, caller-built basic block exactly
// once and errors on any further translation — enough for a straight-line
// program that never loops or branches and so never needs a second block.
// Used where a test needs multiple uops sharing one RIP (a real multi-uop
// macro-op), which ripProgram's one-uop-per-address layout can't express.
type singleBlockProvider struct {
	block  *insts.BasicBlock
	served bool
}

func (p *singleBlockProvider) Translate(rip uint64) (*insts.BasicBlock, error) {
	if p.served {
		return nil, fmt.Errorf("test: program exhausted")
	}
	p.served = true
	return p.block, nil
}
func (p *singleBlockProvider) InvalidatePage(addr uint64) {}
func (p *singleBlockProvider) InvalidateRIP(rip uint64)   {}

type alwaysHitICache struct{}

func (alwaysHitICache) Probe(rip uint64) bool { return true }

type memBackedDCache struct{ mem *emu.Memory }

func (d memBackedDCache) ProbeAndCheckSFR(addr uint64, size int) (bool, []byte) {
	return true, d.mem.ReadBlock(addr, size)
}
func (d memBackedDCache) CommitStore(addr uint64, data []byte, mask uint8) bool {
	for i := 0; i < len(data) && i < 8; i++ {
		if mask&(1<<uint(i)) != 0 {
			d.mem.Write8(addr+uint64(i), data[i])
		}
	}
	return true
}

type alwaysExecutableChecker struct{}

func (alwaysExecutableChecker) CheckExecutable(va uint64) bool { return true }

// selectiveExecutableChecker reports one specific address as
// non-executable, everything else as fine — used to drive a branch's
// target through the engine's page-fault-style commit-time exception
// path deterministically.
type selectiveExecutableChecker struct{ bad uint64 }

func (c selectiveExecutableChecker) CheckExecutable(va uint64) bool { return va != c.bad }

// immUop builds a single-source ALU uop that adds or subtracts an
// immediate, mirroring the teacher's own addUop test helper shape
// (timing/core/core_test.go) one level down in the stack it exercises.
func immUop(op insts.Op, src, dest insts.Reg, imm uint64) insts.Uop {
	u := insts.Uop{
		Op: op, RA: src, RB: insts.RegNone, RC: insts.RegNone, RD: dest,
		Imm: imm, Size: 4, SOM: true, EOM: true,
	}
	switch op {
	case insts.OpAdd:
		u.Exec = insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
			return insts.ExecOutput{Data: in.A + imm}
		})
	case insts.OpSub:
		u.Exec = insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
			return insts.ExecOutput{Data: in.A - imm}
		})
	}
	return u
}

// branchUop builds a conditional branch that takes takenTarget when
// condReg holds a nonzero value and falls through otherwise, mirroring
// the teacher's own addUop-style test-uop helpers one level down in the
// stack they exercise (timing/core/core_test.go).
func branchUop(condReg insts.Reg, takenTarget uint64) insts.Uop {
	u := insts.Uop{
		Op: insts.OpBranch, RA: condReg, RB: insts.RegNone, RC: insts.RegNone, RD: insts.RegNone,
		Imm: takenTarget, Size: 4, SOM: true, EOM: true,
	}
	u.Exec = insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
		taken := in.A != 0
		fallthroughRIP := in.Uop.RIP + uint64(in.Uop.Size)
		data := fallthroughRIP
		if taken {
			data = takenTarget
		}
		return insts.ExecOutput{Data: data, Taken: taken, Target: takenTarget}
	})
	return u
}

// faultingBranchUop never takes its branch but always resolves Target to
// badTarget, for driving the engine's non-executable-target exception
// path deterministically regardless of direction.
func faultingBranchUop(badTarget uint64) insts.Uop {
	u := insts.Uop{
		Op: insts.OpBranch, RA: insts.RegZero, RB: insts.RegNone, RC: insts.RegNone, RD: insts.RegNone,
		Size: 4, SOM: true, EOM: true,
	}
	u.Exec = insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
		fallthroughRIP := in.Uop.RIP + uint64(in.Uop.Size)
		return insts.ExecOutput{Data: fallthroughRIP, Taken: false, Target: badTarget}
	})
	return u
}

func storeUop(addrReg, dataReg insts.Reg, size uint8) insts.Uop {
	return insts.Uop{
		Op: insts.OpStore, RA: addrReg, RB: insts.RegNone, RC: dataReg, RD: insts.RegNone,
		Size: size, SOM: true, EOM: true,
	}
}

func loadUop(addrReg, destReg insts.Reg, imm uint64, size uint8) insts.Uop {
	return insts.Uop{
		Op: insts.OpLoad, RA: addrReg, RB: insts.RegNone, RC: insts.RegNone, RD: destReg,
		Imm: imm, Size: size, SOM: true, EOM: true,
	}
}

const testProgramStep = 4

func newTestEngine(uops []insts.Uop) *pipeline.Engine {
	return newTestEngineWithChecker(uops, alwaysExecutableChecker{})
}

func newTestEngineWithChecker(uops []insts.Uop, checker pipeline.AddressChecker) *pipeline.Engine {
	mem := emu.NewMemory()
	provider := newRipProgram(0x1000, testProgramStep, uops)
	cfg := pipeline.DefaultConfig()
	e := pipeline.NewEngine(cfg, provider, alwaysHitICache{}, memBackedDCache{mem: mem}, checker)
	e.Reset(0x1000)
	return e
}

// newTestEngineWithBlock drives the engine from one hand-built basic block
// rather than a rip-indexed program, for tests that need multiple uops to
// share a single macro-op RIP.
func newTestEngineWithBlock(block *insts.BasicBlock) *pipeline.Engine {
	mem := emu.NewMemory()
	provider := &singleBlockProvider{block: block}
	cfg := pipeline.DefaultConfig()
	e := pipeline.NewEngine(cfg, provider, alwaysHitICache{}, memBackedDCache{mem: mem}, alwaysExecutableChecker{})
	e.Reset(block.RIP)
	return e
}

var _ = Describe("Engine seed scenarios", func() {
	// §8 seed test 1: add r1,r2,r3; sub r4,r1,r5 — both commit in order,
	// the architectural RRT ends up pointing at the new result slots.
	It("commits a dependent add/sub pair in order with the right values", func() {
		const (
			r1 insts.Reg = 1
			r4 insts.Reg = 4
		)
		e := newTestEngine([]insts.Uop{
			immUop(insts.OpAdd, insts.RegZero, r1, 5), // r1 = 0 + 5
			immUop(insts.OpSub, r1, r4, 2),            // r4 = r1 - 2
		})
		e.SetCommittedBudget(2)

		result := e.Run()

		Expect(result).To(Equal(pipeline.RunCompleted))
		state := e.CoreToExternalState()
		Expect(state.GPR[r1]).To(Equal(uint64(5)))
		Expect(state.GPR[r4]).To(Equal(uint64(3)))
	})

	// §8 seed test 6: PRF pressure — a long dependency chain through the
	// same architectural register must only ever pendingfree→free a slot
	// once its refcount has actually dropped to zero.
	It("never frees a pendingfree PRF slot while it is still referenced", func() {
		const r1 insts.Reg = 1
		chain := make([]insts.Uop, 64)
		for i := range chain {
			chain[i] = immUop(insts.OpAdd, r1, r1, 1) // r1 += 1, forming a long rename chain on one arch register
		}
		e := newTestEngine(chain)
		e.SetCommittedBudget(64)

		result := e.Run()

		Expect(result).To(Equal(pipeline.RunCompleted))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// §8 invariant 2: the PRF's six state-list sizes always sum to its
	// total configured size, independent of how many cycles have run.
	It("keeps every PRF slot accounted for across state transitions", func() {
		e := newTestEngine([]insts.Uop{
			immUop(insts.OpAdd, insts.RegZero, 2, 1),
		})
		e.SetCommittedBudget(10)
		e.Run()

		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// §8 seed test 2: a branch predicted fallthrough by a fresh, untrained
	// predictor but that actually loops back to itself mispredicts,
	// triggers annul_after and a fetch redirect. The predictor trains only
	// at commit, so the copies fetched before the first one commits (three
	// with the default pipeline) all mispredict; every later iteration is
	// predicted correctly.
	It("mispredicts a fresh backward branch until its first commit trains the predictor, then learns its direction", func() {
		const (
			loopRIP      = 0x1000
			condReg insts.Reg = 1
		)
		uops := []insts.Uop{
			immUop(insts.OpAdd, insts.RegZero, condReg, 1), // r1 = 1, so the branch is always taken
			branchUop(condReg, loopRIP),
		}
		e := newTestEngine(uops)
		e.SetCommittedBudget(2) // one full pass: r1-set plus the branch itself

		first := e.Run()
		Expect(first).To(Equal(pipeline.RunCompleted))
		Expect(e.Stats().BranchMispredicts).To(Equal(uint64(2)))

		e.SetCommittedBudget(20) // nine more passes; only the third copy still mispredicts
		second := e.Run()
		Expect(second).To(Equal(pipeline.RunCompleted))
		Expect(e.Stats().BranchMispredicts).To(Equal(uint64(3)))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// §8 seed test 3: a store followed by a dependent load to the same
	// address forwards the store's data through the LSQ rather than
	// reading stale memory, once the load's own address resolves after
	// the store has already fully resolved.
	It("forwards store data to a later load at the same address", func() {
		const (
			rAddr  insts.Reg = 3
			rData  insts.Reg = 7
			rAddr2 insts.Reg = 4
			rLoad  insts.Reg = 9
		)
		uops := []insts.Uop{
			immUop(insts.OpAdd, insts.RegZero, rAddr, 0x6000),
			immUop(insts.OpAdd, insts.RegZero, rData, 55),
			storeUop(rAddr, rData, 4),
			immUop(insts.OpAdd, rAddr, rAddr2, 0), // one extra hop: resolves after the store
			loadUop(rAddr2, rLoad, 0, 4),
		}
		e := newTestEngine(uops)
		e.SetCommittedBudget(5)

		result := e.Run()

		Expect(result).To(Equal(pipeline.RunCompleted))
		state := e.CoreToExternalState()
		Expect(state.GPR[rLoad]).To(Equal(uint64(55)))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// §8 seed test 4: a branch whose target lands outside executable
	// memory is discarded at commit as an exception rather than retired,
	// per the commit-result code contract (ResultException).
	It("discards a branch to a non-executable target as a commit exception", func() {
		const badTarget = 0xDEAD000
		e := newTestEngineWithChecker(
			[]insts.Uop{faultingBranchUop(badTarget)}, selectiveExecutableChecker{bad: badTarget})
		e.SetCommittedBudget(5)

		result := e.Run()

		Expect(result).To(Equal(pipeline.RunException))
		Expect(e.Stats().Exceptions).To(Equal(uint64(1)))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// §8 seed test 5: a load that resolves its address before an older,
	// dependency-delayed store to the same address triggers an LSQ
	// aliasing violation; the engine annuls and refetches, and the LSAP
	// remembers the load's RIP so the retry stalls for the store instead
	// of repeating the violation.
	It("recovers from an aliasing violation and forwards correctly on retry", func() {
		const (
			rAddr        insts.Reg = 3
			rAddrDelayed insts.Reg = 4
			rData        insts.Reg = 7
			rLoad        insts.Reg = 9
		)
		uops := []insts.Uop{
			immUop(insts.OpAdd, insts.RegZero, rAddr, 0x5000),
			immUop(insts.OpAdd, rAddr, rAddrDelayed, 0), // extra hop: delays the store's own address
			immUop(insts.OpAdd, insts.RegZero, rData, 99),
			storeUop(rAddrDelayed, rData, 4),
			loadUop(insts.RegZero, rLoad, 0x5000, 4), // address-independent, resolves first
		}
		e := newTestEngine(uops)
		e.SetCommittedBudget(5) // the violation annuls only the store and the load; each uop commits once

		result := e.Run()

		Expect(result).To(Equal(pipeline.RunCompleted))
		Expect(e.Stats().AliasingViolations).To(BeNumerically(">=", uint64(1)))
		state := e.CoreToExternalState()
		Expect(state.GPR[rLoad]).To(Equal(uint64(99)))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// Maintainer-requested regression: neither seed test above ever drives
	// a load through the STQ-backward-scan replay branch in
	// loadissue.go (seed test 3 resolves its store before the load
	// issues; seed test 5 only ever hits the LDQ-forward-scan aliasing
	// check in storeissue.go). The first pass through this loop
	// speculates the load past a still-unresolved store and takes that
	// violation path, training the LSAP for the load's RIP. The second
	// pass reuses the same RIP: the store is unresolved again (it is a
	// fresh dynamic instance, re-delayed by the same two-hop address
	// chain), and this time the trained predictor makes the load wait on
	// it instead of speculating — exercising the replay branch this
	// regression targets.
	It("replays a load against an unresolved older store once the alias predictor is trained", func() {
		const (
			rIter        insts.Reg = 2
			rAddr        insts.Reg = 3
			rAddrDelayed insts.Reg = 4
			rData        insts.Reg = 7
			rLoad        insts.Reg = 9
		)
		loopStart := uint64(0x1000) + uint64(testProgramStep) // address of the loop body's first uop
		uops := []insts.Uop{
			immUop(insts.OpAdd, insts.RegZero, rIter, 2),
			immUop(insts.OpAdd, insts.RegZero, rAddr, 0x9000),
			immUop(insts.OpAdd, rAddr, rAddrDelayed, 0), // extra hop: the store's address lags the load's
			immUop(insts.OpAdd, insts.RegZero, rData, 123),
			storeUop(rAddrDelayed, rData, 4),
			loadUop(insts.RegZero, rLoad, 0x9000, 4), // address-independent, always resolves before the store
			immUop(insts.OpSub, rIter, rIter, 1),
			branchUop(rIter, loopStart),
		}
		e := newTestEngine(uops)

		for i := 0; i < 200; i++ {
			e.Tick()
		}

		Expect(e.Stats().AliasingViolations).To(BeNumerically(">=", uint64(1)))
		state := e.CoreToExternalState()
		Expect(state.GPR[rLoad]).To(Equal(uint64(123)))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})

	// §4.11 macro-op atomicity: a two-uop macro-op (SOM on the first uop,
	// EOM on the second) must never retire piecemeal — the first uop can
	// sit ready-to-commit at the ROB head for several cycles while the
	// second, dependent uop is still working its way through issue and
	// completion, and CommittedUops must jump straight from 0 to 2 rather
	// than passing through 1.
	It("commits a two-uop macro-op as a single atomic unit", func() {
		const (
			rX insts.Reg = 5
			rY insts.Reg = 6
		)
		macroRIP := uint64(0x1000)
		first := insts.Uop{
			Op: insts.OpAdd, RA: insts.RegZero, RB: insts.RegNone, RC: insts.RegNone, RD: rX,
			Imm: 5, Size: 4, RIP: macroRIP, SOM: true, EOM: false,
			Exec: insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
				return insts.ExecOutput{Data: in.A + 5}
			}),
		}
		second := insts.Uop{
			Op: insts.OpAdd, RA: rX, RB: insts.RegNone, RC: insts.RegNone, RD: rY,
			Imm: 1, Size: 4, RIP: macroRIP, SOM: false, EOM: true,
			Exec: insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
				return insts.ExecOutput{Data: in.A + 1}
			}),
		}
		e := newTestEngineWithBlock(&insts.BasicBlock{
			RIP: macroRIP, Uops: []insts.Uop{first, second}, Length: 4,
		})

		sawPartialCommit := false
		for i := 0; i < 40 && e.Stats().CommittedUops < 2; i++ {
			e.Tick()
			if e.Stats().CommittedUops == 1 {
				sawPartialCommit = true
			}
		}

		Expect(sawPartialCommit).To(BeFalse())
		Expect(e.Stats().CommittedUops).To(Equal(uint64(2)))
		Expect(e.Stats().CommittedMacroOps).To(Equal(uint64(1)))
		state := e.CoreToExternalState()
		Expect(state.GPR[rX]).To(Equal(uint64(5)))
		Expect(state.GPR[rY]).To(Equal(uint64(6)))
		Expect(e.CheckInvariants()).To(BeEmpty())
	})
})
