// Package workload synthesizes small, self-contained instruction streams
// for driving the pipeline engine without a real x86 decoder. The decoder
// is an external collaborator the engine only ever consumes through
// insts.BasicBlockProvider (see spec §1's decoder non-goal); this package
// plays that role with programmatically generated uops instead of decoded
// machine code, the same way the test suite's fixed-block providers do
// but for whole runnable demo programs.
package workload

import (
	"fmt"

	"github.com/sarchlab/x86ooo/insts"
)

// Demo architectural register names used by the programs this package
// builds. RegZero is always the hard-wired zero register.
const (
	RegA insts.Reg = 1 // accumulator
	RegC insts.Reg = 2 // loop counter
	RegB insts.Reg = 3 // scratch / base address
)

// step is the fixed macro-op length every synthesized uop occupies. A
// real decoder would report the true instruction length; fixed-width
// synthesis keeps address arithmetic trivial for generated programs.
const step = 4

// Program is a fixed, RIP-addressed sequence of single-uop macro-ops. It
// implements insts.BasicBlockProvider by handing back one uop at a time
// as its own basic block, which is enough to exercise fetch, rename,
// dispatch, issue and commit without any real block-boundary splitting.
type Program struct {
	base uint64
	uops []insts.Uop
}

// Translate implements insts.BasicBlockProvider.
func (p *Program) Translate(rip uint64) (*insts.BasicBlock, error) {
	if rip < p.base {
		return nil, fmt.Errorf("workload: rip %#x before program base %#x", rip, p.base)
	}
	idx := (rip - p.base) / step
	if idx >= uint64(len(p.uops)) {
		return nil, fmt.Errorf("workload: rip %#x past end of program", rip)
	}
	u := p.uops[idx]
	return &insts.BasicBlock{RIP: rip, Uops: []insts.Uop{u}, Length: step}, nil
}

// InvalidatePage and InvalidateRIP are no-ops: a synthesized Program never
// changes underneath the engine, so there is nothing to invalidate.
func (p *Program) InvalidatePage(addr uint64) {}
func (p *Program) InvalidateRIP(rip uint64)   {}

// EntryPoint is the RIP of the program's first uop.
func (p *Program) EntryPoint() uint64 { return p.base }

// builder assembles a Program uop-by-uop, resolving branch targets by
// label since a uop's own RIP (needed to compute its Exec closure's
// fallthrough address) is only known once every earlier uop has been
// placed.
type builder struct {
	base   uint64
	uops   []insts.Uop
	labels map[string]uint64
	fixups []func(pgm []insts.Uop)
}

func newBuilder(base uint64) *builder {
	return &builder{base: base, labels: make(map[string]uint64)}
}

func (b *builder) rip(idx int) uint64 { return b.base + uint64(idx)*step }

func (b *builder) label(name string) { b.labels[name] = b.rip(len(b.uops)) }

func (b *builder) emit(op insts.Op, ra, rb, rd insts.Reg, imm uint64, exec insts.Executor) {
	b.uops = append(b.uops, insts.Uop{
		RIP:  b.rip(len(b.uops)),
		Op:   op,
		RA:   ra,
		RB:   rb,
		RC:   insts.RegNone,
		RD:   rd,
		Imm:  imm,
		Size: 8,
		SOM:  true,
		EOM:  true,
		Exec: exec,
	})
}

// emitBranch appends a conditional branch that will jump to whatever RIP
// `label` resolves to by the time build() runs.
func (b *builder) emitBranch(counter insts.Reg, label string, takenIfNonzero bool) {
	idx := len(b.uops)
	rip := b.rip(idx)
	fallthroughRIP := rip + step
	b.uops = append(b.uops, insts.Uop{
		RIP:  rip,
		Op:   insts.OpBranch,
		RA:   counter,
		RB:   insts.RegNone,
		RC:   insts.RegNone,
		RD:   insts.RegNone,
		Size: 8,
		SOM:  true,
		EOM:  true,
	})
	b.fixups = append(b.fixups, func(pgm []insts.Uop) {
		target := b.labels[label]
		pgm[idx].Imm = target
		pgm[idx].Exec = insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
			taken := (in.A != 0) == takenIfNonzero
			if taken {
				return insts.ExecOutput{Data: target, Taken: true, Target: target}
			}
			return insts.ExecOutput{Data: fallthroughRIP, Taken: false}
		})
	})
}

func (b *builder) build() *Program {
	for _, fix := range b.fixups {
		fix(b.uops)
	}
	return &Program{base: b.base, uops: b.uops}
}

func aluExec(op insts.Op, imm uint64, useImm bool) insts.Executor {
	return insts.ExecutorFunc(func(in insts.ExecInput) insts.ExecOutput {
		b := in.B
		if useImm {
			b = imm
		}
		var d uint64
		switch op {
		case insts.OpAdd:
			d = in.A + b
		case insts.OpSub:
			d = in.A - b
		case insts.OpAnd:
			d = in.A & b
		case insts.OpOr:
			d = in.A | b
		case insts.OpXor:
			d = in.A ^ b
		case insts.OpMov:
			if useImm {
				d = imm
			} else {
				d = in.A
			}
		}
		return insts.ExecOutput{Data: d}
	})
}

// SumLoop builds a program computing sum(1..n) with a decrementing
// counter and a backward branch, exercising register renaming, ALU
// issue, and branch prediction/misprediction recovery without any
// memory traffic.
func SumLoop(base uint64, n uint64) *Program {
	b := newBuilder(base)
	b.emit(insts.OpMov, insts.RegNone, insts.RegNone, RegA, 0, aluExec(insts.OpMov, 0, true))
	b.emit(insts.OpMov, insts.RegNone, insts.RegNone, RegC, n, aluExec(insts.OpMov, n, true))
	b.label("loop")
	b.emit(insts.OpAdd, RegA, RegC, RegA, 0, aluExec(insts.OpAdd, 0, false))
	b.emit(insts.OpSub, RegC, insts.RegNone, RegC, 1, aluExec(insts.OpSub, 1, true))
	b.emitBranch(RegC, "loop", true)
	b.emit(insts.OpSyscall, RegA, insts.RegNone, insts.RegNone, 0, aluExec(insts.OpMov, 0, false))
	return b.build()
}

// MemoryRoundTrip builds a program that stores a value to a fixed address
// and immediately loads it back, exercising the LSQ store-to-load
// forwarding path (§4.7/§4.8) rather than the ALU/branch path SumLoop
// exercises.
func MemoryRoundTrip(base uint64, addr uint64, value uint64) *Program {
	b := newBuilder(base)
	b.emit(insts.OpMov, insts.RegNone, insts.RegNone, RegA, value, aluExec(insts.OpMov, value, true))
	b.emit(insts.OpMov, insts.RegNone, insts.RegNone, RegB, addr, aluExec(insts.OpMov, addr, true))
	b.uops = append(b.uops, insts.Uop{
		RIP: b.rip(len(b.uops)), Op: insts.OpStore,
		RA: RegB, RB: insts.RegNone, RC: RegA, RD: insts.RegNone,
		Size: 8, SOM: true, EOM: true,
	})
	b.uops = append(b.uops, insts.Uop{
		RIP: b.rip(len(b.uops)), Op: insts.OpLoad,
		RA: RegB, RB: insts.RegNone, RC: insts.RegNone, RD: RegC,
		Size: 8, SOM: true, EOM: true,
	})
	b.emit(insts.OpMov, RegC, insts.RegNone, RegA, 0, aluExec(insts.OpMov, 0, false))
	b.emit(insts.OpSyscall, RegA, insts.RegNone, insts.RegNone, 0, aluExec(insts.OpMov, 0, false))
	return b.build()
}
