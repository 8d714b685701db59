// Package insts defines the decoded micro-operation (uop) representation
// that the timing engine schedules, renames, issues and commits.
//
// The x86-64 decoder that produces these uops from guest machine code is
// out of scope for this module (see the host-integration and decoder
// non-goals in the engine's design notes); this package only fixes the
// contract the engine consumes. A real decoder is expected to synthesize
// Uop values and an Executor reference per Op and hand them to the engine
// through a BasicBlockProvider.
package insts

// Op identifies the operation a uop performs. The set here is a small,
// representative slice of the x86-64 integer/branch/memory surface; an
// executor is free to interpret OpOther-class codes as it sees fit as long
// as it honors the Uop register-field conventions below (RegNone marks an
// absent operand or destination).
type Op uint16

const (
	OpNop Op = iota
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpMov
	OpCmp
	OpMul
	OpShift
	OpLoad
	OpStore
	OpBranch
	OpCall
	OpRet
	OpChk // skip-block pseudo-exception, see CommitResult
	OpSyscall
)

// OpClass coarsely buckets an Op for latency lookup and functional-unit
// routing; several Op values may share an OpClass.
type OpClass uint8

const (
	ClassALU OpClass = iota
	ClassMul
	ClassLoad
	ClassStore
	ClassBranch
	ClassSyscall
)

// ClassOf returns the functional-unit class an Op belongs to.
func ClassOf(op Op) OpClass {
	switch op {
	case OpLoad:
		return ClassLoad
	case OpStore:
		return ClassStore
	case OpBranch, OpCall, OpRet:
		return ClassBranch
	case OpMul:
		return ClassMul
	case OpSyscall:
		return ClassSyscall
	default:
		return ClassALU
	}
}

// AlignMode controls how a memory uop's effective address is adjusted for
// loads/stores whose operand spans an 8-byte-aligned boundary.
type AlignMode uint8

const (
	AlignNormal   AlignMode = iota
	AlignLowHalf            // low 8-byte-aligned half of an unaligned access
	AlignHighHalf           // high 8-byte-aligned half of an unaligned access
)

// FlagGroup names one of the three x86 arithmetic flag groups the engine
// renames independently of the general-purpose destination register.
type FlagGroup uint8

const (
	FlagZF FlagGroup = iota
	FlagCF
	FlagOF
	NumFlagGroups
)

// FUMask is a bitmask over functional-unit kinds a cluster may offer and a
// uop may require. Bit i corresponds to OpClass(i).
type FUMask uint8

// RequiredFUs returns the functional-unit mask a uop of this class needs.
func (c OpClass) RequiredFUs() FUMask {
	return FUMask(1 << uint(c))
}

// Uop is an already-decoded micro-operation. Uops are immutable once
// fetched; the engine never mutates a Uop's fields, only the bookkeeping
// it keeps alongside it in the ROB/PRF/IQ/LSQ.
type Uop struct {
	RIP  uint64 // address of the macro-op this uop belongs to
	Op   Op
	Exec Executor // synthesized per-uop execution routine

	// Architectural source/destination register names. RA, RB, RC are the
	// three possible sources; RD is the single destination. A value of
	// RegNone means the operand slot is unused.
	RA, RB, RC, RD Reg

	// SetFlags has bit FlagGroup set when this uop redefines that flag
	// group; the rename stage installs a fresh PRF slot for each set bit.
	SetFlags uint8

	// FlagsSrc selects which flag groups this uop reads (e.g. conditional
	// branches and conditional moves); bit FlagGroup set means "reads it".
	FlagsSrc uint8

	Imm   uint64 // up to 64-bit immediate
	Size  uint8  // operand size in bytes (1,2,4,8)
	Cond  uint8  // condition code for conditional branches
	Align AlignMode

	SignExtend bool // sign-extend loaded value to operand size

	SOM bool // start of macro-op
	EOM bool // end of macro-op

	NoUserFlags bool // uop must not be annotated as setting user-visible flags
}

// Reg names an architectural register (general-purpose or a synthetic
// flag-group name, see FlagGroupRegBase). RegNone marks an unused operand.
type Reg uint8

// RegNone marks an unused source/destination operand.
const RegNone Reg = 0xFF

// RegZero is the hard-wired always-zero architectural register.
const RegZero Reg = 0

// Executor is the synthesized per-uop execution routine an Op's decoder
// attaches to it. The engine invokes it with operand values already read
// from the PRF (see the Issue stage) and expects ALU/address/flags results
// back; it performs no x86 semantic interpretation of its own.
type Executor interface {
	Exec(input ExecInput) ExecOutput
}

// ExecInput carries fully-resolved operand values to an Executor.
type ExecInput struct {
	A, B, C uint64 // source operand data, with immediate substituted for the
	// corresponding operand slot when the uop has no register source there
	FlagsIn uint16
	Uop     *Uop
}

// ExecOutput carries the result of running an Executor.
type ExecOutput struct {
	Data    uint64
	FlagsOut uint16
	// Branch-only fields.
	Taken  bool
	Target uint64
}

// The function type adapter lets simple executors be written as plain
// functions, mirroring how the teacher's decoder attached closures to
// decoded instructions.
type ExecutorFunc func(ExecInput) ExecOutput

// Exec implements Executor.
func (f ExecutorFunc) Exec(input ExecInput) ExecOutput { return f(input) }
