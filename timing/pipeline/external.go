package pipeline

import "github.com/sarchlab/x86ooo/insts"

// ICache is the instruction-cache probe interface the engine consumes as
// an opaque collaborator (§6). A real instruction cache models fill
// latency and miss buffers; the engine only needs to know whether a
// fetch line is resident.
type ICache interface {
	Probe(rip uint64) bool
}

// DCache is the data-cache probe/commit interface the engine issues
// loads and stores against. probeAndCheckSFR is consulted by load issue
// before treating a line as hit; CommitStore is invoked once per
// committing store.
type DCache interface {
	ProbeAndCheckSFR(addr uint64, sizeBytes int) (hit bool, data []byte)
	CommitStore(addr uint64, data []byte, byteMask uint8) bool
}

// AddressChecker classifies a virtual address as executable, used to
// detect a branch target landing outside mapped, executable memory.
type AddressChecker interface {
	CheckExecutable(va uint64) bool
}

// commitResultCode is returned by Commit and by Issue when a uop
// short-circuits straight to ready-to-commit.
type commitResultCode uint8

const (
	ResultOK commitResultCode = iota
	ResultBarrier
	ResultException
	ResultStop
)

// RunResult is the top-level Run() return value.
type RunResult uint8

const (
	RunCompleted RunResult = iota
	RunBarrier
	RunException
	RunStop
	RunDeadlocked
)

func (r RunResult) String() string {
	switch r {
	case RunCompleted:
		return "completed"
	case RunBarrier:
		return "barrier"
	case RunException:
		return "exception"
	case RunStop:
		return "stop"
	case RunDeadlocked:
		return "deadlocked"
	default:
		return "unknown"
	}
}

// faultCode enumerates the architectural exceptions the engine can
// surface at commit.
type faultCode int

const (
	faultNone faultCode = iota
	faultPageFault
	faultUnaligned
	faultInvalidOperand
)

func classRequiredFUMask(class insts.OpClass) insts.FUMask { return class.RequiredFUs() }
