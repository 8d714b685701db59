package pipeline

import (
	"github.com/sarchlab/x86ooo/emu"
	"github.com/sarchlab/x86ooo/insts"
	"github.com/sarchlab/x86ooo/timing/latency"
)

// Engine is the single struct owning every piece of mutable pipeline
// state: the ROB, PRF, LSQ, rename tables, clusters, predictor and the
// bookkeeping the top-level cycle loop advances. There is exactly one of
// these per simulated guest VCPU; nothing here is safe to share across
// engines or goroutines, nor does it need to be (§5).
type Engine struct {
	cfg Config

	rob      *ROB
	prf      *PRF
	lsq      *LSQ
	lsap     *LSAP
	specRRT  *RRT
	archRRT  *RRT
	clusters []*Cluster
	predictor *BranchPredictor
	latencies *latency.Table

	bbProvider insts.BasicBlockProvider
	icache     ICache
	dcache     DCache
	addrCheck  AddressChecker

	// uopAt[i] is the decoded uop owned by ROB entry i, valid exactly
	// while that entry is Valid.
	uopAt []insts.Uop

	// producerOfSlot[s] names the ROB index that will produce PRF slot s,
	// valid only while that slot is in PRFUsed; it is how the issue queue
	// turns "current producer of this operand" into a uopid tag.
	producerOfSlot []int

	fetchRIP     uint64
	committedRIP uint64
	currentBB   *insts.BasicBlock
	bbPos       int
	fetchQueue  []insts.Uop
	fetchStalled bool // set when an INVALID result forces speculation to stop

	stats Statistics

	committedBudget   uint64 // 0 means unbounded
	committedTotal    uint64
	cyclesSinceCommit uint64
	deadlockThreshold uint64

	lastResult RunResult
}

// NewEngine constructs an engine from cfg and its external collaborators.
// cfg is assumed to have already passed Validate.
func NewEngine(cfg Config, bbProvider insts.BasicBlockProvider, icache ICache, dcache DCache, addrCheck AddressChecker) *Engine {
	e := &Engine{
		cfg:        cfg,
		rob:        NewROB(cfg.ROBSize),
		prf:        NewPRF(cfg.PhysRegFileSize, cfg.PhysRegArchBase),
		lsq:        NewLSQ(cfg.LDQSize, cfg.STQSize),
		lsap:       NewLSAP(cfg.LSAPSize),
		specRRT:    NewRRT(cfg.PhysRegArchBase),
		archRRT:    NewRRT(cfg.PhysRegArchBase),
		predictor:  NewBranchPredictor(),
		latencies:  latency.NewTable(),
		bbProvider: bbProvider,
		icache:     icache,
		dcache:     dcache,
		addrCheck:  addrCheck,
		uopAt:      make([]insts.Uop, cfg.ROBSize),
		producerOfSlot: make([]int, cfg.PhysRegFileSize),
		deadlockThreshold: 10000,
	}
	for _, cc := range cfg.Clusters {
		e.clusters = append(e.clusters, newCluster(cc))
	}
	return e
}

// Stats returns a snapshot of the engine's accumulated statistics.
func (e *Engine) Stats() Statistics { return e.stats }

// SetLatencyTable overrides the per-opclass latency model NewEngine
// installed by default, letting a driver load an alternate
// latency.TimingConfig (e.g. from JSON) without reconstructing the engine.
func (e *Engine) SetLatencyTable(t *latency.Table) { e.latencies = t }

// SetCommittedBudget bounds Run() to return RunCompleted once this many
// instructions have committed; 0 means unbounded.
func (e *Engine) SetCommittedBudget(n uint64) { e.committedBudget = n }

// Reset reinitializes every structure and positions fetch at rip, with
// all architectural registers zero.
func (e *Engine) Reset(rip uint64) {
	e.FlushPipeline(rip)
	for i := 0; i < e.cfg.PhysRegArchBase; i++ {
		e.prf.SetData(i, 0)
	}
	e.stats = Statistics{}
	e.committedTotal = 0
	e.cyclesSinceCommit = 0
}

// FlushPipeline discards every in-flight uop and redirects fetch to rip,
// without touching committed architectural state. The speculative RRT is
// restored from the architectural RRT (now carrying whatever
// architectural values already exist).
func (e *Engine) FlushPipeline(rip uint64) {
	for i := range e.rob.entries {
		e.rob.entries[i] = RobEntry{RA: -1, RB: -1, RC: -1, RS: -1, Dest: -1, DestArchReg: -1, FlagDest: [3]int{-1, -1, -1}}
	}
	e.rob.head, e.rob.tail, e.rob.count = 0, 0, 0
	e.rob.lists = make(map[int]*stateList)

	for i := range e.prf.slots {
		if i >= e.cfg.PhysRegArchBase {
			e.prf.slots[i] = prfSlot{archReg: -1}
		}
	}
	e.prf.free = e.prf.free[:0]
	for i := len(e.prf.slots) - 1; i >= e.cfg.PhysRegArchBase; i-- {
		e.prf.free = append(e.prf.free, i)
	}

	e.lsq = NewLSQ(e.cfg.LDQSize, e.cfg.STQSize)
	e.specRRT.CopyFrom(e.archRRT)
	for i := 0; i < e.specRRT.Len(); i++ {
		e.prf.Addref(e.specRRT.Get(i))
	}
	for _, c := range e.clusters {
		c.IQ = NewIssueQueue(c.IQ.Size())
	}
	e.predictor.Flush()

	e.fetchRIP = rip
	e.committedRIP = rip
	e.currentBB = nil
	e.bbPos = 0
	e.fetchStalled = false
}

// ExternalToCoreState loads committed architectural state into the PRF
// slots the architectural RRT maps each register to, and the
// architectural RIP, then flushes the pipeline to begin fetching there.
func (e *Engine) ExternalToCoreState(s emu.ArchState) {
	for i := 0; i < emu.NumGPRs && i < e.cfg.PhysRegArchBase; i++ {
		e.prf.SetData(e.archRRT.Get(i), s.GPR[i])
	}
	zf, cf, of := uint64(0), uint64(0), uint64(0)
	if s.RFLAGS&uint16(PRFFlagZF()) != 0 {
		zf = 1
	}
	if s.RFLAGS&uint16(PRFFlagCF()) != 0 {
		cf = 1
	}
	if s.RFLAGS&uint16(PRFFlagOF()) != 0 {
		of = 1
	}
	e.prf.SetData(e.archRRT.Get(FlagArchReg(insts.FlagZF)), zf)
	e.prf.SetData(e.archRRT.Get(FlagArchReg(insts.FlagCF)), cf)
	e.prf.SetData(e.archRRT.Get(FlagArchReg(insts.FlagOF)), of)
	e.FlushPipeline(s.RIP)
}

// CoreToExternalState reads the committed architectural state back out.
func (e *Engine) CoreToExternalState() emu.ArchState {
	var s emu.ArchState
	for i := 0; i < emu.NumGPRs && i < e.cfg.PhysRegArchBase; i++ {
		s.GPR[i] = e.prf.Data(e.archRRT.Get(i))
	}
	if e.prf.Data(e.archRRT.Get(FlagArchReg(insts.FlagZF))) != 0 {
		s.RFLAGS |= FlagZF
	}
	if e.prf.Data(e.archRRT.Get(FlagArchReg(insts.FlagCF))) != 0 {
		s.RFLAGS |= FlagCF
	}
	if e.prf.Data(e.archRRT.Get(FlagArchReg(insts.FlagOF))) != 0 {
		s.RFLAGS |= FlagOF
	}
	s.RIP = e.committedRIP
	return s
}

func PRFFlagZF() uint16 { return FlagZF }
func PRFFlagCF() uint16 { return FlagCF }
func PRFFlagOF() uint16 { return FlagOF }

// Tick advances the engine by exactly one simulated cycle, running the
// stages in the fixed order required by §5: pending-free sweep, commit,
// per-cluster writeback/transfer, per-cluster issue/complete, dispatch,
// frontend (fetch, rename). There is no separate issue-queue clock step:
// the issue queue computes readiness on demand. It returns the commit-level result for this
// cycle, which is ResultOK unless a barrier/exception/stop condition was
// reached.
func (e *Engine) Tick() commitResultCode {
	e.stats.Cycles++

	e.prf.Sweep()

	result := e.stageCommit()

	for ci := range e.clusters {
		e.stageWriteback(ci)
		e.stageTransfer(ci)
	}
	for ci := range e.clusters {
		e.clusters[ci].resetFUs()
		e.stageIssue(ci)
		e.stageComplete(ci)
	}

	e.stageDispatch()
	e.stageFrontend()

	if result == ResultOK {
		if e.rob.Count() == 0 && e.cyclesSinceCommit > 0 {
			// nothing in flight and nothing committed this cycle: only an
			// issue if fetch is also making no progress, tracked below.
		}
	}

	return result
}

// Run drives Tick() until a terminal condition: the committed-instruction
// budget is reached, a deadlock heuristic fires (no commit for
// deadlockThreshold cycles), or a barrier, exception or stop result
// (RunBarrier, RunException, RunStop).
func (e *Engine) Run() RunResult {
	for {
		before := e.committedTotal
		result := e.Tick()

		if e.committedTotal > before {
			e.cyclesSinceCommit = 0
		} else {
			e.cyclesSinceCommit++
		}

		switch result {
		case ResultException:
			return RunException
		case ResultStop:
			return RunStop
		case ResultBarrier:
			return RunBarrier
		}

		if e.committedBudget != 0 && e.committedTotal >= e.committedBudget {
			return RunCompleted
		}
		if e.cyclesSinceCommit >= e.deadlockThreshold {
			return RunDeadlocked
		}
	}
}

// CheckInvariants evaluates the §8 quantified invariants against current
// state and returns every violation found; intended for use from tests,
// not the hot per-cycle path.
func (e *Engine) CheckInvariants() []InvariantViolation {
	var violations []InvariantViolation

	expectedRef := make([]int, e.prf.Size())
	for idx := range e.rob.entries {
		en := &e.rob.entries[idx]
		if !en.Valid {
			continue
		}
		for _, src := range []int{en.RA, en.RB, en.RC, en.RS} {
			if src >= 0 {
				expectedRef[src]++
			}
		}
	}
	for i := 0; i < e.specRRT.Len(); i++ {
		expectedRef[e.specRRT.Get(i)]++
	}
	for i := 0; i < e.archRRT.Len(); i++ {
		expectedRef[e.archRRT.Get(i)]++
	}
	for slot := range e.prf.slots {
		if int(e.prf.Refcount(slot)) != expectedRef[slot] {
			violations = append(violations, InvariantViolation{
				Cycle:   e.stats.Cycles,
				Message: "PRF refcount mismatch at slot",
			})
		}
	}

	counts := e.prf.CountByState()
	sum := 0
	for _, c := range counts {
		sum += c
	}
	if sum != e.prf.Size() {
		violations = append(violations, InvariantViolation{Cycle: e.stats.Cycles, Message: "PRF state-list sizes do not sum to size"})
	}

	for i := 0; i < e.archRRT.Len(); i++ {
		if e.prf.State(e.archRRT.Get(i)) != PRFArch {
			violations = append(violations, InvariantViolation{Cycle: e.stats.Cycles, Message: "architectural RRT points to non-arch slot"})
		}
	}

	if e.lsq.loadsInFlight+e.lsq.storesInFlight > e.lsq.Size() {
		violations = append(violations, InvariantViolation{Cycle: e.stats.Cycles, Message: "LSQ occupancy exceeds size"})
	}

	return violations
}
