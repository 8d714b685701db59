package pipeline

import "github.com/sarchlab/x86ooo/insts"

// stageCommit implements §4.11. Up to COMMIT_WIDTH times it inspects the
// ROB head, enforcing macro-op atomicity: if the head starts a macro-op,
// the whole macro-op must be ready-to-commit before any uop in it
// retires. It returns the strongest commit-result code observed this
// cycle (ResultOK unless a barrier/exception/stop was reached).
func (e *Engine) stageCommit() commitResultCode {
	result := ResultOK
	committedThisCycle := 0

	for committedThisCycle < e.cfg.CommitWidth {
		if e.rob.Empty() {
			return result
		}
		head := e.rob.Head()
		group, ok := e.macroOpGroup(head)
		if !ok {
			return result
		}
		for _, idx := range group {
			if e.rob.Entry(idx).Kind != ListReadyCommit {
				return result
			}
		}

		exceptIdx := -1
		for _, idx := range group {
			if e.prf.Flags(e.rob.Entry(idx).Dest)&FlagInvalid != 0 {
				exceptIdx = idx
				break
			}
		}

		if exceptIdx >= 0 && e.uopAt[exceptIdx].Op != insts.OpChk {
			e.commitDiscard(group[0])
			e.stats.Exceptions++
			return ResultException
		}

		for _, idx := range group {
			code := e.commitOne(idx)
			if code == ResultBarrier || code == ResultStop {
				result = code
			}
			committedThisCycle++
			e.stats.CommittedUops++
			e.committedTotal++
		}
		e.stats.CommittedMacroOps++

		if result != ResultOK {
			return result
		}
	}
	return result
}

// macroOpGroup returns the ROB indices from head through its EOM
// (inclusive), or ok=false if the macro-op is not fully resident (should
// not happen once rename preserves the atomicity invariant, but an
// incomplete tail at the very end of a run is possible).
func (e *Engine) macroOpGroup(head int) ([]int, bool) {
	if !e.rob.Entry(head).SOM {
		return []int{head}, true // defensive: treat as singleton if mis-tagged
	}
	var group []int
	idx := head
	for {
		group = append(group, idx)
		if e.rob.Entry(idx).EOM {
			return group, true
		}
		idx = e.rob.Next(idx)
		if idx == e.rob.tail && e.rob.Count() < len(group)+1 {
			return nil, false
		}
		if len(group) > e.rob.Size() {
			return nil, false
		}
	}
}

// commitOne performs the per-uop commit sequence of §4.11 steps 1-8 and
// returns this uop's contribution to the cycle's commit-result code.
func (e *Engine) commitOne(idx int) commitResultCode {
	entry := e.rob.Entry(idx)
	uop := &e.uopAt[idx]

	var oldMapping [4]int // [0]=GPR dest, [1..3]=flag groups
	oldMapping[0] = -1
	if entry.DestArchReg >= 0 {
		oldMapping[0] = e.archRRT.Get(entry.DestArchReg)
		e.prf.Commit(entry.Dest, entry.DestArchReg)
		e.archRRT.Set(entry.DestArchReg, entry.Dest)
		e.prf.Addref(entry.Dest)
	} else {
		if e.prf.Refcount(entry.Dest) == 0 {
			e.prf.Free(entry.Dest)
		}
	}

	for g := 0; g < 3; g++ {
		if entry.FlagDest[g] < 0 {
			continue
		}
		ar := FlagArchReg(insts.FlagGroup(g))
		old := e.archRRT.Get(ar)
		e.prf.Commit(entry.FlagDest[g], ar)
		e.archRRT.Set(ar, entry.FlagDest[g])
		e.prf.Addref(entry.FlagDest[g])
		e.uncommitOld(old)
	}

	if entry.EOM {
		if insts.ClassOf(uop.Op) == insts.ClassBranch {
			e.committedRIP = e.prf.Data(entry.Dest)
		} else if uop.Op == insts.OpChk {
			e.committedRIP = entry.RIP + uint64(uopByteLen(*uop))
		} else {
			e.committedRIP = entry.RIP + uint64(uopByteLen(*uop))
		}
	}

	if entry.HasLSQ {
		lsqEntry := e.lsq.Entry(entry.LSQSlot)
		if lsqEntry.IsStore {
			e.dcache.CommitStore(lsqEntry.PhysAddr, dataBytes(lsqEntry.Data), lsqEntry.ByteMask)
		}
		e.lsq.Release(entry.LSQSlot)
	}

	if oldMapping[0] >= 0 {
		e.uncommitOld(oldMapping[0])
	}

	for _, src := range []int{entry.RA, entry.RB, entry.RC, entry.RS} {
		if src >= 0 {
			e.prf.Unref(src)
		}
	}

	if insts.ClassOf(uop.Op) == insts.ClassBranch {
		predicted := e.predictedTarget(uop)
		actual := e.prf.Data(entry.Dest)
		e.predictor.Update(uop.RIP, entry.RIP+uint64(uopByteLen(*uop)), actual, actual != entry.RIP+uint64(uopByteLen(*uop)), predicted != entry.RIP+uint64(uopByteLen(*uop)))
	}

	e.rob.Retire(idx)

	switch {
	case uop.Op == insts.OpSyscall:
		return ResultBarrier
	default:
		return ResultOK
	}
}

// commitDiscard handles the exceptional path: the macro-op is discarded
// rather than committed, its ROB entries annulled from the exception
// point forward (§4.11's "entire macro-op discarded" rule).
func (e *Engine) commitDiscard(idx int) {
	e.annulAfterAndIncluding(idx)
}

// uncommitOld drops the reference an outgoing architectural mapping held;
// if nothing else references it, it frees immediately, otherwise it
// waits in pendingfree for the sweep.
func (e *Engine) uncommitOld(slot int) {
	e.prf.Unref(slot)
	if e.prf.Refcount(slot) == 0 {
		e.prf.Free(slot)
	} else {
		e.prf.MarkPendingFree(slot)
	}
}

func dataBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
