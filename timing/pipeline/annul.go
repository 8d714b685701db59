package pipeline

import "github.com/sarchlab/x86ooo/insts"

// rangeFromTo returns the ROB indices from a to b inclusive, walking
// forward circularly; callers guarantee a is not "after" b in program
// order given the current head/tail.
func (e *Engine) rangeFromTo(a, b int) []int {
	var out []int
	idx := a
	for {
		out = append(out, idx)
		if idx == b {
			break
		}
		idx = e.rob.Next(idx)
	}
	return out
}

// macroOpBounds scans backward from idx to find its macro-op's SOM and
// forward to find its EOM, per the walking assumption in the engine's
// design notes: the complete macro-op is always ROB-resident.
func (e *Engine) macroOpBounds(idx int) (som, eom int) {
	som = idx
	for !e.rob.Entry(som).SOM {
		som = e.rob.Prev(som)
	}
	eom = idx
	for !e.rob.Entry(eom).EOM {
		eom = e.rob.Next(eom)
	}
	return som, eom
}

// annulAfter retains the triggering uop and annuls everything younger
// than its macro-op; used for branch mispredicts and aliasing violations
// where the trigger itself has already committed its effect.
func (e *Engine) annulAfter(trigger int) uint64 {
	_, eom := e.macroOpBounds(trigger)
	start := e.rob.Next(eom)
	if start == e.rob.tail {
		// Nothing is younger than the trigger's macro-op: nothing to annul.
		if insts.ClassOf(e.uopAt[trigger].Op) == insts.ClassBranch {
			return e.prf.Data(e.rob.Entry(trigger).Dest)
		}
		return e.uopAt[trigger].RIP
	}
	return e.annulRange(start, trigger)
}

// annulAfterAndIncluding annuls the triggering uop's entire macro-op too;
// used for unaligned-access retranslation and exception discard.
func (e *Engine) annulAfterAndIncluding(trigger int) uint64 {
	som, _ := e.macroOpBounds(trigger)
	return e.annulRange(som, trigger)
}

// annulRange implements the §4.10 three-pass recovery for the ROB range
// [start..tail-1] (the engine's current youngest entry), given the
// trigger that identified this misspeculation.
func (e *Engine) annulRange(start, trigger int) uint64 {
	if e.rob.Empty() {
		return e.uopAt[trigger].RIP
	}
	end := e.rob.Prev(e.rob.tail)
	annulIdxs := e.rangeFromTo(start, end)

	// Pass 1: invalidate issue-queue slots.
	for _, idx := range annulIdxs {
		entry := e.rob.Entry(idx)
		if entry.Cluster >= 0 && entry.Cluster < len(e.clusters) {
			e.clusters[entry.Cluster].IQ.AnnulUop(idx)
		}
	}

	// Pass 2: wholesale restore of the speculative RRT from the
	// architectural RRT, then pseudocommit-replay every kept uop between
	// head and start.
	for i := 0; i < e.specRRT.Len(); i++ {
		e.prf.Unref(e.specRRT.Get(i))
	}
	e.specRRT.CopyFrom(e.archRRT)
	for i := 0; i < e.specRRT.Len(); i++ {
		e.prf.Addref(e.specRRT.Get(i))
	}
	if !e.rob.Empty() && e.rob.Head() != start {
		for _, idx := range e.rangeFromTo(e.rob.Head(), e.rob.Prev(start)) {
			e.pseudocommit(idx)
		}
	}

	// Pass 3: from end back to start, unref sources, free PRF/LSQ, undo
	// RAS mutations, and reclaim the ROB entry LIFO.
	rasUndoCount := 0
	for i := len(annulIdxs) - 1; i >= 0; i-- {
		idx := annulIdxs[i]
		entry := e.rob.Entry(idx)
		uop := &e.uopAt[idx]

		for _, src := range []int{entry.RA, entry.RB, entry.RC, entry.RS} {
			if src >= 0 {
				e.prf.Unref(src)
			}
		}
		if e.prf.Refcount(entry.Dest) == 0 {
			e.prf.Free(entry.Dest)
		}
		for g := 0; g < 3; g++ {
			if entry.FlagDest[g] >= 0 && e.prf.Refcount(entry.FlagDest[g]) == 0 {
				e.prf.Free(entry.FlagDest[g])
			}
		}
		if entry.HasLSQ {
			e.lsq.Release(entry.LSQSlot)
		}
		if uop.Op == insts.OpCall || uop.Op == insts.OpRet {
			rasUndoCount++
		}

		e.rob.FreeFromAnnul(idx)
		e.rob.RewindTail()
	}
	e.predictor.AnnulRAS(rasUndoCount)

	// Kept-misspec branch resumes at its actual target (already written
	// to its Dest PRF slot by issue before annul was called); any other
	// trigger resumes at its own RIP.
	triggerEntry := e.rob.Entry(trigger)
	if insts.ClassOf(e.uopAt[trigger].Op) == insts.ClassBranch && triggerEntry.Valid {
		return e.prf.Data(triggerEntry.Dest)
	}
	return e.uopAt[trigger].RIP
}

// pseudocommit re-applies a kept uop's rename-time effects on the
// speculative RRT only, used to reconstruct it without a backward walk
// (§4.10 pass 2).
func (e *Engine) pseudocommit(idx int) {
	entry := e.rob.Entry(idx)
	if entry.DestArchReg >= 0 {
		old := e.specRRT.Get(entry.DestArchReg)
		e.prf.Unref(old)
		e.specRRT.Set(entry.DestArchReg, entry.Dest)
		e.prf.Addref(entry.Dest)
	}
	for g := 0; g < 3; g++ {
		if entry.FlagDest[g] < 0 {
			continue
		}
		ar := FlagArchReg(insts.FlagGroup(g))
		old := e.specRRT.Get(ar)
		e.prf.Unref(old)
		e.specRRT.Set(ar, entry.FlagDest[g])
		e.prf.Addref(entry.FlagDest[g])
	}
}
