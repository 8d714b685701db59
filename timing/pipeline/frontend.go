package pipeline

import "github.com/sarchlab/x86ooo/insts"

// archRegOf resolves a uop's register field to a rename-table index, or
// -1 for insts.RegNone (operand absent).
func archRegOf(r insts.Reg) int {
	if r == insts.RegNone {
		return -1
	}
	return int(r)
}

// stageFrontend implements §4.4: fetch fills the fetch queue from the
// basic-block provider, then rename drains up to FRONTEND_WIDTH uops per
// cycle into freshly reserved ROB entries, and finally the frontend delay
// list advances every entry already past rename toward
// ready-to-dispatch.
func (e *Engine) stageFrontend() {
	e.fetch()
	if !e.fetchStalled {
		e.rename()
	}
	e.advanceFrontendDelay()
}

// fetch tops up the fetch queue from the basic-block provider. Real
// fetch-width limiting happens at rename; here we simply keep the queue
// non-empty so rename always has work when the ROB/PRF/LSQ have room.
// A block ending in a branch-class uop has its successor picked by
// consulting the predictor rather than assuming fallthrough: stageIssue's
// mispredict check compares the branch's actual outcome against this same
// predictedTarget, so fetch has to follow it for that comparison to mean
// "we fetched down the wrong path" rather than "fetch never looks at the
// predictor at all".
func (e *Engine) fetch() {
	for len(e.fetchQueue) < e.cfg.FetchWidth*4 {
		if e.currentBB == nil || e.bbPos >= len(e.currentBB.Uops) {
			bb, err := e.bbProvider.Translate(e.fetchRIP)
			if err != nil || bb == nil || len(bb.Uops) == 0 {
				return
			}
			e.currentBB = bb
			e.bbPos = 0
			e.fetchRIP = bb.RIP + uint64(bb.Length)
			if last := &bb.Uops[len(bb.Uops)-1]; insts.ClassOf(last.Op) == insts.ClassBranch {
				e.fetchRIP = e.predictedTarget(last)
			}
		}
		remaining := len(e.currentBB.Uops) - e.bbPos
		take := e.cfg.FetchWidth
		if take > remaining {
			take = remaining
		}
		e.fetchQueue = append(e.fetchQueue, e.currentBB.Uops[e.bbPos:e.bbPos+take]...)
		e.bbPos += take
	}
}

// rename implements §4.4 steps 1-7 for up to FRONTEND_WIDTH uops.
func (e *Engine) rename() {
	for i := 0; i < e.cfg.FrontendWidth; i++ {
		if len(e.fetchQueue) == 0 {
			e.stats.recordStall(stallFetchQueueEmpty)
			return
		}
		uop := e.fetchQueue[0]
		class := insts.ClassOf(uop.Op)

		if e.rob.Full() {
			e.stats.recordStall(stallROBFull)
			return
		}
		// Conservative check: reserve enough PRF slots for the dest plus
		// up to three flag-group dests.
		needed := 1
		for g := 0; g < int(insts.NumFlagGroups); g++ {
			if uop.SetFlags&(1<<uint(g)) != 0 {
				needed++
			}
		}
		if len(e.prf.free) < needed {
			e.stats.recordStall(stallPRFFull)
			return
		}
		if class == insts.ClassStore && e.lsq.StoreQueueFull() {
			e.stats.recordStall(stallSTQFull)
			return
		}
		if class == insts.ClassLoad && e.lsq.LoadQueueFull() {
			e.stats.recordStall(stallLDQFull)
			return
		}

		e.fetchQueue = e.fetchQueue[1:]
		robIdx := e.rob.Reserve()
		e.uopAt[robIdx] = uop
		entry := e.rob.Entry(robIdx)
		entry.RIP = uop.RIP
		entry.SOM = uop.SOM
		entry.EOM = uop.EOM
		entry.OpClass = int(class)

		if class == insts.ClassLoad || class == insts.ClassStore {
			lsqSlot := e.lsq.Alloc(class == insts.ClassStore, robIdx)
			entry.HasLSQ = true
			entry.LSQSlot = lsqSlot
		} else {
			entry.HasLSQ = false
			entry.LSQSlot = -1
		}

		for _, pair := range []struct {
			reg  insts.Reg
			dest *int
		}{{uop.RA, &entry.RA}, {uop.RB, &entry.RB}, {uop.RC, &entry.RC}} {
			ar := archRegOf(pair.reg)
			if ar < 0 {
				*pair.dest = -1
				continue
			}
			slot := e.specRRT.Get(ar)
			e.prf.Addref(slot)
			*pair.dest = slot
		}
		entry.RS = -1 // seeded later by load/store issue for ordering deps

		destSlot := e.prf.Alloc()
		entry.Dest = destSlot
		e.producerOfSlot[destSlot] = robIdx
		if ar := archRegOf(uop.RD); ar > 0 {
			old := e.specRRT.Get(ar)
			e.prf.Unref(old)
			e.specRRT.Set(ar, destSlot)
			e.prf.Addref(destSlot)
			entry.DestArchReg = ar
		} else {
			// ar == 0 (RegZero) is never remapped: slot 0 stays
			// permanently hard-wired to read as zero.
			entry.DestArchReg = -1
		}

		entry.FlagSetMask = uop.SetFlags
		for g := 0; g < 3; g++ {
			if uop.SetFlags&(1<<uint(g)) == 0 {
				entry.FlagDest[g] = -1
				continue
			}
			fSlot := e.prf.Alloc()
			ar := FlagArchReg(insts.FlagGroup(g))
			old := e.specRRT.Get(ar)
			e.prf.Unref(old)
			e.specRRT.Set(ar, fSlot)
			e.prf.Addref(fSlot)
			e.producerOfSlot[fSlot] = robIdx
			entry.FlagDest[g] = fSlot
		}

		if uop.Op == insts.OpCall {
			e.predictor.UpdateRAS(uop.RIP + uint64(uopByteLen(uop)))
		} else if uop.Op == insts.OpRet {
			e.predictor.popRAS()
		}

		entry.CyclesLeft = e.cfg.FrontendStages
		e.rob.MoveTo(robIdx, ListFrontend, 0)
		e.stats.RenamedUops++
	}
}

// uopByteLen is a placeholder for the macro-op length a real decoder
// would carry; fixed-length synthesis keeps the engine self-contained
// when driven by synthetic traces rather than a real x86 decoder.
func uopByteLen(uop insts.Uop) int {
	if uop.Size == 0 {
		return 1
	}
	return int(uop.Size)
}

// advanceFrontendDelay decrements cycles_left on every entry still in the
// frontend delay list and promotes those that reach zero.
func (e *Engine) advanceFrontendDelay() {
	for _, idx := range e.rob.List(ListFrontend, 0) {
		entry := e.rob.Entry(idx)
		entry.CyclesLeft--
		if entry.CyclesLeft <= 0 {
			e.rob.MoveTo(idx, ListReadyDispatch, 0)
		}
	}
}
