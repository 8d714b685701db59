package pipeline

import "github.com/sarchlab/x86ooo/insts"

// stageIssue implements §4.6 for one cluster: up to issue_width times,
// pull a ready uop from the issue queue, reserve a functional unit,
// execute it, and either send it on to complete or handle the
// load/store/branch special cases.
func (e *Engine) stageIssue(clusterIdx int) {
	c := e.clusters[clusterIdx]
	for n := 0; n < c.IssueWidth; n++ {
		slot, uopID := c.IQ.Issue()
		if slot < 0 {
			return
		}
		entry := e.rob.Entry(uopID)
		class := insts.OpClass(entry.OpClass)

		if !c.reserveFU(class) {
			tag, preready := e.findSources(uopID)
			c.IQ.Replay(slot, tag, preready)
			e.stats.recordStall(stallNoFU)
			return
		}

		e.rob.MoveTo(uopID, ListIssued, clusterIdx)
		entry.CyclesLeft = int(e.latencies.GetLatency(class))

		uop := &e.uopAt[uopID]

		switch class {
		case insts.ClassLoad:
			if e.issueLoad(clusterIdx, slot, uopID, uop) {
				c.IQ.Release(slot)
			}
			e.stats.LoadsIssued++
			continue
		case insts.ClassStore:
			if e.issueStore(clusterIdx, slot, uopID, uop) {
				c.IQ.Release(slot)
			}
			e.stats.StoresIssued++
			continue
		}

		in := e.readOperands(entry)
		in.Uop = uop
		if in.FlagsIn&FlagInvalid != 0 {
			e.propagateInvalid(entry)
			c.IQ.Release(slot)
			e.stats.IssuedUops++
			continue
		}

		out := uop.Exec.Exec(in)

		if class == insts.ClassBranch {
			if !e.addrCheck.CheckExecutable(out.Target) {
				e.prf.SetFlags(entry.Dest, FlagInvalid)
				e.rob.MoveTo(uopID, ListReadyCommit, clusterIdx)
				e.fetchStalled = true
				c.IQ.Release(slot)
				e.stats.IssuedUops++
				continue
			}

			// Where fetch went after this branch: the next ROB entry if one
			// exists, else the fetch front.
			predicted := e.fetchRIP
			if _, eom := e.macroOpBounds(uopID); e.rob.Next(eom) != e.rob.tail {
				predicted = e.rob.Entry(e.rob.Next(eom)).RIP
			} else if len(e.fetchQueue) > 0 {
				predicted = e.fetchQueue[0].RIP
			} else if e.currentBB != nil && e.bbPos < len(e.currentBB.Uops) {
				predicted = e.currentBB.Uops[e.bbPos].RIP
			}
			actual := out.Target
			if !out.Taken {
				actual = entry.RIP + uint64(uopByteLen(*uop))
			}
			mispredicted := actual != predicted

			e.prf.Complete(entry.Dest, out.Data, out.FlagsOut)
			e.applyFlagResults(entry, out.FlagsOut)
			c.IQ.Release(slot)
			e.stats.IssuedUops++

			if mispredicted {
				e.stats.BranchMispredicts++
				e.annulAfter(uopID)
				e.fetchRIP = actual
				e.currentBB = nil
				e.bbPos = 0
				e.fetchQueue = e.fetchQueue[:0]
				return
			}
			continue
		}

		e.prf.Complete(entry.Dest, out.Data, out.FlagsOut)
		e.applyFlagResults(entry, out.FlagsOut)
		c.IQ.Release(slot)
		e.stats.IssuedUops++
	}
}

// predictedTarget consults the predictor the same way for both of its
// callers — fetch (to pick the next fetch address) and commitOne (to
// score the prediction and feed Update). stageIssue does not recompute it:
// an older instance of the same branch can commit and retrain the
// predictor between this instance's fetch and its issue, so issue checks
// the actual outcome against the RIP fetch really followed instead.
func (e *Engine) predictedTarget(uop *insts.Uop) uint64 {
	hint := HintNone
	if uop.Op == insts.OpCall {
		hint = HintCall
	} else if uop.Op == insts.OpRet {
		hint = HintReturn
	}
	fallthroughRIP := uop.RIP + uint64(uopByteLen(*uop))
	return e.predictor.Predict(uop.RIP, hint, fallthroughRIP, uop.Imm)
}

// readOperands gathers the four source PRF values/flags for execution,
// substituting immediates inline where an operand slot is absent.
func (e *Engine) readOperands(entry *RobEntry) insts.ExecInput {
	var in insts.ExecInput
	if entry.RA >= 0 {
		in.A = e.prf.Data(entry.RA)
		in.FlagsIn |= e.prf.Flags(entry.RA) & FlagInvalid
	}
	if entry.RB >= 0 {
		in.B = e.prf.Data(entry.RB)
		in.FlagsIn |= e.prf.Flags(entry.RB) & FlagInvalid
	}
	if entry.RC >= 0 {
		in.C = e.prf.Data(entry.RC)
		in.FlagsIn |= e.prf.Flags(entry.RC) & FlagInvalid
	}
	return in
}

// propagateInvalid short-circuits a uop whose source carries a
// propagated exception straight to ready-to-commit, bypassing writeback,
// and stalls the frontend (§4.6 step 7).
func (e *Engine) propagateInvalid(entry *RobEntry) {
	e.prf.SetFlags(entry.Dest, FlagInvalid)
	e.rob.MoveTo(entry.Self, ListReadyCommit, entry.Cluster)
	e.fetchStalled = true
}

// applyFlagResults writes the per-flag-group destination slots a uop
// defines, extracting each group's bit from the executor's flags output.
func (e *Engine) applyFlagResults(entry *RobEntry, flagsOut uint16) {
	bits := [3]uint16{FlagZF, FlagCF, FlagOF}
	for g := 0; g < 3; g++ {
		if entry.FlagDest[g] < 0 {
			continue
		}
		e.prf.Complete(entry.FlagDest[g], uint64(flagsOut&bits[g]), flagsOut&bits[g])
	}
}
