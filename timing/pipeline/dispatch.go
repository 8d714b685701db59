package pipeline

import "github.com/sarchlab/x86ooo/insts"

// stageDispatch implements §4.5: up to DISPATCH_WIDTH ROB entries in
// ready-to-dispatch are scanned in age order and assigned to a cluster,
// strictly in order — a uop that cannot find a cluster stalls dispatch
// entirely for this cycle rather than letting younger uops pass it.
func (e *Engine) stageDispatch() {
	ready := e.rob.AgeOrdered(e.rob.List(ListReadyDispatch, 0))
	dispatched := 0

	for _, idx := range ready {
		if dispatched >= e.cfg.DispatchWidth {
			return
		}
		entry := e.rob.Entry(idx)
		class := insts.OpClass(entry.OpClass)

		cluster := e.selectCluster(class)
		if cluster < 0 {
			e.stats.recordStall(stallNoCluster)
			return
		}

		tag, preready := e.findSources(idx)
		iq := e.clusters[cluster].IQ
		slot := iq.Insert(idx, tag, preready)
		if slot < 0 {
			// Issue queue filled between the capacity check in
			// selectCluster and this insert (can't happen with the
			// current single-threaded ordering, but fail safe).
			e.stats.recordStall(stallNoCluster)
			return
		}
		entry.IssueQSlot = slot

		switch class {
		case insts.ClassLoad:
			e.rob.MoveTo(idx, ListReadyLoad, cluster)
		case insts.ClassStore:
			e.rob.MoveTo(idx, ListReadyStore, cluster)
		default:
			e.rob.MoveTo(idx, ListReadyIssue, cluster)
		}

		dispatched++
		e.stats.DispatchedUops++
	}
}

// selectCluster picks among the clusters that can execute class and have
// a free issue-queue slot, choosing candidate number (cycle count modulo
// the number of candidates). It does not look at which cluster holds the
// uop's operand producers.
func (e *Engine) selectCluster(class insts.OpClass) int {
	var candidates []int
	for i, c := range e.clusters {
		if !c.CanExecute(class) || !c.IQ.HasFreeSlot() {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return -1
	}
	idx := int(e.stats.Cycles) % len(candidates)
	return candidates[idx]
}

// findSources builds the per-operand (producerUopID, preready) pairs for
// a uop about to enter an issue queue. An operand is pre-ready iff its
// PRF slot is not in PRFUsed (i.e. a value is already available to read,
// even if only just produced this cycle). Stores pre-ready their RC
// (store-data) operand during the first phase per §4.5's special case;
// the second phase re-checks it explicitly (storeissue.go).
func (e *Engine) findSources(idx int) (tag [MaxOperands]int, preready [MaxOperands]bool) {
	entry := e.rob.Entry(idx)
	class := insts.OpClass(entry.OpClass)
	operands := [MaxOperands]int{entry.RA, entry.RB, entry.RC, entry.RS}

	for i, slot := range operands {
		if slot < 0 {
			preready[i] = true
			tag[i] = -1
			continue
		}
		if class == insts.ClassStore && i == 2 {
			preready[i] = true
			continue
		}
		if e.prf.State(slot) != PRFUsed {
			preready[i] = true
		} else {
			tag[i] = e.producerOfSlot[slot]
		}
	}
	return tag, preready
}
