package pipeline

// stageComplete implements the first half of §4.9: every entry in
// issued(cluster) has its latency countdown decremented, and on reaching
// zero moves to completed(cluster), calls PRF.Complete, and resets its
// forwarding-cycle counter.
func (e *Engine) stageComplete(clusterIdx int) {
	for _, idx := range e.rob.List(ListIssued, clusterIdx) {
		entry := e.rob.Entry(idx)
		entry.CyclesLeft--
		if entry.CyclesLeft > 0 {
			continue
		}
		if e.prf.State(entry.Dest) == PRFUsed {
			e.prf.Complete(entry.Dest, e.prf.Data(entry.Dest), e.prf.Flags(entry.Dest))
		}
		entry.ForwardCycle = 0
		e.rob.MoveTo(idx, ListCompleted, clusterIdx)
	}
}

// stageTransfer implements the forwarding half of §4.9: entries in
// completed(cluster) broadcast their ROB id into every destination
// cluster's issue queue reachable at their current forward_cycle, then
// advance forward_cycle; once it exceeds MAX_FORWARDING_LATENCY the entry
// moves on to ready-to-writeback(cluster).
func (e *Engine) stageTransfer(clusterIdx int) {
	for _, idx := range e.rob.List(ListCompleted, clusterIdx) {
		entry := e.rob.Entry(idx)
		for dst := range e.clusters {
			latency := 0
			if clusterIdx < len(e.cfg.InterclusterLatency) && dst < len(e.cfg.InterclusterLatency[clusterIdx]) {
				latency = e.cfg.InterclusterLatency[clusterIdx][dst]
			}
			if entry.ForwardCycle == latency {
				e.clusters[dst].IQ.Broadcast(idx)
			}
		}
		entry.ForwardCycle++
		if entry.ForwardCycle > e.cfg.MaxForwardingLatency {
			e.rob.MoveTo(idx, ListReadyWriteback, clusterIdx)
		}
	}
}

// stageWriteback moves up to WRITEBACK_WIDTH entries per cluster to
// ready-to-commit, transitioning their PRF slot ready -> written.
func (e *Engine) stageWriteback(clusterIdx int) {
	ready := e.rob.AgeOrdered(e.rob.List(ListReadyWriteback, clusterIdx))
	n := 0
	for _, idx := range ready {
		if n >= e.cfg.WritebackWidth {
			return
		}
		entry := e.rob.Entry(idx)
		if e.prf.State(entry.Dest) == PRFReady {
			e.prf.Writeback(entry.Dest)
		}
		for g := 0; g < 3; g++ {
			if entry.FlagDest[g] >= 0 && e.prf.State(entry.FlagDest[g]) == PRFReady {
				e.prf.Writeback(entry.FlagDest[g])
			}
		}
		e.rob.MoveTo(idx, ListReadyCommit, clusterIdx)
		n++
	}
}
