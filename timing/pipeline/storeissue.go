package pipeline

import "github.com/sarchlab/x86ooo/insts"

// issueStore implements §4.8. Returns true if the IQ slot should be
// released now; false if the store replayed as a second-phase store and
// has already re-seeded its own IQ slot.
func (e *Engine) issueStore(clusterIdx, slot, uopID int, uop *insts.Uop) bool {
	entry := e.rob.Entry(uopID)
	in := e.readOperands(entry)
	addr := effectiveAddress(in, uop)
	size := sizeOf(uop)

	if addr&uint64(size-1) != 0 {
		e.bbProvider.InvalidateRIP(uop.RIP)
		e.markFaultedAndCommit(entry, faultUnaligned)
		e.fetchStalled = true
		e.annulAfterAndIncluding(uopID)
		e.fetchRIP = uop.RIP
		e.currentBB = nil
		e.fetchQueue = e.fetchQueue[:0]
		return true
	}

	lsqIdx := entry.LSQSlot
	lsqEntry := e.lsq.Entry(lsqIdx)

	olderStores := e.lsq.OlderStores(uopID, e.olderThan)
	var blockingStore = -1
	for _, si := range olderStores {
		s := e.lsq.Entry(si)
		sameAddr := s.AddrValid && (s.PhysAddr&^7) == (addr&^7)
		unresolved := !s.AddrValid
		if sameAddr || unresolved {
			blockingStore = si
			break
		}
	}

	dataReady := entry.RC < 0 || e.prf.State(entry.RC) != PRFUsed
	if blockingStore >= 0 {
		s := e.lsq.Entry(blockingStore)
		if !s.AddrValid || !s.DataValid || !dataReady {
			e.setReplayDep(entry, e.blockingStoreDestSlot(blockingStore))
			tag, preready := e.findSources(uopID)
			tag[2] = entry.RC
			preready[2] = dataReady
			tag[3] = e.producerOfSlot[entry.RS]
			preready[3] = false
			e.clusters[clusterIdx].IQ.Replay(slot, tag, preready)
			e.rob.MoveTo(uopID, ListReadyStore, clusterIdx)
			entry.LoadStoreSecondPhase = true
			return false
		}
	}
	if !dataReady {
		tag, preready := e.findSources(uopID)
		preready[2] = false
		e.clusters[clusterIdx].IQ.Replay(slot, tag, preready)
		e.rob.MoveTo(uopID, ListReadyStore, clusterIdx)
		entry.LoadStoreSecondPhase = true
		return false
	}

	laterLoads := e.lsq.LaterLoads(uopID, e.olderThan)
	for _, li := range laterLoads {
		l := e.lsq.Entry(li)
		if (l.PhysAddr &^ 7) == (addr &^ 7) {
			loadRIP := e.uopAt[l.RobIdx].RIP
			e.lsap.Record(loadRIP)
			e.stats.AliasingViolations++
			e.annulAfterAndIncluding(uopID)
			e.fetchRIP = uop.RIP
			e.currentBB = nil
			e.fetchQueue = e.fetchQueue[:0]
			return true
		}
	}

	byteMask := maskFromSizeAndAddr(size, addr)
	if blockingStore >= 0 {
		s := e.lsq.Entry(blockingStore)
		inherited := s.ByteMask &^ byteMask
		lsqEntry.ByteMask = byteMask | (inherited & s.ByteMask)
		lsqEntry.Data = (in.C &^ maskForBytes(^byteMask)) | (s.Data & maskForBytes(inherited))
	} else {
		lsqEntry.ByteMask = byteMask
		lsqEntry.Data = in.C
	}
	lsqEntry.PhysAddr = addr &^ 7
	lsqEntry.AddrValid = true
	lsqEntry.DataValid = true

	entry.CyclesLeft = e.cfg.LoadLatency
	return true
}

func maskFromSizeAndAddr(size int, addr uint64) uint8 {
	low := int(addr & 7)
	var m uint8
	for i := low; i < low+size && i < 8; i++ {
		m |= 1 << uint(i)
	}
	return m
}
