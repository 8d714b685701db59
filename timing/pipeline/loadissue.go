package pipeline

import "github.com/sarchlab/x86ooo/insts"

// ageOf returns a monotonically increasing age for robIdx relative to the
// current ROB head, used to compare program order across wraparound.
func (e *Engine) ageOf(robIdx int) int {
	d := robIdx - e.rob.head
	if d < 0 {
		d += e.rob.Size()
	}
	return d
}

func (e *Engine) olderThan(a, b int) bool { return e.ageOf(a) < e.ageOf(b) }

func effectiveAddress(in insts.ExecInput, uop *insts.Uop) uint64 {
	addr := in.A + in.B + uop.Imm
	switch uop.Align {
	case insts.AlignLowHalf:
		addr &^= 7
	case insts.AlignHighHalf:
		addr = (addr &^ 7) + 8
	}
	return addr
}

func sizeOf(uop *insts.Uop) int {
	if uop.Size == 0 {
		return 8
	}
	return int(uop.Size)
}

// issueLoad implements §4.7. It returns true if the uop's issue-queue
// slot should be released now (the common case); it returns false when
// the load replays, having already re-seeded its own IQ slot.
func (e *Engine) issueLoad(clusterIdx, slot, uopID int, uop *insts.Uop) bool {
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
		unresolvedAndAliasPredicted := !s.AddrValid && e.lsap.Select(uop.RIP)
		if sameAddr || unresolvedAndAliasPredicted {
			blockingStore = si
			break
		}
	}

	if blockingStore >= 0 {
		s := e.lsq.Entry(blockingStore)
		if !s.AddrValid || !s.DataValid {
			e.setReplayDep(entry, e.blockingStoreDestSlot(blockingStore))
			tag, preready := e.findSources(uopID)
			tag[3] = e.producerOfSlot[entry.RS]
			preready[3] = false
			e.clusters[clusterIdx].IQ.Replay(slot, tag, preready)
			e.rob.MoveTo(uopID, ListReadyLoad, clusterIdx)
			return false
		}
		merged := s.Data & maskForBytes(s.ByteMask)
		lsqEntry.Data = merged
		lsqEntry.AddrValid = true
		lsqEntry.DataValid = true
		lsqEntry.PhysAddr = addr &^ 7
		e.completeLoad(uopID, entry, clusterIdx, lsqEntry.Data)
		return true
	}

	hit, data := e.dcache.ProbeAndCheckSFR(addr, size)
	lsqEntry.AddrValid = true
	lsqEntry.PhysAddr = addr &^ 7
	if !hit {
		e.stats.CacheMisses++
		entry.CyclesLeft = e.cfg.LoadLatency * 4
	} else {
		entry.CyclesLeft = e.cfg.LoadLatency
	}
	var v uint64
	for i := 0; i < len(data) && i < 8; i++ {
		v |= uint64(data[i]) << (8 * i)
	}
	lsqEntry.Data = v
	lsqEntry.DataValid = true
	e.completeLoad(uopID, entry, clusterIdx, v)
	return true
}

// blockingStoreDestSlot resolves the PRF slot that LSQ slot lsqIdx's owning
// store will write, i.e. the value a waiting load/store must see resolved
// before it can proceed (§4.7 step 3 / §4.8 step 3).
func (e *Engine) blockingStoreDestSlot(lsqIdx int) int {
	return e.rob.Entry(e.lsq.Entry(lsqIdx).RobIdx).Dest
}

// setReplayDep points entry.RS at the PRF slot a replay is waiting on,
// Addref'ing the new slot and Unref'ing whatever it previously held so a
// uop that replays against a succession of blocking stores never leaks or
// double-frees a reference. The final value is Unref'd once, by whichever
// of commit or annul retires this entry.
func (e *Engine) setReplayDep(entry *RobEntry, destSlot int) {
	if entry.RS == destSlot {
		return
	}
	if entry.RS >= 0 {
		e.prf.Unref(entry.RS)
	}
	entry.RS = destSlot
	e.prf.Addref(destSlot)
}

func maskForBytes(mask uint8) uint64 {
	var m uint64
	for i := 0; i < 8; i++ {
		if mask&(1<<uint(i)) != 0 {
			m |= 0xFF << (8 * i)
		}
	}
	return m
}

// completeLoad writes the loaded data to the destination PRF slot; full
// latency countdown to ListCompleted happens in the normal complete
// stage since CyclesLeft was already set.
func (e *Engine) completeLoad(uopID int, entry *RobEntry, clusterIdx int, data uint64) {
	e.prf.SetData(entry.Dest, data)
	_ = uopID
}

// markFaultedAndCommit marks a load/store's LSQ entry and PRF slot as an
// architectural exception, short-circuiting straight to ready-to-commit.
func (e *Engine) markFaultedAndCommit(entry *RobEntry, fault faultCode) {
	if entry.HasLSQ {
		lsqEntry := e.lsq.Entry(entry.LSQSlot)
		lsqEntry.Invalid = true
		lsqEntry.FaultCode = int(fault)
		lsqEntry.DataValid = true
	}
	e.prf.SetFlags(entry.Dest, FlagInvalid)
	e.rob.MoveTo(entry.Self, ListReadyCommit, entry.Cluster)
	e.stats.Exceptions++
}
