package pipeline

import "testing"

func TestPRFZeroSlotPermanentlyArch(t *testing.T) {
	p := NewPRF(32, 16)
	if p.State(0) != PRFArch {
		t.Fatalf("slot 0 state = %v, want PRFArch", p.State(0))
	}
	if p.Data(0) != 0 {
		t.Fatalf("slot 0 data = %d, want 0", p.Data(0))
	}
	if p.Refcount(0) != 1 {
		t.Fatalf("slot 0 refcount = %d, want 1 (the architectural RRT's own reference)", p.Refcount(0))
	}
}

func TestPRFAllocLifecycle(t *testing.T) {
	p := NewPRF(4, 2)

	slot := p.Alloc()
	if slot < 2 {
		t.Fatalf("Alloc returned an architectural slot %d, want >= archBase", slot)
	}
	if p.State(slot) != PRFUsed {
		t.Fatalf("state after Alloc = %v, want PRFUsed", p.State(slot))
	}
	if p.Flags(slot)&FlagWait == 0 {
		t.Fatalf("flags after Alloc = %#x, want FlagWait set", p.Flags(slot))
	}

	p.Complete(slot, 42, 0)
	if p.State(slot) != PRFReady || p.Data(slot) != 42 {
		t.Fatalf("after Complete: state=%v data=%d, want PRFReady/42", p.State(slot), p.Data(slot))
	}

	p.Writeback(slot)
	if p.State(slot) != PRFWritten {
		t.Fatalf("after Writeback: state=%v, want PRFWritten", p.State(slot))
	}

	p.Addref(slot)
	p.Commit(slot, 3)
	if p.State(slot) != PRFArch {
		t.Fatalf("after Commit: state=%v, want PRFArch", p.State(slot))
	}

	p.Unref(slot)
	p.Free(slot)
	if p.State(slot) != PRFFree {
		t.Fatalf("after Free: state=%v, want PRFFree", p.State(slot))
	}
}

func TestPRFAllocExhaustion(t *testing.T) {
	p := NewPRF(3, 2) // one free slot beyond archBase
	if s := p.Alloc(); s < 0 {
		t.Fatalf("first Alloc should succeed")
	}
	if s := p.Alloc(); s != -1 {
		t.Fatalf("Alloc on exhausted pool = %d, want -1", s)
	}
}

func TestPRFUnrefBelowZeroPanics(t *testing.T) {
	p := NewPRF(4, 2)
	slot := p.Alloc()
	defer func() {
		if recover() == nil {
			t.Fatalf("Unref on a zero-refcount slot should panic (§7 fatal condition)")
		}
	}()
	p.Unref(slot)
}

func TestPRFAddrefSaturates(t *testing.T) {
	p := NewPRF(4, 2)
	slot := p.Alloc()
	p.slots[slot].refcount = ^uint32(0)
	p.Addref(slot)
	if p.Refcount(slot) != ^uint32(0) {
		t.Fatalf("Addref past max should saturate, got %d", p.Refcount(slot))
	}
}

func TestPRFSweepOnlyFreesZeroRefcount(t *testing.T) {
	p := NewPRF(4, 2)
	a := p.Alloc()
	b := p.Alloc()

	p.Addref(a)
	p.MarkPendingFree(a)
	p.MarkPendingFree(b)

	p.Sweep()

	if p.State(a) != PRFPendingFree {
		t.Fatalf("slot with refcount>0 was swept, state=%v", p.State(a))
	}
	if p.State(b) != PRFFree {
		t.Fatalf("slot with refcount==0 was not swept, state=%v", p.State(b))
	}
}

func TestPRFCountByStateSumsToSize(t *testing.T) {
	p := NewPRF(16, 4)
	p.Alloc()
	p.Alloc()
	counts := p.CountByState()
	var total int
	for _, c := range counts {
		total += c
	}
	if total != p.Size() {
		t.Fatalf("CountByState sums to %d, want %d (§8 invariant 2)", total, p.Size())
	}
}
