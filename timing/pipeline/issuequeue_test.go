package pipeline

import "testing"

func TestIssueQueueInsertRejectsDuplicateUopID(t *testing.T) {
	q := NewIssueQueue(4)
	tags := [MaxOperands]int{-1, -1, -1, -1}
	ready := [MaxOperands]bool{true, true, true, true}

	if slot := q.Insert(7, tags, ready); slot < 0 {
		t.Fatalf("first Insert should succeed")
	}
	if slot := q.Insert(7, tags, ready); slot != -1 {
		t.Fatalf("duplicate uopID Insert should return -1, got %d", slot)
	}
}

func TestIssueQueueBroadcastWakesWaitingOperand(t *testing.T) {
	q := NewIssueQueue(4)
	tags := [MaxOperands]int{10, -1, -1, -1}
	ready := [MaxOperands]bool{false, true, true, true}

	slot := q.Insert(20, tags, ready)
	if q.ready(slot) {
		t.Fatalf("slot should not be ready before its producer broadcasts")
	}

	q.Broadcast(10)
	if !q.ready(slot) {
		t.Fatalf("slot should be ready once its sole pending producer broadcasts")
	}
}

func TestIssueQueueIssuePicksLowestReadySlot(t *testing.T) {
	q := NewIssueQueue(4)
	allReady := [MaxOperands]bool{true, true, true, true}
	noTags := [MaxOperands]int{-1, -1, -1, -1}

	q.Insert(1, noTags, [MaxOperands]bool{false, true, true, true}) // slot 0, waiting
	q.Insert(2, noTags, allReady)                                  // slot 1, ready

	slot, uopID := q.Issue()
	if slot != 1 || uopID != 2 {
		t.Fatalf("Issue() = (%d, %d), want (1, 2) — the lowest ready slot", slot, uopID)
	}

	// A second Issue call must not return the same slot twice.
	if s, _ := q.Issue(); s == 1 {
		t.Fatalf("Issue() returned an already-issued slot a second time")
	}
}

func TestIssueQueueReplayClearsIssuedBit(t *testing.T) {
	q := NewIssueQueue(2)
	allReady := [MaxOperands]bool{true, true, true, true}
	noTags := [MaxOperands]int{-1, -1, -1, -1}

	slot := q.Insert(5, noTags, allReady)
	q.Issue()

	q.Replay(slot, noTags, allReady)
	if !q.ready(slot) {
		t.Fatalf("Replay should re-seed the slot as ready for re-issue")
	}
}

func TestIssueQueueReleaseFreesSlotForReuse(t *testing.T) {
	q := NewIssueQueue(1)
	allReady := [MaxOperands]bool{true, true, true, true}
	noTags := [MaxOperands]int{-1, -1, -1, -1}

	slot := q.Insert(1, noTags, allReady)
	q.Release(slot)

	if q.Contains(1) {
		t.Fatalf("Release should drop the uopID from the queue")
	}
	if s := q.Insert(2, noTags, allReady); s < 0 {
		t.Fatalf("freed slot should be reusable by a new uopID")
	}
}

func TestIssueQueueAnnulUop(t *testing.T) {
	q := NewIssueQueue(2)
	allReady := [MaxOperands]bool{true, true, true, true}
	noTags := [MaxOperands]int{-1, -1, -1, -1}

	q.Insert(9, noTags, allReady)
	if !q.AnnulUop(9) {
		t.Fatalf("AnnulUop should report true for a present uop")
	}
	if q.AnnulUop(9) {
		t.Fatalf("AnnulUop should report false once the uop is already gone")
	}
}
