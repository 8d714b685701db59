package pipeline

import "testing"

func TestBranchPredictorDefaultsWeaklyNotTaken(t *testing.T) {
	p := NewBranchPredictor()
	got := p.Predict(0x1000, HintNone, 0x1004, 0x2000)
	if got != 0x1004 {
		t.Fatalf("fresh predictor should predict fallthrough (0x1004), got %#x", got)
	}
}

func TestBranchPredictorLearnsTakenDirection(t *testing.T) {
	p := NewBranchPredictor()
	rip, fallthroughRIP, takenRIP := uint64(0x1000), uint64(0x1004), uint64(0x2000)

	// Saturate the counter taken long enough to cross the weakly/strongly
	// taken boundary (2-bit counter, starts at 1).
	for i := 0; i < 3; i++ {
		p.Update(rip, fallthroughRIP, takenRIP, true, false)
	}

	if got := p.Predict(rip, HintNone, fallthroughRIP, takenRIP); got != takenRIP {
		t.Fatalf("predictor should now predict taken (%#x), got %#x", takenRIP, got)
	}
}

func TestBranchPredictorAccuracyTracksUpdates(t *testing.T) {
	p := NewBranchPredictor()
	p.Update(0x1000, 0x1004, 0x2000, true, true)   // correct
	p.Update(0x1000, 0x1004, 0x2000, false, true)  // incorrect

	if got := p.Accuracy(); got != 0.5 {
		t.Fatalf("Accuracy() = %v, want 0.5 after one correct and one incorrect update", got)
	}
}

func TestBranchPredictorRASPushAndReturnHint(t *testing.T) {
	p := NewBranchPredictor()
	p.UpdateRAS(0x1010) // a call's fallthrough (return address)

	got := p.Predict(0x2000, HintReturn, 0x2004, 0)
	if got != 0x1010 {
		t.Fatalf("a return hint should predict the top of the RAS (0x1010), got %#x", got)
	}
}

func TestBranchPredictorRASEmptyReturnFallsThrough(t *testing.T) {
	p := NewBranchPredictor()
	got := p.Predict(0x2000, HintReturn, 0x2004, 0)
	if got != 0x2004 {
		t.Fatalf("a return hint against an empty RAS should fall through, got %#x", got)
	}
}

// TestBranchPredictorAnnulRASReverseOrder exercises the Open Question
// decision recorded in DESIGN.md: AnnulRAS must undo the most recent
// mutations first, symmetric with the ROB's own tail-first annul order.
func TestBranchPredictorAnnulRASReverseOrder(t *testing.T) {
	p := NewBranchPredictor()
	p.UpdateRAS(0x1000) // push A
	p.UpdateRAS(0x2000) // push B, now top of stack

	p.AnnulRAS(1) // should undo only the most recent push (B)

	got := p.Predict(0x3000, HintReturn, 0x3004, 0)
	if got != 0x1000 {
		t.Fatalf("after annulling the last push, RAS top should be the earlier push (0x1000), got %#x", got)
	}
}

func TestBranchPredictorAnnulRASRestoresPoppedValue(t *testing.T) {
	p := NewBranchPredictor()
	p.UpdateRAS(0x1000)
	p.popRAS() // simulates a return consuming the RAS entry

	p.AnnulRAS(1) // undo the pop: the value must come back

	got := p.Predict(0x3000, HintReturn, 0x3004, 0)
	if got != 0x1000 {
		t.Fatalf("annulling a pop should restore the popped value (0x1000), got %#x", got)
	}
}

func TestBranchPredictorFlushClearsRAS(t *testing.T) {
	p := NewBranchPredictor()
	p.UpdateRAS(0x1000)
	p.Flush()

	got := p.Predict(0x3000, HintReturn, 0x3004, 0)
	if got != 0x3004 {
		t.Fatalf("Flush should empty the RAS, expected return hint to fall through, got %#x", got)
	}
}
