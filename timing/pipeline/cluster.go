package pipeline

import "github.com/sarchlab/x86ooo/insts"

// Cluster is one partition of execution resources: an issue queue, an
// issue width, and the functional-unit classes it offers. The ROB is
// logically partitioned across clusters at dispatch time; a cluster owns
// no ROB storage of its own, only the scheduling structures keyed by
// ROB id.
type Cluster struct {
	Name       string
	IssueWidth int
	FUMask     insts.FUMask
	IQ         *IssueQueue

	// availableFUs is recomputed at the start of each cycle's issue stage
	// from FUMask; issue consumes bits from it as functional units are
	// reserved, modeling a fixed per-class unit count of one.
	availableFUs insts.FUMask
}

func newCluster(cfg ClusterConfig) *Cluster {
	return &Cluster{
		Name:       cfg.Name,
		IssueWidth: cfg.IssueWidth,
		FUMask:     cfg.FUMask,
		IQ:         NewIssueQueue(cfg.IssueQSize),
	}
}

// CanExecute reports whether this cluster offers a functional unit for
// the given opclass.
func (c *Cluster) CanExecute(class insts.OpClass) bool {
	return c.FUMask&class.RequiredFUs() != 0
}

// resetFUs is called once per cycle before issue to refill the
// available-FU mask from the cluster's static capability mask.
func (c *Cluster) resetFUs() { c.availableFUs = c.FUMask }

// reserveFU attempts to reserve a functional unit for class, returning
// false if none is available this cycle.
func (c *Cluster) reserveFU(class insts.OpClass) bool {
	need := class.RequiredFUs()
	if c.availableFUs&need == 0 {
		return false
	}
	c.availableFUs &^= need
	return true
}
