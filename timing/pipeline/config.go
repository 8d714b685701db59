// Package pipeline implements the out-of-order execution engine: the
// per-cycle rename, dispatch, issue, execute, complete, writeback, commit
// and misspeculation-recovery machinery that drives the Reorder Buffer,
// Physical Register File, Load/Store Queue and clustered Issue Queues.
package pipeline

import "github.com/sarchlab/x86ooo/insts"

// Compile-time structural parameters. These mirror the enumerated
// parameter list a real machine would fix at RTL-generation time; they are
// ordinary struct fields here so tests can exercise small, fast
// configurations, but production configurations are expected to come from
// DefaultConfig with at most the cluster list customized.
type Config struct {
	ROBSize int
	LDQSize int
	STQSize int

	FetchWidth     int
	FrontendWidth  int
	FrontendStages int
	DispatchWidth  int
	CommitWidth    int
	WritebackWidth int

	PhysRegFileSize int
	PhysRegArchBase int // K: architectural register count, permanently in `arch`

	MaxOperands           int // fixed at 4 (RA, RB, RC, RS)
	MaxForwardingLatency  int
	LoadLatency           int
	LSAPSize              int

	Clusters []ClusterConfig

	// InterclusterLatency[src][dst] gives the forward_cycle at which src's
	// completions become visible to dst's issue queue. It is indexed by
	// cluster id, not name.
	InterclusterLatency [][]int
}

// ClusterConfig describes one execution cluster: its issue width, the
// functional-unit classes it offers, and its issue queue size.
type ClusterConfig struct {
	Name         string
	IssueWidth   int
	FUMask       insts.FUMask // bitmask of insts.OpClass bits this cluster can execute
	IssueQSize   int
}

const (
	// MaxOperands is the hardware-fixed operand count (RA, RB, RC, RS).
	MaxOperands = 4
	// MaxClusters bounds the number of clusters a config may declare.
	MaxClusters = 8
	// RegNull is the physical register index meaning "no register", used
	// as PHYS_REG_NULL / the hard-wired zero slot.
	RegNull = 0
)

// DefaultConfig returns a representative single-cluster, moderately wide
// out-of-order configuration suitable for tests and the CLI driver.
func DefaultConfig() Config {
	cfg := Config{
		ROBSize:              64,
		LDQSize:              16,
		STQSize:              16,
		FetchWidth:           4,
		FrontendWidth:        4,
		FrontendStages:       2,
		DispatchWidth:        4,
		CommitWidth:          4,
		WritebackWidth:       4,
		PhysRegFileSize:      128,
		PhysRegArchBase:      16 + int(insts.NumFlagGroups), // GPRs + flag groups
		MaxOperands:          MaxOperands,
		MaxForwardingLatency: 2,
		LoadLatency:          4,
		LSAPSize:             16,
		Clusters: []ClusterConfig{
			{Name: "int0", IssueWidth: 2, FUMask: 0xFF, IssueQSize: 16},
			{Name: "mem0", IssueWidth: 2, FUMask: 0xFF, IssueQSize: 16},
		},
	}
	cfg.InterclusterLatency = defaultForwardingLUT(len(cfg.Clusters))
	return cfg
}

// defaultForwardingLUT builds a same-cycle-everywhere forwarding matrix,
// appropriate for a small number of tightly-coupled clusters.
func defaultForwardingLUT(n int) [][]int {
	lut := make([][]int, n)
	for i := range lut {
		lut[i] = make([]int, n)
		for j := range lut[i] {
			if i == j {
				lut[i][j] = 0
			} else {
				lut[i][j] = 1
			}
		}
	}
	return lut
}

// Validate checks a Config for internal consistency, returning a
// descriptive error for the first problem found.
func (c Config) Validate() error {
	switch {
	case c.ROBSize <= 0:
		return errConfig("ROBSize must be > 0")
	case c.LDQSize <= 0:
		return errConfig("LDQSize must be > 0")
	case c.STQSize <= 0:
		return errConfig("STQSize must be > 0")
	case c.PhysRegFileSize <= c.PhysRegArchBase:
		return errConfig("PhysRegFileSize must exceed PhysRegArchBase")
	case len(c.Clusters) == 0:
		return errConfig("at least one cluster is required")
	case len(c.Clusters) > MaxClusters:
		return errConfig("too many clusters")
	}
	for _, cl := range c.Clusters {
		if cl.IssueQSize <= 0 || cl.IssueWidth <= 0 {
			return errConfig("cluster " + cl.Name + " has non-positive width/size")
		}
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }
