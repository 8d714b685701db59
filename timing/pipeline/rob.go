package pipeline

// RobListKind names one of the ~30 stage-lists a ROB entry can belong to.
// Cluster-scoped kinds (Dispatched..ReadyWriteback) are further indexed
// by cluster id; the others are global.
type RobListKind uint8

const (
	ListFree RobListKind = iota
	ListFrontend
	ListReadyDispatch
	ListDispatched
	ListReadyIssue
	ListReadyLoad
	ListReadyStore
	ListIssued
	ListCompleted
	ListReadyWriteback
	ListReadyCommit
	numListKinds
)

func listKey(kind RobListKind, cluster int) int {
	return int(kind)*MaxClusters + cluster
}

// RobEntry is one in-flight uop's bookkeeping: its PRF/LSQ ownership, its
// source-operand PRF references, and the scheduling fields the stages
// advance each cycle.
type RobEntry struct {
	Valid bool
	Self  int // this entry's own ROB index, for code paths not already tracking it

	RIP  uint64
	SOM  bool
	EOM  bool

	// Source operand PRF slot indices; -1 means "no such operand".
	RA, RB, RC, RS int
	Dest           int // destination PRF slot, -1 if the uop writes no register
	FlagDest       [3]int // per flag-group (ZF,CF,OF) destination PRF slot, -1 if unset
	DestArchReg    int    // architectural register the Dest slot maps from, -1 if none
	FlagSetMask    uint8  // which of the three flag groups this uop defines

	HasLSQ  bool
	LSQSlot int

	CyclesLeft         int
	ForwardCycle       int
	Cluster            int
	IssueQSlot         int
	LoadStoreSecondPhase bool

	Kind    RobListKind // which list currently contains this entry
	UopIdx  int         // index into the decoded uop stream, for Executor/opclass lookup
	OpClass int         // insts.OpClass, cached at rename for fast dispatch/commit scans

	CommitResult commitResultCode // set by issue when the uop short-circuits to ready-to-commit
}

// ROB is the circular reorder buffer: R entries, a head (oldest) and a
// tail (next free), plus the full family of stage-lists entries move
// through between rename and commit or annul.
type ROB struct {
	entries []RobEntry
	head    int
	tail    int
	count   int

	lists map[int]*stateList
}

// NewROB allocates a ROB of the given size with every entry initially in
// ListFree.
func NewROB(size int) *ROB {
	r := &ROB{
		entries: make([]RobEntry, size),
		lists:   make(map[int]*stateList),
	}
	for i := range r.entries {
		r.entries[i].RA, r.entries[i].RB, r.entries[i].RC, r.entries[i].RS = -1, -1, -1, -1
		r.entries[i].Dest = -1
		r.entries[i].DestArchReg = -1
		r.entries[i].FlagDest = [3]int{-1, -1, -1}
	}
	r.list(ListFree, 0).items = nil
	return r
}

func (r *ROB) Size() int { return len(r.entries) }
func (r *ROB) Count() int { return r.count }
func (r *ROB) Full() bool { return r.count == len(r.entries) }
func (r *ROB) Empty() bool { return r.count == 0 }
func (r *ROB) Head() int  { return r.head }

func (r *ROB) Entry(idx int) *RobEntry { return &r.entries[idx] }

func (r *ROB) list(kind RobListKind, cluster int) *stateList {
	key := listKey(kind, cluster)
	l, ok := r.lists[key]
	if !ok {
		l = newStateList()
		r.lists[key] = l
	}
	return l
}

// List returns the age-ordered contents of the given list. Cluster is
// ignored for global list kinds.
func (r *ROB) List(kind RobListKind, cluster int) []int {
	return r.list(kind, cluster).Items()
}

// MoveTo removes idx from whatever list it is currently in and adds it to
// the target list, updating its Kind/Cluster bookkeeping. This is the
// engine's sole mechanism for advancing an entry through the pipeline.
func (r *ROB) MoveTo(idx int, kind RobListKind, cluster int) {
	e := &r.entries[idx]
	r.list(e.Kind, e.Cluster).Remove(idx)
	e.Kind = kind
	if kind == ListDispatched || kind == ListReadyIssue || kind == ListReadyLoad ||
		kind == ListReadyStore || kind == ListIssued || kind == ListCompleted ||
		kind == ListReadyWriteback {
		e.Cluster = cluster
	}
	r.list(kind, cluster).Add(idx)
}

// Reserve allocates the tail entry for a newly renamed uop, advancing the
// tail and returning its index. Callers must have already checked Full().
func (r *ROB) Reserve() int {
	idx := r.tail
	e := &r.entries[idx]
	*e = RobEntry{Valid: true, Self: idx, RA: -1, RB: -1, RC: -1, RS: -1, Dest: -1, DestArchReg: -1, FlagDest: [3]int{-1, -1, -1}}
	r.list(ListFree, 0).Remove(idx)
	r.tail = (r.tail + 1) % len(r.entries)
	r.count++
	return idx
}

// RewindTail is used by the annul path's LIFO reclamation, where entries
// free from the tail backward rather than the head forward; it simply
// rewinds the tail pointer by one slot, reclaiming the current (tail-1)
// entry.
func (r *ROB) RewindTail() {
	r.tail = (r.tail - 1 + len(r.entries)) % len(r.entries)
	r.count--
}

// Retire frees the head entry during in-order commit and advances head.
func (r *ROB) Retire(idx int) {
	e := &r.entries[idx]
	r.list(e.Kind, e.Cluster).Remove(idx)
	e.Valid = false
	e.Kind = ListFree
	r.list(ListFree, 0).Add(idx)
	r.head = (r.head + 1) % len(r.entries)
	r.count--
}

// FreeFromAnnul removes idx from its current list and marks it free
// without touching head/tail bookkeeping directly; the caller (annul.go)
// is responsible for driving head/tail back to a consistent state since
// annul reclaims from the tail inward in reverse program order.
func (r *ROB) FreeFromAnnul(idx int) {
	e := &r.entries[idx]
	r.list(e.Kind, e.Cluster).Remove(idx)
	e.Valid = false
	e.Kind = ListFree
	r.list(ListFree, 0).Add(idx)
}

// Next returns the ROB index following idx in program order (circularly).
func (r *ROB) Next(idx int) int { return (idx + 1) % len(r.entries) }

// Prev returns the ROB index preceding idx in program order.
func (r *ROB) Prev(idx int) int { return (idx - 1 + len(r.entries)) % len(r.entries) }

// AgeOrdered returns the subset of idxs that are Valid, ordered from
// oldest (closest to head) to youngest, used wherever a stage must
// process entries strictly in program order regardless of which
// unordered stateList they were pulled from.
func (r *ROB) AgeOrdered(idxs []int) []int {
	age := make(map[int]int, len(idxs))
	for _, idx := range idxs {
		d := idx - r.head
		if d < 0 {
			d += len(r.entries)
		}
		age[idx] = d
	}
	out := make([]int, len(idxs))
	copy(out, idxs)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && age[out[j-1]] > age[out[j]] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
