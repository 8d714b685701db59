package pipeline

// LSQEntry is one in-flight load or store: its resolved-ness, physical
// address, byte-mask, and data, plus a back-pointer to the owning ROB
// entry. Age is simply the LSQ slot index, scanned circularly from the
// allocation cursor.
type LSQEntry struct {
	Valid       bool
	IsStore     bool
	AddrValid   bool
	DataValid   bool
	Invalid     bool // exception marker (page fault, etc.)
	FaultCode   int
	PhysAddr    uint64 // 56-bit, 8-byte granular (low 3 bits always zero)
	Data        uint64
	ByteMask    uint8
	RobIdx      int
}

// LSQ is the combined load/store queue: a circular array sized to the sum
// of the configured load and store limits, with per-kind in-flight
// counters enforced separately per the engine's explicit decision to
// treat LDQ and STQ as independently bounded (see design notes on the
// ambiguous original symmetric treatment).
type LSQ struct {
	entries    []LSQEntry
	ldqLimit   int
	stqLimit   int
	loadsInFlight  int
	storesInFlight int

	free []int
}

func NewLSQ(ldqSize, stqSize int) *LSQ {
	size := ldqSize + stqSize
	q := &LSQ{
		entries:  make([]LSQEntry, size),
		ldqLimit: ldqSize,
		stqLimit: stqSize,
	}
	for i := size - 1; i >= 0; i-- {
		q.free = append(q.free, i)
	}
	return q
}

func (q *LSQ) Size() int { return len(q.entries) }

func (q *LSQ) LoadQueueFull() bool  { return q.loadsInFlight >= q.ldqLimit }
func (q *LSQ) StoreQueueFull() bool { return q.storesInFlight >= q.stqLimit }

// Alloc reserves a slot for a load or store tied to robIdx, returning its
// index, or -1 if the relevant per-kind limit is exhausted.
func (q *LSQ) Alloc(isStore bool, robIdx int) int {
	if isStore && q.StoreQueueFull() {
		return -1
	}
	if !isStore && q.LoadQueueFull() {
		return -1
	}
	n := len(q.free)
	if n == 0 {
		return -1
	}
	idx := q.free[n-1]
	q.free = q.free[:n-1]
	q.entries[idx] = LSQEntry{Valid: true, IsStore: isStore, RobIdx: robIdx}
	if isStore {
		q.storesInFlight++
	} else {
		q.loadsInFlight++
	}
	return idx
}

// Release frees slot idx after commit (store) or completion (load).
func (q *LSQ) Release(idx int) {
	e := &q.entries[idx]
	if !e.Valid {
		return
	}
	if e.IsStore {
		q.storesInFlight--
	} else {
		q.loadsInFlight--
	}
	*e = LSQEntry{}
	q.free = append(q.free, idx)
}

func (q *LSQ) Entry(idx int) *LSQEntry { return &q.entries[idx] }

// OlderStores returns the indices of valid stores in slot i such that i
// is "older" than robIdx under the supplied age function, ordered
// youngest-first (the backward scan order §4.7/§4.8 require).
func (q *LSQ) OlderStores(selfRobIdx int, olderThan func(a, b int) bool) []int {
	var out []int
	for i := range q.entries {
		e := &q.entries[i]
		if e.Valid && e.IsStore && olderThan(e.RobIdx, selfRobIdx) {
			out = append(out, i)
		}
	}
	// Sort youngest-first by ROB age using olderThan as the comparator.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && olderThan(q.entries[out[j-1]].RobIdx, q.entries[out[j]].RobIdx) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// LaterLoads returns valid, address-resolved loads younger than
// selfRobIdx, used by store issue's forward LDQ scan for aliasing
// detection (§4.8 step 4).
func (q *LSQ) LaterLoads(selfRobIdx int, olderThan func(a, b int) bool) []int {
	var out []int
	for i := range q.entries {
		e := &q.entries[i]
		if e.Valid && !e.IsStore && e.AddrValid && olderThan(selfRobIdx, e.RobIdx) {
			out = append(out, i)
		}
	}
	return out
}

// lsapEntry is one learned aliasing RIP in the load-store alias
// predictor.
type lsapEntry struct {
	valid bool
	rip   uint64
}

// LSAP is the load-store alias predictor: a small fully-associative table
// of load RIPs known to have aliased a store in the past, consulted by
// load issue to decide whether to treat an unresolved older store
// pessimistically.
type LSAP struct {
	entries []lsapEntry
	next    int // round-robin replacement cursor
}

func NewLSAP(size int) *LSAP {
	return &LSAP{entries: make([]lsapEntry, size)}
}

// Select reports whether rip is a known-aliasing load.
func (p *LSAP) Select(rip uint64) bool {
	for _, e := range p.entries {
		if e.valid && e.rip == rip {
			return true
		}
	}
	return false
}

// Record inserts rip as a known-aliasing load, evicting round-robin if
// the table is full and rip is not already present.
func (p *LSAP) Record(rip uint64) {
	if p.Select(rip) {
		return
	}
	for i, e := range p.entries {
		if !e.valid {
			p.entries[i] = lsapEntry{valid: true, rip: rip}
			return
		}
	}
	p.entries[p.next] = lsapEntry{valid: true, rip: rip}
	p.next = (p.next + 1) % len(p.entries)
}
