package cache

// ICacheAdapter exposes a Cache as the pipeline engine's instruction-cache
// probe collaborator. The engine only asks whether a fetch line is
// resident; it never sees latency or eviction detail, so a hit still
// costs a directory lookup here but never a stall the engine has to
// account for beyond the boolean answer.
type ICacheAdapter struct {
	cache *Cache
}

// NewICacheAdapter wraps cache as an instruction-cache oracle.
func NewICacheAdapter(cache *Cache) *ICacheAdapter {
	return &ICacheAdapter{cache: cache}
}

// Probe reports whether the fetch line containing rip is resident,
// pulling it in from backing storage on a miss the same way a real L1I
// would refill before the fetch stage can use the line.
func (a *ICacheAdapter) Probe(rip uint64) bool {
	res := a.cache.Read(rip, 1)
	return res.Hit
}

// DCacheAdapter exposes a Cache as the pipeline engine's data-cache
// probe/commit collaborator for loads and stores.
type DCacheAdapter struct {
	cache *Cache
}

// NewDCacheAdapter wraps cache as a data-cache oracle.
func NewDCacheAdapter(cache *Cache) *DCacheAdapter {
	return &DCacheAdapter{cache: cache}
}

// ProbeAndCheckSFR reports whether addr..addr+sizeBytes is resident and,
// if so, returns its current bytes. A miss still allocates the line (the
// engine's load-issue stage inflates latency itself on a reported miss;
// this adapter only ever answers with the line's true contents once the
// directory has it).
func (a *DCacheAdapter) ProbeAndCheckSFR(addr uint64, sizeBytes int) (bool, []byte) {
	res := a.cache.Read(addr, sizeBytes)
	data := make([]byte, sizeBytes)
	for i := 0; i < sizeBytes; i++ {
		data[i] = byte(res.Data >> (8 * uint(i)))
	}
	return res.Hit, data
}

// CommitStore writes the masked bytes of data into the line at addr,
// marking it dirty in the directory the way a committing store would.
func (a *DCacheAdapter) CommitStore(addr uint64, data []byte, byteMask uint8) bool {
	for i := 0; i < len(data) && i < 8; i++ {
		if byteMask&(1<<uint(i)) == 0 {
			continue
		}
		a.cache.Write(addr+uint64(i), 1, uint64(data[i]))
	}
	return true
}
