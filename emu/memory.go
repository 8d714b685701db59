// Package emu provides the guest-memory and architectural-state primitives
// the timing engine treats as external state: a flat byte-addressable data
// memory used as the cache hierarchy's backing store, and the architectural
// register snapshot the engine's import/export round trip operates on.
//
// Everything that interprets x86 semantics (the decoder, the per-uop
// executors) lives outside this module; emu only stores bytes and words.
package emu

// pageSize is the granularity at which Memory allocates backing storage and
// at which self-modifying-code invalidation operates.
const pageSize = 4096

// Memory is a sparse, page-allocated flat address space. Pages are
// allocated lazily on first write so that a freshly constructed Memory is
// cheap regardless of the guest's address space size.
type Memory struct {
	pages map[uint64][]byte
}

// NewMemory creates an empty guest memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64][]byte)}
}

func (m *Memory) page(addr uint64, alloc bool) []byte {
	base := addr &^ (pageSize - 1)
	p, ok := m.pages[base]
	if !ok {
		if !alloc {
			return nil
		}
		p = make([]byte, pageSize)
		m.pages[base] = p
	}
	return p
}

// Read8 reads a single byte; unmapped addresses read as zero.
func (m *Memory) Read8(addr uint64) uint8 {
	p := m.page(addr, false)
	if p == nil {
		return 0
	}
	return p[addr&(pageSize-1)]
}

// Write8 writes a single byte, allocating the backing page if needed.
func (m *Memory) Write8(addr uint64, v uint8) {
	p := m.page(addr, true)
	p[addr&(pageSize-1)] = v
}

// ReadBlock reads size bytes starting at addr.
func (m *Memory) ReadBlock(addr uint64, size int) []byte {
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		out[i] = m.Read8(addr + uint64(i))
	}
	return out
}

// WriteBlock writes data starting at addr.
func (m *Memory) WriteBlock(addr uint64, data []byte) {
	for i, b := range data {
		m.Write8(addr+uint64(i), b)
	}
}

// Read64 reads a little-endian 64-bit word.
func (m *Memory) Read64(addr uint64) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(m.Read8(addr+uint64(i))) << (8 * i)
	}
	return v
}

// Write64 writes a little-endian 64-bit word.
func (m *Memory) Write64(addr uint64, v uint64) {
	for i := 0; i < 8; i++ {
		m.Write8(addr+uint64(i), uint8(v>>(8*i)))
	}
}

// Read32 reads a little-endian 32-bit word.
func (m *Memory) Read32(addr uint64) uint32 {
	return uint32(m.ReadMasked(addr, 4))
}

// Write32 writes a little-endian 32-bit word.
func (m *Memory) Write32(addr uint64, v uint32) {
	m.WriteMasked(addr, 4, uint64(v))
}

// ReadMasked reads size bytes (1,2,4,8) zero-extended into a uint64.
func (m *Memory) ReadMasked(addr uint64, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(m.Read8(addr+uint64(i))) << (8 * i)
	}
	return v
}

// WriteMasked writes the low size bytes (1,2,4,8) of v.
func (m *Memory) WriteMasked(addr uint64, size int, v uint64) {
	for i := 0; i < size; i++ {
		m.Write8(addr+uint64(i), uint8(v>>(8*i)))
	}
}
