// Package decode provides a thin disassembly helper over golang.org/x/arch's
// x86 decoder. It exists purely as a diagnostic aid for the CLI: printing
// what a byte stream actually contains when preparing or debugging a
// synthesized workload (see the workload package). The pipeline engine
// itself never calls this package — real decoding into executable uops
// is the out-of-scope decoder collaborator (spec §1) that a production
// build would supply through insts.BasicBlockProvider.
package decode

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Line is one decoded (or failed-to-decode) instruction.
type Line struct {
	Addr   uint64
	Length int
	Text   string
	Err    error
}

// Disassemble walks code as 64-bit x86 machine code starting at base,
// decoding one instruction at a time until the bytes are exhausted. A
// decode failure emits a single-byte placeholder line and resumes at the
// next byte, the same recovery a real instruction-cache line re-fetch
// would perform after a decode fault.
func Disassemble(code []byte, base uint64) []Line {
	var lines []Line
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil || inst.Len == 0 {
			lines = append(lines, Line{
				Addr:   base + uint64(offset),
				Length: 1,
				Text:   fmt.Sprintf("(bad byte 0x%02x)", code[offset]),
				Err:    err,
			})
			offset++
			continue
		}
		lines = append(lines, Line{
			Addr:   base + uint64(offset),
			Length: inst.Len,
			Text:   inst.String(),
		})
		offset += inst.Len
	}
	return lines
}

// Format renders decoded lines the way a disassembly listing conventionally
// looks: address, raw length, mnemonic text.
func Format(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%#08x: %-32s (%d bytes)\n", l.Addr, l.Text, l.Length)
	}
	return b.String()
}
