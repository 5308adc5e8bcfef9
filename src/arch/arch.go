// Package arch is Fornax's one arch-dependent seam: decoding the faulting
// instruction bytes a trap handler captured, for the diagnostic text
// attached to a forced-zombie fault report (§4.8). Every other package in
// the tree is host-architecture-agnostic by construction (processes are
// goroutines, address spaces are Go maps); this is the one place actual
// x86_64 machine code ever gets looked at, and it follows the same
// disassembly library a hosted hypervisor's trap handler would use to
// explain a guest fault.
package arch

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DisassembleOne decodes the single 64-bit-mode instruction at the front of
// code and renders it in AT&T syntax, or a placeholder string if the bytes
// don't decode as valid x86_64 (the common case right after a genuine
// illegal-instruction fault).
func DisassembleOne(code []byte) string {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return x86asm.GNUSyntax(inst, 0, nil)
}

// InstLen reports how many bytes the decoded instruction occupies, used to
// advance a faulting program counter past an instruction the supervisor
// chooses to skip rather than kill over (§9 Open Questions: "is a
// single-step fault recoverable" resolved in favor of "only the supervisor
// decides, per fault class").
func InstLen(code []byte) int {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 1
	}
	return inst.Len
}
