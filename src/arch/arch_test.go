package arch

import "testing"

func TestDisassembleOneValidInstruction(t *testing.T) {
	// 0x90 is NOP.
	s := DisassembleOne([]byte{0x90})
	if s != "nop" {
		t.Fatalf("DisassembleOne(NOP) = %q, want %q", s, "nop")
	}
	if n := InstLen([]byte{0x90}); n != 1 {
		t.Fatalf("InstLen(NOP) = %d, want 1", n)
	}
}

func TestDisassembleOneInvalidBytes(t *testing.T) {
	s := DisassembleOne([]byte{0x0f, 0xff})
	if s == "" {
		t.Fatal("DisassembleOne should return a placeholder, not empty, for bad bytes")
	}
}
