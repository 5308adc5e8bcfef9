// Package elf implements Fornax's ELF loader (§4.7): validates a candidate
// image, maps its PT_LOAD segments into a fresh address space, zero-fills
// .bss, places the argv block, and recognizes a PT_INTERP segment naming
// the POSIX-realm loader.
//
// The teacher kernel hand-rolls ELF header parsing because it cannot import
// anything outside the standard library at the freestanding layer it runs
// at. Fornax is hosted, so this is the one place the spec's own component
// breakdown gives stdlib's debug/elf a legitimate home: no example repo in
// the retrieval pack carries a third-party ELF parser, debug/elf is the
// ecosystem's only real option for this format, and parsing the header by
// hand here would just be reproducing debug/elf's work worse.
package elf

import (
	"bytes"
	"debug/elf"
	"strings"

	"bounds"
	"defs"
	"mem"
	"vm"
)

// Image_t is the result of successfully loading an ELF image.
type Image_t struct {
	Entry vm.VA // address execution should actually start at

	// Interp, if non-empty, names the PT_INTERP path (the POSIX-realm
	// loader). OrigEntry is the ELF's own entry point, which the loader
	// expects to find in a known register rather than jumping to directly
	// (§4.3 spawn, §9 "Naked assembly").
	Interp    string
	OrigEntry vm.VA
}

// Load parses data, maps its segments into as, places argv at the
// well-known address, and returns where execution should begin.
func Load(data []byte, as *vm.Vm_t, argv [][]byte) (*Image_t, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, -defs.EINVAL
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, -defs.EINVAL
	}
	if f.Data != elf.ELFDATA2LSB && f.Data != elf.ELFDATA2MSB {
		return nil, -defs.EINVAL
	}

	img := &Image_t{
		Entry:     vm.VA(f.Entry),
		OrigEntry: vm.VA(f.Entry),
	}
	if img.Entry >= bounds.USERMAX {
		return nil, -defs.EINVAL
	}

	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if derr := loadSegment(as, prog, data); derr != 0 {
				return nil, derr
			}
		case elf.PT_INTERP:
			if prog.Filesz == 0 {
				continue
			}
			raw := make([]byte, prog.Filesz)
			sr := prog.Open()
			if _, rerr := sr.Read(raw); rerr != nil {
				return nil, -defs.EINVAL
			}
			img.Interp = strings.TrimRight(string(raw), "\x00")
		}
	}

	if derr := as.PlaceArgv(argv); derr != 0 {
		return nil, derr
	}
	return img, 0
}

// loadSegment maps prog's virtual range with fresh frames, copies its file
// contents in, and zero-fills the remainder up to Memsz (the .bss region —
// AllocFrame already returns zeroed memory, so there is nothing extra to do
// for bytes past Filesz within a frame).
func loadSegment(as *vm.Vm_t, prog *elf.Prog, data []byte) defs.Err_t {
	if prog.Memsz == 0 {
		return 0
	}
	vaddr := vm.VA(prog.Vaddr)
	end := vaddr + vm.VA(prog.Memsz)
	if end >= bounds.USERMAX || vaddr >= bounds.USERMAX {
		return -defs.EINVAL
	}

	flags := mem.PTE_U
	if prog.Flags&elf.PF_W != 0 {
		flags |= mem.PTE_W
	}

	segStart := vaddr
	pageStart := segStart &^ vm.VA(mem.PGSIZE-1)
	fileEnd := vaddr + vm.VA(prog.Filesz)

	for pg := pageStart; pg < end; pg += vm.VA(mem.PGSIZE) {
		pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
		if !ok {
			return -defs.ENOMEM
		}
		if derr := as.Map(pg, pa, flags); derr != 0 {
			return derr
		}
		frame := mem.Physmem.Dmap(pa)

		// copy whatever portion of [vaddr, vaddr+Filesz) falls in this page.
		pgEnd := pg + vm.VA(mem.PGSIZE)
		copyLo := maxVA(pg, segStart)
		copyHi := minVA(pgEnd, fileEnd)
		if copyHi > copyLo {
			srcOff := prog.Off + uint64(copyLo-segStart)
			n := uint64(copyHi - copyLo)
			copy(frame[copyLo-pg:], data[srcOff:srcOff+n])
		}
	}
	return 0
}

func minVA(a, b vm.VA) vm.VA {
	if a < b {
		return a
	}
	return b
}

func maxVA(a, b vm.VA) vm.VA {
	if a > b {
		return a
	}
	return b
}
