// Package vm implements per-process address spaces: page table
// construction, mapping/unmapping, full-copy cloning, and the fixed argv
// block layout (§4.2 Paging / Address Spaces).
//
// The teacher kernel (vm/as.go) walks real four-level amd64 page tables
// through a hardware direct map. Fornax is hosted, so a Vm_t's "page table"
// is a plain map keyed by page-aligned virtual address; the mapping
// semantics — present/writable/user flags, copy-on-write bit reserved but
// unused because full-copy cloning is acceptable and simpler (§4.2), one
// lock per address space with no cross-process locking needed because the
// kernel never yields mid-critical-section (§5) — are unchanged.
package vm

import (
	"sync"

	"bounds"
	"defs"
	"mem"
)

type VA uintptr

type pte_t struct {
	pa    mem.Pa_t
	flags mem.Pa_t
}

// Vm_t is one process's address space: its page table plus the high-water
// mark used by brk(2).
type Vm_t struct {
	mu    sync.Mutex
	table map[VA]pte_t
	brk   VA
	brkLo VA
}

// NewAddrSpace implements create_address_space(): an empty page table with
// the user break initialized just above the reserved null page.
func NewAddrSpace() *Vm_t {
	return &Vm_t{
		table: make(map[VA]pte_t),
		brk:   bounds.USERMIN,
		brkLo: bounds.USERMIN,
	}
}

func pageAlign(va VA) VA {
	return va &^ VA(mem.PGSIZE-1)
}

// Map installs a mapping from va to pa with the given PTE flags
// (mem.PTE_P/W/U), implementing map(space, virt, phys, flags). It takes a
// reference on the frame, mirroring "a frame's refcount is implicit in its
// mappings" (§3 DATA MODEL).
func (as *Vm_t) Map(va VA, pa mem.Pa_t, flags mem.Pa_t) defs.Err_t {
	if va >= bounds.USERMAX {
		return -defs.EINVAL
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	va = pageAlign(va)
	if old, ok := as.table[va]; ok {
		mem.Physmem.Refdown(old.pa)
	}
	mem.Physmem.Refup(pa)
	as.table[va] = pte_t{pa: pa, flags: flags | mem.PTE_P}
	return 0
}

// Unmap implements unmap(space, virt): it drops the mapping and releases
// the PMM reference, returning the frame to the free list if this was the
// last reference.
func (as *Vm_t) Unmap(va VA) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	va = pageAlign(va)
	pte, ok := as.table[va]
	if !ok {
		return -defs.EFAULT
	}
	delete(as.table, va)
	mem.Physmem.Refdown(pte.pa)
	return 0
}

// Pages reports how many pages this address space currently maps, for
// /proc's status file.
func (as *Vm_t) Pages() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.table)
}

// Translate looks up the mapping for va, returning the backing frame, the
// flags it was mapped with, and whether it is present.
func (as *Vm_t) Translate(va VA) (mem.Pa_t, mem.Pa_t, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.table[pageAlign(va)]
	if !ok {
		return 0, 0, false
	}
	return pte.pa, pte.flags, true
}

// CloneSpace implements clone_space(src) -> dst: a full copy of every
// mapped page into freshly allocated frames. Copy-on-write is explicitly
// not required by §4.2 ("full-copy is acceptable and simpler"), so rfork
// and fork both pay a full memcpy rather than deferring it to the first
// write.
func CloneSpace(src *Vm_t) (*Vm_t, bool) {
	src.mu.Lock()
	defer src.mu.Unlock()

	dst := NewAddrSpace()
	dst.brk = src.brk
	dst.brkLo = src.brkLo
	for va, pte := range src.table {
		if pte.flags&mem.PTE_U == 0 {
			// kernel mappings are identical across every address
			// space and are installed separately at boot; cloning
			// a user address space never copies them (§4.2
			// invariant: "kernel mappings are byte-identical").
			continue
		}
		npa, ok := mem.Physmem.AllocFrameNoZero(mem.FrameUser)
		if !ok {
			// unwind what we've allocated so far before reporting failure.
			for uva := range dst.table {
				dst.Unmap(uva)
			}
			return nil, false
		}
		copy(mem.Physmem.Dmap(npa), mem.Physmem.Dmap(pte.pa))
		dst.table[va] = pte_t{pa: npa, flags: pte.flags}
	}
	return dst, true
}

// Teardown releases every user frame this address space maps. Per §9, the
// kernel metadata backing the page table itself (here, the Go map) is
// reclaimed by the host garbage collector rather than the bump heap the
// teacher kernel cannot reclaim from — an improvement the hosted
// environment gives us for free, not a change in semantics for user-owned
// frames, which are still released exactly as specified.
func (as *Vm_t) Teardown() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va, pte := range as.table {
		mem.Physmem.Refdown(pte.pa)
		delete(as.table, va)
	}
}

// Brk implements the brk(2) syscall: grow or shrink the break, allocating
// or releasing frames to back the new region. addr == 0 queries the
// current break without changing it.
func (as *Vm_t) Brk(addr VA) (VA, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if addr == 0 {
		return as.brk, 0
	}
	if addr < as.brkLo {
		return 0, -defs.EINVAL
	}
	oldPage := pageAlign(as.brk - 1)
	newPage := pageAlign(addr - 1)
	if addr > as.brk {
		for p := oldPage + VA(mem.PGSIZE); p <= newPage; p += VA(mem.PGSIZE) {
			if _, ok := as.table[p]; ok {
				continue
			}
			pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
			if !ok {
				return 0, -defs.ENOMEM
			}
			mem.Physmem.Refup(pa)
			as.table[p] = pte_t{pa: pa, flags: mem.PTE_P | mem.PTE_W | mem.PTE_U}
		}
	} else {
		for p := newPage + VA(mem.PGSIZE); p <= oldPage; p += VA(mem.PGSIZE) {
			if pte, ok := as.table[p]; ok {
				delete(as.table, p)
				mem.Physmem.Refdown(pte.pa)
			}
		}
	}
	as.brk = addr
	return as.brk, 0
}

// PlaceArgv writes the argc/argv/strtab block at the fixed virtual address
// every user process expects it at (§4.2, §6 "Argv block"). It maps one
// fresh frame there and returns only an error code.
func (as *Vm_t) PlaceArgv(argv [][]byte) defs.Err_t {
	total := 8 + 8*(len(argv)+1)
	strtabOff := total
	for _, a := range argv {
		total += len(a) + 1
	}
	if total > mem.PGSIZE {
		return -defs.EINVAL
	}
	pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		return -defs.ENOMEM
	}
	buf := mem.Physmem.Dmap(pa)

	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putU64(0, uint64(len(argv)))
	strOff := strtabOff
	for i, a := range argv {
		putU64(8+8*i, uint64(defs.ArgvVA+strOff))
		copy(buf[strOff:], a)
		buf[strOff+len(a)] = 0
		strOff += len(a) + 1
	}
	// argv[argc] == NULL, per the invariant in §8 TESTABLE PROPERTIES.
	putU64(8+8*len(argv), 0)

	return as.Map(VA(defs.ArgvVA), pa, mem.PTE_P|mem.PTE_U)
}
