// Package mem implements the physical memory manager: a refcounted
// freelist allocator over a fixed pool of 4 KiB frames (§4.1 Physical Memory
// & Heap, §3 DATA MODEL "Page frame").
//
// The teacher kernel drives this allocator from a modified Go runtime that
// hands out real physical pages and a hardware direct-map (mem/dmap.go).
// Fornax runs hosted, so Physmem_t instead owns one large byte arena and
// hands out slices into it; the allocation algorithm — a refcounted
// singly-linked freelist threaded through the frame metadata array, no
// locking required because the kernel runs cooperatively to completion
// before ever yielding (§5 Shared-resource policy) — is unchanged.
package mem

import (
	"fmt"
	"sync/atomic"

	"oommsg"
)

const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT

type Pa_t uintptr

const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)
const PGMASK Pa_t = ^PGOFFSET

// Page table entry flag bits (§4.2 Paging). Kept here, not in package vm,
// because both the PMM and the page-table code need a shared vocabulary for
// "is this frame mapped writable/present/user-accessible".
const (
	PTE_P    Pa_t = 1 << 0
	PTE_W    Pa_t = 1 << 1
	PTE_U    Pa_t = 1 << 2
	PTE_COW  Pa_t = 1 << 9
	PTE_ADDR Pa_t = PGMASK
)

// Pg_t is one page-sized chunk of memory. alloc_frame's contract
// ("returns zero-initialized memory") is enforced by AllocFrame.
type Pg_t [PGSIZE]uint8

// Owner_t distinguishes the three states a frame can be in (§3 DATA MODEL
// "Page frame"); free/kernel-owned/user-owned are tracked explicitly rather
// than inferred, so Sysinfo and the /proc status file can report it without
// walking every address space.
type Owner_t int

const (
	FrameFree Owner_t = iota
	FrameKernel
	FrameUser
)

type physpg_t struct {
	refcnt int32
	nexti  uint32
	owner  Owner_t
}

const freeEnd = ^uint32(0)

// Physmem_t is the system-wide physical frame allocator.
type Physmem_t struct {
	arena  []byte
	pgs    []physpg_t
	freei  uint32
	nfree  int32
	ntotal int
}

// Physmem is the global physical memory allocator instance, mirroring the
// teacher kernel's single package-level Physmem value.
var Physmem = &Physmem_t{}

// Init reserves npages frames of backing storage. Called once at boot
// (analogous to Phys_init consuming the firmware memory map); Fornax has no
// firmware map to parse, so the reservation size is simply a parameter.
func Init(npages int) *Physmem_t {
	phys := Physmem
	phys.arena = make([]byte, npages*PGSIZE)
	phys.pgs = make([]physpg_t, npages)
	phys.ntotal = npages
	for i := range phys.pgs {
		phys.pgs[i].nexti = uint32(i + 1)
	}
	phys.pgs[npages-1].nexti = freeEnd
	phys.freei = 0
	phys.nfree = int32(npages)
	fmt.Printf("mem: reserved %d frames (%d KiB)\n", npages, npages*PGSIZE/1024)
	return phys
}

func (phys *Physmem_t) idxToPa(idx uint32) Pa_t {
	return Pa_t(idx) << PGSHIFT
}

func (phys *Physmem_t) paToIdx(p Pa_t) uint32 {
	idx := uint32(p >> PGSHIFT)
	if int(idx) >= phys.ntotal {
		panic("mem: physical address out of range")
	}
	return idx
}

// AllocFrame implements alloc_frame(): it returns a zeroed frame, or false
// if the pool is exhausted (§7 resource exhaustion).
func (phys *Physmem_t) AllocFrame(owner Owner_t) (Pa_t, bool) {
	pg, pa, ok := phys.refpgNew(owner)
	if !ok {
		return 0, false
	}
	for i := range pg {
		pg[i] = 0
	}
	return pa, true
}

// AllocFrameNoZero is the fast path used when the caller will overwrite the
// entire frame anyway (e.g. reading a disk block into it).
func (phys *Physmem_t) AllocFrameNoZero(owner Owner_t) (Pa_t, bool) {
	_, pa, ok := phys.refpgNew(owner)
	return pa, ok
}

// askOom gives the OOM policy (package supervisor's listener, when one is
// running) a chance to reclaim before an allocation fails outright. No
// listener means no reclaim to wait for.
func askOom(need int) bool {
	resume := make(chan bool)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need, Resume: resume}:
		return <-resume
	default:
		return false
	}
}

func (phys *Physmem_t) refpgNew(owner Owner_t) ([]byte, Pa_t, bool) {
	idx := phys.freei
	if idx == freeEnd && askOom(1) {
		idx = phys.freei
	}
	if idx == freeEnd {
		return nil, 0, false
	}
	phys.freei = phys.pgs[idx].nexti
	phys.nfree--
	phys.pgs[idx].refcnt = 1
	phys.pgs[idx].owner = owner
	pa := phys.idxToPa(idx)
	return phys.frameBytes(idx), pa, true
}

func (phys *Physmem_t) frameBytes(idx uint32) []byte {
	off := int(idx) * PGSIZE
	return phys.arena[off : off+PGSIZE]
}

// FreeFrame implements free_frame(PhysAddr): it must only be called on a
// frame with a zero refcount (the caller already Refdown'd it).
func (phys *Physmem_t) FreeFrame(p Pa_t) {
	idx := phys.paToIdx(p)
	if phys.pgs[idx].refcnt != 0 {
		panic("mem: freeing a still-mapped frame")
	}
	phys.pgs[idx].owner = FrameFree
	phys.pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.nfree++
}

// Refup increments a frame's mapping count. A frame's refcount is implicit
// in its mappings (§3 DATA MODEL): every page table entry that maps the
// frame holds one reference.
func (phys *Physmem_t) Refup(p Pa_t) {
	idx := phys.paToIdx(p)
	c := atomic.AddInt32(&phys.pgs[idx].refcnt, 1)
	if c <= 0 {
		panic("mem: refup of free frame")
	}
}

// Refdown decrements a frame's mapping count and returns the frame to the
// free list when it drops to zero, returning true in that case ("unmapping
// the last mapping returns it to free").
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	idx := phys.paToIdx(p)
	c := atomic.AddInt32(&phys.pgs[idx].refcnt, -1)
	if c < 0 {
		panic("mem: refdown below zero")
	}
	if c == 0 {
		phys.FreeFrame(p)
		return true
	}
	return false
}

// Refcnt reports a frame's current mapping count.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	idx := phys.paToIdx(p)
	return int(atomic.LoadInt32(&phys.pgs[idx].refcnt))
}

// Owner reports whether a frame is free, kernel-owned, or user-owned.
func (phys *Physmem_t) Owner(p Pa_t) Owner_t {
	idx := phys.paToIdx(p)
	return phys.pgs[idx].owner
}

// Dmap returns the byte slice backing a physical frame — the hosted stand-in
// for the teacher kernel's hardware direct map (mem/dmap.go's Dmap), used
// identically: any code with a Pa_t can get at the bytes without walking a
// page table.
func (phys *Physmem_t) Dmap(p Pa_t) []byte {
	idx := phys.paToIdx(p)
	return phys.frameBytes(idx)
}

// Pgcount reports the free and total frame counts, which package kernel
// prints at boot and in Sysinfo.
func (phys *Physmem_t) Pgcount() (free, total int) {
	return int(phys.nfree), phys.ntotal
}

// Page_i is the subset of Physmem_t's interface consumed by code (e.g.
// package circbuf) that only needs to allocate/free/map pages and must not
// otherwise reach into the global allocator.
type Page_i interface {
	AllocFrame(Owner_t) (Pa_t, bool)
	AllocFrameNoZero(Owner_t) (Pa_t, bool)
	Refup(Pa_t)
	Refdown(Pa_t) bool
	Dmap(Pa_t) []byte
}
