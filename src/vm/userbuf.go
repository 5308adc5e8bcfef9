package vm

import (
	"defs"
	"mem"
)

// Userbuf_t implements fdops.Userio_i over a single contiguous user virtual
// range, walking page boundaries and translating each page through the
// owning address space's table. The kernel uses this to copy between an
// IPC message buffer and user memory, and between user memory and a
// server's reply, without ever requiring the server to have the client's
// buffer mapped into its own address space (§4.4 "the kernel performs the
// byte copy between address spaces").
type Userbuf_t struct {
	as     *Vm_t
	uva    VA
	length int
	off    int
}

// NewUserbuf builds a Userbuf_t over [uva, uva+length) in as.
func NewUserbuf(as *Vm_t, uva VA, length int) *Userbuf_t {
	return &Userbuf_t{as: as, uva: uva, length: length}
}

func (ub *Userbuf_t) Remain() int   { return ub.length - ub.off }
func (ub *Userbuf_t) Totalsz() int  { return ub.length }

func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

// tx copies min(len(buf), Remain()) bytes, walking one user page at a time.
// write==true means buf -> user memory (a kernel-to-user write); otherwise
// user memory -> buf.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	did := 0
	for len(buf) > 0 && ub.Remain() > 0 {
		va := ub.uva + VA(ub.off)
		pageoff := int(va) % mem.PGSIZE
		pa, flags, ok := ub.as.Translate(va)
		if !ok {
			return did, -defs.EFAULT
		}
		if write && flags&mem.PTE_W == 0 {
			return did, -defs.EFAULT
		}
		frame := mem.Physmem.Dmap(pa)
		n := mem.PGSIZE - pageoff
		if n > len(buf) {
			n = len(buf)
		}
		if n > ub.Remain() {
			n = ub.Remain()
		}
		if write {
			copy(frame[pageoff:], buf[:n])
		} else {
			copy(buf[:n], frame[pageoff:pageoff+n])
		}
		buf = buf[n:]
		did += n
		ub.off += n
	}
	return did, 0
}

// Fakeubuf_t adapts a plain kernel byte slice to fdops.Userio_i, used when
// kernel code (e.g. rename(2) in package trap, or package proc loading a
// PT_INTERP interpreter) needs to move a whole file through a server handle
// with an interface that normally talks to user memory.
type Fakeubuf_t struct {
	buf []uint8
	len int
}

func NewFakeubuf(buf []uint8) *Fakeubuf_t {
	return &Fakeubuf_t{buf: buf, len: len(buf)}
}

func (fb *Fakeubuf_t) Remain() int  { return len(fb.buf) }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return fb.tx(dst, false)
}

func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return fb.tx(src, true)
}

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}
