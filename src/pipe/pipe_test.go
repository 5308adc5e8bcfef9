package pipe

import (
	"context"
	"testing"
	"time"

	"defs"
	"mem"
)

func TestPipeRoundtrip(t *testing.T) {
	mem.Init(4)
	r, w := New(mem.Physmem)

	buf := []uint8("hello")
	n, err := w.Write(ubuf(buf), 0, false)
	if err != 0 || n != len(buf) {
		t.Fatalf("write = (%d, %v), want (%d, 0)", n, err, len(buf))
	}

	dst := make([]uint8, 16)
	u := &fakeuio{buf: dst}
	n, err = r.Read(u, 0)
	if err != 0 || n != len(buf) {
		t.Fatalf("read = (%d, %v), want (%d, 0)", n, err, len(buf))
	}
	if string(dst[:n]) != "hello" {
		t.Fatalf("read back %q, want %q", dst[:n], "hello")
	}
}

func TestPipeReadBlocksThenEOF(t *testing.T) {
	mem.Init(4)
	r, w := New(mem.Physmem)

	done := make(chan struct{})
	var n int
	var err defs.Err_t
	go func() {
		defer close(done)
		dst := make([]uint8, 8)
		n, err = r.Read(&fakeuio{buf: dst}, 0)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("read returned before writer closed")
	default:
	}

	w.Close()
	<-done
	if err != 0 || n != 0 {
		t.Fatalf("read after close = (%d, %v), want (0, 0)", n, err)
	}
}

func TestPipeWriteFailsAfterReaderCloses(t *testing.T) {
	mem.Init(4)
	r, w := New(mem.Physmem)
	r.Close()

	_, err := w.Write(ubuf([]uint8("x")), 0, false)
	if err != -defs.EPIPE {
		t.Fatalf("write after reader close = %v, want EPIPE", err)
	}
}

func TestPipeWriteCancellation(t *testing.T) {
	mem.Init(4)
	r, w := New(mem.Physmem)
	_ = r

	big := make([]uint8, mem.PGSIZE)
	if _, err := w.Write(ubuf(big), 0, false); err != 0 {
		t.Fatalf("fill write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan defs.Err_t, 1)
	go func() {
		_, err := w.WriteCtx(ctx, ubuf([]uint8("more")))
		done <- err
	}()
	cancel()
	if err := <-done; err != -defs.ECANCELLED {
		t.Fatalf("write returned %v, want ECANCELLED", err)
	}
}

// fakeuio is a minimal fdops.Userio_i over a plain byte slice, used instead
// of importing package vm (which would pull in the page table machinery
// these unit tests have no need for).
type fakeuio struct {
	buf []uint8
	off int
}

func ubuf(b []uint8) *fakeuio { return &fakeuio{buf: b} }

func (f *fakeuio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(f.buf[f.off:], src)
	f.off += n
	return n, 0
}

func (f *fakeuio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.buf[f.off:])
	f.off += n
	return n, 0
}

func (f *fakeuio) Remain() int  { return len(f.buf) - f.off }
func (f *fakeuio) Totalsz() int { return len(f.buf) }
