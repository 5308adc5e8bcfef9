// Package pipe implements SYS_PIPE: an in-kernel byte stream with a read end
// and a write end, backed by a page ring from package circbuf (§4.6
// pipe(2)). A pipe never touches a
// namespace server; both ends are ordinary fdops.Fdops_i objects a process
// holds directly in its fd table, same as the teacher kernel's pipes.
package pipe

import (
	"context"
	"sync"

	"circbuf"
	"defs"
	"fdops"
	"mem"
)

// Pipe_t is the shared state between a pipe's two ends: one circular
// buffer, a count of still-open ends on each side, and a signal channel
// woken on every state change so a blocked reader or writer rechecks
// promptly (mirrors package ipc's Chan_t wake pattern).
type Pipe_t struct {
	mu      sync.Mutex
	buf     circbuf.Circbuf_t
	readers int
	writers int
	signal  chan struct{}
}

// New allocates a pipe with one read end and one write end already open;
// dup/fork bump the appropriate side's count via Reopen.
func New(m mem.Page_i) (*ReadEnd_t, *WriteEnd_t) {
	p := &Pipe_t{signal: make(chan struct{}, 1), readers: 1, writers: 1}
	p.buf.Cb_init(mem.PGSIZE, m)
	return &ReadEnd_t{p: p}, &WriteEnd_t{p: p}
}

func (p *Pipe_t) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// ReadEnd_t is the read side of a pipe.
type ReadEnd_t struct {
	p      *Pipe_t
	closed bool
}

// WriteEnd_t is the write side of a pipe.
type WriteEnd_t struct {
	p      *Pipe_t
	closed bool
}

// Read blocks until data is available, the write end is fully closed (EOF,
// returning 0 bytes with no error), or ctx is cancelled.
func (r *ReadEnd_t) Read(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return r.ReadCtx(context.Background(), dst)
}

// ReadCtx is Read with an explicit cancellation context, used by the trap
// layer so a kill delivered while blocked in read(2) unblocks it (§4.4
// Cancellation applies uniformly to every blocking syscall, not just IPC).
func (r *ReadEnd_t) ReadCtx(ctx context.Context, dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	for {
		p.mu.Lock()
		if !p.buf.Empty() {
			n, err := p.buf.Copyout(dst)
			p.mu.Unlock()
			if n > 0 {
				p.wake()
			}
			return n, err
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, 0
		}
		p.mu.Unlock()
		select {
		case <-p.signal:
		case <-ctx.Done():
			return 0, -defs.ECANCELLED
		}
	}
}

func (r *ReadEnd_t) Write(src fdops.Userio_i, offset int, append bool) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (r *ReadEnd_t) Fstat(w fdops.StatWriter) defs.Err_t {
	w.Wtype(defs.T_FILE)
	return 0
}

func (r *ReadEnd_t) Reopen() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
	return 0
}

func (r *ReadEnd_t) Close() defs.Err_t {
	if r.closed {
		return 0
	}
	r.closed = true
	p := r.p
	p.mu.Lock()
	p.readers--
	last := p.readers == 0
	p.mu.Unlock()
	p.wake()
	if last {
		p.mu.Lock()
		p.buf.Cb_release()
		p.mu.Unlock()
	}
	return 0
}

func (r *ReadEnd_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.buf.Empty() || p.writers == 0 {
		return fdops.R_READ, 0
	}
	return 0, 0
}

// Write blocks until room is available, fails with EPIPE if the read end
// has already closed, or unblocks on ctx cancellation.
func (w *WriteEnd_t) Write(src fdops.Userio_i, offset int, append bool) (int, defs.Err_t) {
	return w.WriteCtx(context.Background(), src)
}

func (w *WriteEnd_t) WriteCtx(ctx context.Context, src fdops.Userio_i) (int, defs.Err_t) {
	p := w.p
	total := 0
	for src.Remain() > 0 {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			if total > 0 {
				return total, 0
			}
			return 0, -defs.EPIPE
		}
		if !p.buf.Full() {
			n, err := p.buf.Copyin(src)
			p.mu.Unlock()
			if err != 0 {
				return total, err
			}
			total += n
			p.wake()
			continue
		}
		p.mu.Unlock()
		select {
		case <-p.signal:
		case <-ctx.Done():
			if total > 0 {
				return total, 0
			}
			return 0, -defs.ECANCELLED
		}
	}
	return total, 0
}

func (w *WriteEnd_t) Read(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (w *WriteEnd_t) Fstat(fw fdops.StatWriter) defs.Err_t {
	fw.Wtype(defs.T_FILE)
	return 0
}

func (w *WriteEnd_t) Reopen() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.writers++
	p.mu.Unlock()
	return 0
}

func (w *WriteEnd_t) Close() defs.Err_t {
	if w.closed {
		return 0
	}
	w.closed = true
	p := w.p
	p.mu.Lock()
	p.writers--
	p.mu.Unlock()
	p.wake()
	return 0
}

func (w *WriteEnd_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.buf.Full() || p.readers == 0 {
		return fdops.R_WRITE, 0
	}
	return 0, 0
}
