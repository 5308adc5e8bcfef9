// Package futex implements futex(WAIT/WAKE), keyed by physical address so
// that waiters in different address spaces mapping the same frame collide
// (§5 Futexes). The teacher kernel's futex table is keyed the same way; its
// wait queues block real kernel threads on a condition variable tied to a
// spinlock, which this package reproduces with a Go channel per key instead
// of a condvar, since Fornax has no threads of its own to park a goroutine
// on cooperatively — parking a goroutine on a channel receive is the
// idiomatic equivalent.
package futex

import (
	"context"
	"sync"

	"defs"
	"limits"
	"mem"
)

type waiter struct {
	wake chan struct{}
}

type futex_t struct {
	mu      sync.Mutex
	waiters []*waiter
}

// Table_t is the system-wide futex table, one global instance analogous to
// the teacher's _allfutex.
type Table_t struct {
	mu     sync.Mutex
	byAddr map[mem.Pa_t]*futex_t
}

// NewTable constructs an empty futex table.
func NewTable() *Table_t {
	return &Table_t{byAddr: make(map[mem.Pa_t]*futex_t)}
}

func (t *Table_t) get(key mem.Pa_t, create bool) *futex_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.byAddr[key]
	if !ok && create {
		f = &futex_t{}
		t.byAddr[key] = f
	}
	return f
}

// Wait blocks the caller while *addr (read through the provided reader)
// still equals val, waking on a matching Wake or ctx cancellation (a killed
// thread, §5 Cancellation). It returns defs.EAGAIN immediately, without
// blocking, if the value has already changed — the classic futex races-are-
// fine contract.
func (t *Table_t) Wait(ctx context.Context, key mem.Pa_t, cur, val uint32) (int, defs.Err_t) {
	if cur != val {
		return 0, -defs.EAGAIN
	}
	f := t.get(key, true)
	w := &waiter{wake: make(chan struct{})}

	f.mu.Lock()
	if !limits.Syslimit.Futexes.Take() {
		f.mu.Unlock()
		return 0, -defs.ENOMEM
	}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-w.wake:
		limits.Syslimit.Futexes.Give()
		return 1, 0
	case <-ctx.Done():
		f.mu.Lock()
		for i, o := range f.waiters {
			if o == w {
				f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		limits.Syslimit.Futexes.Give()
		return 0, -defs.ECANCELLED
	}
}

// Wake wakes up to n waiters blocked on key, in FIFO arrival order, and
// returns how many were actually woken.
func (t *Table_t) Wake(key mem.Pa_t, n int) int {
	f := t.get(key, false)
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	woke := 0
	for woke < n && len(f.waiters) > 0 {
		w := f.waiters[0]
		f.waiters = f.waiters[1:]
		close(w.wake)
		woke++
	}
	return woke
}
