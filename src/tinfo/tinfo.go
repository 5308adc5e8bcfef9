// Package tinfo tracks per-thread kill/signal state. The teacher kernel
// stashes the running thread's Tnote_t in a g-local slot reached through a
// modified runtime's Gptr()/Setgptr(); Fornax is hosted on a stock runtime,
// so this package instead offers WithCurrent/Current to carry a thread's
// note in a context.Context value — no unsafe pointer games. Packages
// proc, ipc and futex do not call them: a blocked operation unwinds on a
// kill through cancellation of the process's own context (proc.Proc_t.Ctx),
// and proc.Table_t.Kill sets the note's Killed/Isdoomed flags directly.
package tinfo

import (
	"context"
	"sync"

	"defs"
)

// Tnote_t stores per-thread state the scheduler and IPC layer consult to
// decide whether a blocked thread should wake up and unwind instead of
// completing its wait.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed (its process is
// exiting and this thread must unwind without completing further work).
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all thread notes belonging to a process.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type currentKey struct{}

// WithCurrent returns a context carrying p as the running thread's note,
// for package proc to install when it starts a thread's goroutine.
func WithCurrent(ctx context.Context, p *Tnote_t) context.Context {
	if p == nil {
		panic("nuts")
	}
	return context.WithValue(ctx, currentKey{}, p)
}

// Current returns the thread note carried by ctx. It panics if none was
// installed, mirroring the teacher's panic when Gptr() comes back nil: every
// code path that can reach here runs on behalf of some thread.
func Current(ctx context.Context) *Tnote_t {
	p, ok := ctx.Value(currentKey{}).(*Tnote_t)
	if !ok {
		panic("nuts")
	}
	return p
}
