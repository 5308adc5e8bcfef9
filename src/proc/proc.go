// Package proc implements the process table, the cooperative scheduler's
// bookkeeping, and process/thread lifecycle: rfork/clone, spawn, exit, wait,
// and kill (§4.3 Process Table & Scheduler).
//
// The teacher kernel's scheduler is a hand-rolled cooperative trampoline:
// one kernel stack per process, an explicit saved-register Context, and a
// ready ring it walks between trap returns, because it is the only thing
// standing between "interrupt fires" and "some process's code resumes
// running". Fornax runs hosted on a stock Go runtime that already is a
// scheduler — every process's thread of control is a goroutine, and the
// suspension points the spec calls out (ipc_send/recv/reply, read/write on
// a channel-backed fd, sleep, wait, futex(WAIT)) are implemented by the
// primitives in packages ipc and futex as ordinary blocking channel
// operations, which give the exact FIFO wake-order guarantees §5 requires
// without a hand-rolled baton to pass around. Table_t still keeps a ready
// list and a "current" pointer — not because anything depends on them for
// correctness, but because §8's invariants ("exactly one process is
// running", "exactly one scheduler queue membership") are properties of
// the kernel's own bookkeeping, and /proc's status file needs something to
// report. Kill is implemented by cancelling a per-process context.Context,
// which every blocking primitive already watches for cancellation — this
// is the same mechanism §4.4 specifies for IPC cancellation, reused
// uniformly instead of inventing a second "doomed" polling protocol.
package proc

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"accnt"
	"bounds"
	"defs"
	"elf"
	"fd"
	"ns"
	"stat"
	"tinfo"
	"ustr"
	"vm"
)

// Proc_t is one process-table slot. Fornax models a clone()'d thread as a
// Proc_t of its own, sharing its creator's address space and fd table by
// pointer instead of copying them — the clone/rfork distinction the spec
// draws (§4.3, §6 RFNAMEG) is exactly about which of these get copied.
type Proc_t struct {
	mu sync.Mutex

	Pid      defs.Pid_t
	Ppid     defs.Pid_t
	Uid, Gid uint16

	As  *vm.Vm_t
	NS  *ns.Namespace_t
	Fds [bounds.NOFILE]*fd.Fd_t
	Cwd *fd.Cwd_t

	Children []defs.Pid_t
	State    defs.Pstate_t
	Status   int

	// Entry is where this process's image starts: the target ELF's own
	// entry point, or, when spawned via a PT_INTERP image, the POSIX-realm
	// loader's entry instead (§4.3 Spawn, §4.7). OrigEntry is always the
	// target's own entry point, which a PT_INTERP loader receives as the
	// address it is meant to eventually jump to (§4.3, §4.7, §8 boundary
	// behavior 4 "its program sees its own entry after rfork(RFNAMEG)").
	// Fornax processes are goroutines, not trapped-out register sets, so
	// neither field seeds a real instruction pointer; they are this
	// kernel's record of what a hosted arch/trap boundary would seed with,
	// kept so a future real dispatch loop (or a test) can observe the
	// handoff spec.md requires actually happened.
	Entry     vm.VA
	OrigEntry vm.VA

	Acct *accnt.Accnt_t
	Note *tinfo.Tnote_t

	// lastReturn is the timestamp, in nanoseconds since the epoch, this
	// process last returned from a syscall dispatch. AccountEnter/
	// AccountLeave bracket each dispatch in trap.Kernel_t.Dispatch,
	// charging the gap since lastReturn as user time and the dispatch
	// itself as system time (§4.3, §7 rusage-style accounting) — the real
	// path that makes accnt.Accnt_t's Utadd/Systadd counters advance.
	lastReturn int64

	ctx    context.Context
	cancel context.CancelFunc
}

// AccountEnter charges user time for the interval since this process last
// returned from a syscall dispatch (or since it was created, for its first
// syscall) and returns the timestamp AccountLeave needs to charge the
// dispatch itself as system time. Called once per syscall at the trap
// boundary, bracketing trap.Kernel_t.Dispatch.
func (p *Proc_t) AccountEnter() int64 {
	now := int64(p.Acct.Now())
	last := atomic.SwapInt64(&p.lastReturn, now)
	if last != 0 {
		p.Acct.Utadd(int(now - last))
	}
	return now
}

// AccountLeave finalizes system time for the dispatch that began at
// tStart (AccountEnter's return value) and records the return timestamp
// the next AccountEnter call measures user time from.
func (p *Proc_t) AccountLeave(tStart int64) {
	p.Acct.Finish(int(tStart))
	atomic.StoreInt64(&p.lastReturn, int64(p.Acct.Now()))
}

// Ctx returns the context that every blocking syscall this process issues
// should be threaded through; Kill cancels it.
func (p *Proc_t) Ctx() context.Context { return p.ctx }

func (p *Proc_t) setState(s defs.Pstate_t) {
	p.mu.Lock()
	p.State = s
	p.mu.Unlock()
}

// Table_t is the system-wide process table.
type Table_t struct {
	mu      sync.Mutex
	procs   map[defs.Pid_t]*Proc_t
	nextPid defs.Pid_t
	ready   []defs.Pid_t
	current defs.Pid_t

	waitSubs []chan struct{}
}

// NewTable creates an empty process table. Pid 0 is never issued (§3 "Pid 0
// is reserved"); the first pid handed out is 1, for init.
func NewTable() *Table_t {
	return &Table_t{
		procs:   make(map[defs.Pid_t]*Proc_t),
		nextPid: defs.PID_INIT,
	}
}

// Current reports the pid the table last recorded as running, for /proc and
// kprof reporting.
func (t *Table_t) Current() defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// ReadyLen reports the size of the runnable queue, for kprof reporting and
// for tests that check the scheduler's bookkeeping stays consistent.
func (t *Table_t) ReadyLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ready)
}

// Lookup returns the process-table entry for pid, or nil.
func (t *Table_t) Lookup(pid defs.Pid_t) *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[pid]
}

// Pids returns every live pid in ascending order, for /proc's directory
// listing.
func (t *Table_t) Pids() []defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	pids := make([]defs.Pid_t, 0, len(t.procs))
	for pid := range t.procs {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Snapshot_t is a read-only copy of a process's externally visible state,
// handed out instead of *Proc_t itself so /proc's status text never races
// the fields Exit/Kill mutate under p.mu.
type Snapshot_t struct {
	Pid, Ppid defs.Pid_t
	State     defs.Pstate_t
	Status    int
}

// Snapshot captures p's externally visible state.
func (p *Proc_t) Snapshot() Snapshot_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot_t{Pid: p.Pid, Ppid: p.Ppid, State: p.State, Status: p.Status}
}

// InitProc constructs pid 1 directly: it has no parent and starts with a
// fresh address space, namespace, and root cwd (§3 "Pid 1 is the init
// process and has no parent").
func (t *Table_t) InitProc(rootFd *fd.Fd_t) *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Proc_t{
		Pid:  defs.PID_INIT,
		Ppid: defs.PID_NONE,
		As:   vm.NewAddrSpace(),
		NS:   ns.New(),
		Cwd:  fd.MkRootCwd(rootFd),
		Acct: &accnt.Accnt_t{},
		Note: &tinfo.Tnote_t{Alive: true},
		State: defs.RUNNABLE,
		ctx:    ctx,
		cancel: cancel,
	}
	t.procs[p.Pid] = p
	t.nextPid++
	t.markReadyLocked(p.Pid)
	return p
}

func (t *Table_t) markReadyLocked(pid defs.Pid_t) {
	t.ready = append(t.ready, pid)
	if t.current == defs.PID_NONE {
		t.current = t.ready[0]
		t.ready = t.ready[1:]
	}
}

// Rfork implements rfork/clone: flags&RFNAMEG gives the child its own deep
// copy of the namespace (default: shared); the address space and fd table
// are always cloned by value here — callers that want thread-style memory
// sharing (SYS_CLONE) pass sameAS=true to keep the new slot pointing at the
// parent's existing Vm_t instead of getting CloneSpace's full copy.
func (t *Table_t) Rfork(parent *Proc_t, flags int, sameAS bool) (*Proc_t, defs.Err_t) {
	var childAS *vm.Vm_t
	if sameAS {
		childAS = parent.As
	} else {
		cp, ok := vm.CloneSpace(parent.As)
		if !ok {
			return nil, -defs.ENOMEM
		}
		childAS = cp
	}

	var childNS *ns.Namespace_t
	if flags&defs.RFNAMEG != 0 {
		childNS = parent.NS.Clone()
	} else {
		childNS = parent.NS
	}

	t.mu.Lock()
	if len(t.procs) >= bounds.NPROC-1 {
		t.mu.Unlock()
		return nil, -defs.ENOMEM
	}
	pid := t.nextPid
	t.nextPid++
	ctx, cancel := context.WithCancel(context.Background())
	child := &Proc_t{
		Pid:       pid,
		Ppid:      parent.Pid,
		Uid:       parent.Uid,
		Gid:       parent.Gid,
		As:        childAS,
		NS:        childNS,
		Fds:       parent.Fds,
		Cwd:       parent.Cwd,
		Entry:     parent.Entry,
		OrigEntry: parent.OrigEntry,
		Acct:      &accnt.Accnt_t{},
		Note:      &tinfo.Tnote_t{Alive: true},
		State:     defs.RUNNABLE,
		ctx:       ctx,
		cancel:    cancel,
	}
	if flags&defs.RFFDG != 0 {
		// a private fd group: each slot is re-opened so the child gets
		// its own offsets instead of sharing the parent's open file
		// descriptions.
		for i, f := range child.Fds {
			if f == nil {
				continue
			}
			if nf, cerr := fd.Copyfd(f); cerr == 0 {
				child.Fds[i] = nf
			}
		}
	}
	t.procs[pid] = child
	parent.Children = append(parent.Children, pid)
	t.markReadyLocked(pid)
	t.mu.Unlock()

	return child, 0
}

// Spawn implements spawn(elf_bytes, fd_map, argv_block): loads an ELF image
// into a fresh address space and creates a runnable child whose only
// inherited state is the fd table the caller explicitly supplies via
// fdMap (§4.3 spawn). ctx is the namespace lookup context used to resolve
// a PT_INTERP interpreter, if the image names one (§4.3, §4.7); it is not
// the child's own context, which Spawn always creates fresh.
func (t *Table_t) Spawn(ctx context.Context, parent *Proc_t, elfBytes []byte, argv [][]byte, fdMap map[int]*fd.Fd_t) (defs.Pid_t, defs.Err_t) {
	as := vm.NewAddrSpace()
	img, err := elf.Load(elfBytes, as, argv)
	if err != 0 {
		return 0, err
	}

	entry, origEntry := img.Entry, img.OrigEntry
	if img.Interp != "" {
		// PT_INTERP names a POSIX-realm loader: map it into its own fresh
		// address space instead of the target's, and hand it the target's
		// own entry point as OrigEntry, exactly the handoff a real ld.so
		// expects (§4.3, §4.7, §8 boundary behavior 4). The target's own
		// mappings placed above are simply discarded; nothing in this
		// image's address space survives once an interpreter is present.
		interpAS := vm.NewAddrSpace()
		interpImg, ierr := loadInterp(ctx, parent, img.Interp, interpAS, argv)
		if ierr != 0 {
			return 0, ierr
		}
		as = interpAS
		entry = interpImg.Entry
		origEntry = img.OrigEntry
	}

	t.mu.Lock()
	if len(t.procs) >= bounds.NPROC-1 {
		t.mu.Unlock()
		return 0, -defs.ENOMEM
	}
	pid := t.nextPid
	t.nextPid++
	cctx, cancel := context.WithCancel(context.Background())
	child := &Proc_t{
		Pid:       pid,
		Ppid:      parent.Pid,
		Uid:       parent.Uid,
		Gid:       parent.Gid,
		As:        as,
		NS:        parent.NS.Clone(),
		Cwd:       parent.Cwd,
		Entry:     entry,
		OrigEntry: origEntry,
		Acct:      &accnt.Accnt_t{},
		Note:      &tinfo.Tnote_t{Alive: true},
		State:     defs.RUNNABLE,
		ctx:       cctx,
		cancel:    cancel,
	}
	for fdno, f := range fdMap {
		if fdno >= 0 && fdno < bounds.NOFILE {
			child.Fds[fdno] = f
		}
	}
	t.procs[pid] = child
	parent.Children = append(parent.Children, pid)
	t.markReadyLocked(pid)
	t.mu.Unlock()

	return pid, 0
}

// loadInterp resolves path (a PT_INTERP string) against parent's own
// namespace, reads the whole file over one or more T_READ round trips
// (the same whole-file-read shape package trap's rename/exec-adjacent
// paths use), and loads it as an ELF image into as.
func loadInterp(ctx context.Context, parent *Proc_t, path string, as *vm.Vm_t, argv [][]byte) (*elf.Image_t, defs.Err_t) {
	ent, rest, err := parent.NS.Resolve(ustr.Ustr(path))
	if err != 0 {
		return nil, err
	}
	if ent.Chan == nil {
		return nil, -defs.ENOENT
	}
	h, err := ns.Open(ctx, ent.Chan, []uint8(rest))
	if err != 0 {
		return nil, err
	}
	defer h.Close()

	st := &stat.Stat_t{}
	if serr := h.Fstat(st); serr != 0 {
		return nil, serr
	}
	data := make([]uint8, st.Size())
	if len(data) > 0 {
		fb := vm.NewFakeubuf(data)
		for off := 0; off < len(data); {
			n, rerr := h.Read(fb, off)
			if rerr != 0 {
				return nil, rerr
			}
			if n == 0 {
				break
			}
			off += n
		}
	}
	return elf.Load(data, as, argv)
}

// Exit implements exit(status): transitions the caller to zombie and wakes
// any parent blocked in Wait. Idempotent, since Kill can race a process's
// own voluntary exit.
func (t *Table_t) Exit(p *Proc_t, status int) {
	p.mu.Lock()
	if p.State == defs.ZOMBIE || p.State == defs.DEAD {
		p.mu.Unlock()
		return
	}
	p.State = defs.ZOMBIE
	p.Status = status
	p.mu.Unlock()

	t.mu.Lock()
	for i, rp := range t.ready {
		if rp == p.Pid {
			t.ready = append(t.ready[:i], t.ready[i+1:]...)
			break
		}
	}
	if t.current == p.Pid {
		t.current = defs.PID_NONE
		if len(t.ready) > 0 {
			t.current = t.ready[0]
			t.ready = t.ready[1:]
		}
	}
	t.broadcastExitLocked()
	t.mu.Unlock()
}

func (t *Table_t) broadcastExitLocked() {
	subs := t.waitSubs
	t.waitSubs = nil
	for _, ch := range subs {
		close(ch)
	}
}

func (t *Table_t) subscribe() chan struct{} {
	ch := make(chan struct{})
	t.waitSubs = append(t.waitSubs, ch)
	return ch
}

// Wait implements wait(pid): pid==PID_NONE waits for any child, otherwise
// for that specific child. Reaping drops the child from the table and the
// parent's Children list and folds its accounting into the parent's (§4.3
// Wait/exit, §5 "parent's wait returns only after the child's exit has
// fully run").
func (t *Table_t) Wait(ctx context.Context, parent *Proc_t, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		t.mu.Lock()
		hasAny := false
		for _, cpid := range parent.Children {
			if pid != defs.PID_NONE && cpid != pid {
				continue
			}
			hasAny = true
			c, ok := t.procs[cpid]
			if !ok {
				continue
			}
			c.mu.Lock()
			zombie := c.State == defs.ZOMBIE
			status := c.Status
			c.mu.Unlock()
			if !zombie {
				continue
			}
			delete(t.procs, cpid)
			c.mu.Lock()
			c.State = defs.DEAD
			c.mu.Unlock()
			parent.Children = removePid(parent.Children, cpid)
			t.mu.Unlock()
			parent.Acct.Add(c.Acct)
			return cpid, status, 0
		}
		if !hasAny {
			t.mu.Unlock()
			return 0, 0, -defs.ECHILD
		}
		sub := t.subscribe()
		t.mu.Unlock()

		select {
		case <-sub:
		case <-ctx.Done():
			return 0, 0, -defs.ECANCELLED
		}
	}
}

func removePid(s []defs.Pid_t, pid defs.Pid_t) []defs.Pid_t {
	for i, p := range s {
		if p == pid {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Kill implements the effect of writing "kill" to /proc/N/ctl: it cancels
// the target's context (unblocking anything it's waiting on in ipc or
// futex with ECANCELLED) and forces it to zombie with the distinguished
// killed status. The spec describes killing as happening "at its next
// syscall boundary"; a victim actively blocked inside a cancellable wait
// reaches that boundary the instant its ctx is cancelled, so Kill performs
// the zombie transition directly rather than waiting for the victim's own
// goroutine to notice and call Exit — Exit's idempotency makes that race
// harmless if the victim gets there too.
func (t *Table_t) Kill(pid defs.Pid_t) defs.Err_t {
	p := t.Lookup(pid)
	if p == nil {
		return -defs.ESRCH
	}
	p.Note.Lock()
	p.Note.Killed = true
	p.Note.Isdoomed = true
	p.Note.Unlock()
	p.cancel()
	t.Exit(p, defs.MkKilledStatus(0))
	return 0
}
