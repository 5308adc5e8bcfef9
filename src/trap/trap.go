// Package trap implements syscall dispatch (§6 EXTERNAL INTERFACES): it
// marshals the fixed five-register argument convention into the typed
// calls packages proc, ns, vm, pipe, and futex expose, and folds every
// result back through defs.Err_t.Rc(). The teacher kernel's trap.go does
// this same marshaling step straight out of a trap frame populated by a
// hand-written syscall entry stub; Fornax's entry stub is the thin
// arch-abstraction boundary the spec calls for (§4.9 Naked assembly), and
// everything on this side of it is ordinary Go.
//
// Every handler here runs wrapped in package supervisor's fault boundary:
// a malformed argument that would corrupt a real page table instead
// surfaces as EFAULT/EINVAL to the caller, or reaps the offending process
// outright if it escalates to a panic (§4.8).
package trap

import (
	"context"
	"fmt"
	"time"

	"bounds"
	"defs"
	"fd"
	"fdops"
	"futex"
	"mem"
	"ns"
	"pipe"
	"proc"
	"stat"
	"supervisor"
	"ustr"
	"util"
	"vm"
)

// Args_t is the fixed five-argument register window every syscall is
// dispatched with (§6: "up to 5 arguments").
type Args_t [5]uint64

// Kernel_t composes the tables a syscall dispatch needs to touch: the
// process table, the system-wide futex table, and the physical memory
// allocator pipe(2) and mmap(2) draw frames from. Shutdown, if set, is
// called by SYS_SHUTDOWN; main.go wires it to the root context's cancel
// function.
type Kernel_t struct {
	Procs    *proc.Table_t
	Futexes  *futex.Table_t
	Mem      mem.Page_i
	Shutdown context.CancelFunc

	// Klog, if set, is the in-memory kernel log SYS_KLOG reads back to
	// userland. The boot sequence carves its backing region out of the
	// kernel bump heap, the kind of boot-sized, never-freed structure
	// that allocator exists for (§4.1).
	Klog *Klog_t
}

// Klog_t is the kernel message log: an append-only byte region whose
// oldest half is dropped when full, cheap enough to run on every boot and
// fault message without a reader attached.
type Klog_t struct {
	buf []byte
	n   int
}

// NewKlog wraps an already-reserved byte region as the kernel log.
func NewKlog(region []byte) *Klog_t {
	return &Klog_t{buf: region}
}

// Appendf formats and appends one log line.
func (l *Klog_t) Appendf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	if len(line) > len(l.buf) {
		line = line[:len(l.buf)]
	}
	if over := l.n + len(line) - len(l.buf); over > 0 {
		drop := len(l.buf) / 2
		if drop < over {
			drop = over
		}
		if drop > l.n {
			drop = l.n
		}
		copy(l.buf, l.buf[drop:l.n])
		l.n -= drop
	}
	copy(l.buf[l.n:], line)
	l.n += len(line)
}

// Slice returns up to max logged bytes starting at off, empty at the end.
func (l *Klog_t) Slice(off, max int) []byte {
	if off < 0 || off >= l.n {
		return nil
	}
	end := off + max
	if end > l.n {
		end = l.n
	}
	return l.buf[off:end]
}

// NewKernel builds an empty Kernel_t over an already-initialized process
// table and memory arena.
func NewKernel(procs *proc.Table_t, futexes *futex.Table_t, m mem.Page_i) *Kernel_t {
	return &Kernel_t{Procs: procs, Futexes: futexes, Mem: m}
}

// Dispatch runs one syscall on behalf of p and returns the raw value to
// place in the return-value register: non-negative on success, or the
// folded defs.Err_t.Rc() encoding on failure. A panic escaping the handler
// is caught by package supervisor and turned into a forced zombie instead
// of taking the whole kernel process down, matching the fault boundary
// every other entry into user-controlled behavior goes through.
func (k *Kernel_t) Dispatch(ctx context.Context, p *proc.Proc_t, sysno int, a Args_t) uint64 {
	// A blocking syscall must unblock the moment its own process is
	// killed, so the per-process context outranks whatever boot-wide
	// context the trampoline passed; kernel-wide shutdown reaches blocked
	// processes separately, through Chan_t.Close.
	if pctx := p.Ctx(); pctx != nil {
		ctx = pctx
	}
	tStart := p.AccountEnter()
	defer p.AccountLeave(tStart)

	var rc uint64
	faulted := supervisor.Guard(k.Procs, p, func() {
		rc = k.dispatch1(ctx, p, sysno, a)
	})
	if faulted {
		return defs.Err_t(defs.EFAULT).Rc()
	}
	return rc
}

func (k *Kernel_t) dispatch1(ctx context.Context, p *proc.Proc_t, sysno int, a Args_t) uint64 {
	switch sysno {
	case defs.SYS_OPEN:
		return k.sysOpen(ctx, p, a)
	case defs.SYS_CREATE:
		return k.sysCreate(ctx, p, a)
	case defs.SYS_READ:
		return k.sysRead(ctx, p, a)
	case defs.SYS_WRITE:
		return k.sysWrite(ctx, p, a)
	case defs.SYS_CLOSE:
		return k.sysClose(p, a)
	case defs.SYS_STAT:
		return k.sysStat(p, a)
	case defs.SYS_SEEK:
		return k.sysSeek(p, a)
	case defs.SYS_REMOVE:
		return k.sysRemove(ctx, p, a)
	case defs.SYS_RFORK:
		return k.sysRfork(p, a)
	case defs.SYS_EXIT:
		return k.sysExit(p, a)
	case defs.SYS_PIPE:
		return k.sysPipe(p, a)
	case defs.SYS_BRK:
		return k.sysBrk(p, a)
	case defs.SYS_SPAWN:
		return k.sysSpawn(ctx, p, a)
	case defs.SYS_KLOG:
		return k.sysKlog(p, a)
	case defs.SYS_SYSINFO:
		return k.sysSysinfo(p, a)
	case defs.SYS_SLEEP:
		return k.sysSleep(ctx, a)
	case defs.SYS_SHUTDOWN:
		return k.sysShutdown()
	case defs.SYS_GETPID:
		return uint64(p.Pid)
	case defs.SYS_RENAME:
		return k.sysRename(ctx, p, a)
	case defs.SYS_TRUNCATE:
		return k.sysTruncate(p, a)
	case defs.SYS_WSTAT:
		return k.sysWstat(p, a)
	case defs.SYS_SETUID:
		newuid := uint16(a[0])
		if p.Uid != 0 && newuid != p.Uid {
			return defs.Err_t(-defs.EPERM).Rc()
		}
		p.Uid = newuid
		return 0
	case defs.SYS_GETUID:
		return uint64(p.Uid)
	case defs.SYS_MMAP:
		return k.sysMmap(p, a)
	case defs.SYS_MUNMAP:
		return k.sysMunmap(p, a)
	case defs.SYS_DUP:
		return k.sysDup(p, a)
	case defs.SYS_DUP2:
		return k.sysDup2(p, a)
	case defs.SYS_WAIT:
		return k.sysWait(ctx, p, a)
	case defs.SYS_CLONE:
		return k.sysClone(p, a)
	case defs.SYS_FUTEX:
		return k.sysFutex(ctx, p, a)
	default:
		return defs.Err_t(defs.ENOSYS).Rc()
	}
}

func readPath(p *proc.Proc_t, uva uint64, length uint64) (ustr.Ustr, defs.Err_t) {
	if length == 0 || length > uint64(mem.PGSIZE) {
		return nil, -defs.EINVAL
	}
	buf := make([]uint8, length)
	ub := vm.NewUserbuf(p.As, vm.VA(uva), int(length))
	n, err := ub.Uioread(buf)
	if err != 0 {
		return nil, err
	}
	return p.Cwd.Canonicalpath(ustr.MkUstrSlice(buf[:n])), 0
}

// resolveOpen walks p's namespace for path and opens it (or, if create, issues
// a T_CREATE) over the matching server's channel, failing ENOENT for an
// intrinsic prefix nobody ever wired a channel to (boot not finished, or a
// unit test namespace).
func resolveOpen(ctx context.Context, p *proc.Proc_t, path ustr.Ustr, create bool, perm int) (*ns.Handle_t, defs.Err_t) {
	ent, rest, err := p.NS.Resolve(path)
	if err != 0 {
		return nil, err
	}
	if ent.Chan == nil {
		return nil, -defs.ENOENT
	}
	if create {
		return ns.Create(ctx, ent.Chan, rest, perm)
	}
	return ns.Open(ctx, ent.Chan, rest)
}

func installFd(p *proc.Proc_t, fops fdops.Fdops_i, perms int) (int, defs.Err_t) {
	for i := 0; i < bounds.NOFILE; i++ {
		if p.Fds[i] == nil {
			p.Fds[i] = &fd.Fd_t{Fops: fops, Perms: perms}
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

func permsFromFlags(flags int) int {
	perms := 0
	switch flags & 0x3 {
	case defs.O_RDONLY:
		perms = fd.FD_READ
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	return perms
}

func (k *Kernel_t) sysOpen(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	path, err := readPath(p, a[0], a[1])
	if err != 0 {
		return err.Rc()
	}
	flags := int(a[2])
	h, err := resolveOpen(ctx, p, path, flags&defs.O_CREAT != 0, int(a[3]))
	if err != 0 {
		return err.Rc()
	}
	if flags&defs.O_TRUNC != 0 {
		st := &stat.Stat_t{}
		if terr := h.Wstat(st, defs.WSTAT_SIZE); terr != 0 {
			h.Close()
			return terr.Rc()
		}
	}
	fdno, err := installFd(p, h, permsFromFlags(flags))
	if err != 0 {
		h.Close()
		return err.Rc()
	}
	return uint64(fdno)
}

func (k *Kernel_t) sysCreate(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	path, err := readPath(p, a[0], a[1])
	if err != 0 {
		return err.Rc()
	}
	h, err := resolveOpen(ctx, p, path, true, int(a[2]))
	if err != 0 {
		return err.Rc()
	}
	fdno, err := installFd(p, h, fd.FD_READ|fd.FD_WRITE)
	if err != 0 {
		h.Close()
		return err.Rc()
	}
	return uint64(fdno)
}

func getFd(p *proc.Proc_t, fdno uint64) (*fd.Fd_t, defs.Err_t) {
	if fdno >= bounds.NOFILE {
		return nil, -defs.EINVAL
	}
	f := p.Fds[fdno]
	if f == nil {
		return nil, -defs.EINVAL
	}
	return f, 0
}

func (k *Kernel_t) sysRead(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	ub := vm.NewUserbuf(p.As, vm.VA(a[1]), int(a[2]))
	var n int
	// a pipe read can block indefinitely; thread the caller's context
	// through so a kill delivered mid-read unblocks it (§5 suspension
	// points cover read/write on blocking fds, not just IPC).
	if pr, ok := f.Fops.(*pipe.ReadEnd_t); ok {
		n, err = pr.ReadCtx(ctx, ub)
	} else {
		n, err = f.Fops.Read(ub, f.Offset)
	}
	if err != 0 {
		return err.Rc()
	}
	f.Offset += n
	return uint64(n)
}

func (k *Kernel_t) sysWrite(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	ub := vm.NewUserbuf(p.As, vm.VA(a[1]), int(a[2]))
	var n int
	if pw, ok := f.Fops.(*pipe.WriteEnd_t); ok {
		n, err = pw.WriteCtx(ctx, ub)
	} else {
		n, err = f.Fops.Write(ub, f.Offset, false)
	}
	if err != 0 {
		return err.Rc()
	}
	f.Offset += n
	return uint64(n)
}

func (k *Kernel_t) sysClose(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	cerr := f.Fops.Close()
	p.Fds[a[0]] = nil
	return cerr.Rc()
}

func (k *Kernel_t) sysStat(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	st := &stat.Stat_t{}
	if err := f.Fops.Fstat(st); err != 0 {
		return err.Rc()
	}
	ub := vm.NewUserbuf(p.As, vm.VA(a[1]), stat.Size)
	if _, err := ub.Uiowrite(st.Bytes()); err != 0 {
		return err.Rc()
	}
	return 0
}

func (k *Kernel_t) sysSeek(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	size := 0
	if int(a[2]) == defs.SEEK_END {
		st := &stat.Stat_t{}
		if serr := f.Fops.Fstat(st); serr == 0 {
			size = int(st.Size())
		}
	}
	n, err := f.Seek(int(a[1]), int(a[2]), size)
	if err != 0 {
		return err.Rc()
	}
	return uint64(n)
}

func (k *Kernel_t) sysRemove(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	path, err := readPath(p, a[0], a[1])
	if err != 0 {
		return err.Rc()
	}
	ent, rest, err := p.NS.Resolve(path)
	if err != 0 {
		return err.Rc()
	}
	if ent.Chan == nil {
		return defs.Err_t(-defs.ENOENT).Rc()
	}
	return ns.Remove(ctx, ent.Chan, rest).Rc()
}

func (k *Kernel_t) sysRfork(p *proc.Proc_t, a Args_t) uint64 {
	child, err := k.Procs.Rfork(p, int(a[0]), false)
	if err != 0 {
		return err.Rc()
	}
	return uint64(child.Pid)
}

func (k *Kernel_t) sysExit(p *proc.Proc_t, a Args_t) uint64 {
	k.Procs.Exit(p, int(a[0]))
	return 0
}

func (k *Kernel_t) sysPipe(p *proc.Proc_t, a Args_t) uint64 {
	r, w := pipe.New(k.Mem)
	rfd, err := installFd(p, r, fd.FD_READ)
	if err != 0 {
		return err.Rc()
	}
	wfd, err := installFd(p, w, fd.FD_WRITE)
	if err != 0 {
		p.Fds[rfd] = nil
		return err.Rc()
	}
	out := make([]uint8, 8)
	util.PutLE32(out, 0, uint32(rfd))
	util.PutLE32(out, 4, uint32(wfd))
	ub := vm.NewUserbuf(p.As, vm.VA(a[0]), 8)
	if _, werr := ub.Uiowrite(out); werr != 0 {
		return werr.Rc()
	}
	return 0
}

func (k *Kernel_t) sysBrk(p *proc.Proc_t, a Args_t) uint64 {
	n, err := p.As.Brk(vm.VA(a[0]))
	if err != 0 {
		return err.Rc()
	}
	return uint64(n)
}

// fdMapNone marks an fd_map slot the child should have closed rather than
// inherit anything into.
const fdMapNone = ^uint32(0)

// sysSpawn implements spawn(elf, elf_len, fd_map, fd_map_len, argv): the
// ELF image and both descriptor/argv blocks are read out of the caller's
// own address space. fd_map is an array of fd_map_len little-endian u32
// parent descriptor numbers; entry i becomes the child's fd i, with
// fdMapNone leaving that slot closed. argv points at a staging block of
// u64 argc followed by argc NUL-terminated strings, at most one page; the
// kernel re-lays it out at the fixed argv address in the child (§4.2).
func (k *Kernel_t) sysSpawn(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	elfBytes := make([]uint8, a[1])
	ub := vm.NewUserbuf(p.As, vm.VA(a[0]), int(a[1]))
	if _, err := ub.Uioread(elfBytes); err != 0 {
		return err.Rc()
	}

	var fdMap map[int]*fd.Fd_t
	if nfds := int(a[3]); nfds > 0 {
		if nfds > bounds.NOFILE {
			return defs.Err_t(-defs.EINVAL).Rc()
		}
		raw := make([]uint8, 4*nfds)
		mb := vm.NewUserbuf(p.As, vm.VA(a[2]), len(raw))
		if _, err := mb.Uioread(raw); err != 0 {
			return err.Rc()
		}
		fdMap = make(map[int]*fd.Fd_t, nfds)
		for i := 0; i < nfds; i++ {
			pfd := util.GetLE32(raw, 4*i)
			if pfd == fdMapNone {
				continue
			}
			pf, err := getFd(p, uint64(pfd))
			if err != 0 {
				return err.Rc()
			}
			nf, err := fd.Copyfd(pf)
			if err != 0 {
				return err.Rc()
			}
			fdMap[i] = nf
		}
	}

	var argv [][]byte
	if a[4] != 0 {
		raw := make([]uint8, mem.PGSIZE)
		ab := vm.NewUserbuf(p.As, vm.VA(a[4]), len(raw))
		// the block may end mid-page; parse whatever was mapped.
		n, _ := ab.Uioread(raw)
		var perr defs.Err_t
		argv, perr = parseArgvBlock(raw[:n])
		if perr != 0 {
			return perr.Rc()
		}
	}

	pid, err := k.Procs.Spawn(ctx, p, elfBytes, argv, fdMap)
	if err != 0 {
		return err.Rc()
	}
	return uint64(pid)
}

// parseArgvBlock decodes the caller-side argv staging block: u64 argc,
// then argc NUL-terminated strings back to back.
func parseArgvBlock(raw []uint8) ([][]byte, defs.Err_t) {
	if len(raw) < 8 {
		return nil, -defs.EFAULT
	}
	argc := int(util.GetLE64(raw, 0))
	if argc < 0 || argc > mem.PGSIZE/8 {
		return nil, -defs.EINVAL
	}
	argv := make([][]byte, 0, argc)
	off := 8
	for i := 0; i < argc; i++ {
		start := off
		for off < len(raw) && raw[off] != 0 {
			off++
		}
		if off >= len(raw) {
			return nil, -defs.EFAULT
		}
		argv = append(argv, raw[start:off])
		off++
	}
	return argv, 0
}

// sysKlog implements klog(buf, offset): it copies up to one page of the
// kernel log starting at offset into buf and returns how many bytes were
// copied, 0 meaning the caller has read everything logged so far.
func (k *Kernel_t) sysKlog(p *proc.Proc_t, a Args_t) uint64 {
	if k.Klog == nil {
		return 0
	}
	out := k.Klog.Slice(int(a[1]), mem.PGSIZE)
	if len(out) == 0 {
		return 0
	}
	ub := vm.NewUserbuf(p.As, vm.VA(a[0]), len(out))
	n, err := ub.Uiowrite(out)
	if err != 0 {
		return err.Rc()
	}
	return uint64(n)
}

func (k *Kernel_t) sysSysinfo(p *proc.Proc_t, a Args_t) uint64 {
	out := make([]uint8, 16)
	util.PutLE64(out, 0, uint64(len(k.Procs.Pids())))
	util.PutLE64(out, 8, uint64(k.Procs.ReadyLen()))
	ub := vm.NewUserbuf(p.As, vm.VA(a[0]), 16)
	if _, err := ub.Uiowrite(out); err != 0 {
		return err.Rc()
	}
	return 0
}

func (k *Kernel_t) sysSleep(ctx context.Context, a Args_t) uint64 {
	t := time.NewTimer(time.Duration(a[0]) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return 0
	case <-ctx.Done():
		return defs.Err_t(-defs.ECANCELLED).Rc()
	}
}

func (k *Kernel_t) sysShutdown() uint64 {
	if k.Shutdown != nil {
		k.Shutdown()
	}
	return 0
}

// sysRename reads both paths out of user memory and, since the T_* wire
// protocol has no dedicated rename tag (§6), implements it as
// read-then-create-then-remove against the old name's server; it refuses
// to move a file across two different mounts; a real rename(2) across
// servers is out of scope (§9 Open Questions resolved against in favor of
// same-server rename only).
func (k *Kernel_t) sysRename(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	oldPath, err := readPath(p, a[0], a[1])
	if err != 0 {
		return err.Rc()
	}
	newPath, err := readPath(p, a[2], a[3])
	if err != 0 {
		return err.Rc()
	}
	oldEnt, oldRest, err := p.NS.Resolve(oldPath)
	if err != 0 {
		return err.Rc()
	}
	newEnt, newRest, err := p.NS.Resolve(newPath)
	if err != 0 {
		return err.Rc()
	}
	if oldEnt.Chan != newEnt.Chan {
		return defs.Err_t(-defs.ENOSYS).Rc()
	}
	oh, err := ns.Open(ctx, oldEnt.Chan, oldRest)
	if err != 0 {
		return err.Rc()
	}
	defer oh.Close()
	st := &stat.Stat_t{}
	if serr := oh.Fstat(st); serr != 0 {
		return serr.Rc()
	}
	data := make([]uint8, st.Size())
	if len(data) > 0 {
		fb := vm.NewFakeubuf(data)
		for off := 0; off < len(data); {
			n, rerr := oh.Read(fb, off)
			if rerr != 0 {
				return rerr.Rc()
			}
			if n == 0 {
				break
			}
			off += n
		}
	}
	nh, err := ns.Create(ctx, newEnt.Chan, newRest, 0644)
	if err != 0 {
		return err.Rc()
	}
	defer nh.Close()
	if len(data) > 0 {
		fb := vm.NewFakeubuf(data)
		if _, werr := nh.Write(fb, 0, false); werr != 0 {
			return werr.Rc()
		}
	}
	return ns.Remove(ctx, oldEnt.Chan, oldRest).Rc()
}

// sysWstat takes its fields in registers (fd, mode, uid, gid, mask) and
// builds the wire stat record kernel-side; only the bits mask names are
// meaningful to the server. Changing ownership is a privileged operation.
func (k *Kernel_t) sysWstat(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	h, ok := f.Fops.(*ns.Handle_t)
	if !ok {
		// pipes carry no wstat-able metadata.
		return defs.Err_t(-defs.EINVAL).Rc()
	}
	mask := int(a[4])
	if mask&(defs.WSTAT_UID|defs.WSTAT_GID) != 0 && p.Uid != 0 {
		return defs.Err_t(-defs.EPERM).Rc()
	}
	st := &stat.Stat_t{}
	st.Wmode(uint32(a[1]))
	st.Wuid(uint16(a[2]))
	st.Wgid(uint16(a[3]))
	return h.Wstat(st, mask).Rc()
}

// sysTruncate rides the same T_WSTAT path as wstat(2): the record's size
// field plus the WSTAT_SIZE mask bit tell the server to clip (or zero-grow)
// the file, the way Plan 9's wstat length field always has.
func (k *Kernel_t) sysTruncate(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	h, ok := f.Fops.(*ns.Handle_t)
	if !ok {
		return defs.Err_t(-defs.EINVAL).Rc()
	}
	st := &stat.Stat_t{}
	st.Wsize(a[1])
	return h.Wstat(st, defs.WSTAT_SIZE).Rc()
}

func (k *Kernel_t) sysMmap(p *proc.Proc_t, a Args_t) uint64 {
	addr, length, _, flags := a[0], a[1], a[2], int(a[3])
	if flags&defs.MAP_ANON == 0 || flags&defs.MAP_FIXED == 0 {
		// Demand paging and file-backed mappings are out of scope
		// (§7); only anonymous mappings at a caller-chosen fixed
		// address are honored.
		return defs.Err_t(-defs.EINVAL).Rc()
	}
	npages := (int(length) + mem.PGSIZE - 1) / mem.PGSIZE
	for i := 0; i < npages; i++ {
		pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
		if !ok {
			return defs.Err_t(-defs.ENOMEM).Rc()
		}
		va := vm.VA(addr) + vm.VA(i*mem.PGSIZE)
		if merr := p.As.Map(va, pa, mem.PTE_W|mem.PTE_U); merr != 0 {
			return merr.Rc()
		}
	}
	return addr
}

func (k *Kernel_t) sysMunmap(p *proc.Proc_t, a Args_t) uint64 {
	npages := (int(a[1]) + mem.PGSIZE - 1) / mem.PGSIZE
	for i := 0; i < npages; i++ {
		va := vm.VA(a[0]) + vm.VA(i*mem.PGSIZE)
		p.As.Unmap(va)
	}
	return 0
}

func (k *Kernel_t) sysDup(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	nfd, err := fd.Copyfd(f)
	if err != 0 {
		return err.Rc()
	}
	fdno, err := installFd(p, nfd.Fops, nfd.Perms)
	if err != 0 {
		return err.Rc()
	}
	return uint64(fdno)
}

func (k *Kernel_t) sysDup2(p *proc.Proc_t, a Args_t) uint64 {
	f, err := getFd(p, a[0])
	if err != 0 {
		return err.Rc()
	}
	newfdno := a[1]
	if newfdno >= bounds.NOFILE {
		return defs.Err_t(-defs.EINVAL).Rc()
	}
	if old := p.Fds[newfdno]; old != nil {
		old.Fops.Close()
	}
	nfd, err := fd.Copyfd(f)
	if err != 0 {
		return err.Rc()
	}
	p.Fds[newfdno] = nfd
	return newfdno
}

func (k *Kernel_t) sysWait(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	cpid, status, err := k.Procs.Wait(ctx, p, defs.Pid_t(a[0]))
	if err != 0 {
		return err.Rc()
	}
	if a[1] != 0 {
		out := make([]uint8, 8)
		util.PutLE64(out, 0, uint64(int64(status)))
		ub := vm.NewUserbuf(p.As, vm.VA(a[1]), 8)
		if _, werr := ub.Uiowrite(out); werr != 0 {
			return werr.Rc()
		}
	}
	return uint64(cpid)
}

// sysClone takes (stack_top, tls, ctid, ptid, flags); only flags matter to
// a hosted kernel whose threads are goroutines with no register state or
// TLS block to seed, so the first four are accepted and ignored.
func (k *Kernel_t) sysClone(p *proc.Proc_t, a Args_t) uint64 {
	child, err := k.Procs.Rfork(p, int(a[4]), true)
	if err != 0 {
		return err.Rc()
	}
	return uint64(child.Pid)
}

func (k *Kernel_t) sysFutex(ctx context.Context, p *proc.Proc_t, a Args_t) uint64 {
	uva := vm.VA(a[0])
	pa, _, ok := p.As.Translate(uva)
	if !ok {
		return defs.Err_t(-defs.EFAULT).Rc()
	}
	pageoff := int(uva) % mem.PGSIZE
	key := pa + mem.Pa_t(pageoff)
	op := int(a[1])
	switch op {
	case defs.FUTEX_WAIT:
		cur := util.GetLE32(mem.Physmem.Dmap(pa), pageoff)
		_, err := k.Futexes.Wait(ctx, key, cur, uint32(a[2]))
		return err.Rc()
	case defs.FUTEX_WAKE:
		return uint64(k.Futexes.Wake(key, int(a[2])))
	default:
		return defs.Err_t(-defs.EINVAL).Rc()
	}
}
