// Package kernel is Fornax's boot sequence: the composition root that
// brings up the physical memory allocator, the kernel heap, the process
// table, the three kernel-intrinsic namespace servers (/proc, /dev, /net),
// the default filesystem server (/disk), and pid 1 (init), in that order
// (§2 SYSTEM OVERVIEW's component table, read leaves-first). Every other
// package in the tree is a library; this is the one place that wires them
// into a running system — starting a goroutine per server stands in for
// scheduling a new kernel thread and enabling interrupts on a bare-metal
// boot.
package kernel

import (
	"context"
	"fmt"

	"defs"
	"devfs"
	"fd"
	"futex"
	"heap"
	"kprof"
	"mem"
	"ns"
	"proc"
	"ramfs"
	"supervisor"
	"trap"
)

// Config controls the size of the resources Boot reserves. Zero values fall
// back to defaults sized for unit tests and small demos; a hosted Fornax
// instance meant to run real userland images should pass larger values.
type Config struct {
	// Frames is the number of 4 KiB physical frames the PMM manages.
	Frames int
	// HeapBytes sizes the kernel bump heap (§4.1).
	HeapBytes int
}

func (c Config) withDefaults() Config {
	if c.Frames == 0 {
		c.Frames = 16384 // 64 MiB of frames, comfortably more than any test workload
	}
	if c.HeapBytes == 0 {
		c.HeapBytes = 1 << 20
	}
	return c
}

// Kernel is a fully booted Fornax instance: every piece of state a running
// syscall dispatch needs to touch, plus the servers and context that keep
// it alive.
type Kernel struct {
	*trap.Kernel_t

	Heap *heap.Heap_t
	Init *proc.Proc_t

	diskMaj, diskMin int

	ctx    context.Context
	cancel context.CancelFunc
}

// Boot brings up a complete Fornax kernel: PMM, heap, process table, the
// three built-in namespace servers, the default /disk filesystem, and pid
// 1. The returned Kernel's Dispatch method is the sole entry point a
// syscall trampoline (or, here, a test harness) ever calls.
func Boot(cfg Config) *Kernel {
	cfg = cfg.withDefaults()

	mem.Init(cfg.Frames)
	hp := heap.New(cfg.HeapBytes)

	ctx, cancel := context.WithCancel(context.Background())
	supervisor.StartOomListener(ctx)

	devServer := devfs.NewDevServer()
	netServer := devfs.NewNetServer()
	disk := ramfs.New()
	diskMaj, diskMin := defs.Unmkdev(disk.DevNum())

	tbl := proc.NewTable()
	procSrv := devfs.NewProcServer(tbl)

	go procSrv.Serve(ctx)
	go devServer.Serve(ctx)
	go netServer.Serve(ctx)
	go disk.Serve(ctx)

	ns.SetIntrinsics(procSrv.Chan(), devServer.Chan(), netServer.Chan())

	// ramfs is a flat path-keyed store (package ramfs): T_OPEN/T_CREATE
	// carry the full path on the wire and never consult a handle, so the
	// "root" handle a namespace entry records is a bookkeeping value
	// only. Handle 0 stands in for it rather than a handle from a T_OPEN
	// of the root.
	diskRoot := &ns.Handle_t{Ch: disk.Chan(), Handle: 0}

	futexes := futex.NewTable()
	rootFd := &fd.Fd_t{Fops: diskRoot, Perms: fd.FD_READ | fd.FD_WRITE}
	init := tbl.InitProc(rootFd)
	init.NS.Bind([]uint8("/disk"), disk.Chan(), diskRoot.Handle, ns.MREPL)

	k := &Kernel{
		Kernel_t: trap.NewKernel(tbl, futexes, mem.Physmem),
		Heap:     hp,
		Init:     init,
		diskMaj:  diskMaj,
		diskMin:  diskMin,
		ctx:      ctx,
		cancel:   cancel,
	}
	k.Kernel_t.Shutdown = cancel

	// The kernel log lives in the bump heap: boot-sized, never freed,
	// exactly the allocation profile §4.1 reserves that region for. It
	// takes at most half the heap so a small test-sized budget still
	// leaves room for whatever else boot carves out.
	klogSz := hp.Cap() / 2
	if klogSz > 1<<15 {
		klogSz = 1 << 15
	}
	k.Kernel_t.Klog = trap.NewKlog(hp.Alloc(klogSz, 8))
	free, total := mem.Physmem.Pgcount()
	k.Kernel_t.Klog.Appendf("fornax: booted, %d/%d frames free", free, total)
	k.Kernel_t.Klog.Appendf("fornax: /proc /dev /net intrinsics up, /disk on dev %d.%d",
		diskMaj, diskMin)
	k.Kernel_t.Klog.Appendf("fornax: init is pid %d", init.Pid)
	return k
}

// Context returns the root context every syscall dispatch on behalf of the
// init process (or a process without one of its own yet) should run under.
func (k *Kernel) Context() context.Context { return k.ctx }

// Shutdown tears down every boot-started server goroutine. It is the SYS_SHUTDOWN
// handler's effect, exposed directly for callers (tests, cmd/fornax) that
// want to stop a booted kernel without going through a syscall.
func (k *Kernel) Shutdown() { k.cancel() }

// Profile snapshots the process table through package kprof, letting an
// operator inspect a running Fornax kernel with "go tool pprof".
func (k *Kernel) Profile() ([]byte, error) {
	return kprof.Snapshot(k.Procs)
}

// Sysinfo renders a short human-readable status line, the hosted
// equivalent of what SYS_SYSINFO packs into its binary reply (§6).
func (k *Kernel) Sysinfo() string {
	free, total := mem.Physmem.Pgcount()
	return fmt.Sprintf("pids=%d ready=%d frames=%d/%d disk-dev=%d.%d %s%s",
		len(k.Procs.Pids()), k.Procs.ReadyLen(), total-free, total,
		k.diskMaj, k.diskMin, k.Heap.Stats(), supervisor.Stats())
}
