package trap

import (
	"bytes"
	"context"
	dbgelf "debug/elf"
	"encoding/binary"
	"testing"

	"defs"
	"futex"
	"mem"
	"ns"
	"proc"
	"ramfs"
	"stat"
	"ustr"
	"util"
	"vm"
)

func newTestKernel(t *testing.T) (*Kernel_t, *proc.Proc_t) {
	t.Helper()
	mem.Init(256)
	disk := ramfs.New()
	go disk.Serve(context.Background())
	ns.SetIntrinsics(nil, nil, nil)

	tbl := proc.NewTable()
	init := tbl.InitProc(nil)
	if err := init.NS.Bind(ustr.Ustr("/disk"), disk.Chan(), 0, ns.MREPL); err != 0 {
		t.Fatalf("bind /disk failed: %v", err)
	}
	k := NewKernel(tbl, futex.NewTable(), mem.Physmem)
	return k, init
}

// mapString writes s into a freshly allocated page and maps it read-write
// at va in p's address space.
func mapString(t *testing.T, p *proc.Proc_t, va vm.VA, s string) {
	t.Helper()
	pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	copy(mem.Physmem.Dmap(pa), s)
	if err := p.As.Map(va, pa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}
}

const pathVA = vm.VA(0x2000)
const bufVA = vm.VA(0x3000)

// isErrRc reports whether rc is a folded defs.Err_t.Rc() failure return
// rather than a success value (§6 Return convention: top 48 bits set).
func isErrRc(rc uint64) bool {
	return rc>>16 == 0xFFFFFFFFFFFF
}

func TestCreateWriteReadCloseRoundtrip(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	mapString(t, p, pathVA, "/disk/greeting")
	rc := k.Dispatch(ctx, p, defs.SYS_CREATE, Args_t{uint64(pathVA), uint64(len("/disk/greeting")), 0644})
	if isErrRc(rc) {
		t.Fatalf("create failed: rc=%x", rc)
	}
	fdno := rc

	mapString(t, p, bufVA, "hello, fornax")
	wrc := k.Dispatch(ctx, p, defs.SYS_WRITE, Args_t{fdno, uint64(bufVA), uint64(len("hello, fornax"))})
	if wrc != uint64(len("hello, fornax")) {
		t.Fatalf("write returned %d, want %d", wrc, len("hello, fornax"))
	}

	// seek back to the start before reading.
	srcv := k.Dispatch(ctx, p, defs.SYS_SEEK, Args_t{fdno, 0, defs.SEEK_SET})
	if srcv != 0 {
		t.Fatalf("seek failed: rc=%x", srcv)
	}

	readVA := vm.VA(0x4000)
	pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	if err := p.As.Map(readVA, pa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}
	rrc := k.Dispatch(ctx, p, defs.SYS_READ, Args_t{fdno, uint64(readVA), 64})
	if rrc != uint64(len("hello, fornax")) {
		t.Fatalf("read returned %d, want %d", rrc, len("hello, fornax"))
	}
	got := string(mem.Physmem.Dmap(pa)[:rrc])
	if got != "hello, fornax" {
		t.Fatalf("read back %q", got)
	}

	crc := k.Dispatch(ctx, p, defs.SYS_CLOSE, Args_t{fdno})
	if crc != 0 {
		t.Fatalf("close failed: rc=%x", crc)
	}
}

func TestOpenMissingFileReturnsError(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()
	mapString(t, p, pathVA, "/disk/nope")
	rc := k.Dispatch(ctx, p, defs.SYS_OPEN, Args_t{uint64(pathVA), uint64(len("/disk/nope")), defs.O_RDONLY})
	if !isErrRc(rc) {
		t.Fatalf("expected an error return, got %x", rc)
	}
}

func TestGetpidAndExitWait(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	pidrc := k.Dispatch(ctx, p, defs.SYS_GETPID, Args_t{})
	if defs.Pid_t(pidrc) != p.Pid {
		t.Fatalf("getpid returned %d, want %d", pidrc, p.Pid)
	}

	rforkRc := k.Dispatch(ctx, p, defs.SYS_RFORK, Args_t{0})
	childPid := defs.Pid_t(rforkRc)
	if childPid == 0 {
		t.Fatalf("rfork failed: rc=%x", rforkRc)
	}
	child := k.Procs.Lookup(childPid)
	if child == nil {
		t.Fatal("child not found in table")
	}

	exitRc := k.Dispatch(ctx, child, defs.SYS_EXIT, Args_t{7})
	if exitRc != 0 {
		t.Fatalf("exit failed: rc=%x", exitRc)
	}

	waitRc := k.Dispatch(ctx, p, defs.SYS_WAIT, Args_t{uint64(childPid), 0})
	if defs.Pid_t(waitRc) != childPid {
		t.Fatalf("wait returned %d, want %d", waitRc, childPid)
	}
}

func TestPipeRoundtripThroughDispatch(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	outVA := vm.VA(0x5000)
	pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	if err := p.As.Map(outVA, pa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}

	rc := k.Dispatch(ctx, p, defs.SYS_PIPE, Args_t{uint64(outVA)})
	if rc != 0 {
		t.Fatalf("pipe failed: rc=%x", rc)
	}
	raw := mem.Physmem.Dmap(pa)
	rfd := uint64(raw[0]) | uint64(raw[1])<<8 | uint64(raw[2])<<16 | uint64(raw[3])<<24
	wfd := uint64(raw[4]) | uint64(raw[5])<<8 | uint64(raw[6])<<16 | uint64(raw[7])<<24

	mapString(t, p, bufVA, "pipelined")
	wrc := k.Dispatch(ctx, p, defs.SYS_WRITE, Args_t{wfd, uint64(bufVA), uint64(len("pipelined"))})
	if wrc != uint64(len("pipelined")) {
		t.Fatalf("pipe write returned %d", wrc)
	}

	readVA := vm.VA(0x6000)
	rpa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	if err := p.As.Map(readVA, rpa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}
	rrc := k.Dispatch(ctx, p, defs.SYS_READ, Args_t{rfd, uint64(readVA), 64})
	if rrc != uint64(len("pipelined")) {
		t.Fatalf("pipe read returned %d", rrc)
	}
}

func TestWstatModeRoundtrip(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	mapString(t, p, pathVA, "/disk/modefile")
	fdno := k.Dispatch(ctx, p, defs.SYS_CREATE, Args_t{uint64(pathVA), uint64(len("/disk/modefile")), 0644})
	if isErrRc(fdno) {
		t.Fatalf("create failed: rc=%x", fdno)
	}

	rc := k.Dispatch(ctx, p, defs.SYS_WSTAT, Args_t{fdno, 0755, 0, 0, defs.WSTAT_MODE})
	if rc != 0 {
		t.Fatalf("wstat failed: rc=%x", rc)
	}

	statVA := vm.VA(0x7000)
	pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	if err := p.As.Map(statVA, pa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}
	if rc := k.Dispatch(ctx, p, defs.SYS_STAT, Args_t{fdno, uint64(statVA)}); rc != 0 {
		t.Fatalf("stat failed: rc=%x", rc)
	}
	st := stat.FromBytes(mem.Physmem.Dmap(pa))
	if st.Mode() != 0755 {
		t.Fatalf("mode after wstat = %o, want 0755", st.Mode())
	}
}

func TestTruncateClipsAndGrows(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	mapString(t, p, pathVA, "/disk/trunc")
	fdno := k.Dispatch(ctx, p, defs.SYS_CREATE, Args_t{uint64(pathVA), uint64(len("/disk/trunc")), 0644})
	if isErrRc(fdno) {
		t.Fatalf("create failed: rc=%x", fdno)
	}
	mapString(t, p, bufVA, "twelve bytes")
	if n := k.Dispatch(ctx, p, defs.SYS_WRITE, Args_t{fdno, uint64(bufVA), 12}); n != 12 {
		t.Fatalf("write returned %d", n)
	}

	if rc := k.Dispatch(ctx, p, defs.SYS_TRUNCATE, Args_t{fdno, 6}); rc != 0 {
		t.Fatalf("truncate failed: rc=%x", rc)
	}
	statVA := vm.VA(0x8000)
	pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	if err := p.As.Map(statVA, pa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}
	if rc := k.Dispatch(ctx, p, defs.SYS_STAT, Args_t{fdno, uint64(statVA)}); rc != 0 {
		t.Fatalf("stat failed: rc=%x", rc)
	}
	if sz := stat.FromBytes(mem.Physmem.Dmap(pa)).Size(); sz != 6 {
		t.Fatalf("size after truncate = %d, want 6", sz)
	}

	// growing zero-fills past the old end.
	if rc := k.Dispatch(ctx, p, defs.SYS_TRUNCATE, Args_t{fdno, 10}); rc != 0 {
		t.Fatalf("truncate (grow) failed: rc=%x", rc)
	}
	if rc := k.Dispatch(ctx, p, defs.SYS_SEEK, Args_t{fdno, 0, defs.SEEK_SET}); rc != 0 {
		t.Fatalf("seek failed: rc=%x", rc)
	}
	readVA := vm.VA(0x9000)
	rpa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
	if !ok {
		t.Fatal("out of frames")
	}
	if err := p.As.Map(readVA, rpa, mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map failed: %v", err)
	}
	if n := k.Dispatch(ctx, p, defs.SYS_READ, Args_t{fdno, uint64(readVA), 64}); n != 10 {
		t.Fatalf("read after grow returned %d, want 10", n)
	}
	got := mem.Physmem.Dmap(rpa)[:10]
	if string(got[:6]) != "twelve" {
		t.Fatalf("kept prefix = %q", got[:6])
	}
	for i := 6; i < 10; i++ {
		if got[i] != 0 {
			t.Fatalf("grown byte %d = %#x, want 0", i, got[i])
		}
	}
}

func TestSetuidPermission(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	// root may become anyone.
	if rc := k.Dispatch(ctx, p, defs.SYS_SETUID, Args_t{1000}); rc != 0 {
		t.Fatalf("root setuid failed: rc=%x", rc)
	}
	if rc := k.Dispatch(ctx, p, defs.SYS_GETUID, Args_t{}); rc != 1000 {
		t.Fatalf("getuid = %d, want 1000", rc)
	}
	// a non-root uid may not change to another user.
	if rc := k.Dispatch(ctx, p, defs.SYS_SETUID, Args_t{1001}); !isErrRc(rc) {
		t.Fatalf("non-root setuid to another uid must fail, got rc=%x", rc)
	}
	// but re-asserting its own uid is a no-op that succeeds.
	if rc := k.Dispatch(ctx, p, defs.SYS_SETUID, Args_t{1000}); rc != 0 {
		t.Fatalf("setuid to own uid failed: rc=%x", rc)
	}
}

// stageBytes maps as many fresh pages at va as b needs and copies b in.
func stageBytes(t *testing.T, p *proc.Proc_t, va vm.VA, b []byte) {
	t.Helper()
	for off := 0; off < len(b); off += mem.PGSIZE {
		pa, ok := mem.Physmem.AllocFrame(mem.FrameUser)
		if !ok {
			t.Fatal("out of frames")
		}
		end := off + mem.PGSIZE
		if end > len(b) {
			end = len(b)
		}
		copy(mem.Physmem.Dmap(pa), b[off:end])
		if err := p.As.Map(va+vm.VA(off), pa, mem.PTE_W|mem.PTE_U); err != 0 {
			t.Fatalf("map failed: %v", err)
		}
	}
}

// TestSpawnInheritsFdMapAndPlacesArgv drives SYS_SPAWN's full register
// convention: the ELF image, the fd_map block, and the argv staging block
// all read out of the caller's address space, with the child receiving the
// mapped descriptor at slot 0 and the argv block at the fixed address.
func TestSpawnInheritsFdMapAndPlacesArgv(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	// a file fd for the child to inherit as its fd 0.
	mapString(t, p, pathVA, "/disk/inherit")
	fdno := k.Dispatch(ctx, p, defs.SYS_CREATE, Args_t{uint64(pathVA), uint64(len("/disk/inherit")), 0644})
	if isErrRc(fdno) {
		t.Fatalf("create failed: rc=%x", fdno)
	}

	image := buildTinyELF(0x40000, []byte{0x90, 0x90, 0xc3})
	elfVA := vm.VA(0x10000)
	stageBytes(t, p, elfVA, image)

	fdMap := make([]byte, 4)
	util.PutLE32(fdMap, 0, uint32(fdno))
	mapVA := vm.VA(0x20000)
	stageBytes(t, p, mapVA, fdMap)

	argvBlock := make([]byte, 8, 32)
	util.PutLE64(argvBlock, 0, 2)
	argvBlock = append(argvBlock, "prog\x00-v\x00"...)
	argvVA := vm.VA(0x21000)
	stageBytes(t, p, argvVA, argvBlock)

	rc := k.Dispatch(ctx, p, defs.SYS_SPAWN, Args_t{
		uint64(elfVA), uint64(len(image)), uint64(mapVA), 1, uint64(argvVA),
	})
	if isErrRc(rc) {
		t.Fatalf("spawn failed: rc=%x", rc)
	}
	child := k.Procs.Lookup(defs.Pid_t(rc))
	if child == nil {
		t.Fatal("spawned child missing from table")
	}
	if child.Fds[0] == nil {
		t.Fatal("child did not inherit fd_map entry 0")
	}
	if child.Fds[1] != nil {
		t.Fatal("child has an fd outside the map")
	}

	// the argv block must sit at the fixed address with argc, pointers,
	// and NUL-terminated strings (§6 Argv block).
	pa, _, ok := child.As.Translate(vm.VA(defs.ArgvVA))
	if !ok {
		t.Fatal("argv page not mapped in the child")
	}
	blk := mem.Physmem.Dmap(pa)
	if argc := util.GetLE64(blk, 0); argc != 2 {
		t.Fatalf("argc = %d, want 2", argc)
	}
	if util.GetLE64(blk, 8+16) != 0 {
		t.Fatal("argv[argc] must be NULL")
	}
	str0 := util.GetLE64(blk, 8) - uint64(defs.ArgvVA)
	if got := string(blk[str0 : str0+4]); got != "prog" {
		t.Fatalf("argv[0] = %q, want %q", got, "prog")
	}
}

// buildTinyELF constructs the smallest valid ELF64 LE executable with one
// PT_LOAD segment, the same fixture shape package elf's tests build.
func buildTinyELF(vaddr uint64, code []byte) []byte {
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	hdr := dbgelf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0},
		Type:      uint16(dbgelf.ET_EXEC),
		Machine:   uint16(dbgelf.EM_X86_64),
		Version:   1,
		Entry:     vaddr + ehsize + phsize,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
	}
	binary.Write(&buf, binary.LittleEndian, &hdr)
	ph := dbgelf.Prog64{
		Type:   uint32(dbgelf.PT_LOAD),
		Flags:  uint32(dbgelf.PF_X | dbgelf.PF_R),
		Off:    0,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: ehsize + phsize + uint64(len(code)),
		Memsz:  ehsize + phsize + uint64(len(code)),
		Align:  0x1000,
	}
	binary.Write(&buf, binary.LittleEndian, &ph)
	buf.Write(code)
	return buf.Bytes()
}
