package defs

// Syscall numbers, fixed per §6 EXTERNAL INTERFACES. The dispatch table in
// package trap is indexed by these constants; userland's libc stub (outside
// kernel-core scope) encodes them identically.
const (
	SYS_OPEN     = 0
	SYS_CREATE   = 1
	SYS_READ     = 2
	SYS_WRITE    = 3
	SYS_CLOSE    = 4
	SYS_STAT     = 5
	SYS_SEEK     = 6
	SYS_REMOVE   = 7
	SYS_RFORK    = 11
	SYS_EXIT     = 14
	SYS_PIPE     = 15
	SYS_BRK      = 16
	SYS_SPAWN    = 19
	SYS_KLOG     = 22
	SYS_SYSINFO  = 23
	SYS_SLEEP    = 24
	SYS_SHUTDOWN = 25
	SYS_GETPID   = 26
	SYS_RENAME   = 27
	SYS_TRUNCATE = 28
	SYS_WSTAT    = 29
	SYS_SETUID   = 30
	SYS_GETUID   = 31
	SYS_MMAP     = 32
	SYS_MUNMAP   = 33
	SYS_DUP      = 34
	SYS_DUP2     = 35
	SYS_WAIT     = 36
	SYS_CLONE    = 37
	SYS_FUTEX    = 38
)

// Open/create flags. The kernel acts on the access mode, O_CREAT and
// O_TRUNC (package trap); the remaining bits are opaque to it.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_TRUNC  = 0x200
	O_APPEND = 0x400
	O_DIR    = 0x10000
)

// Seek whence values, matching common.Seek_cur-style conventions.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Mmap prot/flags bits (subset actually honored by vm.Map).
const (
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4

	MAP_SHARED    = 0x1
	MAP_PRIVATE   = 0x2
	MAP_ANON      = 0x20
	MAP_FIXED     = 0x10
)

// Futex operations, see §5 Futexes.
const (
	FUTEX_WAIT = 0
	FUTEX_WAKE = 1
)

// File types as carried in Stat_t.file_type and DirEntry.file_type (§6).
const (
	T_FILE = 0
	T_DIR  = 1
)

// Fixed sizes from §6 EXTERNAL INTERFACES.
const (
	StatSize     = 32
	DirEntSize   = 72
	DirEntNameSz = 64
	MaxMsgData   = 4096
	ArgvVA       = 0x7FFF_FFEF_F000
)
