// Package fdops defines the interfaces a file descriptor's backing object
// must satisfy. Every fd in a process's table — a pipe end, a kernel
// pseudo-device, or a handle opened on a namespace server — speaks this
// interface, so that read/write/close/dup in the syscall layer never need to
// know which kind of object they're holding (§3 DATA MODEL: "every file
// descriptor refers to either a kernel-internal pseudo-device, a pipe end,
// or an open handle on a server").
package fdops

import "defs"

// Userio_i abstracts a source or destination for a data transfer so that
// read/write code is agnostic to whether the other end is a real user
// buffer, a gather-scatter iovec, or a kernel-internal byte slice standing
// in for one (e.g. staging an ELF header during exec).
type Userio_i interface {
	// Uiowrite copies src into the buffer this Userio_i represents.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Uioread copies the buffer this Userio_i represents into dst.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Remain returns the number of bytes not yet transferred.
	Remain() int
	// Totalsz returns the total size of the buffer.
	Totalsz() int
}

// Ready_t is a bitmask of the conditions a poll call can wait for.
type Ready_t int

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
	R_HUP   Ready_t = 1 << 3
)

// Pollmsg_t carries the conditions a caller is waiting for plus a channel
// the waited-on object signals through when one of those conditions holds.
type Pollmsg_t struct {
	Events Ready_t
	Notif  chan Ready_t
}

// Fdops_i is implemented by every kind of fd backing object: pipes, kernel
// devices (console, /proc, /dev, /net control files), and namespace-server
// handles (package ns).
type Fdops_i interface {
	Close() defs.Err_t
	// Fstat fills in a stat record for the underlying object.
	Fstat(StatWriter) defs.Err_t
	Read(dst Userio_i, offset int) (int, defs.Err_t)
	// Reopen is invoked when an fd is duplicated (dup/dup2/fork); it lets
	// the backing object bump any internal refcount instead of the kernel
	// assuming all Fdops_i implementations are trivially copyable.
	Reopen() defs.Err_t
	Write(src Userio_i, offset int, append bool) (int, defs.Err_t)
	// Poll reports readiness, optionally registering pm.Notif to be
	// signaled later if the condition does not hold yet.
	Poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
}

// StatWriter is the minimal surface Fdops_i.Fstat needs from package stat,
// expressed as an interface here so that fdops does not import stat (which
// would otherwise create a cycle once stat consumers also depend on
// fdops-based servers).
type StatWriter interface {
	Wsize(uint64)
	Wtype(uint32)
	Wmtime(uint64)
	Wmode(uint32)
	Wuid(uint16)
	Wgid(uint16)
}
