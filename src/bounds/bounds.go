// Package bounds centralizes the fixed-capacity limits that make Fornax's
// kernel-core data structures statically sized. Every other package imports
// these rather than hard-coding a capacity, so that the numbers in DATA
// MODEL and §4 stay in exactly one place.
package bounds

const (
	// NPROC is the size of the process table (slot 0 unused, slot 1 is
	// init). See §4.3 Process Table & Scheduler.
	NPROC = 64

	// NOFILE is the default per-process fd table size (§3 DATA MODEL).
	NOFILE = 64

	// IPCQLEN is the minimum/default capacity of a channel's client wait
	// queue (§3 Channel, §4.4 Queue capacity).
	IPCQLEN = 16

	// MAXCPUS is the number of logical CPUs Fornax is sized for. Fornax's
	// scheduler is single-core cooperative (§5); this stays at 1 and is
	// kept as a named bound, as the teacher kernel keeps a MAXCPUS knob for
	// a future SMP port. No other package refers to it.
	MAXCPUS = 1

	// NHANDLE bounds the number of handles a single server may have open
	// at once (§3 Handle).
	NHANDLE = 1024

	// USERMIN is the first virtual address available to user mappings;
	// addresses below this are reserved (null-page guard).
	USERMIN = 0x1000

	// USERMAX is the user/kernel split (§4.2 Paging).
	USERMAX = 0x0000_8000_0000_0000
)
