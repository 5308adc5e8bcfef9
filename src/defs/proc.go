package defs

// Pid_t and Tid_t identify processes and threads respectively. Package proc
// models a clone()'d thread as a Proc_t with a pid of its own; Tid_t keys
// package tinfo's per-thread notes. The two types are kept distinct even
// though both are small integers today.
type Pid_t int
type Tid_t int

// Reserved identifiers (see DATA MODEL: "Pid 0 is reserved. Pid 1 is the
// init process").
const (
	PID_NONE Pid_t = 0
	PID_INIT Pid_t = 1
)

// Pstate_t is the scheduler-visible state tag of a process, drawn from the
// set enumerated in DATA MODEL.
type Pstate_t int

const (
	RUNNABLE Pstate_t = iota
	RUNNING
	BLOCKED_IPC_SEND
	BLOCKED_IPC_RECV
	BLOCKED_IPC_REPLY
	SLEEPING
	ZOMBIE
	DEAD
)

func (s Pstate_t) String() string {
	switch s {
	case RUNNABLE:
		return "runnable"
	case RUNNING:
		return "running"
	case BLOCKED_IPC_SEND:
		return "blocked-ipc-send"
	case BLOCKED_IPC_RECV:
		return "blocked-ipc-recv"
	case BLOCKED_IPC_REPLY:
		return "blocked-ipc-reply-wait"
	case SLEEPING:
		return "sleeping"
	case ZOMBIE:
		return "zombie"
	case DEAD:
		return "dead"
	default:
		return "unknown"
	}
}

// Exit status encoding. A killed process's status is distinguished from a
// voluntary exit(status) by setting the sign bit range above a byte, mirroring
// how wait(2) traditionally multiplexes a single word (see §4.3 Wait/exit and
// Kill). A faulted process (package supervisor catching an illegal
// instruction, page fault, or similar) gets its own distinguished band so a
// reaping parent can tell "killed by another process" apart from "crashed
// on its own" (§4.8 fault handling).
const (
	StatusExitShift = 0
	StatusKilled    = -1 << 30
	StatusFaulted   = -1 << 29
)

// MkKilledStatus builds the distinguished status returned by wait() when the
// child was terminated via /proc/N/ctl "kill" rather than exit(2).
func MkKilledStatus(signo int) int {
	return StatusKilled | (signo & 0xff)
}

// WasKilled reports whether a status produced by wait() came from a kill
// rather than a voluntary exit.
func WasKilled(status int) bool {
	return status&^0xff == StatusKilled
}

// MkFaultedStatus builds the distinguished status returned by wait() when a
// process was force-reaped after a supervisor-caught fault; kind identifies
// which fault class (see package supervisor).
func MkFaultedStatus(kind int) int {
	return StatusFaulted | (kind & 0xff)
}

// WasFaulted reports whether a status came from a caught fault rather than
// an admin kill or a voluntary exit.
func WasFaulted(status int) bool {
	return status&^0xff == StatusFaulted
}

// RFNAMEG requests a private (deep-copied) namespace on rfork/clone, see
// §6 rfork flags.
const (
	RFNAMEG = 0x01
	RFFDG   = 0x02
)

// Wstat mask bits, see §6. WSTAT_SIZE extends the named set the same way
// Plan 9's own wstat does: a length field in the record truncates (or
// grows, zero-filled) the file, which is what backs truncate(2).
const (
	WSTAT_MODE = 1
	WSTAT_UID  = 2
	WSTAT_GID  = 4
	WSTAT_SIZE = 8
)

// RLIM_INFINITY marks an unbounded ulimit field.
const RLIM_INFINITY = ^uint(0)
