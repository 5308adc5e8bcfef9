// Package ns implements per-process namespaces: an ordered Plan 9-style
// mount table that composes file servers into one path space (§3 Mount
// entry, §4.5 Namespaces). Path resolution never talks to a server directly
// — it returns the (channel, root handle, rewritten path) triple for the
// caller (package trap) to forward as a T_OPEN, keeping this package free
// of any dependency on the IPC message format beyond the channel handle
// itself.
package ns

import (
	"sync"

	"defs"
	"ipc"
	"ustr"
)

// Flag_t selects Plan 9 bind semantics.
type Flag_t int

const (
	MREPL Flag_t = iota
	MBEFORE
	MAFTER
)

// Entry_t is one binding in a namespace: prefix walks to (Chan, RootHandle).
// Intrinsic marks the kernel-served /proc, /dev, /net built-ins; their Chan
// is whatever SetIntrinsics had installed when the namespace was built, and
// is nil if none had been.
type Entry_t struct {
	Prefix     ustr.Ustr
	Chan       *ipc.Chan_t
	RootHandle int
	Intrinsic  bool
	Flag       Flag_t
}

// Namespace_t is a process's ordered view of the path space.
type Namespace_t struct {
	mu     sync.Mutex
	mounts []*Entry_t
}

var intrinsicsMu sync.Mutex
var intrinsics = map[string]*ipc.Chan_t{
	"/proc": nil,
	"/dev":  nil,
	"/net":  nil,
}

// SetIntrinsics installs the channels the boot sequence started the /proc,
// /dev, and /net servers on. Every namespace built by New after this call
// resolves those prefixes onto real IPC channels instead of a dangling
// intrinsic placeholder; a nil argument leaves that prefix unresolvable,
// which is only expected in package-level unit tests that never mount one.
func SetIntrinsics(procCh, devCh, netCh *ipc.Chan_t) {
	intrinsicsMu.Lock()
	defer intrinsicsMu.Unlock()
	intrinsics["/proc"] = procCh
	intrinsics["/dev"] = devCh
	intrinsics["/net"] = netCh
}

// New builds a namespace preloaded with the kernel-intrinsic prefixes every
// process implicitly has bound (§4.5 "Built-in prefixes"). Each is marked
// Intrinsic so callers can still tell a built-in server apart from one a
// process bound itself, but resolution forwards to it exactly like any
// other mount once SetIntrinsics has installed its channel.
func New() *Namespace_t {
	intrinsicsMu.Lock()
	defer intrinsicsMu.Unlock()
	n := &Namespace_t{}
	for _, p := range []string{"/proc", "/dev", "/net"} {
		n.mounts = append(n.mounts, &Entry_t{
			Prefix:    ustr.Ustr(p),
			Chan:      intrinsics[p],
			Intrinsic: true,
		})
	}
	return n
}

// Bind implements bind(new, old, flags): binds a server (or, for a later
// bind of an already-served prefix, another server) onto prefix. MREPL
// replaces any existing bindings of prefix; MBEFORE/MAFTER add this server
// to the front/back of the union directory for prefix, Plan 9 style.
func (n *Namespace_t) Bind(prefix ustr.Ustr, ch *ipc.Chan_t, rootHandle int, flag Flag_t) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()

	e := &Entry_t{Prefix: prefix, Chan: ch, RootHandle: rootHandle, Flag: flag}
	switch flag {
	case MREPL:
		kept := n.mounts[:0]
		for _, m := range n.mounts {
			if !m.Prefix.Eq(prefix) {
				kept = append(kept, m)
			}
		}
		n.mounts = append(kept, e)
	case MBEFORE:
		n.mounts = append([]*Entry_t{e}, n.mounts...)
	case MAFTER:
		n.mounts = append(n.mounts, e)
	default:
		return -defs.EINVAL
	}
	return 0
}

// Unmount implements unmount(prefix): removes the binding for prefix that
// comes last in mount order. For MREPL and MAFTER binds that is the most
// recently added one; a binding added with MBEFORE sits at the front, so it
// is not removed while a later-listed binding of the same prefix remains.
func (n *Namespace_t) Unmount(prefix ustr.Ustr) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.mounts) - 1; i >= 0; i-- {
		if n.mounts[i].Prefix.Eq(prefix) {
			n.mounts = append(n.mounts[:i], n.mounts[i+1:]...)
			return 0
		}
	}
	return -defs.ENOENT
}

// Resolve walks the mount list and returns the entry whose prefix is the
// longest component-aligned match for path, plus the remainder to forward
// to that server (§4.5: "matches the longest prefix, rewrites the
// remainder"). Resolution failure is a distinct error and never reaches a
// server (§4.5 "Resolution failure").
func (n *Namespace_t) Resolve(path ustr.Ustr) (*Entry_t, ustr.Ustr, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var best *Entry_t
	bestLen := -1
	for _, m := range n.mounts {
		if path.PrefixComponents(m.Prefix) && len(m.Prefix) > bestLen {
			best = m
			bestLen = len(m.Prefix)
		}
	}
	if best == nil {
		return nil, nil, -defs.ENOENT
	}
	rest := path[bestLen:]
	if len(rest) == 0 {
		rest = ustr.MkUstrDot()
	} else if rest[0] == '/' {
		rest = rest[1:]
	}
	return best, rest, 0
}

// Clone deep-copies the mount list, implementing rfork(RFNAMEG): child-side
// Bind/Unmount calls after the clone never affect the parent's namespace.
func (n *Namespace_t) Clone() *Namespace_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := &Namespace_t{mounts: make([]*Entry_t, len(n.mounts))}
	for i, m := range n.mounts {
		e := *m
		cp.mounts[i] = &e
	}
	return cp
}
