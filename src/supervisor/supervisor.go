// Package supervisor is Fornax's fault boundary (§4.8): it catches the
// conditions that would be a hardware trap on bare metal — an illegal
// instruction, an access to unmapped memory, a divide by zero — and turns
// them into an ordinary forced zombie transition instead of letting a
// single process's mistake take the whole kernel process down. It also
// answers the PMM's out-of-memory notifications (package oommsg) with
// whatever reclaim policy Fornax has decided on.
package supervisor

import (
	"context"
	"fmt"

	"arch"
	"defs"
	"oommsg"
	"proc"
	"stats"
)

// FaultKind classifies the condition that tripped Guard.
type FaultKind int

const (
	FaultIllegal FaultKind = iota
	FaultPage
	FaultDivZero
	FaultProtection
)

func (k FaultKind) String() string {
	switch k {
	case FaultIllegal:
		return "illegal-instruction"
	case FaultPage:
		return "page-fault"
	case FaultDivZero:
		return "divide-by-zero"
	case FaultProtection:
		return "protection-fault"
	default:
		return "unknown-fault"
	}
}

// Fault_t is panicked by code that detects a simulated CPU fault condition
// — package vm's Translate failing on an address the ABI promised was
// mapped, or a decoded instruction dividing by zero — so Guard can convert
// it into a forced zombie uniformly rather than every call site duplicating
// that policy.
type Fault_t struct {
	Kind   FaultKind
	Detail string
	// Code, if non-nil, is the faulting instruction's raw bytes, logged
	// disassembled via package arch.
	Code []byte
}

func (f Fault_t) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Detail) }

// faultCounts tallies how many times Guard has reaped a process for each
// fault kind, read out through Stats for /proc and sysinfo(2) (a no-op
// unless package stats' Stats const is compiled on).
var faultCounts struct {
	Illegal    stats.Counter_t
	Page       stats.Counter_t
	DivZero    stats.Counter_t
	Protection stats.Counter_t
}

// Stats renders the fault counters package stats has accumulated.
func Stats() string { return stats.Stats2String(faultCounts) }

// Guard runs fn on behalf of p (typically one syscall dispatch, see package
// trap) and recovers any panic that escapes it, reaping p with a
// distinguished faulted status instead of propagating the panic. It
// reports whether a fault was caught.
func Guard(tbl *proc.Table_t, p *proc.Proc_t, fn func()) (faulted bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		kind := FaultIllegal
		detail := fmt.Sprint(r)
		if f, ok := r.(Fault_t); ok {
			kind = f.Kind
			detail = f.Detail
			if len(f.Code) > 0 {
				detail = fmt.Sprintf("%s (%s)", detail, arch.DisassembleOne(f.Code))
			}
		}
		switch kind {
		case FaultIllegal:
			faultCounts.Illegal.Inc()
		case FaultPage:
			faultCounts.Page.Inc()
		case FaultDivZero:
			faultCounts.DivZero.Inc()
		case FaultProtection:
			faultCounts.Protection.Inc()
		}
		fmt.Printf("supervisor: pid %d %s: %s\n", p.Pid, kind, detail)
		tbl.Exit(p, defs.MkFaultedStatus(int(kind)))
		faulted = true
	}()
	fn()
	return false
}

// StartOomListener answers every oommsg.OomCh request until ctx is
// cancelled. Fornax's current policy is fail-fast: no process priority
// ranking exists to pick a reclaim victim from (§9 Open Questions), so the
// listener only logs the pressure and tells the stalled allocator to give
// up immediately rather than spin.
func StartOomListener(ctx context.Context) {
	go func() {
		for {
			select {
			case msg, ok := <-oommsg.OomCh:
				if !ok {
					return
				}
				fmt.Printf("supervisor: oom, %d frames short, no reclaim policy configured\n", msg.Need)
				msg.Resume <- false
			case <-ctx.Done():
				return
			}
		}
	}()
}
