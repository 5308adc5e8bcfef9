// Package limits tracks system-wide resource caps, checked at allocation
// time so a single runaway process cannot exhaust a shared table (§7
// Non-goals notwithstanding quota enforcement, §4.3 NPROC, §3 Handle).
package limits

import "unsafe"
import "sync/atomic"

// Lhits counts how many times a limit check has failed, for diagnosing a
// process that's thrashing against a cap; no /proc file reports it.
var Lhits int

// Sysatomic_t is a numeric limit that can be atomically given and taken.
type Sysatomic_t int64

// Syslimit_t tracks system wide resource limits not already bounded by a
// fixed-size table in package bounds. Only Futexes is taken and given by
// the kernel (package futex); Handles, Pipes and Blocks are configured here
// but no allocation path checks them.
type Syslimit_t struct {
	// Handles bounds total live handles across every server (§3 Handle).
	Handles Sysatomic_t
	// Futexes bounds the number of threads blocked in futex Wait at once.
	Futexes Sysatomic_t
	// Pipes bounds concurrently open pipe(2) ring buffers.
	Pipes Sysatomic_t
	// Blocks bounds in-memory filesystem data pages.
	Blocks Sysatomic_t
}

// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Handles: 1 << 16,
		Futexes: 1 << 12,
		Pipes:   1 << 14,
		Blocks:  1 << 18,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

// Taken tries to decrement the limit by the provided amount, returning true
// on success and leaving the limit unchanged on failure.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	Lhits++
	return false
}

// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
